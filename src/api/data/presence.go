package data

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pointdeck/pointdeck/src/api/apperr"
)

// Presence tracks per-room heartbeats in redis. Each record is keyed by
// (room, participant) and written as a per-key upsert, so concurrent
// heartbeats from different participants never contend. Staleness is judged
// lazily on read instead of with timers: a record is online while its last
// heartbeat is younger than factor * interval.
type Presence struct {
	rdb    *redis.Client
	factor int
}

// retentionTTL keeps keys of long-gone participants from accumulating.
// Actual record purging is the caller's retention policy.
const retentionTTL = 24 * time.Hour

type PresenceEntry struct {
	UserID           string
	Online           bool
	LastSeen         time.Time
	LastDisconnected *time.Time
}

func NewPresence(rdb *redis.Client, offlineFactor int) *Presence {
	if offlineFactor < 1 {
		offlineFactor = 2
	}
	return &Presence{rdb: rdb, factor: offlineFactor}
}

func userKey(roomID uint64, userID string) string {
	return fmt.Sprintf("presence:room:%d:user:%s", roomID, userID)
}

func membersKey(roomID uint64) string {
	return fmt.Sprintf("presence:room:%d:members", roomID)
}

func sessionKey(sessionID string) string {
	return "presence:session:" + sessionID
}

// Heartbeat idempotently marks (room, participant) online.
func (p *Presence) Heartbeat(ctx context.Context, roomID uint64, userID, sessionID string, interval time.Duration) error {
	now := time.Now()
	pipe := p.rdb.TxPipeline()
	pipe.HSet(ctx, userKey(roomID, userID), map[string]interface{}{
		"session":     sessionID,
		"last_seen":   now.UnixMilli(),
		"interval_ms": interval.Milliseconds(),
		"online":      "1",
	})
	pipe.Expire(ctx, userKey(roomID, userID), retentionTTL)
	pipe.SAdd(ctx, membersKey(roomID), userID)
	pipe.Expire(ctx, membersKey(roomID), retentionTTL)
	pipe.HSet(ctx, sessionKey(sessionID), map[string]interface{}{
		"room": strconv.FormatUint(roomID, 10),
		"user": userID,
	})
	pipe.Expire(ctx, sessionKey(sessionID), retentionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// ListRoom returns the current presence state of every known participant.
func (p *Presence) ListRoom(ctx context.Context, roomID uint64) ([]PresenceEntry, error) {
	users, err := p.rdb.SMembers(ctx, membersKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]PresenceEntry, 0, len(users))
	for _, userID := range users {
		fields, err := p.rdb.HGetAll(ctx, userKey(roomID, userID)).Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue // record expired, member set not yet pruned
		}
		entries = append(entries, entryFromFields(userID, fields, p.factor))
	}
	return entries, nil
}

// IsOnline reports whether the participant has a fresh heartbeat in the room.
func (p *Presence) IsOnline(ctx context.Context, roomID uint64, userID string) (bool, error) {
	fields, err := p.rdb.HGetAll(ctx, userKey(roomID, userID)).Result()
	if err != nil {
		return false, err
	}
	if len(fields) == 0 {
		return false, nil
	}
	return entryFromFields(userID, fields, p.factor).Online, nil
}

// Disconnect explicitly marks the session's participant offline.
func (p *Presence) Disconnect(ctx context.Context, sessionID string) error {
	fields, err := p.rdb.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return apperr.NotFoundf("unknown presence session")
	}
	roomID, err := strconv.ParseUint(fields["room"], 10, 64)
	if err != nil {
		return fmt.Errorf("corrupt session record: %w", err)
	}
	userID := fields["user"]

	now := time.Now()
	pipe := p.rdb.TxPipeline()
	pipe.HSet(ctx, userKey(roomID, userID), map[string]interface{}{
		"online":            "0",
		"last_disconnected": now.UnixMilli(),
	})
	pipe.Del(ctx, sessionKey(sessionID))
	_, err = pipe.Exec(ctx)
	return err
}

// ClearRoom drops every presence record of a room, used by room deletion.
func (p *Presence) ClearRoom(ctx context.Context, roomID uint64) error {
	users, err := p.rdb.SMembers(ctx, membersKey(roomID)).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(users)+1)
	for _, userID := range users {
		keys = append(keys, userKey(roomID, userID))
	}
	keys = append(keys, membersKey(roomID))
	return p.rdb.Del(ctx, keys...).Err()
}

func entryFromFields(userID string, fields map[string]string, factor int) PresenceEntry {
	lastSeenMs, _ := strconv.ParseInt(fields["last_seen"], 10, 64)
	intervalMs, _ := strconv.ParseInt(fields["interval_ms"], 10, 64)
	lastSeen := time.UnixMilli(lastSeenMs)

	online := fields["online"] == "1"
	if online && intervalMs > 0 {
		stale := time.Since(lastSeen) > time.Duration(intervalMs)*time.Millisecond*time.Duration(factor)
		online = !stale
	}

	entry := PresenceEntry{UserID: userID, Online: online, LastSeen: lastSeen}
	if ms, err := strconv.ParseInt(fields["last_disconnected"], 10, 64); err == nil && ms > 0 {
		t := time.UnixMilli(ms)
		entry.LastDisconnected = &t
	}
	return entry
}
