package types

import "time"

// Room status
const (
	RoomVotingActive  = "votingActive"
	RoomVotesRevealed = "votesRevealed"
)

// Participant roles. Fixed at join time; no role-change operation exists.
const (
	RoleFacilitator = "facilitator"
	RoleVoter       = "voter"
	RoleSpectator   = "spectator"
)

// Issue status
const (
	IssuePendingVote = "pendingVote"
	IssueSelected    = "roomSelectedIssue"
	IssueVoted       = "voted"
)

// Ingestion status
const (
	IngestionProcessing = "processing"
	IngestionCompleted  = "completed"
	IngestionFailed     = "failed"
)

// Rooms
type Room struct {
	ID             uint64 `gorm:"primaryKey"`
	Code           string `gorm:"size:6;uniqueIndex;not null"`
	Name           string `gorm:"size:128;not null"`
	PasswordHash   string `gorm:"size:128"` // bcrypt; empty means open room
	OwnerID        string `gorm:"size:64;index;not null"`
	Status         string `gorm:"size:16;not null;default:votingActive"`
	CurrentIssueID *uint64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Room participants, keyed (room, user) so joins and presence updates never
// rewrite the whole membership.
type RoomUser struct {
	RoomID       uint64 `gorm:"primaryKey"`
	UserID       string `gorm:"primaryKey;size:64"`
	DisplayName  string `gorm:"size:64"`
	ProfileImage string `gorm:"size:512"`
	Role         string `gorm:"size:16;not null"`
	CreatedAt    time.Time
}

// Issues
type Issue struct {
	ID            uint64 `gorm:"primaryKey"`
	RoomID        uint64 `gorm:"index;not null"`
	Title         string `gorm:"size:255;not null"`
	Description   string `gorm:"type:text"`
	OrderKey      int    `gorm:"not null;default:0"`
	Status        string `gorm:"size:24;not null;default:pendingVote"`
	FinalEstimate *float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Votes, unique per (room, issue, user) so resubmission overwrites.
type Vote struct {
	ID      uint64 `gorm:"primaryKey"`
	RoomID  uint64 `gorm:"not null;uniqueIndex:uniq_room_issue_user,priority:1"`
	IssueID uint64 `gorm:"not null;uniqueIndex:uniq_room_issue_user,priority:2"`
	UserID  string `gorm:"size:64;not null;uniqueIndex:uniq_room_issue_user,priority:3"`
	Value   float64
	VotedAt time.Time
}

// Screenshot-to-issues ingestions
type IssueIngestion struct {
	ID          uint64 `gorm:"primaryKey"`
	RoomID      uint64 `gorm:"index;not null"`
	ImageRef    string `gorm:"size:512;not null"`
	Status      string `gorm:"size:16;not null;default:processing"`
	IssuesFound int    `gorm:"default:0"`
	UploadedBy  string `gorm:"size:64;index;not null"`
	FailedAt    *time.Time
	CreatedAt   time.Time
}

// DefaultDeck is the accepted vote value domain when none is configured.
var DefaultDeck = []float64{0, 1, 2, 3, 5, 8, 13, 21, 34, 55, 89}

// OnDeck reports whether v is a legal card. An empty deck accepts any value.
func OnDeck(deck []float64, v float64) bool {
	if len(deck) == 0 {
		return true
	}
	for _, d := range deck {
		if d == v {
			return true
		}
	}
	return false
}
