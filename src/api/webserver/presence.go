package webserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/pointdeck/pointdeck/src/api/apperr"
	"github.com/pointdeck/pointdeck/src/api/data"
	"github.com/pointdeck/pointdeck/src/api/identity"
	"github.com/pointdeck/pointdeck/src/api/types"
)

type PresenceHandler struct {
	db       *gorm.DB
	presence *data.Presence
	interval time.Duration
}

func NewPresenceHandler(db *gorm.DB, presence *data.Presence, interval time.Duration) PresenceHandler {
	return PresenceHandler{db: db, presence: presence, interval: interval}
}

// Heartbeat marks the caller online in the room. Clients call this on the
// configured interval; a missed interval flips them offline on read.
func (p PresenceHandler) Heartbeat(c *gin.Context) {
	roomID, err := roomIDParam(c)
	if err != nil {
		fail(c, err)
		return
	}

	var req struct {
		SessionID  string `json:"sessionId" binding:"required"`
		IntervalMS int64  `json:"intervalMs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	var room types.Room
	if err := p.db.First(&room, roomID).Error; err != nil {
		fail(c, apperr.NotFoundf("room not found"))
		return
	}

	interval := p.interval
	if req.IntervalMS > 0 {
		interval = time.Duration(req.IntervalMS) * time.Millisecond
	}

	if err := p.presence.Heartbeat(c, roomID, c.GetString("sub"), req.SessionID, interval); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// List returns the room's presence, enriched with display names and avatars.
func (p PresenceHandler) List(c *gin.Context) {
	roomID, err := roomIDParam(c)
	if err != nil {
		fail(c, err)
		return
	}

	entries, err := p.presence.ListRoom(c, roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	var members []types.RoomUser
	p.db.Where("room_id = ?", roomID).Find(&members)
	profiles := make(map[string]types.RoomUser, len(members))
	for _, m := range members {
		profiles[m.UserID] = m
	}

	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		displayName := identity.DefaultDisplayName(e.UserID)
		profileImage := identity.DefaultProfileImage(e.UserID)
		role := ""
		if m, ok := profiles[e.UserID]; ok {
			if m.DisplayName != "" {
				displayName = m.DisplayName
			}
			if m.ProfileImage != "" {
				profileImage = m.ProfileImage
			}
			role = m.Role
		}
		out = append(out, gin.H{
			"userId":           e.UserID,
			"online":           e.Online,
			"lastDisconnected": e.LastDisconnected,
			"displayName":      displayName,
			"profileImage":     profileImage,
			"role":             role,
		})
	}

	c.JSON(http.StatusOK, gin.H{"presence": out})
}

// Disconnect is the clean-shutdown path: the client flags its session
// offline instead of waiting for the heartbeat to go stale.
func (p PresenceHandler) Disconnect(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	if err := p.presence.Disconnect(c, req.SessionID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
