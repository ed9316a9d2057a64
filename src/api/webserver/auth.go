package webserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pointdeck/pointdeck/src/api/identity"
)

type Auth struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewAuth(secret []byte, tokenTTL time.Duration) Auth {
	return Auth{jwtSecret: secret, tokenTTL: tokenTTL}
}

// Guest resolves an anonymous participant identity. Clients with an account
// obtain their token from the auth provider instead; this endpoint covers
// everyone else. When a fresh id is minted the client is told to persist it
// so the participant stays stable across reconnects.
func (a Auth) Guest(c *gin.Context) {
	var req struct {
		PresenceID string `json:"presenceId"`
	}
	// body is optional for first-time guests
	_ = c.ShouldBindJSON(&req)

	id, minted := identity.Resolve(nil, req.PresenceID)

	token, err := issueJWT(id, identity.DefaultDisplayName(id), a.jwtSecret, a.tokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"participantId": id,
		"token":         token,
		"persist":       minted,
		"sessionId":     uuid.NewString(),
	})
}
