package webserver

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/pointdeck/pointdeck/src/api/config"
	"github.com/pointdeck/pointdeck/src/api/data"
)

func attachRoutes(r *gin.Engine, cfg *config.Config, db *gorm.DB, rdb *redis.Client) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	presence := data.NewPresence(rdb, cfg.Presence.OfflineFactor)
	secret := []byte(cfg.Auth.JWTSecret)

	authH := NewAuth(secret, cfg.Auth.TokenTTL)
	roomsH := NewRooms(db, presence)
	issuesH := NewIssues(db)
	votesH := NewVotes(db, presence, cfg.Voting.Deck)
	presenceH := NewPresenceHandler(db, presence, cfg.Presence.Interval)
	ingestionsH := NewIngestions(db)

	limiter := NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)

	v1 := r.Group("/v1")
	{
		v1.POST("/auth/guest", authH.Guest)

		secured := v1.Group("")
		secured.Use(JWTMiddleware(secret))

		secured.GET("/rooms", roomsH.List)
		secured.GET("/rooms/:id", roomsH.Get)
		secured.GET("/rooms/:id/issues", issuesH.List)
		secured.GET("/rooms/:id/issues/:issueId/votes", votesH.Tally)
		secured.GET("/rooms/:id/presence", presenceH.List)
		secured.GET("/rooms/:id/ingestions", ingestionsH.List)

		// heartbeats are frequent by design, so they bypass the limiter
		secured.POST("/rooms/:id/presence/heartbeat", presenceH.Heartbeat)
		secured.POST("/presence/disconnect", presenceH.Disconnect)

		mutating := secured.Group("")
		mutating.Use(RateLimitMiddleware(limiter))

		mutating.POST("/rooms", roomsH.Create)
		mutating.POST("/rooms/join", roomsH.Join)
		mutating.PATCH("/rooms/:id", roomsH.Rename)
		mutating.DELETE("/rooms/:id", roomsH.Delete)
		mutating.POST("/rooms/:id/select-issue", roomsH.SelectIssue)
		mutating.POST("/rooms/:id/reveal", roomsH.Reveal)
		mutating.POST("/rooms/:id/estimate", roomsH.FinalizeEstimate)
		mutating.POST("/rooms/:id/reset", roomsH.Reset)

		mutating.POST("/rooms/:id/issues", issuesH.Create)
		mutating.PATCH("/issues/:id", issuesH.Update)
		mutating.DELETE("/issues/:id", issuesH.Delete)

		mutating.POST("/rooms/:id/votes", votesH.Submit)

		mutating.POST("/rooms/:id/ingestions", ingestionsH.Create)
	}
}
