package webserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/pointdeck/pointdeck/src/api/apperr"
	"github.com/pointdeck/pointdeck/src/api/config"
)

func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *gin.Engine {
	g := gin.New()
	g.Use(gin.Logger(), gin.Recovery())
	attachRoutes(g, cfg, db, rdb)
	return g
}

var sanitizer = bluemonday.StrictPolicy()

// sanitize strips markup from user-supplied text fields.
func sanitize(s string) string {
	return sanitizer.Sanitize(s)
}

// fail writes err with the status its taxonomy kind maps to.
func fail(c *gin.Context, err error) {
	if kind := apperr.KindOf(err); kind != 0 {
		c.JSON(apperr.HTTPStatus(kind), gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
}
