package webserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/pointdeck/pointdeck/src/api/apperr"
	"github.com/pointdeck/pointdeck/src/api/types"
)

type Ingestions struct {
	db *gorm.DB
}

func NewIngestions(db *gorm.DB) Ingestions {
	return Ingestions{db: db}
}

// Create registers an uploaded screenshot for issue extraction. The worker
// picks it up, appends the extracted issues and removes the record.
func (i Ingestions) Create(c *gin.Context) {
	roomID, err := roomIDParam(c)
	if err != nil {
		fail(c, err)
		return
	}

	var req struct {
		ImageRef string `json:"imageRef" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	sub := c.GetString("sub")

	var room types.Room
	if err := i.db.First(&room, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, apperr.NotFoundf("room not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	if room.OwnerID != sub {
		fail(c, apperr.Forbiddenf("only the owner can ingest issues"))
		return
	}

	var inflight int64
	i.db.Model(&types.IssueIngestion{}).
		Where("uploaded_by = ? AND status = ?", sub, types.IngestionProcessing).
		Count(&inflight)
	if inflight > 0 {
		fail(c, apperr.InvalidStatef("an ingestion is already in progress"))
		return
	}

	ingestion := types.IssueIngestion{
		RoomID:     roomID,
		ImageRef:   req.ImageRef,
		Status:     types.IngestionProcessing,
		UploadedBy: sub,
	}
	if err := i.db.Create(&ingestion).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": ingestion.ID})
}

func (i Ingestions) List(c *gin.Context) {
	roomID, err := roomIDParam(c)
	if err != nil {
		fail(c, err)
		return
	}

	var ingestions []types.IssueIngestion
	if err := i.db.Where("room_id = ?", roomID).Order("created_at desc").Find(&ingestions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ingestions": ingestions})
}
