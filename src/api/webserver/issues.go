package webserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/pointdeck/pointdeck/src/api/apperr"
	"github.com/pointdeck/pointdeck/src/api/types"
)

type Issues struct {
	db *gorm.DB
}

func NewIssues(db *gorm.DB) Issues {
	return Issues{db: db}
}

func (i Issues) requireOwner(roomID uint64, sub string) (*types.Room, error) {
	var room types.Room
	if err := i.db.First(&room, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("room not found")
		}
		return nil, err
	}
	if room.OwnerID != sub {
		return nil, apperr.Forbiddenf("only the owner can manage issues")
	}
	return &room, nil
}

func (i Issues) Create(c *gin.Context) {
	roomID, err := roomIDParam(c)
	if err != nil {
		fail(c, err)
		return
	}

	var req struct {
		Title       string `json:"title" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	if _, err := i.requireOwner(roomID, c.GetString("sub")); err != nil {
		fail(c, err)
		return
	}

	title := strings.TrimSpace(sanitize(req.Title))
	if title == "" {
		fail(c, apperr.InvalidArgumentf("issue title must not be empty"))
		return
	}

	var issue types.Issue
	// The room row lock serializes the max(order)+1 computation with the
	// insert, so concurrent creations cannot share an order key.
	err = i.db.Transaction(func(tx *gorm.DB) error {
		if _, err := lockRoom(tx, roomID); err != nil {
			return err
		}
		var maxOrder struct{ N *int }
		if err := tx.Model(&types.Issue{}).Select("MAX(order_key) AS n").
			Where("room_id = ?", roomID).Scan(&maxOrder).Error; err != nil {
			return err
		}
		order := 0
		if maxOrder.N != nil {
			order = *maxOrder.N + 1
		}
		issue = types.Issue{
			RoomID:      roomID,
			Title:       title,
			Description: sanitize(req.Description),
			OrderKey:    order,
			Status:      types.IssuePendingVote,
		}
		return tx.Create(&issue).Error
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": issue.ID, "order": issue.OrderKey})
}

func (i Issues) List(c *gin.Context) {
	roomID, err := roomIDParam(c)
	if err != nil {
		fail(c, err)
		return
	}

	var room types.Room
	if err := i.db.First(&room, roomID).Error; err != nil {
		fail(c, apperr.NotFoundf("room not found"))
		return
	}

	var issues []types.Issue
	if err := i.db.Where("room_id = ?", roomID).Order("order_key asc").Find(&issues).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"issues": issues})
}

func (i Issues) issueParam(c *gin.Context) (*types.Issue, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return nil, apperr.InvalidArgumentf("bad issue id")
	}
	var issue types.Issue
	if err := i.db.First(&issue, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("issue not found")
		}
		return nil, err
	}
	return &issue, nil
}

func (i Issues) Update(c *gin.Context) {
	issue, err := i.issueParam(c)
	if err != nil {
		fail(c, err)
		return
	}

	var req struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	if _, err := i.requireOwner(issue.RoomID, c.GetString("sub")); err != nil {
		fail(c, err)
		return
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		title := strings.TrimSpace(sanitize(*req.Title))
		if title == "" {
			fail(c, apperr.InvalidArgumentf("issue title must not be empty"))
			return
		}
		updates["title"] = title
	}
	if req.Description != nil {
		updates["description"] = sanitize(*req.Description)
	}
	if len(updates) == 0 {
		c.Status(http.StatusNoContent)
		return
	}

	if err := i.db.Model(issue).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (i Issues) Delete(c *gin.Context) {
	issue, err := i.issueParam(c)
	if err != nil {
		fail(c, err)
		return
	}

	if _, err := i.requireOwner(issue.RoomID, c.GetString("sub")); err != nil {
		fail(c, err)
		return
	}

	err = i.db.Transaction(func(tx *gorm.DB) error {
		room, err := lockRoom(tx, issue.RoomID)
		if err != nil {
			return err
		}
		// Deleting the selected issue clears the selection and its votes.
		if room.CurrentIssueID != nil && *room.CurrentIssueID == issue.ID {
			if err := tx.Where("room_id = ? AND issue_id = ?", room.ID, issue.ID).
				Delete(&types.Vote{}).Error; err != nil {
				return err
			}
			if err := tx.Model(room).Updates(map[string]interface{}{
				"current_issue_id": nil,
				"status":           types.RoomVotingActive,
			}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&types.Issue{}, issue.ID).Error
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
