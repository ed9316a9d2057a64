package webserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pointdeck/pointdeck/src/api/apperr"
	"github.com/pointdeck/pointdeck/src/api/data"
	"github.com/pointdeck/pointdeck/src/api/types"
)

type Votes struct {
	db       *gorm.DB
	presence *data.Presence
	deck     []float64
}

func NewVotes(db *gorm.DB, presence *data.Presence, deck []float64) Votes {
	return Votes{db: db, presence: presence, deck: deck}
}

// Submit upserts the participant's vote for the selected issue. Repeats
// overwrite; votes are hidden until the facilitator reveals.
func (v Votes) Submit(c *gin.Context) {
	roomID, err := roomIDParam(c)
	if err != nil {
		fail(c, err)
		return
	}

	var req struct {
		IssueID uint64   `json:"issueId" binding:"required"`
		Value   *float64 `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	sub := c.GetString("sub")

	role, err := roomRole(v.db, roomID, sub)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	if role == "" {
		fail(c, apperr.Forbiddenf("not a participant of this room"))
		return
	}
	if role == types.RoleSpectator {
		fail(c, apperr.Forbiddenf("spectators cannot vote"))
		return
	}

	online, err := v.presence.IsOnline(c, roomID, sub)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	if !online {
		fail(c, apperr.Forbiddenf("participant is not present in the room"))
		return
	}

	if !types.OnDeck(v.deck, *req.Value) {
		fail(c, apperr.InvalidArgumentf("vote value is not on the deck"))
		return
	}

	err = v.db.Transaction(func(tx *gorm.DB) error {
		room, err := lockRoom(tx, roomID)
		if err != nil {
			return err
		}
		if room.Status != types.RoomVotingActive {
			return apperr.InvalidStatef("votes are revealed; voting is closed")
		}
		if room.CurrentIssueID == nil || *room.CurrentIssueID != req.IssueID {
			return apperr.InvalidStatef("issue is not selected for voting")
		}

		vote := types.Vote{
			RoomID:  roomID,
			IssueID: req.IssueID,
			UserID:  sub,
			Value:   *req.Value,
			VotedAt: time.Now(),
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "issue_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "voted_at"}),
		}).Create(&vote).Error
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusCreated)
}

// Tally lists votes for an issue. Values are masked server-side until the
// room is in the revealed state, so direct queries cannot leak votes.
func (v Votes) Tally(c *gin.Context) {
	roomID, err := roomIDParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	issueID, err := strconv.ParseUint(c.Param("issueId"), 10, 64)
	if err != nil {
		fail(c, apperr.InvalidArgumentf("bad issue id"))
		return
	}

	var room types.Room
	if err := v.db.First(&room, roomID).Error; err != nil {
		fail(c, apperr.NotFoundf("room not found"))
		return
	}

	var issue types.Issue
	if err := v.db.First(&issue, issueID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, apperr.NotFoundf("issue not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	if issue.RoomID != room.ID {
		fail(c, apperr.InvalidArgumentf("issue does not belong to this room"))
		return
	}

	var votes []types.Vote
	if err := v.db.Where("room_id = ? AND issue_id = ?", roomID, issueID).
		Order("voted_at asc").Find(&votes).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"votes": maskVotes(room.Status, votes)})
}

// maskVotes hides vote values while the room has not revealed them.
func maskVotes(roomStatus string, votes []types.Vote) []gin.H {
	out := make([]gin.H, 0, len(votes))
	for _, vote := range votes {
		if roomStatus == types.RoomVotesRevealed {
			out = append(out, gin.H{
				"userId":  vote.UserID,
				"issueId": vote.IssueID,
				"value":   vote.Value,
				"votedAt": vote.VotedAt,
			})
		} else {
			out = append(out, gin.H{
				"userId":   vote.UserID,
				"issueId":  vote.IssueID,
				"hasVoted": true,
			})
		}
	}
	return out
}
