package webserver

import (
	"crypto/rand"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pointdeck/pointdeck/src/api/apperr"
	"github.com/pointdeck/pointdeck/src/api/data"
	"github.com/pointdeck/pointdeck/src/api/identity"
	"github.com/pointdeck/pointdeck/src/api/types"
)

type Rooms struct {
	db       *gorm.DB
	presence *data.Presence
}

func NewRooms(db *gorm.DB, presence *data.Presence) Rooms {
	return Rooms{db: db, presence: presence}
}

const roomCodeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const roomCodeLen = 6

// generateRoomCode draws a 6-character join code from crypto/rand.
func generateRoomCode() string {
	b := make([]byte, roomCodeLen)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	for i := range b {
		b[i] = roomCodeChars[int(b[i])%len(roomCodeChars)]
	}
	return string(b)
}

// roomRole returns the participant's role in the room, or "" for non-members.
func roomRole(tx *gorm.DB, roomID uint64, userID string) (string, error) {
	var ru types.RoomUser
	if err := tx.First(&ru, "room_id = ? AND user_id = ?", roomID, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return ru.Role, nil
}

func requireFacilitator(tx *gorm.DB, roomID uint64, userID string) error {
	role, err := roomRole(tx, roomID, userID)
	if err != nil {
		return err
	}
	if role != types.RoleFacilitator {
		return apperr.Forbiddenf("facilitator role required")
	}
	return nil
}

// lockRoom loads the room row under FOR UPDATE so room-level transitions
// serialize against each other.
func lockRoom(tx *gorm.DB, roomID uint64) (*types.Room, error) {
	var room types.Room
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&room, roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("room not found")
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func roomIDParam(c *gin.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return 0, apperr.InvalidArgumentf("bad room id")
	}
	return id, nil
}

func (r Rooms) Create(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	sub := c.GetString("sub")
	if sub == "" {
		fail(c, apperr.Unauthorizedf("no identity resolved"))
		return
	}

	name := strings.TrimSpace(sanitize(req.Name))
	if name == "" {
		fail(c, apperr.InvalidArgumentf("room name must not be empty"))
		return
	}

	var passwordHash string
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
			return
		}
		passwordHash = string(hash)
	}

	// The 36^6 code space makes collisions rare; the unique index backstops
	// the pre-check under concurrent creation, so retry on duplicates.
	var room types.Room
	for {
		code := generateRoomCode()
		var existing types.Room
		if err := r.db.First(&existing, "code = ?", code).Error; err == nil {
			continue
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
			return
		}

		room = types.Room{
			Code:         code,
			Name:         name,
			PasswordHash: passwordHash,
			OwnerID:      sub,
			Status:       types.RoomVotingActive,
		}
		err := r.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&room).Error; err != nil {
				return err
			}
			return tx.Create(&types.RoomUser{
				RoomID:       room.ID,
				UserID:       sub,
				DisplayName:  displayNameFor(c, sub),
				ProfileImage: identity.DefaultProfileImage(sub),
				Role:         types.RoleFacilitator,
			}).Error
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			continue
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
			return
		}
		break
	}

	c.JSON(http.StatusCreated, gin.H{"id": room.ID, "code": room.Code})
}

func displayNameFor(c *gin.Context, sub string) string {
	if name := c.GetString("name"); name != "" {
		return sanitize(name)
	}
	return identity.DefaultDisplayName(sub)
}

func (r Rooms) Join(c *gin.Context) {
	var req struct {
		Code      string `json:"code" binding:"required,len=6"`
		Password  string `json:"password"`
		Spectator bool   `json:"spectator"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	sub := c.GetString("sub")

	var room types.Room
	if err := r.db.First(&room, "code = ?", strings.ToUpper(req.Code)).Error; err != nil {
		fail(c, apperr.NotFoundf("room not found"))
		return
	}

	if room.PasswordHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(room.PasswordHash), []byte(req.Password)); err != nil {
			fail(c, apperr.Forbiddenf("invalid room password"))
			return
		}
	}

	role := types.RoleVoter
	if req.Spectator {
		role = types.RoleSpectator
	}

	// Roles are fixed at join time: an existing membership keeps its role.
	ru := types.RoomUser{RoomID: room.ID, UserID: sub}
	err := r.db.Where(&ru).Attrs(types.RoomUser{
		DisplayName:  displayNameFor(c, sub),
		ProfileImage: identity.DefaultProfileImage(sub),
		Role:         role,
	}).FirstOrCreate(&ru).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"roomId": room.ID, "role": ru.Role})
}

func (r Rooms) Get(c *gin.Context) {
	roomID, err := roomIDParam(c)
	if err != nil {
		fail(c, err)
		return
	}

	var room types.Room
	if err := r.db.First(&room, roomID).Error; err != nil {
		fail(c, apperr.NotFoundf("room not found"))
		return
	}

	var users []types.RoomUser
	r.db.Where("room_id = ?", roomID).Order("created_at asc").Find(&users)

	var issues []types.Issue
	r.db.Where("room_id = ?", roomID).Order("order_key asc").Find(&issues)

	var votes []types.Vote
	r.db.Where("room_id = ?", roomID).Find(&votes)

	c.JSON(http.StatusOK, gin.H{
		"room": gin.H{
			"id":             room.ID,
			"code":           room.Code,
			"name":           room.Name,
			"ownerId":        room.OwnerID,
			"status":         room.Status,
			"currentIssueId": room.CurrentIssueID,
			"hasPassword":    room.PasswordHash != "",
		},
		"users":  users,
		"issues": issues,
		"votes":  maskVotes(room.Status, votes),
	})
}

func (r Rooms) List(c *gin.Context) {
	var rooms []types.Room
	if err := r.db.Where("owner_id = ?", c.GetString("sub")).Order("created_at desc").Find(&rooms).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, gin.H{
			"id":          room.ID,
			"code":        room.Code,
			"name":        room.Name,
			"status":      room.Status,
			"hasPassword": room.PasswordHash != "",
			"createdAt":   room.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

func (r Rooms) Rename(c *gin.Context) {
	roomID, err := roomIDParam(c)
	if err != nil {
		fail(c, err)
		return
	}

	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	name := strings.TrimSpace(sanitize(req.Name))
	if name == "" {
		fail(c, apperr.InvalidArgumentf("room name must not be empty"))
		return
	}

	var room types.Room
	if err := r.db.First(&room, roomID).Error; err != nil {
		fail(c, apperr.NotFoundf("room not found"))
		return
	}
	if room.OwnerID != c.GetString("sub") {
		fail(c, apperr.Forbiddenf("only the owner can rename this room"))
		return
	}

	if err := r.db.Model(&room).Update("name", name).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (r Rooms) Delete(c *gin.Context) {
	roomID, err := roomIDParam(c)
	if err != nil {
		fail(c, err)
		return
	}

	var room types.Room
	if err := r.db.First(&room, roomID).Error; err != nil {
		fail(c, apperr.NotFoundf("room not found"))
		return
	}
	if room.OwnerID != c.GetString("sub") {
		fail(c, apperr.Forbiddenf("only the owner can delete this room"))
		return
	}

	// Dependents go first, all inside one transaction, so a failed cascade
	// never leaves issues or votes pointing at a missing room.
	err = r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Delete(&types.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&types.Issue{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&types.IssueIngestion{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&types.RoomUser{}).Error; err != nil {
			return err
		}
		return tx.Delete(&types.Room{}, roomID).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	if err := r.presence.ClearRoom(c, roomID); err != nil {
		log.Printf("clear presence for room %d: %v", roomID, err)
	}

	c.Status(http.StatusNoContent)
}

func (r Rooms) SelectIssue(c *gin.Context) {
	roomID, err := roomIDParam(c)
	if err != nil {
		fail(c, err)
		return
	}

	var req struct {
		IssueID uint64 `json:"issueId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		room, err := lockRoom(tx, roomID)
		if err != nil {
			return err
		}
		if err := requireFacilitator(tx, room.ID, c.GetString("sub")); err != nil {
			return err
		}

		var issue types.Issue
		if err := tx.First(&issue, req.IssueID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFoundf("issue not found")
			}
			return err
		}
		if issue.RoomID != room.ID {
			return apperr.InvalidArgumentf("issue does not belong to this room")
		}

		// Demote any previously selected issue, promote the target, move the
		// pointer and drop stale votes — one atomic unit for readers.
		if err := tx.Model(&types.Issue{}).
			Where("room_id = ? AND status = ? AND id <> ?", room.ID, types.IssueSelected, issue.ID).
			Update("status", types.IssuePendingVote).Error; err != nil {
			return err
		}
		if err := tx.Model(&issue).Updates(map[string]interface{}{
			"status":         types.IssueSelected,
			"final_estimate": nil,
		}).Error; err != nil {
			return err
		}
		if err := tx.Model(room).Updates(map[string]interface{}{
			"current_issue_id": issue.ID,
			"status":           types.RoomVotingActive,
		}).Error; err != nil {
			return err
		}
		return tx.Where("room_id = ?", room.ID).Delete(&types.Vote{}).Error
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (r Rooms) Reveal(c *gin.Context) {
	roomID, err := roomIDParam(c)
	if err != nil {
		fail(c, err)
		return
	}

	var req struct {
		Estimate *float64 `json:"estimate"`
	}
	// body optional: without an estimate the facilitator confirms one later
	_ = c.ShouldBindJSON(&req)

	var estimate *float64
	err = r.db.Transaction(func(tx *gorm.DB) error {
		room, err := lockRoom(tx, roomID)
		if err != nil {
			return err
		}
		if err := requireFacilitator(tx, room.ID, c.GetString("sub")); err != nil {
			return err
		}
		if room.CurrentIssueID == nil {
			return apperr.InvalidStatef("no issue selected")
		}

		var votes []types.Vote
		if err := tx.Where("room_id = ? AND issue_id = ?", room.ID, *room.CurrentIssueID).Find(&votes).Error; err != nil {
			return err
		}
		if len(votes) == 0 {
			return apperr.InvalidStatef("no votes to reveal")
		}

		if err := tx.Model(room).Update("status", types.RoomVotesRevealed).Error; err != nil {
			return err
		}

		// Final estimate is facilitator-confirmed: taken from the request,
		// or adopted automatically when the revealed votes are unanimous.
		estimate = req.Estimate
		if estimate == nil {
			unanimous := true
			for _, v := range votes[1:] {
				if v.Value != votes[0].Value {
					unanimous = false
					break
				}
			}
			if unanimous {
				estimate = &votes[0].Value
			}
		}
		if estimate != nil {
			return tx.Model(&types.Issue{}).Where("id = ?", *room.CurrentIssueID).
				Updates(map[string]interface{}{
					"status":         types.IssueVoted,
					"final_estimate": *estimate,
				}).Error
		}
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"estimate": estimate})
}

// FinalizeEstimate is the follow-up step after a non-unanimous reveal: the
// facilitator asserts the value the issue is stamped with.
func (r Rooms) FinalizeEstimate(c *gin.Context) {
	roomID, err := roomIDParam(c)
	if err != nil {
		fail(c, err)
		return
	}

	var req struct {
		Value *float64 `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		room, err := lockRoom(tx, roomID)
		if err != nil {
			return err
		}
		if err := requireFacilitator(tx, room.ID, c.GetString("sub")); err != nil {
			return err
		}
		if room.Status != types.RoomVotesRevealed {
			return apperr.InvalidStatef("votes are not revealed")
		}
		if room.CurrentIssueID == nil {
			return apperr.InvalidStatef("no issue selected")
		}
		return tx.Model(&types.Issue{}).Where("id = ?", *room.CurrentIssueID).
			Updates(map[string]interface{}{
				"status":         types.IssueVoted,
				"final_estimate": *req.Value,
			}).Error
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (r Rooms) Reset(c *gin.Context) {
	roomID, err := roomIDParam(c)
	if err != nil {
		fail(c, err)
		return
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		room, err := lockRoom(tx, roomID)
		if err != nil {
			return err
		}
		if err := requireFacilitator(tx, room.ID, c.GetString("sub")); err != nil {
			return err
		}
		if room.CurrentIssueID == nil {
			return apperr.InvalidStatef("no issue selected")
		}

		if err := tx.Where("room_id = ? AND issue_id = ?", room.ID, *room.CurrentIssueID).
			Delete(&types.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Model(room).Update("status", types.RoomVotingActive).Error; err != nil {
			return err
		}
		// An already voted issue re-enters the selected state here; there is
		// no direct voted -> pendingVote transition.
		return tx.Model(&types.Issue{}).Where("id = ?", *room.CurrentIssueID).
			Updates(map[string]interface{}{
				"status":         types.IssueSelected,
				"final_estimate": nil,
			}).Error
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
