package webserver_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/pointdeck/pointdeck/src/api/testutil"
	"github.com/pointdeck/pointdeck/src/api/types"
	"gorm.io/gorm"
)

func createRoom(t *testing.T, r *gin.Engine, token, name string) (uint64, string) {
	t.Helper()
	w := testutil.Do(t, r, "POST", "/v1/rooms", token, map[string]interface{}{"name": name})
	if w.Code != http.StatusCreated {
		t.Fatalf("create room: status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		ID   uint64 `json:"id"`
		Code string `json:"code"`
	}
	testutil.Decode(t, w, &resp)
	return resp.ID, resp.Code
}

func addIssue(t *testing.T, r *gin.Engine, token string, roomID uint64, title string) uint64 {
	t.Helper()
	w := testutil.Do(t, r, "POST", fmt.Sprintf("/v1/rooms/%d/issues", roomID), token,
		map[string]interface{}{"title": title})
	if w.Code != http.StatusCreated {
		t.Fatalf("create issue: status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		ID uint64 `json:"id"`
	}
	testutil.Decode(t, w, &resp)
	return resp.ID
}

func joinRoom(t *testing.T, r *gin.Engine, token, code string, spectator bool) {
	t.Helper()
	w := testutil.Do(t, r, "POST", "/v1/rooms/join", token,
		map[string]interface{}{"code": code, "spectator": spectator})
	if w.Code != http.StatusOK {
		t.Fatalf("join room: status %d body %s", w.Code, w.Body.String())
	}
}

func heartbeat(t *testing.T, r *gin.Engine, token string, roomID uint64, session string) {
	t.Helper()
	w := testutil.Do(t, r, "POST", fmt.Sprintf("/v1/rooms/%d/presence/heartbeat", roomID), token,
		map[string]interface{}{"sessionId": session, "intervalMs": 60000})
	if w.Code != http.StatusNoContent {
		t.Fatalf("heartbeat: status %d body %s", w.Code, w.Body.String())
	}
}

func TestGuestIdentity(t *testing.T) {
	r := testutil.RouterNoBackends()

	w := testutil.Do(t, r, "POST", "/v1/auth/guest", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		ParticipantID string `json:"participantId"`
		Token         string `json:"token"`
		Persist       bool   `json:"persist"`
		SessionID     string `json:"sessionId"`
	}
	testutil.Decode(t, w, &resp)
	if len(resp.ParticipantID) != 15 || resp.ParticipantID[:5] != "anon_" {
		t.Errorf("bad anonymous id %q", resp.ParticipantID)
	}
	if !resp.Persist {
		t.Error("fresh id must be flagged for persistence")
	}
	if resp.Token == "" || resp.SessionID == "" {
		t.Error("token and session id must be issued")
	}

	// a stored id of the right shape is reused verbatim
	w = testutil.Do(t, r, "POST", "/v1/auth/guest", "",
		map[string]interface{}{"presenceId": resp.ParticipantID})
	var again struct {
		ParticipantID string `json:"participantId"`
		Persist       bool   `json:"persist"`
	}
	testutil.Decode(t, w, &again)
	if again.ParticipantID != resp.ParticipantID {
		t.Errorf("stored id not reused: %q vs %q", again.ParticipantID, resp.ParticipantID)
	}
	if again.Persist {
		t.Error("reused id must not be flagged for persistence")
	}
}

func TestCreateRoom(t *testing.T) {
	r, db, _ := testutil.Router(t)
	owner := testutil.Token(t, "acct_owner", "Olivia")

	roomID, code := createRoom(t, r, owner, "Sprint 12")
	if len(code) != 6 {
		t.Errorf("bad room code %q", code)
	}

	var room types.Room
	if err := db.First(&room, roomID).Error; err != nil {
		t.Fatalf("room not stored: %v", err)
	}
	if room.Status != types.RoomVotingActive {
		t.Errorf("initial status %q, want votingActive", room.Status)
	}
	if room.CurrentIssueID != nil {
		t.Error("new room must have no selected issue")
	}
	if room.OwnerID != "acct_owner" {
		t.Errorf("owner %q", room.OwnerID)
	}

	var creator types.RoomUser
	if err := db.First(&creator, "room_id = ? AND user_id = ?", roomID, "acct_owner").Error; err != nil {
		t.Fatalf("creator not enrolled: %v", err)
	}
	if creator.Role != types.RoleFacilitator {
		t.Errorf("creator role %q, want facilitator", creator.Role)
	}
}

func TestCreateRoomValidation(t *testing.T) {
	r, _, _ := testutil.Router(t)
	token := testutil.Token(t, "acct_owner", "Olivia")

	w := testutil.Do(t, r, "POST", "/v1/rooms", "", map[string]interface{}{"name": "x"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status %d, want 401", w.Code)
	}

	w = testutil.Do(t, r, "POST", "/v1/rooms", token, map[string]interface{}{"name": "  <b></b>  "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty name after sanitizing: status %d, want 400", w.Code)
	}
}

func TestRoomCodesUnique(t *testing.T) {
	r, db, _ := testutil.Router(t)
	token := testutil.Token(t, "acct_owner", "Olivia")

	codes := map[string]bool{}
	for i := 0; i < 10; i++ {
		_, code := createRoom(t, r, token, fmt.Sprintf("Room %d", i))
		if codes[code] {
			t.Fatalf("duplicate code %q", code)
		}
		codes[code] = true
	}

	var count int64
	db.Model(&types.Room{}).Count(&count)
	if count != 10 {
		t.Errorf("stored %d rooms, want 10", count)
	}
}

func TestJoinRoom(t *testing.T) {
	r, db, _ := testutil.Router(t)
	owner := testutil.Token(t, "acct_owner", "Olivia")
	roomID, code := createRoom(t, r, owner, "Sprint 12")

	voter := testutil.Token(t, "anon_voterAAAAA", "")
	joinRoom(t, r, voter, code, false)

	var ru types.RoomUser
	if err := db.First(&ru, "room_id = ? AND user_id = ?", roomID, "anon_voterAAAAA").Error; err != nil {
		t.Fatalf("join not stored: %v", err)
	}
	if ru.Role != types.RoleVoter {
		t.Errorf("role %q, want voter", ru.Role)
	}

	// rejoining with the spectator flag keeps the original role
	w := testutil.Do(t, r, "POST", "/v1/rooms/join", voter,
		map[string]interface{}{"code": code, "spectator": true})
	if w.Code != http.StatusOK {
		t.Fatalf("rejoin: status %d", w.Code)
	}
	db.First(&ru, "room_id = ? AND user_id = ?", roomID, "anon_voterAAAAA")
	if ru.Role != types.RoleVoter {
		t.Errorf("role changed to %q on rejoin", ru.Role)
	}
}

func TestJoinRoomPassword(t *testing.T) {
	r, _, _ := testutil.Router(t)
	owner := testutil.Token(t, "acct_owner", "Olivia")

	w := testutil.Do(t, r, "POST", "/v1/rooms", owner,
		map[string]interface{}{"name": "Private", "password": "hunter2"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d", w.Code)
	}
	var resp struct {
		Code string `json:"code"`
	}
	testutil.Decode(t, w, &resp)

	guest := testutil.Token(t, "anon_guestAAAAA", "")

	w = testutil.Do(t, r, "POST", "/v1/rooms/join", guest,
		map[string]interface{}{"code": resp.Code, "password": "wrong"})
	if w.Code != http.StatusForbidden {
		t.Errorf("wrong password: status %d, want 403", w.Code)
	}

	w = testutil.Do(t, r, "POST", "/v1/rooms/join", guest,
		map[string]interface{}{"code": resp.Code, "password": "hunter2"})
	if w.Code != http.StatusOK {
		t.Errorf("right password: status %d, want 200", w.Code)
	}
}

func TestRenameRoomOwnership(t *testing.T) {
	r, db, _ := testutil.Router(t)
	owner := testutil.Token(t, "acct_owner", "Olivia")
	stranger := testutil.Token(t, "acct_other", "Oscar")
	roomID, _ := createRoom(t, r, owner, "Sprint 12")

	w := testutil.Do(t, r, "PATCH", fmt.Sprintf("/v1/rooms/%d", roomID), stranger,
		map[string]interface{}{"name": "Hijacked"})
	if w.Code != http.StatusForbidden {
		t.Errorf("non-owner rename: status %d, want 403", w.Code)
	}

	w = testutil.Do(t, r, "PATCH", fmt.Sprintf("/v1/rooms/%d", roomID), owner,
		map[string]interface{}{"name": "Sprint 13"})
	if w.Code != http.StatusNoContent {
		t.Errorf("owner rename: status %d, want 204", w.Code)
	}

	var room types.Room
	db.First(&room, roomID)
	if room.Name != "Sprint 13" {
		t.Errorf("name %q, want Sprint 13", room.Name)
	}
}

func TestDeleteRoomCascade(t *testing.T) {
	r, db, _ := testutil.Router(t)
	owner := testutil.Token(t, "acct_owner", "Olivia")
	roomID, code := createRoom(t, r, owner, "Sprint 12")

	issueID := addIssue(t, r, owner, roomID, "Login bug")
	selectIssue(t, r, owner, roomID, issueID)

	voter := testutil.Token(t, "anon_voterAAAAA", "")
	joinRoom(t, r, voter, code, false)
	heartbeat(t, r, voter, roomID, "sess-v")
	submitVote(t, r, voter, roomID, issueID, 5)

	stranger := testutil.Token(t, "acct_other", "Oscar")
	w := testutil.Do(t, r, "DELETE", fmt.Sprintf("/v1/rooms/%d", roomID), stranger, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("non-owner delete: status %d, want 403", w.Code)
	}

	w = testutil.Do(t, r, "DELETE", fmt.Sprintf("/v1/rooms/%d", roomID), owner, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("owner delete: status %d body %s", w.Code, w.Body.String())
	}

	for name, count := range map[string]int64{
		"rooms":      tableCount(db, &types.Room{}, "id = ?", roomID),
		"issues":     tableCount(db, &types.Issue{}, "room_id = ?", roomID),
		"votes":      tableCount(db, &types.Vote{}, "room_id = ?", roomID),
		"room_users": tableCount(db, &types.RoomUser{}, "room_id = ?", roomID),
	} {
		if count != 0 {
			t.Errorf("%s: %d rows left after cascade", name, count)
		}
	}
}

func tableCount(db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	var n int64
	db.Model(model).Where(query, args...).Count(&n)
	return n
}

func selectIssue(t *testing.T, r *gin.Engine, token string, roomID, issueID uint64) {
	t.Helper()
	w := testutil.Do(t, r, "POST", fmt.Sprintf("/v1/rooms/%d/select-issue", roomID), token,
		map[string]interface{}{"issueId": issueID})
	if w.Code != http.StatusNoContent {
		t.Fatalf("select issue: status %d body %s", w.Code, w.Body.String())
	}
}

func submitVote(t *testing.T, r *gin.Engine, token string, roomID, issueID uint64, value float64) {
	t.Helper()
	w := testutil.Do(t, r, "POST", fmt.Sprintf("/v1/rooms/%d/votes", roomID), token,
		map[string]interface{}{"issueId": issueID, "value": value})
	if w.Code != http.StatusCreated {
		t.Fatalf("submit vote: status %d body %s", w.Code, w.Body.String())
	}
}

func TestSelectIssueSingleSelection(t *testing.T) {
	r, db, _ := testutil.Router(t)
	owner := testutil.Token(t, "acct_owner", "Olivia")
	roomID, _ := createRoom(t, r, owner, "Sprint 12")

	i1 := addIssue(t, r, owner, roomID, "Login bug")
	i2 := addIssue(t, r, owner, roomID, "Signup flow")

	selectIssue(t, r, owner, roomID, i1)

	var room types.Room
	db.First(&room, roomID)
	if room.CurrentIssueID == nil || *room.CurrentIssueID != i1 {
		t.Fatal("selection pointer not on first issue")
	}

	selectIssue(t, r, owner, roomID, i2)

	var first, second types.Issue
	db.First(&first, i1)
	db.First(&second, i2)
	if first.Status != types.IssuePendingVote {
		t.Errorf("previous issue status %q, want pendingVote", first.Status)
	}
	if second.Status != types.IssueSelected {
		t.Errorf("selected issue status %q, want roomSelectedIssue", second.Status)
	}
	db.First(&room, roomID)
	if room.CurrentIssueID == nil || *room.CurrentIssueID != i2 {
		t.Error("selection pointer not moved")
	}

	var selected int64
	db.Model(&types.Issue{}).Where("room_id = ? AND status = ?", roomID, types.IssueSelected).Count(&selected)
	if selected != 1 {
		t.Errorf("%d issues selected at once", selected)
	}
}

func TestSelectIssueAuthorization(t *testing.T) {
	r, db, _ := testutil.Router(t)
	owner := testutil.Token(t, "acct_owner", "Olivia")
	roomID, code := createRoom(t, r, owner, "Sprint 12")
	issueID := addIssue(t, r, owner, roomID, "Login bug")

	voter := testutil.Token(t, "anon_voterAAAAA", "")
	joinRoom(t, r, voter, code, false)

	w := testutil.Do(t, r, "POST", fmt.Sprintf("/v1/rooms/%d/select-issue", roomID), voter,
		map[string]interface{}{"issueId": issueID})
	if w.Code != http.StatusForbidden {
		t.Errorf("voter select: status %d, want 403", w.Code)
	}

	var room types.Room
	db.First(&room, roomID)
	if room.CurrentIssueID != nil {
		t.Error("selection pointer changed by forbidden call")
	}
}

func TestSelectIssueWrongRoom(t *testing.T) {
	r, _, _ := testutil.Router(t)
	owner := testutil.Token(t, "acct_owner", "Olivia")
	roomA, _ := createRoom(t, r, owner, "Room A")
	roomB, _ := createRoom(t, r, owner, "Room B")
	issueB := addIssue(t, r, owner, roomB, "Elsewhere")

	w := testutil.Do(t, r, "POST", fmt.Sprintf("/v1/rooms/%d/select-issue", roomA), owner,
		map[string]interface{}{"issueId": issueB})
	if w.Code != http.StatusBadRequest {
		t.Errorf("cross-room select: status %d, want 400", w.Code)
	}
}

func TestRevealFlow(t *testing.T) {
	r, db, _ := testutil.Router(t)
	owner := testutil.Token(t, "acct_owner", "Olivia")
	roomID, code := createRoom(t, r, owner, "Sprint 12")
	issueID := addIssue(t, r, owner, roomID, "Login bug")
	selectIssue(t, r, owner, roomID, issueID)

	voterV := testutil.Token(t, "anon_voterVVVVV", "")
	voterW := testutil.Token(t, "anon_voterWWWWW", "")
	joinRoom(t, r, voterV, code, false)
	joinRoom(t, r, voterW, code, false)
	heartbeat(t, r, voterV, roomID, "sess-v")
	heartbeat(t, r, voterW, roomID, "sess-w")

	submitVote(t, r, voterV, roomID, issueID, 5)
	submitVote(t, r, voterW, roomID, issueID, 8)

	// hidden until revealed, also on the direct tally query
	w := testutil.Do(t, r, "GET", fmt.Sprintf("/v1/rooms/%d/issues/%d/votes", roomID, issueID), voterV, nil)
	var masked struct {
		Votes []struct {
			UserID   string   `json:"userId"`
			HasVoted bool     `json:"hasVoted"`
			Value    *float64 `json:"value"`
		} `json:"votes"`
	}
	testutil.Decode(t, w, &masked)
	if len(masked.Votes) != 2 {
		t.Fatalf("tally size %d, want 2", len(masked.Votes))
	}
	for _, v := range masked.Votes {
		if v.Value != nil {
			t.Error("vote value leaked before reveal")
		}
		if !v.HasVoted {
			t.Error("hasVoted flag missing")
		}
	}

	w = testutil.Do(t, r, "POST", fmt.Sprintf("/v1/rooms/%d/reveal", roomID), owner, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reveal: status %d body %s", w.Code, w.Body.String())
	}
	var revealed struct {
		Estimate *float64 `json:"estimate"`
	}
	testutil.Decode(t, w, &revealed)
	if revealed.Estimate != nil {
		t.Error("disagreeing votes must not auto-stamp an estimate")
	}

	var room types.Room
	db.First(&room, roomID)
	if room.Status != types.RoomVotesRevealed {
		t.Errorf("room status %q, want votesRevealed", room.Status)
	}

	w = testutil.Do(t, r, "GET", fmt.Sprintf("/v1/rooms/%d/issues/%d/votes", roomID, issueID), voterV, nil)
	var open struct {
		Votes []struct {
			UserID string  `json:"userId"`
			Value  float64 `json:"value"`
		} `json:"votes"`
	}
	testutil.Decode(t, w, &open)
	values := map[string]float64{}
	for _, v := range open.Votes {
		values[v.UserID] = v.Value
	}
	if values["anon_voterVVVVV"] != 5 || values["anon_voterWWWWW"] != 8 {
		t.Errorf("revealed tally wrong: %v", values)
	}

	// facilitator confirms the final value in the follow-up step
	w = testutil.Do(t, r, "POST", fmt.Sprintf("/v1/rooms/%d/estimate", roomID), owner,
		map[string]interface{}{"value": 8})
	if w.Code != http.StatusNoContent {
		t.Fatalf("finalize: status %d body %s", w.Code, w.Body.String())
	}
	var issue types.Issue
	db.First(&issue, issueID)
	if issue.Status != types.IssueVoted {
		t.Errorf("issue status %q, want voted", issue.Status)
	}
	if issue.FinalEstimate == nil || *issue.FinalEstimate != 8 {
		t.Error("final estimate not stamped")
	}
}

func TestRevealUnanimousAutoStamps(t *testing.T) {
	r, db, _ := testutil.Router(t)
	owner := testutil.Token(t, "acct_owner", "Olivia")
	roomID, code := createRoom(t, r, owner, "Sprint 12")
	issueID := addIssue(t, r, owner, roomID, "Login bug")
	selectIssue(t, r, owner, roomID, issueID)

	voter := testutil.Token(t, "anon_voterAAAAA", "")
	joinRoom(t, r, voter, code, false)
	heartbeat(t, r, voter, roomID, "sess-v")
	submitVote(t, r, voter, roomID, issueID, 5)

	w := testutil.Do(t, r, "POST", fmt.Sprintf("/v1/rooms/%d/reveal", roomID), owner, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reveal: status %d", w.Code)
	}
	var resp struct {
		Estimate *float64 `json:"estimate"`
	}
	testutil.Decode(t, w, &resp)
	if resp.Estimate == nil || *resp.Estimate != 5 {
		t.Error("unanimous vote must auto-stamp the estimate")
	}

	var issue types.Issue
	db.First(&issue, issueID)
	if issue.Status != types.IssueVoted || issue.FinalEstimate == nil || *issue.FinalEstimate != 5 {
		t.Errorf("issue not stamped: status %q estimate %v", issue.Status, issue.FinalEstimate)
	}
}

func TestRevealRequiresVotes(t *testing.T) {
	r, _, _ := testutil.Router(t)
	owner := testutil.Token(t, "acct_owner", "Olivia")
	roomID, _ := createRoom(t, r, owner, "Sprint 12")
	issueID := addIssue(t, r, owner, roomID, "Login bug")

	// no issue selected yet
	w := testutil.Do(t, r, "POST", fmt.Sprintf("/v1/rooms/%d/reveal", roomID), owner, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("reveal without selection: status %d, want 409", w.Code)
	}

	selectIssue(t, r, owner, roomID, issueID)

	// selected but nobody voted
	w = testutil.Do(t, r, "POST", fmt.Sprintf("/v1/rooms/%d/reveal", roomID), owner, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("reveal without votes: status %d, want 409", w.Code)
	}
}

func TestResetVoting(t *testing.T) {
	r, db, _ := testutil.Router(t)
	owner := testutil.Token(t, "acct_owner", "Olivia")
	roomID, code := createRoom(t, r, owner, "Sprint 12")
	issueID := addIssue(t, r, owner, roomID, "Login bug")
	selectIssue(t, r, owner, roomID, issueID)

	voter := testutil.Token(t, "anon_voterAAAAA", "")
	joinRoom(t, r, voter, code, false)
	heartbeat(t, r, voter, roomID, "sess-v")
	submitVote(t, r, voter, roomID, issueID, 5)

	w := testutil.Do(t, r, "POST", fmt.Sprintf("/v1/rooms/%d/reveal", roomID), owner, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reveal: status %d", w.Code)
	}

	w = testutil.Do(t, r, "POST", fmt.Sprintf("/v1/rooms/%d/reset", roomID), owner, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("reset: status %d body %s", w.Code, w.Body.String())
	}

	var room types.Room
	db.First(&room, roomID)
	if room.Status != types.RoomVotingActive {
		t.Errorf("room status %q after reset", room.Status)
	}

	var issue types.Issue
	db.First(&issue, issueID)
	if issue.Status != types.IssueSelected {
		t.Errorf("issue status %q after reset, want roomSelectedIssue", issue.Status)
	}
	if issue.FinalEstimate != nil {
		t.Error("final estimate must be cleared on re-vote")
	}

	if n := tableCount(db, &types.Vote{}, "issue_id = ?", issueID); n != 0 {
		t.Errorf("%d votes left after reset", n)
	}
}

func TestListRoomsForUser(t *testing.T) {
	r, _, _ := testutil.Router(t)
	owner := testutil.Token(t, "acct_owner", "Olivia")
	other := testutil.Token(t, "acct_other", "Oscar")

	createRoom(t, r, owner, "Mine 1")
	createRoom(t, r, owner, "Mine 2")
	createRoom(t, r, other, "Theirs")

	w := testutil.Do(t, r, "GET", "/v1/rooms", owner, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status %d", w.Code)
	}
	var resp struct {
		Rooms []struct {
			Name string `json:"name"`
		} `json:"rooms"`
	}
	testutil.Decode(t, w, &resp)
	if len(resp.Rooms) != 2 {
		t.Errorf("listed %d rooms, want 2", len(resp.Rooms))
	}
}
