// Minimal end‑to‑end integration test for the PointDeck API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/google/uuid"
)

var baseURL = getenv("API_URL", "http://localhost:8080/v1")

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	facilitator, fSession := guest("")
	voter, vSession := guest("")

	roomID, code := createRoom(facilitator)
	joinRoom(voter, code)

	heartbeat(facilitator, roomID, fSession)
	heartbeat(voter, roomID, vSession)

	issueID := createIssue(facilitator, roomID)
	selectIssue(facilitator, roomID, issueID)

	castVote(voter, roomID, issueID, 5)
	checkTallyMasked(voter, roomID, issueID)

	reveal(facilitator, roomID)
	checkTallyRevealed(voter, roomID, issueID, 5)

	disconnect(voter, vSession)

	fmt.Println("✓ all endpoints passed")
}

// ----------------------------- auth

func guest(presenceID string) (token, session string) {
	var resp struct {
		ParticipantID string `json:"participantId"`
		Token         string `json:"token"`
		SessionID     string `json:"sessionId"`
	}
	body := map[string]any{}
	if presenceID != "" {
		body["presenceId"] = presenceID
	}
	doJSON("POST", "/auth/guest", body, &resp, http.StatusOK)
	if resp.Token == "" || resp.SessionID == "" {
		log.Fatal("guest: empty token or session")
	}
	return resp.Token, resp.SessionID
}

// ----------------------------- rooms

func createRoom(tok string) (uint64, string) {
	var resp struct {
		ID   uint64 `json:"id"`
		Code string `json:"code"`
	}
	doAuth(tok, "POST", "/rooms", map[string]any{
		"name": "smoke-test " + uuid.NewString(),
	}, &resp, http.StatusCreated)
	if resp.Code == "" {
		log.Fatal("rooms: empty code")
	}
	return resp.ID, resp.Code
}

func joinRoom(tok, code string) {
	doAuth(tok, "POST", "/rooms/join", map[string]any{"code": code}, nil, http.StatusOK)
}

func heartbeat(tok string, roomID uint64, session string) {
	doAuth(tok, "POST", fmt.Sprintf("/rooms/%d/presence/heartbeat", roomID), map[string]any{
		"sessionId":  session,
		"intervalMs": 60000,
	}, nil, http.StatusNoContent)
}

func disconnect(tok, session string) {
	doAuth(tok, "POST", "/presence/disconnect", map[string]any{"sessionId": session}, nil, http.StatusNoContent)
}

// ----------------------------- issues and votes

func createIssue(tok string, roomID uint64) uint64 {
	var resp struct {
		ID uint64 `json:"id"`
	}
	doAuth(tok, "POST", fmt.Sprintf("/rooms/%d/issues", roomID), map[string]any{
		"title": "smoke issue",
	}, &resp, http.StatusCreated)
	return resp.ID
}

func selectIssue(tok string, roomID, issueID uint64) {
	doAuth(tok, "POST", fmt.Sprintf("/rooms/%d/select-issue", roomID), map[string]any{
		"issueId": issueID,
	}, nil, http.StatusNoContent)
}

func castVote(tok string, roomID, issueID uint64, value float64) {
	doAuth(tok, "POST", fmt.Sprintf("/rooms/%d/votes", roomID), map[string]any{
		"issueId": issueID,
		"value":   value,
	}, nil, http.StatusCreated)
}

func checkTallyMasked(tok string, roomID, issueID uint64) {
	var resp struct {
		Votes []struct {
			Value    *float64 `json:"value"`
			HasVoted bool     `json:"hasVoted"`
		} `json:"votes"`
	}
	doAuth(tok, "GET", fmt.Sprintf("/rooms/%d/issues/%d/votes", roomID, issueID), nil, &resp, http.StatusOK)
	if len(resp.Votes) != 1 {
		log.Fatalf("tally: want 1 vote, got %d", len(resp.Votes))
	}
	if resp.Votes[0].Value != nil {
		log.Fatal("tally: value leaked before reveal")
	}
}

func reveal(tok string, roomID uint64) {
	doAuth(tok, "POST", fmt.Sprintf("/rooms/%d/reveal", roomID), nil, nil, http.StatusOK)
}

func checkTallyRevealed(tok string, roomID, issueID uint64, want float64) {
	var resp struct {
		Votes []struct {
			Value float64 `json:"value"`
		} `json:"votes"`
	}
	doAuth(tok, "GET", fmt.Sprintf("/rooms/%d/issues/%d/votes", roomID, issueID), nil, &resp, http.StatusOK)
	if len(resp.Votes) != 1 || resp.Votes[0].Value != want {
		log.Fatalf("tally: want revealed value %v, got %+v", want, resp.Votes)
	}
}

// ----------------------------- helpers

func doAuth(token, method, path string, body, out any, want int) {
	doReq(method, path, token, body, out, want)
}

func doJSON(method, path string, body, out any, want int) {
	doReq(method, path, "", body, out, want)
}

func doReq(method, path, token string, body, out any, want int) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			log.Fatalf("%s %s encode: %v", method, path, err)
		}
	}
	req, _ := http.NewRequest(method, baseURL+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	if res.StatusCode != want {
		log.Fatalf("%s %s: want %d got %d", method, path, want, res.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			log.Fatalf("%s %s decode: %v", method, path, err)
		}
	}
}
