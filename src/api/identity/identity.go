// Package identity maps a connecting client to a stable participant id:
// the authenticated account subject when a session exists, otherwise an
// anonymous id the client persists between visits.
package identity

import (
	"crypto/rand"
	"fmt"
	"net/url"
	"strings"
)

const (
	anonPrefix   = "anon_"
	anonRandLen  = 10
	anonTotalLen = len(anonPrefix) + anonRandLen
)

const anonAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// Session is what the auth provider resolved for the current request.
type Session struct {
	Subject string
	Name    string
}

// Resolve returns the participant id for a client. minted is true when a new
// anonymous id was generated and the caller must instruct the client to
// persist it. Never fails.
func Resolve(session *Session, storedAnonID string) (id string, minted bool) {
	if session != nil && session.Subject != "" {
		return session.Subject, false
	}
	if IsAnonymousID(storedAnonID) {
		return storedAnonID, false
	}
	return NewAnonymousID(), true
}

// IsAnonymousID reports whether s has the shape of a generated anonymous id.
func IsAnonymousID(s string) bool {
	if len(s) != anonTotalLen || !strings.HasPrefix(s, anonPrefix) {
		return false
	}
	for _, r := range s[len(anonPrefix):] {
		if !strings.ContainsRune(anonAlphabet, r) {
			return false
		}
	}
	return true
}

// NewAnonymousID draws 10 alphabet characters from crypto/rand.
func NewAnonymousID() string {
	b := make([]byte, anonRandLen)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand does not fail on supported platforms
	}
	for i := range b {
		b[i] = anonAlphabet[int(b[i])%len(anonAlphabet)]
	}
	return anonPrefix + string(b)
}

func djb2(s string) uint32 {
	var h uint32 = 5381
	for i := 0; i < len(s); i++ {
		h = (h * 33) ^ uint32(s[i])
	}
	return h
}

var nameAdjectives = []string{
	"Brave", "Calm", "Clever", "Curious", "Daring", "Eager", "Gentle",
	"Happy", "Jolly", "Keen", "Lively", "Mellow", "Nimble", "Patient",
	"Quick", "Quiet", "Sly", "Swift", "Witty", "Zesty",
}

var nameAnimals = []string{
	"Badger", "Bear", "Crane", "Dolphin", "Falcon", "Fox", "Hedgehog",
	"Heron", "Lynx", "Marmot", "Otter", "Owl", "Panda", "Raven",
	"Seal", "Sparrow", "Tiger", "Turtle", "Walrus", "Wolf",
}

// DefaultDisplayName derives a stable adjective-animal name from the id,
// used for participants without a stored profile.
func DefaultDisplayName(id string) string {
	h := djb2(id)
	adj := nameAdjectives[h%uint32(len(nameAdjectives))]
	animal := nameAnimals[(h/31)%uint32(len(nameAnimals))]
	return adj + " " + animal
}

// DefaultProfileImage returns a deterministic avatar URL for the id.
func DefaultProfileImage(id string) string {
	return fmt.Sprintf(
		"https://api.dicebear.com/9.x/open-peeps/svg?seed=%s&backgroundType=gradientLinear&backgroundColor=d1d4f9,ffd5dc,ffdfbf,c0aede,b6e3f4",
		url.QueryEscape(id),
	)
}
