package webserver

import (
	"strings"
	"testing"
)

func TestGenerateRoomCode(t *testing.T) {
	seen := map[string]int{}
	for i := 0; i < 500; i++ {
		code := generateRoomCode()
		if len(code) != roomCodeLen {
			t.Fatalf("bad length %d for %q", len(code), code)
		}
		for _, r := range code {
			if !strings.ContainsRune(roomCodeChars, r) {
				t.Fatalf("bad character %q in %q", r, code)
			}
		}
		seen[code]++
	}
	// 500 draws out of 36^6 colliding repeatedly would mean a broken generator
	for code, n := range seen {
		if n > 2 {
			t.Errorf("code %q generated %d times", code, n)
		}
	}
}
