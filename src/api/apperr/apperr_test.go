package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := Forbiddenf("no")
	if KindOf(err) != Forbidden {
		t.Errorf("expected Forbidden, got %v", KindOf(err))
	}

	wrapped := fmt.Errorf("handler: %w", err)
	if KindOf(wrapped) != Forbidden {
		t.Error("kind must survive wrapping")
	}

	if KindOf(errors.New("plain")) != 0 {
		t.Error("plain errors have no kind")
	}
	if KindOf(nil) != 0 {
		t.Error("nil has no kind")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{Unauthorized, http.StatusUnauthorized},
		{Forbidden, http.StatusForbidden},
		{NotFound, http.StatusNotFound},
		{InvalidArgument, http.StatusBadRequest},
		{InvalidState, http.StatusConflict},
		{0, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.kind); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}
