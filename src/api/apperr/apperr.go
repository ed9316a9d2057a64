// Package apperr is the error taxonomy shared by handlers, storage helpers
// and the ingestion worker. Every operation validates before it mutates and
// fails fast with one of these kinds.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	Unauthorized    Kind = iota + 1 // no identity resolved
	Forbidden                       // identity lacks role or ownership
	NotFound                        // referenced entity absent
	InvalidArgument                 // bad input or cross-entity mismatch
	InvalidState                    // operation not legal in current state
)

type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

func Unauthorizedf(msg string) *Error    { return New(Unauthorized, msg) }
func Forbiddenf(msg string) *Error       { return New(Forbidden, msg) }
func NotFoundf(msg string) *Error        { return New(NotFound, msg) }
func InvalidArgumentf(msg string) *Error { return New(InvalidArgument, msg) }
func InvalidStatef(msg string) *Error    { return New(InvalidState, msg) }

// KindOf extracts the kind from err, or 0 when err is not an apperr.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// HTTPStatus maps a kind to the status the webserver responds with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case InvalidArgument:
		return http.StatusBadRequest
	case InvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
