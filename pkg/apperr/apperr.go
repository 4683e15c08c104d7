package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error independently of its message.
type Kind string

const (
	KindNotFound              Kind = "NotFound"
	KindValidation            Kind = "ValidationError"
	KindForbidden             Kind = "Forbidden"
	KindUnauthorized          Kind = "Unauthorized"
	KindConflict              Kind = "Conflict"
	KindInsufficientInventory Kind = "InsufficientInventory"
	KindNoAvailableInventory  Kind = "NoAvailableInventory"
	KindInfrastructure        Kind = "InfrastructureError"
)

// Error is the error type returned by services.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind == KindInfrastructure {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrNotFound) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinels usable with errors.Is.
var (
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrValidation            = &Error{Kind: KindValidation}
	ErrForbidden             = &Error{Kind: KindForbidden}
	ErrUnauthorized          = &Error{Kind: KindUnauthorized}
	ErrConflict              = &Error{Kind: KindConflict}
	ErrInsufficientInventory = &Error{Kind: KindInsufficientInventory}
	ErrNoAvailableInventory  = &Error{Kind: KindNoAvailableInventory}
	ErrInfrastructure        = &Error{Kind: KindInfrastructure}
)

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error   { return newf(KindNotFound, format, args...) }
func Validation(format string, args ...any) *Error { return newf(KindValidation, format, args...) }
func Forbidden(format string, args ...any) *Error  { return newf(KindForbidden, format, args...) }
func Conflict(format string, args ...any) *Error   { return newf(KindConflict, format, args...) }

func Unauthorized(format string, args ...any) *Error {
	return newf(KindUnauthorized, format, args...)
}

func InsufficientInventory(format string, args ...any) *Error {
	return newf(KindInsufficientInventory, format, args...)
}

func NoAvailableInventory(format string, args ...any) *Error {
	return newf(KindNoAvailableInventory, format, args...)
}

// Infrastructure wraps a datastore or transport failure.
func Infrastructure(err error, msg string) *Error {
	return &Error{Kind: KindInfrastructure, Message: msg, Err: err}
}

// KindOf reports the kind of err; unknown errors are infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

// HTTPStatus maps an error to the status code returned to API clients.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation, KindInsufficientInventory, KindNoAvailableInventory:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show a client.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindInfrastructure {
			return "Internal server error"
		}
		return e.Message
	}
	return "Internal server error"
}
