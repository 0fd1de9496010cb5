// Package apperr defines the error taxonomy shared by all domain services.
// Handlers map an error's Kind to an HTTP status; services and repositories
// only ever deal in Kinds, never in status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for boundary mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindDuplicate
	KindInvalid
	KindConflict
	KindUnauthorized
	KindForbidden
	KindUpstream
)

// Error carries a Kind, a user-facing message and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match two apperr values by Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func newf(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error  { return newf(KindNotFound, format, args...) }
func Duplicate(format string, args ...interface{}) *Error { return newf(KindDuplicate, format, args...) }
func Invalid(format string, args ...interface{}) *Error   { return newf(KindInvalid, format, args...) }
func Conflict(format string, args ...interface{}) *Error  { return newf(KindConflict, format, args...) }
func Unauthorized(format string, args ...interface{}) *Error {
	return newf(KindUnauthorized, format, args...)
}
func Forbidden(format string, args ...interface{}) *Error { return newf(KindForbidden, format, args...) }

// Upstream wraps a failure from an external collaborator (AI, rendering).
func Upstream(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindUpstream, Message: fmt.Sprintf(format, args...), Err: err}
}

// Internal wraps an unexpected failure.
func Internal(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsNotFound(err error) bool  { return err != nil && kindOf(err) == KindNotFound }
func IsDuplicate(err error) bool { return err != nil && kindOf(err) == KindDuplicate }
func IsInvalid(err error) bool   { return err != nil && kindOf(err) == KindInvalid }
func IsConflict(err error) bool  { return err != nil && kindOf(err) == KindConflict }
func IsUpstream(err error) bool  { return err != nil && kindOf(err) == KindUpstream }

// HTTPStatus maps an error to the status code its Kind implies.
func HTTPStatus(err error) int {
	switch kindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindDuplicate, KindInvalid:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns the message safe to show a caller. Internal and
// upstream causes are not leaked.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
