// Package apperr attaches HTTP semantics to the domain's sentinel
// errors: a Kind enum, a status code, and an optional list of
// structured issues for a validation response body.
package apperr

import (
	"errors"
	"net/http"
	"time"

	"github.com/studyengine/core/internal/domain"
)

// Kind classifies an error for the HTTP boundary.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindInvalid      Kind = "invalid"
	KindUnauthorized Kind = "unauthorized"
	KindRateLimited  Kind = "rate_limited"
	KindTooLarge     Kind = "too_large"
	KindConflict     Kind = "conflict"
	KindInternal     Kind = "internal"
)

// Error is the typed application error carried from the engine/store
// layers up to the HTTP handlers.
type Error struct {
	Kind       Kind
	Status     int
	Message    string
	Issues     []string
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.cause != nil {
		return e.cause.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(kind Kind, status int, message string, cause error) *Error {
	return &Error{Kind: kind, Status: status, Message: message, cause: cause}
}

// NotFound wraps err as a 404.
func NotFound(message string, cause error) *Error {
	return newErr(KindNotFound, http.StatusNotFound, message, cause)
}

// Invalid wraps err as a 422 validation failure, optionally carrying
// the individual violations found.
func Invalid(message string, issues []string) *Error {
	e := newErr(KindInvalid, http.StatusUnprocessableEntity, message, nil)
	e.Issues = issues
	return e
}

// BadRequest wraps err as a plain 400 (malformed payload, not a schema
// violation).
func BadRequest(message string, cause error) *Error {
	return newErr(KindInvalid, http.StatusBadRequest, message, cause)
}

// Unauthorized wraps err as a 401.
func Unauthorized(message string) *Error {
	return newErr(KindUnauthorized, http.StatusUnauthorized, message, domain.ErrUnauthorized)
}

// RateLimited wraps err as a 429, carrying how long the caller should
// wait before its window resets.
func RateLimited(message string, retryAfter time.Duration) *Error {
	e := newErr(KindRateLimited, http.StatusTooManyRequests, message, domain.ErrRateLimited)
	e.RetryAfter = retryAfter
	return e
}

// TooLarge wraps err as a 413.
func TooLarge(message string) *Error {
	return newErr(KindTooLarge, http.StatusRequestEntityTooLarge, message, domain.ErrPayloadTooLarge)
}

// Conflict wraps err as a 409 (e.g. an infeasible blueprint).
func Conflict(message string, cause error) *Error {
	return newErr(KindConflict, http.StatusConflict, message, cause)
}

// Internal wraps an unexpected error as a 500, never leaking cause's
// text to the response body.
func Internal(cause error) *Error {
	return newErr(KindInternal, http.StatusInternalServerError, "internal error", cause)
}

// FromDomain maps a well-known domain sentinel to its HTTP shape,
// falling back to Internal for anything unrecognized.
func FromDomain(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, domain.ErrItemNotFound), errors.Is(err, domain.ErrSnapshotNotFound):
		return NotFound(err.Error(), err)
	case errors.Is(err, domain.ErrItemInvalid), errors.Is(err, domain.ErrBankEmpty),
		errors.Is(err, domain.ErrLearnerIDInvalid), errors.Is(err, domain.ErrBlueprintMissing),
		errors.Is(err, domain.ErrNoEligibleCandidates), errors.Is(err, domain.ErrNoEligibleArms),
		errors.Is(err, domain.ErrSchemaVersionMismatch), errors.Is(err, domain.ErrPayloadMalformed):
		return BadRequest(err.Error(), err)
	case errors.Is(err, domain.ErrLearnerIDMismatch):
		return newErr(KindInvalid, http.StatusForbidden, err.Error(), err)
	case errors.Is(err, domain.ErrUnauthorized):
		return Unauthorized(err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		return RateLimited(err.Error(), 0)
	case errors.Is(err, domain.ErrPayloadTooLarge):
		return TooLarge(err.Error())
	default:
		var deficit *domain.BlueprintDeficit
		if errors.As(err, &deficit) {
			return Conflict(deficit.Error(), deficit)
		}
		return Internal(err)
	}
}
