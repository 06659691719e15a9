// Package service implements the daemon's entity services: CRUD plus
// custom verbs, ownership checks, and publish-after-commit events.
package service

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/agor-sh/agor/internal/store/repository"
)

// Kind is a stable, UI-translatable error identifier.
type Kind string

const (
	KindNotFound   Kind = "NotFound"
	KindConflict   Kind = "Conflict"
	KindValidation Kind = "Validation"
	KindAuth       Kind = "Auth"
	KindForbidden  Kind = "Forbidden"
	KindTransient  Kind = "Transient"
	KindCancelled  Kind = "Cancelled"
	KindOrphaned   Kind = "Orphaned"
	KindInternal   Kind = "Internal"
)

// Error is a domain error carrying a stable kind. Details are optional
// structured context safe to show to the user.
type Error struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// NewError builds a domain error of the given kind.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind to an underlying error.
func WrapError(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

// FromRepository translates repository sentinels into domain errors.
// Anything unrecognized becomes Internal.
func FromRepository(err error) error {
	if err == nil {
		return nil
	}
	var domain *Error
	if errors.As(err, &domain) {
		return domain
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return WrapError(KindNotFound, err, "entity not found")
	case errors.Is(err, repository.ErrSessionBusy):
		return WrapError(KindConflict, err, "session has a running task")
	case errors.Is(err, repository.ErrConflict):
		return WrapError(KindConflict, err, "conflicting state")
	case errors.Is(err, repository.ErrValidation):
		return WrapError(KindValidation, err, err.Error())
	default:
		return WrapError(KindInternal, err, "internal error")
	}
}

// KindOf extracts the kind from an error chain, defaulting to Internal.
func KindOf(err error) Kind {
	var domain *Error
	if errors.As(err, &domain) {
		return domain.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindCancelled:
		return 499 // client closed request
	case KindOrphaned:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
