package repository

import "errors"

// Sentinel errors returned by repositories. The service layer maps them
// to stable error kinds.
var (
	// ErrNotFound indicates the entity id does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict indicates a uniqueness or state-machine violation.
	ErrConflict = errors.New("conflict")

	// ErrSessionBusy indicates the session already has a running task.
	ErrSessionBusy = errors.New("session busy")

	// ErrValidation indicates the input shape or a semantic rule failed.
	ErrValidation = errors.New("validation failed")
)
