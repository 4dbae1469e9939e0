package models

import "errors"

// Engine error taxonomy. Callers classify with errors.Is; every error
// returned by the engine wraps exactly one of these.
var (
	// ErrInvalidInput marks missing or malformed fields. Never reaches storage.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates the referenced session or entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the caller is not a participant of the session.
	ErrForbidden = errors.New("forbidden")

	// ErrGone indicates the session has expired or was ended.
	ErrGone = errors.New("session gone")

	// ErrRejected indicates the safety filter or the length limit refused the content.
	ErrRejected = errors.New("content rejected")

	// ErrConflict indicates an atomic claim or session creation lost a race.
	ErrConflict = errors.New("conflict")

	// ErrTransient indicates a storage timeout or failure; safe to retry.
	ErrTransient = errors.New("temporarily unavailable")

	// ErrUnauthorized indicates a maintenance call without a valid credential.
	ErrUnauthorized = errors.New("unauthorized")
)
