package apperr

import "errors"

// Error taxonomy shared by the pipeline, the live channel and the REST API.
// Callers wrap these with fmt.Errorf("...: %w", ...) and match with errors.Is.
var (
	// ErrNotFound indicates an unknown sensor or leak event id.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized indicates a privileged action without an authenticated actor.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation indicates a malformed payload.
	ErrValidation = errors.New("validation failed")
	// ErrTransientIO indicates a persistence or socket failure.
	ErrTransientIO = errors.New("transient io failure")
	// ErrConflict indicates a sensor already has a pending leak event.
	ErrConflict = errors.New("conflict")
)
