package reminder

import (
	"errors"

	"l9alerts/internal/event"
)

// ValidationError rejects an edit; nothing changes.
type ValidationError = event.ValidationError

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = event.ErrInvalid

	ErrNotFound = errors.New("event not found")

	// ErrNotConfigured means no destination is set; the job stays armed and
	// the dispatch is skipped.
	ErrNotConfigured = errors.New("reminder channel not configured")
)
