package services

import (
	"errors"
	"strings"
)

var (
	// ErrUnsupportedSource is returned when no adapter handles a source.
	ErrUnsupportedSource = errors.New("unsupported signal source")
	// ErrInvalidPayload is returned for empty or non-object payloads.
	ErrInvalidPayload = errors.New("invalid signal payload")
	// ErrNotFound hides both missing and foreign rows where existence must
	// not leak.
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied is returned when the caller may not act on a row.
	ErrAccessDenied = errors.New("access denied")
	// ErrForbidden is returned when the caller carries no tenant.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict is returned when a state transition is no longer allowed.
	ErrConflict = errors.New("conflict")
	// ErrEngine wraps workflow engine failures during triggering.
	ErrEngine = errors.New("workflow engine failure")
)

// ValidationError lists every invalid field of an input.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

// violations collects field problems; err returns nil when there are none.
type violations []string

func (v *violations) add(msg string) { *v = append(*v, msg) }

func (v violations) err() error {
	if len(v) == 0 {
		return nil
	}
	return &ValidationError{Violations: v}
}
