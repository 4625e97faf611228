package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a session does not exist or is not
	// owned by the caller. The two cases are deliberately not
	// distinguished so that existence of other users' sessions never
	// leaks.
	ErrNotFound = errors.New("session not found")

	// ErrConflict is returned when creating a session whose id already
	// exists.
	ErrConflict = errors.New("session already exists")
)

// ValidationError carries a human-readable message plus the diagnostic
// detail that caused it (compiler output, mismatching values, ...).
type ValidationError struct {
	Message string
	Detail  string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// Validationf builds a ValidationError with a formatted message.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches diagnostic detail and returns the error.
func (e *ValidationError) WithDetail(format string, args ...any) *ValidationError {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// UnsupportedError marks a feature-level limitation, e.g. a sample
// width the codec does not handle. It surfaces to callers exactly like
// a validation failure.
type UnsupportedError struct {
	Message string
}

func (e *UnsupportedError) Error() string { return e.Message }

// Unsupportedf builds an UnsupportedError with a formatted message.
func Unsupportedf(format string, args ...any) *UnsupportedError {
	return &UnsupportedError{Message: fmt.Sprintf(format, args...)}
}

// IsBadRequest reports whether err belongs to the validation side of
// the taxonomy (ValidationError or UnsupportedError).
func IsBadRequest(err error) bool {
	var verr *ValidationError
	var uerr *UnsupportedError
	return errors.As(err, &verr) || errors.As(err, &uerr)
}
