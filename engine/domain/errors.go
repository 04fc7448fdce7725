package domain

import (
	"errors"
	"fmt"
)

// ErrMissingField marks a required request field that is absent or empty.
var ErrMissingField = errors.New("missing field")

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Wrapped, e.Field)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Wrapped: wrapped}
}

// IsMissingField reports whether err is (or wraps) ErrMissingField.
func IsMissingField(err error) bool {
	return errors.Is(err, ErrMissingField)
}
