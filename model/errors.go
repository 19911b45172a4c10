package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAuth             = errors.New("unauthorized")
	ErrSignature        = errors.New("invalid signature")
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrConfig           = errors.New("configuration error")
	ErrTransientNetwork = errors.New("transient network error")
	ErrInternal         = errors.New("internal error")
	ErrOwnerMismatch    = errors.New("owner mismatch")
)

// FieldError describes a validation failure of a single field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists field level failures. It unwraps to ErrValidation.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, f := range e.Errors {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return "validation: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func (e *ValidationError) add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Field: field, Message: message}}}
}
