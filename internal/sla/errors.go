package sla

import (
	"errors"
	"fmt"
)

const (
	CodeValidation = "VALIDATION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeTransient  = "STORAGE_UNAVAILABLE"
	CodeInvariant  = "INVARIANT_VIOLATION"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrTransientStorage = errors.New("storage unavailable")
	ErrNoActivePolicy   = fmt.Errorf("No active SLA policy for service: %w", ErrNotFound)
)

// ValidationError rejects malformed caller input. Message is user-facing and
// stable; it is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// InvariantError marks input that should never have reached the engine, such
// as an incident that ends before it starts.
type InvariantError struct {
	Entity  string
	ID      string
	Message string
}

func (e *InvariantError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s invariant violated: %s", e.Entity, e.Message)
	}
	return fmt.Sprintf("%s %s invariant violated: %s", e.Entity, e.ID, e.Message)
}

// NotFoundMessage strips the wrapped sentinel so callers can surface the
// outer text only.
func NotFoundMessage(err error) string {
	if errors.Is(err, ErrNoActivePolicy) {
		return "No active SLA policy for service"
	}
	return "not found"
}

// Code classifies err into one of the stable error codes.
func Code(err error) string {
	var validation *ValidationError
	var invariant *InvariantError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrTransientStorage):
		return CodeTransient
	case errors.As(err, &invariant):
		return CodeInvariant
	default:
		return "INTERNAL"
	}
}
