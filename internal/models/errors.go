package models

import (
	"errors"
	"sort"
	"strings"
)

// ErrUnauthorized marks a requester who lacks permission for the target
// entity or action. Distinct from a not-found outcome.
var ErrUnauthorized = errors.New("unauthorized")

// ValidationError rejects a write with field-level messages. Recoverable by
// the caller.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add records a message for a field and returns the error for chaining.
func (e *ValidationError) Add(field, message string) *ValidationError {
	e.Fields[field] = message
	return e
}

// Empty reports whether any field message was recorded.
func (e *ValidationError) Empty() bool { return len(e.Fields) == 0 }

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	sort.Strings(parts)
	return "validation failed: " + strings.Join(parts, "; ")
}
