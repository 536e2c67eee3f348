package billing

import (
	"errors"
	"strings"
)

var (
	// ErrSubscriptionNotFound is returned when a subscription id is unknown.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrUserNotFound is returned when a user id is unknown.
	ErrUserNotFound = errors.New("user not found")
)

// ValidationError lists every input field that was missing or invalid.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, ", ")
}

func invalid(fields ...string) error {
	return &ValidationError{Fields: fields}
}
