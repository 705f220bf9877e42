package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned for an unknown email and for a wrong
	// password alike.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrDuplicateEmail is returned when registering an email that is already taken.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrUserNotFound is returned when a token refers to a user that no longer exists.
	ErrUserNotFound = errors.New("user not found")
	// ErrNotFound is returned for todos that do not exist or belong to someone else.
	ErrNotFound = errors.New("todo not found")
	// ErrStorageDisabled is returned by exports when no bucket is configured.
	ErrStorageDisabled = errors.New("export storage not configured")
)

// ValidationError reports bad input for a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
