package models

import (
	"errors"
	"fmt"
)

// ErrNoCredential is returned when no persisted OAuth token exists yet.
var ErrNoCredential = errors.New("no stored credential")

// AuthError reports a failure to obtain or refresh the calendar credential.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ValidationError reports user input that could not be accepted.
type ValidationError struct {
	Field    string
	Value    string
	Expected string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Expected)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Expected)
}

// ProviderError reports a failed call to the calendar provider.
// Status is the HTTP status code when the provider answered, zero otherwise.
type ProviderError struct {
	Op     string
	Status int
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider: %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("provider: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// PermissionError reports an invoker that is not allowed to run a command.
type PermissionError struct {
	UserID  string
	Command string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s is not permitted to run %s", e.UserID, e.Command)
}
