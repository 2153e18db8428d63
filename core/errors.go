package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced user, room or message does
	// not exist. Surfaced to the caller, never retried.
	ErrNotFound = errors.New("not found")

	// ErrRoomExists is returned by CreateRoom when a concurrent create for
	// the same participant pair already committed. Callers recover by
	// re-running the find; it never reaches a client.
	ErrRoomExists = errors.New("room already exists for participants")

	// ErrUsernameTaken is returned by CreateUser on a duplicate username.
	ErrUsernameTaken = errors.New("username already taken")
)

// ValidationError marks a malformed or incomplete payload, rejected at the
// boundary before any state is mutated.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing or invalid field %q", e.Field)
}

// Invalid builds a ValidationError for the named field.
func Invalid(field string) error {
	return &ValidationError{Field: field}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
