package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMessageNotFound is returned by message lookups for unknown ids.
	ErrMessageNotFound = errors.New("message not found")

	// ErrUserNotFound is returned by user lookups for unknown ids.
	ErrUserNotFound = errors.New("user not found")
)

// ValidationError rejects a request before any state is mutated
// (unknown sender/recipient, malformed body, bad delay value).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
