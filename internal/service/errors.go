// Package service provides business logic for the messaging service.
package service

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input. Not retryable.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound covers both a missing conversation and one the
	// caller is not a participant of; the two are deliberately
	// indistinguishable so existence does not leak.
	ErrNotFound = errors.New("conversation not found")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
