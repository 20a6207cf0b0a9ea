// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates malformed caller input. Never retried.
var ErrValidation = errors.New("validation error")

// ErrUnknownCard indicates an event references a card with no prior created event.
var ErrUnknownCard = errors.New("unknown card")

// ErrStorage indicates a persistence layer failure. Callers retry with backoff.
var ErrStorage = errors.New("storage error")

// ErrRecomputeTimeout indicates a snapshot recomputation exceeded its deadline.
// The trigger may be retried.
var ErrRecomputeTimeout = errors.New("snapshot recomputation timed out")

// Validationf returns an error wrapping ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
