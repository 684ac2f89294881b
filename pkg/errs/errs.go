// Package errs defines the typed error taxonomy returned by the ledger core.
// The API layer maps these to transport-level responses; the core never
// returns untyped failures for user-actionable conditions.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds is a precondition failure: the operation was
	// rejected before any mutation took place.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNotFound covers a missing record, a record not owned by the
	// caller, or a record not in the required state (already closed,
	// already cancelled).
	ErrNotFound = errors.New("not found")

	// ErrConflict is a concurrent-mutation conflict on a wallet row. It is
	// retryable: engines retry the whole logical operation a bounded number
	// of times before surfacing it.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrPersistence means the underlying storage failed. Any partial work
	// has been rolled back.
	ErrPersistence = errors.New("persistence failure")
)

// ValidationError reports malformed input on a named field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError for the given field.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsRetryable reports whether the operation may be retried as a whole.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
