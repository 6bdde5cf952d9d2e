/*
errors.go - Error types shared by the ledger, scheduler, stores and API

ERROR CATEGORIES:
  1. Not found   - referenced account/transaction/schedule is missing
  2. Validation  - input the engine refuses to persist
  3. Concurrency - a store detected a conflicting writer

  Expected absences inside the engine (a missing account leg, an unknown
  frequency) are NOT errors; they are reported through result values.

USAGE:
  if errors.Is(err, finance.ErrAccountNotFound) { ... }
  if finance.IsClientError(err) { // 400 }
*/
package finance

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrScheduleNotFound    = errors.New("schedule not found")

	// ErrInvalidTransaction wraps transaction validation failures.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrInvalidSchedule wraps schedule validation failures.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrConcurrentModification is returned when a row changed under us
	// (lost lock, serialization failure). Safe to retry the whole write.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
	Kind   error // ErrInvalidTransaction or ErrInvalidSchedule
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s %s", e.Kind, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrScheduleNotFound)
}

func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransaction) ||
		errors.Is(err, ErrInvalidSchedule)
}

func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
