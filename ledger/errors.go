/*
errors.go - Centralized error types for the ledger core

ERROR CATEGORIES:
  1. Validation errors - precondition violations (bad amount, missing date)
  2. Business rejections - payment exceeds outstanding balance
  3. Concurrency errors - serialization conflicts, safe to retry
  4. Lookup errors - missing or foreign records

USAGE:
    var over *ledger.OverpaymentError
    if errors.As(err, &over) {
        // show over.MaxAllowed to the user
    }
    if ledger.IsRetryable(err) {
        // re-run the whole read-validate-write sequence
    }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is wrapped by every ValidationError.
	ErrValidation = errors.New("ledger: validation failed")

	// ErrPaymentExceedsOutstanding is wrapped by OverpaymentError.
	ErrPaymentExceedsOutstanding = errors.New("ledger: payment exceeds outstanding balance")

	// ErrConcurrentModification is returned when the store could not serialize
	// a payment against other writes for the same customer.
	ErrConcurrentModification = errors.New("ledger: concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when a payment with the same
	// idempotency key was already recorded.
	ErrDuplicateIdempotencyKey = errors.New("ledger: duplicate idempotency key")

	ErrOwnerNotFound    = errors.New("ledger: owner not found")
	ErrCustomerNotFound = errors.New("ledger: customer not found")
	ErrEntryNotFound    = errors.New("ledger: entry not found")

	// ErrNotAuthorized is returned when a record belongs to another owner.
	ErrNotAuthorized = errors.New("ledger: not authorized")

	// ErrEmailTaken is returned when registering an owner twice.
	ErrEmailTaken = errors.New("ledger: email already registered")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError is a precondition violation on one input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// OverpaymentError is a rejected payment. MaxAllowed is the most the
// customer could pay right now.
type OverpaymentError struct {
	CustomerID CustomerID
	Proposed   Money
	MaxAllowed Money
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment amount %s exceeds outstanding balance %s; customer can pay at most %s",
		e.Proposed, e.MaxAllowed, e.MaxAllowed)
}

func (e *OverpaymentError) Unwrap() error { return ErrPaymentExceedsOutstanding }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the whole operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrPaymentExceedsOutstanding) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrEmailTaken)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOwnerNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrEntryNotFound)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
