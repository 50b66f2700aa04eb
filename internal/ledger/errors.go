package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrInsufficientFunds is the business-rule failure: the debit would
	// take the balance below zero. Surfaced to the caller, never retried.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidTransition is returned when a status change is not in the
	// transition table, or lost a compare-and-set race.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotFound is returned for unknown transaction ids.
	ErrNotFound = errors.New("transaction not found")

	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInconsistent signals an observed invariant violation (negative
	// stored balance). Writes for the affected user are refused until an
	// operator intervenes.
	ErrInconsistent = errors.New("ledger inconsistent")

	// ErrStoreUnavailable wraps transient store failures that survived the
	// bounded retry. Safe to retry under the same idempotency key.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// DuplicateReferenceError is returned by UnitOfWork.InsertTransaction when
// the (payment_method, external_reference) pair is already reserved. It is
// the AlreadyExists signal of the idempotency guard, not a caller-visible
// failure: the facade resolves it to the prior transaction.
type DuplicateReferenceError struct {
	TransactionID uuid.UUID
}

func (e *DuplicateReferenceError) Error() string {
	return fmt.Sprintf("external reference already processed by transaction %s", e.TransactionID)
}
