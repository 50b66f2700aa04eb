package models

import (
	"time"

	"github.com/google/uuid"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending  TransactionStatus = "pending"
	StatusSuccess  TransactionStatus = "success"
	StatusFailed   TransactionStatus = "failed"
	StatusRefunded TransactionStatus = "refunded"
)

// legalTransitions is the complete transition table. Anything not listed
// here is rejected without side effects.
var legalTransitions = map[TransactionStatus][]TransactionStatus{
	StatusPending: {StatusSuccess, StatusFailed},
	StatusSuccess: {StatusRefunded},
}

// Valid reports whether s is one of the known statuses.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// CanTransition reports whether the transition s -> to is legal.
func (s TransactionStatus) CanTransition(to TransactionStatus) bool {
	for _, next := range legalTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
// A success transaction is not terminal: it may still be refunded.
func (s TransactionStatus) Terminal() bool {
	return len(legalTransitions[s]) == 0
}

// TransactionKind records the direction of a balance mutation. Amounts are
// always stored positive; the kind carries the sign.
type TransactionKind string

const (
	KindDeposit TransactionKind = "deposit"
	KindCharge  TransactionKind = "charge"
)

// Valid reports whether k is a known kind.
func (k TransactionKind) Valid() bool {
	return k == KindDeposit || k == KindCharge
}

// SignedDelta returns the balance delta a transaction of this kind applies.
func (k TransactionKind) SignedDelta(amount int64) int64 {
	if k == KindCharge {
		return -amount
	}
	return amount
}

// Transaction is one attempted balance mutation and its outcome. Rows are
// immutable once finalized, except for the success -> refunded transition.
type Transaction struct {
	ID                uuid.UUID         `json:"id" db:"id"`
	UserID            uuid.UUID         `json:"user_id" db:"user_id"`
	TicketID          *uuid.UUID        `json:"ticket_id,omitempty" db:"ticket_id"`
	Kind              TransactionKind   `json:"kind" db:"kind"`
	Amount            int64             `json:"amount" db:"amount"`
	Status            TransactionStatus `json:"status" db:"status"`
	Description       string            `json:"description" db:"description"`
	PaymentMethod     string            `json:"payment_method" db:"payment_method"`
	ExternalReference *string           `json:"external_reference,omitempty" db:"external_reference"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" db:"updated_at"`
}

// NewTransaction builds a pending transaction draft. reference may be empty
// for internally originated mutations that carry no external event.
func NewTransaction(userID uuid.UUID, ticketID *uuid.UUID, kind TransactionKind, amount int64, description, paymentMethod, reference string) *Transaction {
	now := time.Now().UTC()
	t := &Transaction{
		ID:            uuid.New(),
		UserID:        userID,
		TicketID:      ticketID,
		Kind:          kind,
		Amount:        amount,
		Status:        StatusPending,
		Description:   description,
		PaymentMethod: paymentMethod,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if reference != "" {
		t.ExternalReference = &reference
	}
	return t
}

// Reference returns the external reference or "".
func (t *Transaction) Reference() string {
	if t.ExternalReference == nil {
		return ""
	}
	return *t.ExternalReference
}

// Finalized reports whether the transaction reached an outcome.
func (t *Transaction) Finalized() bool {
	return t.Status != StatusPending
}
