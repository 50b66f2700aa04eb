package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/eventra/backend/internal/models"
)

// Page bounds a transaction listing.
type Page struct {
	Limit  int
	Offset int
}

// DefaultPageLimit caps unbounded listings.
const DefaultPageLimit = 50

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = DefaultPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// UnitOfWork is the atomic group of store operations a mutating ledger call
// runs inside. Everything either commits together or rolls back together,
// including the idempotency reservation made by InsertTransaction.
type UnitOfWork interface {
	// InsertTransaction persists a pending transaction row. The row doubles
	// as the idempotency reservation: if the (payment_method,
	// external_reference) pair is already taken, a *DuplicateReferenceError
	// carrying the prior transaction id is returned and nothing is written.
	// The status of the draft is forced to pending.
	InsertTransaction(ctx context.Context, txn *models.Transaction) error

	// ApplyDelta atomically adjusts the user's balance, creating the row
	// lazily at zero. It serializes against concurrent callers for the same
	// user, returns ErrInsufficientFunds when the delta would cross the
	// zero floor, ErrInconsistent when a negative stored amount is
	// observed, and refreshes updated_at on success.
	ApplyDelta(ctx context.Context, userID uuid.UUID, delta int64) (int64, error)

	// TransitionStatus compare-and-sets the stored status from -> to.
	// Illegal transitions and lost races return ErrInvalidTransition with
	// no side effects; unknown ids return ErrNotFound.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.TransactionStatus) (*models.Transaction, error)

	// FindTransaction loads a transaction by id, ErrNotFound if absent.
	FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
}

// Store is the durable backing of the ledger. The Postgres implementation is
// authoritative in production; the memory implementation backs tests.
type Store interface {
	// WithinTx runs fn inside one unit of work. An error from fn rolls
	// everything back, including idempotency reservations.
	WithinTx(ctx context.Context, fn func(uow UnitOfWork) error) error

	// Balance returns the user's current amount; zero for unknown users.
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)

	// Transaction loads a transaction outside any unit of work.
	Transaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)

	// TransactionsByUser lists the user's transactions newest first,
	// optionally filtered by status.
	TransactionsByUser(ctx context.Context, userID uuid.UUID, page Page, status *models.TransactionStatus) ([]models.Transaction, error)
}
