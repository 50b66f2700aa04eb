// Package ledger implements per-user balances and the transactions that
// mutate them: atomic units of work over a relational store, a guarded
// status lifecycle (pending -> success | failed, success -> refunded), and
// idempotent processing of re-delivered external payment events.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eventra/backend/internal/models"
)

// Observer receives one event per mutating operation, tagged with the
// operation name and resulting status. Emission must never influence the
// transaction outcome; implementations are expected not to fail.
type Observer interface {
	ObserveOperation(op, status string, elapsed time.Duration)
}

// EventPublisher receives finalized transactions after commit. Errors are
// logged and swallowed by the facade.
type EventPublisher interface {
	PublishTransaction(ctx context.Context, txn *models.Transaction) error
}

// Config tunes the facade. Zero values fall back to defaults; the optional
// collaborators (cache, observer, publisher) may be nil.
type Config struct {
	OperationTimeout time.Duration
	Retry            RetryPolicy
	CacheTTL         time.Duration

	Cache     *redis.Client
	Observer  Observer
	Publisher EventPublisher
	Logger    *logrus.Logger
}

// Ledger is the public surface of the subsystem. All mutating operations run
// inside one unit of work spanning idempotency reservation, pending
// transaction row, balance mutation, and final status transition.
type Ledger struct {
	store     Store
	cache     *redis.Client
	observer  Observer
	publisher EventPublisher
	log       *logrus.Entry

	opTimeout time.Duration
	retry     RetryPolicy
	cacheTTL  time.Duration

	mu          sync.RWMutex
	quarantined map[uuid.UUID]struct{}
}

// New builds a ledger facade over the given store.
func New(store Store, cfg Config) *Ledger {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Ledger{
		store:       store,
		cache:       cfg.Cache,
		observer:    cfg.Observer,
		publisher:   cfg.Publisher,
		log:         logger.WithField("component", "ledger"),
		opTimeout:   cfg.OperationTimeout,
		retry:       cfg.Retry.normalized(),
		cacheTTL:    cfg.CacheTTL,
		quarantined: make(map[uuid.UUID]struct{}),
	}
}

// Deposit credits the user's balance. reference, when non-empty, is the
// idempotency key together with method: a replayed reference returns the
// prior transaction without touching the balance again.
func (l *Ledger) Deposit(ctx context.Context, userID uuid.UUID, amount int64, method, reference, description string) (*models.Transaction, error) {
	return l.mutate(ctx, "deposit", models.KindDeposit, userID, nil, amount, method, reference, description)
}

// Charge debits the user's balance, failing with ErrInsufficientFunds when
// the balance would cross the zero floor. ticketID optionally links the
// charge to a ticket purchase.
func (l *Ledger) Charge(ctx context.Context, userID uuid.UUID, ticketID *uuid.UUID, amount int64, method, reference, description string) (*models.Transaction, error) {
	return l.mutate(ctx, "charge", models.KindCharge, userID, ticketID, amount, method, reference, description)
}

// Refund reverses a successful transaction: the original row transitions
// success -> refunded and the sign-inverted delta is applied in the same
// unit of work. Refunding anything but a success returns ErrInvalidTransition
// with the balance untouched.
func (l *Ledger) Refund(ctx context.Context, transactionID uuid.UUID) (*models.Transaction, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	var refunded *models.Transaction
	var userID uuid.UUID
	err := withRetry(ctx, l.retry, func() error {
		refunded = nil
		return l.store.WithinTx(ctx, func(uow UnitOfWork) error {
			orig, err := uow.FindTransaction(ctx, transactionID)
			if err != nil {
				return err
			}
			userID = orig.UserID
			if orig.Status != models.StatusSuccess {
				return fmt.Errorf("%w: cannot refund a %s transaction", ErrInvalidTransition, orig.Status)
			}
			if l.isQuarantined(orig.UserID) {
				return fmt.Errorf("%w: user %s is quarantined", ErrInconsistent, orig.UserID)
			}
			if _, err := uow.ApplyDelta(ctx, orig.UserID, -orig.Kind.SignedDelta(orig.Amount)); err != nil {
				return err
			}
			refunded, err = uow.TransitionStatus(ctx, orig.ID, models.StatusSuccess, models.StatusRefunded)
			return err
		})
	})
	err = l.normalizeErr(err)

	l.finishMutation(ctx, "refund", userID, refunded, false, err, start)
	if err != nil {
		return nil, err
	}
	return refunded, nil
}

// GetBalance returns the user's current amount; zero for users that never
// transacted.
func (l *Ledger) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	amount, err := l.store.Balance(ctx, userID)
	if err != nil {
		return 0, l.normalizeErr(err)
	}
	if amount < 0 {
		l.quarantine(userID, amount)
		return 0, fmt.Errorf("%w: user %s holds negative balance %d", ErrInconsistent, userID, amount)
	}
	return amount, nil
}

// GetTransaction loads one transaction.
func (l *Ledger) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	txn, err := l.store.Transaction(ctx, id)
	return txn, l.normalizeErr(err)
}

// ListTransactions pages through a user's transactions, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, userID uuid.UUID, page Page, status *models.TransactionStatus) ([]models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	txns, err := l.store.TransactionsByUser(ctx, userID, page, status)
	return txns, l.normalizeErr(err)
}

func (l *Ledger) mutate(ctx context.Context, op string, kind models.TransactionKind, userID uuid.UUID, ticketID *uuid.UUID, amount int64, method, reference, description string) (*models.Transaction, error) {
	start := time.Now()

	if amount <= 0 {
		l.observe(op, "rejected", start)
		return nil, ErrInvalidAmount
	}
	if l.isQuarantined(userID) {
		l.observe(op, "quarantined", start)
		return nil, fmt.Errorf("%w: user %s is quarantined", ErrInconsistent, userID)
	}

	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	if prior, ok := l.cachedTransaction(ctx, method, reference); ok {
		l.observe(op, "duplicate", start)
		return prior, nil
	}

	var txn *models.Transaction
	var duplicate bool
	var bizErr error
	err := withRetry(ctx, l.retry, func() error {
		txn, duplicate, bizErr = nil, false, nil
		return l.store.WithinTx(ctx, func(uow UnitOfWork) error {
			draft := models.NewTransaction(userID, ticketID, kind, amount, description, method, reference)

			if err := uow.InsertTransaction(ctx, draft); err != nil {
				var dup *DuplicateReferenceError
				if errors.As(err, &dup) {
					prior, findErr := uow.FindTransaction(ctx, dup.TransactionID)
					if findErr != nil {
						return findErr
					}
					txn = prior
					duplicate = true
					return nil
				}
				return err
			}

			_, err := uow.ApplyDelta(ctx, userID, kind.SignedDelta(amount))
			if errors.Is(err, ErrInsufficientFunds) {
				// The rejected attempt is a recorded outcome, not a rollback.
				failed, terr := uow.TransitionStatus(ctx, draft.ID, models.StatusPending, models.StatusFailed)
				if terr != nil {
					return terr
				}
				txn = failed
				bizErr = ErrInsufficientFunds
				return nil
			}
			if err != nil {
				return err
			}

			txn, err = uow.TransitionStatus(ctx, draft.ID, models.StatusPending, models.StatusSuccess)
			return err
		})
	})
	if err == nil {
		err = bizErr
	}
	err = l.normalizeErr(err)

	l.finishMutation(ctx, op, userID, txn, duplicate, err, start)

	if duplicate {
		// Replayed external event: resolve transparently to the prior
		// transaction, whatever its outcome was.
		return txn, nil
	}
	if err != nil && !errors.Is(err, ErrInsufficientFunds) {
		return nil, err
	}
	return txn, err
}

// finishMutation emits observability events, publishes the finalized
// transaction, writes the idempotency cache, and escalates invariant
// violations. None of it can change the operation outcome.
func (l *Ledger) finishMutation(ctx context.Context, op string, userID uuid.UUID, txn *models.Transaction, duplicate bool, err error, start time.Time) {
	switch {
	case errors.Is(err, ErrInconsistent):
		l.quarantine(userID, 0)
		l.observe(op, "inconsistent", start)
	case duplicate:
		l.observe(op, "duplicate", start)
	case err != nil && !errors.Is(err, ErrInsufficientFunds):
		l.observe(op, "error", start)
	case txn != nil:
		l.observe(op, string(txn.Status), start)
	default:
		l.observe(op, "error", start)
	}

	if txn == nil || duplicate {
		return
	}
	committed := err == nil || errors.Is(err, ErrInsufficientFunds)
	if !committed {
		return
	}

	if l.publisher != nil {
		if pubErr := l.publisher.PublishTransaction(ctx, txn); pubErr != nil {
			l.log.WithError(pubErr).WithField("transaction_id", txn.ID).
				Warn("transaction event publish failed")
		}
	}
	if ref := txn.Reference(); ref != "" {
		l.cacheReference(ctx, txn.PaymentMethod, ref, txn.ID)
	}
}

func (l *Ledger) observe(op, status string, start time.Time) {
	if l.observer == nil {
		return
	}
	l.observer.ObserveOperation(op, status, time.Since(start))
}

// normalizeErr maps deadline expiry onto the retryable taxonomy and wraps
// residual transient store failures.
func (l *Ledger) normalizeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if retryablePgError(err) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

// cachedTransaction consults the Redis fast path for a processed reference.
// The cache is advisory only; the unique index in the store stays
// authoritative, so cache misses and cache failures just fall through.
func (l *Ledger) cachedTransaction(ctx context.Context, method, reference string) (*models.Transaction, bool) {
	if l.cache == nil || reference == "" {
		return nil, false
	}
	raw, err := l.cache.Get(ctx, idempotencyCacheKey(method, reference)).Result()
	if err != nil {
		if err != redis.Nil {
			l.log.WithError(err).Debug("idempotency cache read failed")
		}
		return nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, false
	}
	txn, err := l.store.Transaction(ctx, id)
	if err != nil {
		return nil, false
	}
	return txn, true
}

func (l *Ledger) cacheReference(ctx context.Context, method, reference string, id uuid.UUID) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Set(ctx, idempotencyCacheKey(method, reference), id.String(), l.cacheTTL).Err(); err != nil {
		l.log.WithError(err).Debug("idempotency cache write failed")
	}
}

func idempotencyCacheKey(method, reference string) string {
	return "ledger:idem:" + method + ":" + reference
}

func (l *Ledger) isQuarantined(userID uuid.UUID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.quarantined[userID]
	return ok
}

// quarantine blocks further writes for a user after an invariant violation.
// Never cleared automatically: an operator must repair the balance first.
func (l *Ledger) quarantine(userID uuid.UUID, observed int64) {
	l.mu.Lock()
	_, already := l.quarantined[userID]
	l.quarantined[userID] = struct{}{}
	l.mu.Unlock()

	if !already {
		l.log.WithFields(logrus.Fields{
			"user_id":  userID,
			"observed": observed,
		}).Error("balance invariant violated, quarantining user")
	}
}
