package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eventra/backend/internal/models"
)

// MemoryStore implements Store on process memory. It upholds the same
// guarantees as the Postgres store — per-user serialization, atomic units of
// work, reservation rollback — using per-user mutexes and staged commits, so
// the facade can be exercised under real goroutine concurrency without a
// database.
type MemoryStore struct {
	mu        sync.Mutex
	balances  map[uuid.UUID]models.Balance
	txns      map[uuid.UUID]models.Transaction
	txnSeq    map[uuid.UUID]int64
	byRef     map[refKey]*refReservation
	userLocks map[uuid.UUID]*sync.Mutex
	seq       int64
}

type refKey struct {
	method    string
	reference string
}

// refReservation marks a (payment_method, external_reference) pair as taken.
// An uncommitted reservation blocks later claimants until its unit of work
// resolves, mirroring how a unique-index insert blocks in the database.
type refReservation struct {
	txnID     uuid.UUID
	done      chan struct{}
	committed bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:  make(map[uuid.UUID]models.Balance),
		txns:      make(map[uuid.UUID]models.Transaction),
		txnSeq:    make(map[uuid.UUID]int64),
		byRef:     make(map[refKey]*refReservation),
		userLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *MemoryStore) userLock(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.userLocks[id]
	if !ok {
		m = &sync.Mutex{}
		s.userLocks[id] = m
	}
	return m
}

// WithinTx runs fn against staged state, committing atomically on success and
// discarding everything (reservations included) on error.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(uow UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	uow := &memUnitOfWork{
		store:          s,
		stagedBalances: make(map[uuid.UUID]models.Balance),
		stagedTxns:     make(map[uuid.UUID]models.Transaction),
	}

	if err := fn(uow); err != nil {
		uow.rollback()
		return err
	}
	uow.commit()
	return nil
}

// Balance reads the committed amount; unknown users read as zero.
func (s *MemoryStore) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bal, ok := s.balances[userID]; ok {
		return bal.Amount, nil
	}
	return 0, nil
}

// Transaction loads a committed transaction by id.
func (s *MemoryStore) Transaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.txns[id]; ok {
		cp := t
		return &cp, nil
	}
	return nil, ErrNotFound
}

// TransactionsByUser lists committed transactions newest first.
func (s *MemoryStore) TransactionsByUser(ctx context.Context, userID uuid.UUID, page Page, status *models.TransactionStatus) ([]models.Transaction, error) {
	page = page.Normalize()

	type seqTxn struct {
		txn models.Transaction
		seq int64
	}

	s.mu.Lock()
	matched := make([]seqTxn, 0)
	for id, t := range s.txns {
		if t.UserID != userID {
			continue
		}
		if status != nil && t.Status != *status {
			continue
		}
		matched = append(matched, seqTxn{txn: t, seq: s.txnSeq[id]})
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].seq > matched[j].seq })

	if page.Offset >= len(matched) {
		return []models.Transaction{}, nil
	}
	matched = matched[page.Offset:]
	if len(matched) > page.Limit {
		matched = matched[:page.Limit]
	}
	out := make([]models.Transaction, 0, len(matched))
	for _, m := range matched {
		out = append(out, m.txn)
	}
	return out, nil
}

type memUnitOfWork struct {
	store          *MemoryStore
	stagedBalances map[uuid.UUID]models.Balance
	stagedTxns     map[uuid.UUID]models.Transaction
	stagedOrder    []uuid.UUID
	reservations   []refKey
	lockedUsers    []uuid.UUID
}

func (u *memUnitOfWork) lockUser(id uuid.UUID) {
	for _, held := range u.lockedUsers {
		if held == id {
			return
		}
	}
	u.store.userLock(id).Lock()
	u.lockedUsers = append(u.lockedUsers, id)
}

func (u *memUnitOfWork) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	txn.Status = models.StatusPending

	if ref := txn.Reference(); ref != "" {
		key := refKey{method: txn.PaymentMethod, reference: ref}
		for {
			u.store.mu.Lock()
			res, ok := u.store.byRef[key]
			if !ok {
				u.store.byRef[key] = &refReservation{txnID: txn.ID, done: make(chan struct{})}
				u.reservations = append(u.reservations, key)
				u.store.mu.Unlock()
				break
			}
			if res.committed {
				prior := res.txnID
				u.store.mu.Unlock()
				return &DuplicateReferenceError{TransactionID: prior}
			}
			done := res.done
			u.store.mu.Unlock()

			// Another in-flight unit of work holds the reservation; wait for
			// it to commit or roll back, as an insert would wait on the
			// database's unique index.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-done:
			}
		}
	}

	u.stagedTxns[txn.ID] = *txn
	u.stagedOrder = append(u.stagedOrder, txn.ID)
	return nil
}

func (u *memUnitOfWork) ApplyDelta(ctx context.Context, userID uuid.UUID, delta int64) (int64, error) {
	u.lockUser(userID)

	bal, ok := u.stagedBalances[userID]
	if !ok {
		u.store.mu.Lock()
		committed, exists := u.store.balances[userID]
		u.store.mu.Unlock()
		if exists {
			bal = committed
		} else {
			bal = *models.NewBalance(userID)
		}
	}

	if bal.Amount < 0 {
		return bal.Amount, ErrInconsistent
	}
	newAmount := bal.Amount + delta
	if newAmount < 0 {
		return bal.Amount, ErrInsufficientFunds
	}

	bal.Amount = newAmount
	bal.Version++
	bal.UpdatedAt = time.Now().UTC()
	u.stagedBalances[userID] = bal
	return newAmount, nil
}

func (u *memUnitOfWork) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.TransactionStatus) (*models.Transaction, error) {
	if !from.CanTransition(to) {
		return nil, ErrInvalidTransition
	}

	txn, ok := u.stagedTxns[id]
	if !ok {
		u.store.mu.Lock()
		committed, exists := u.store.txns[id]
		u.store.mu.Unlock()
		if !exists {
			return nil, ErrNotFound
		}
		txn = committed
	}

	if txn.Status != from {
		return nil, ErrInvalidTransition
	}
	txn.Status = to
	txn.UpdatedAt = time.Now().UTC()
	u.stagedTxns[id] = txn
	if !ok {
		u.stagedOrder = append(u.stagedOrder, id)
	}
	cp := txn
	return &cp, nil
}

func (u *memUnitOfWork) FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	if txn, ok := u.stagedTxns[id]; ok {
		cp := txn
		return &cp, nil
	}
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	if txn, ok := u.store.txns[id]; ok {
		cp := txn
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (u *memUnitOfWork) commit() {
	s := u.store
	s.mu.Lock()
	for userID, bal := range u.stagedBalances {
		s.balances[userID] = bal
	}
	for _, id := range u.stagedOrder {
		txn := u.stagedTxns[id]
		if _, seen := s.txnSeq[id]; !seen {
			s.seq++
			s.txnSeq[id] = s.seq
		}
		s.txns[id] = txn
	}
	for _, key := range u.reservations {
		if res, ok := s.byRef[key]; ok {
			res.committed = true
			close(res.done)
		}
	}
	s.mu.Unlock()
	u.releaseLocks()
}

func (u *memUnitOfWork) rollback() {
	s := u.store
	s.mu.Lock()
	for _, key := range u.reservations {
		if res, ok := s.byRef[key]; ok && !res.committed {
			delete(s.byRef, key)
			close(res.done)
		}
	}
	s.mu.Unlock()
	u.releaseLocks()
}

func (u *memUnitOfWork) releaseLocks() {
	for _, id := range u.lockedUsers {
		u.store.userLock(id).Unlock()
	}
	u.lockedUsers = nil
}
