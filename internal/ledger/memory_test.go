package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventra/backend/internal/models"
)

func mustDeposit(t *testing.T, s Store, userID uuid.UUID, amount int64, reference string) *models.Transaction {
	t.Helper()
	var txn *models.Transaction
	err := s.WithinTx(context.Background(), func(uow UnitOfWork) error {
		draft := models.NewTransaction(userID, nil, models.KindDeposit, amount, "seed", "card", reference)
		if err := uow.InsertTransaction(context.Background(), draft); err != nil {
			return err
		}
		if _, err := uow.ApplyDelta(context.Background(), userID, amount); err != nil {
			return err
		}
		var err error
		txn, err = uow.TransitionStatus(context.Background(), draft.ID, models.StatusPending, models.StatusSuccess)
		return err
	})
	require.NoError(t, err)
	return txn
}

func TestMemoryStore_CommitAndRead(t *testing.T) {
	s := NewMemoryStore()
	userID := uuid.New()

	txn := mustDeposit(t, s, userID, 700, "")

	amount, err := s.Balance(context.Background(), userID)
	assert.NoError(t, err)
	assert.Equal(t, int64(700), amount)

	loaded, err := s.Transaction(context.Background(), txn.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, loaded.Status)

	_, err = s.Transaction(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_RollbackDiscardsEverything(t *testing.T) {
	s := NewMemoryStore()
	userID := uuid.New()
	draftID := uuid.New()

	err := s.WithinTx(context.Background(), func(uow UnitOfWork) error {
		draft := models.NewTransaction(userID, nil, models.KindDeposit, 500, "seed", "card", "ref-rollback")
		draft.ID = draftID
		if err := uow.InsertTransaction(context.Background(), draft); err != nil {
			return err
		}
		if _, err := uow.ApplyDelta(context.Background(), userID, 500); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	amount, err := s.Balance(context.Background(), userID)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), amount)

	_, err = s.Transaction(context.Background(), draftID)
	assert.ErrorIs(t, err, ErrNotFound)

	// The rolled-back reservation must not block a retry of the same reference.
	mustDeposit(t, s, userID, 500, "ref-rollback")
}

func TestMemoryStore_DuplicateReference(t *testing.T) {
	s := NewMemoryStore()
	userID := uuid.New()

	first := mustDeposit(t, s, userID, 1000, "evt-1")

	err := s.WithinTx(context.Background(), func(uow UnitOfWork) error {
		draft := models.NewTransaction(userID, nil, models.KindDeposit, 1000, "replay", "card", "evt-1")
		return uow.InsertTransaction(context.Background(), draft)
	})

	var dup *DuplicateReferenceError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.TransactionID)

	// Same reference under another payment method is a distinct event.
	err = s.WithinTx(context.Background(), func(uow UnitOfWork) error {
		draft := models.NewTransaction(userID, nil, models.KindDeposit, 1000, "other rail", "bank_transfer", "evt-1")
		return uow.InsertTransaction(context.Background(), draft)
	})
	assert.NoError(t, err)
}

func TestMemoryStore_ApplyDeltaFloor(t *testing.T) {
	s := NewMemoryStore()
	userID := uuid.New()
	mustDeposit(t, s, userID, 300, "")

	err := s.WithinTx(context.Background(), func(uow UnitOfWork) error {
		_, err := uow.ApplyDelta(context.Background(), userID, -301)
		return err
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	err = s.WithinTx(context.Background(), func(uow UnitOfWork) error {
		newAmount, err := uow.ApplyDelta(context.Background(), userID, -300)
		assert.Equal(t, int64(0), newAmount)
		return err
	})
	assert.NoError(t, err)
}

func TestMemoryStore_TransitionStatusCAS(t *testing.T) {
	s := NewMemoryStore()
	userID := uuid.New()
	txn := mustDeposit(t, s, userID, 100, "")

	err := s.WithinTx(context.Background(), func(uow UnitOfWork) error {
		_, err := uow.TransitionStatus(context.Background(), txn.ID, models.StatusPending, models.StatusSuccess)
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = s.WithinTx(context.Background(), func(uow UnitOfWork) error {
		_, err := uow.TransitionStatus(context.Background(), uuid.New(), models.StatusPending, models.StatusFailed)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListOrderingAndPaging(t *testing.T) {
	s := NewMemoryStore()
	userID := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		ids = append(ids, mustDeposit(t, s, userID, 10, "").ID)
	}
	mustDeposit(t, s, uuid.New(), 10, "") // other user, filtered out

	txns, err := s.TransactionsByUser(context.Background(), userID, Page{Limit: 3}, nil)
	assert.NoError(t, err)
	require.Len(t, txns, 3)
	// Newest first.
	assert.Equal(t, ids[4], txns[0].ID)
	assert.Equal(t, ids[2], txns[2].ID)

	txns, err = s.TransactionsByUser(context.Background(), userID, Page{Limit: 3, Offset: 3}, nil)
	assert.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, ids[0], txns[1].ID)

	txns, err = s.TransactionsByUser(context.Background(), userID, Page{Offset: 99}, nil)
	assert.NoError(t, err)
	assert.Empty(t, txns)

	status := models.StatusFailed
	txns, err = s.TransactionsByUser(context.Background(), userID, Page{}, &status)
	assert.NoError(t, err)
	assert.Empty(t, txns)
}
