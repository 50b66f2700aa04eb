package services

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventra/backend/internal/ledger"
	"github.com/eventra/backend/internal/models"
)

func TestTransactionEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := env.ledger.Deposit(ctx, userID, 2000, "card", "", "seed")
	require.NoError(t, err)
	chg, err := env.ledger.Charge(ctx, userID, nil, 700, "wallet", "", "ticket")
	require.NoError(t, err)

	t.Run("get own transaction", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/transactions/%s", chg.ID), &userID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		txn := decodeBody[models.Transaction](t, rec)
		assert.Equal(t, chg.ID, txn.ID)
		assert.Equal(t, models.StatusSuccess, txn.Status)
	})

	t.Run("someone else's transaction reads as not found", func(t *testing.T) {
		other := uuid.New()
		rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/transactions/%s", chg.ID), &other, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/transactions/%s", uuid.New()), &userID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("refund", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, fmt.Sprintf("/api/v1/transactions/%s/refund", chg.ID), &userID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		txn := decodeBody[models.Transaction](t, rec)
		assert.Equal(t, models.StatusRefunded, txn.Status)

		amount, err := env.ledger.GetBalance(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(2000), amount)
	})

	t.Run("second refund conflicts", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, fmt.Sprintf("/api/v1/transactions/%s/refund", chg.ID), &userID, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestListTransactions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := env.ledger.Deposit(ctx, userID, 1000, "card", "", "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := env.ledger.Charge(ctx, userID, nil, 100, "wallet", "", "")
		require.NoError(t, err)
	}
	_, err = env.ledger.Charge(ctx, userID, nil, 5000, "wallet", "", "")
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	t.Run("full history newest first", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/users/%s/transactions", userID), &userID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody[ListTransactionsResponse](t, rec)
		require.Len(t, body.Transactions, 5)
		assert.Equal(t, models.StatusFailed, body.Transactions[0].Status)
	})

	t.Run("pagination", func(t *testing.T) {
		rec := env.do(t, http.MethodGet,
			fmt.Sprintf("/api/v1/users/%s/transactions?limit=2&offset=4", userID), &userID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody[ListTransactionsResponse](t, rec)
		assert.Len(t, body.Transactions, 1)
		assert.Equal(t, 2, body.Limit)
		assert.Equal(t, 4, body.Offset)
	})

	t.Run("status filter", func(t *testing.T) {
		rec := env.do(t, http.MethodGet,
			fmt.Sprintf("/api/v1/users/%s/transactions?status=failed", userID), &userID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody[ListTransactionsResponse](t, rec)
		require.Len(t, body.Transactions, 1)
		assert.Equal(t, int64(5000), body.Transactions[0].Amount)
	})

	t.Run("bogus status filter", func(t *testing.T) {
		rec := env.do(t, http.MethodGet,
			fmt.Sprintf("/api/v1/users/%s/transactions?status=exploded", userID), &userID, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
