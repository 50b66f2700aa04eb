package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestReconcilerSweep(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	r := NewReconciler(db, ReconcilerConfig{
		PendingTimeout: 10 * time.Minute,
		BatchSize:      100,
	})

	t.Run("marks stale pending rows failed", func(t *testing.T) {
		mock.ExpectExec("UPDATE transactions t\\s+SET status = 'failed'").
			WithArgs(sqlmock.AnyArg(), 100).
			WillReturnResult(sqlmock.NewResult(0, 4))

		failed, err := r.Sweep(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, int64(4), failed)
	})

	t.Run("propagates store errors", func(t *testing.T) {
		mock.ExpectExec("UPDATE transactions t\\s+SET status = 'failed'").
			WillReturnError(assert.AnError)

		_, err := r.Sweep(context.Background())
		assert.ErrorIs(t, err, assert.AnError)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcilerDefaults(t *testing.T) {
	r := NewReconciler(nil, ReconcilerConfig{})
	assert.Equal(t, 5*time.Minute, r.pendingTimeout)
	assert.Equal(t, 500, r.batchSize)
	assert.Equal(t, "@every 1m", r.schedule)
}
