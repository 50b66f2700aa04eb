package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Reconciler resolves transactions stranded in pending, which can only
// happen when a process died between opening the row and committing the
// unit of work. The balance was untouched in that case, so marking the row
// failed is the safe resolution; a client retrying under the same
// idempotency key starts a fresh attempt.
type Reconciler struct {
	db             *sql.DB
	pendingTimeout time.Duration
	batchSize      int
	schedule       string
	cron           *cron.Cron
	log            *logrus.Entry
	observer       func(failed int64, err error)
}

// ReconcilerConfig tunes the sweep.
type ReconcilerConfig struct {
	PendingTimeout time.Duration
	BatchSize      int
	Schedule       string // cron spec, e.g. "@every 1m"
	Logger         *logrus.Logger
	Observer       func(failed int64, err error)
}

// NewReconciler builds a reconciler over the authoritative database.
func NewReconciler(db *sql.DB, cfg ReconcilerConfig) *Reconciler {
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reconciler{
		db:             db,
		pendingTimeout: cfg.PendingTimeout,
		batchSize:      cfg.BatchSize,
		schedule:       cfg.Schedule,
		log:            logger.WithField("component", "ledger_reconciler"),
		observer:       cfg.Observer,
	}
}

// Sweep marks one batch of stale pending transactions failed and returns how
// many rows it resolved. SKIP LOCKED keeps it out of the way of in-flight
// units of work.
func (r *Reconciler) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-r.pendingTimeout)

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id FROM transactions
			WHERE status = 'pending' AND created_at <= $1
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE transactions t
		SET status = 'failed', updated_at = NOW()
		FROM stale WHERE t.id = stale.id`,
		cutoff, r.batchSize)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Start schedules recurring sweeps until Stop is called.
func (r *Reconciler) Start(ctx context.Context) error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc(r.schedule, func() {
		for {
			failed, err := r.Sweep(ctx)
			if r.observer != nil {
				r.observer(failed, err)
			}
			if err != nil {
				r.log.WithError(err).Error("pending transaction sweep failed")
				return
			}
			if failed > 0 {
				r.log.WithField("count", failed).Warn("resolved stale pending transactions as failed")
			}
			if failed < int64(r.batchSize) {
				return
			}
		}
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	r.log.WithField("schedule", r.schedule).Info("pending transaction reconciler started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reconciler) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.log.Info("pending transaction reconciler stopped")
}
