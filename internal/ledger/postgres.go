package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/eventra/backend/internal/models"
)

// PostgresStore implements Store on a relational database. Per-user
// serialization comes from a row lock scoped to the balance row
// (SELECT ... FOR UPDATE); the version counter is bumped on every write as an
// additional lost-update guard.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const transactionColumns = `id, user_id, ticket_id, kind, amount, status, description, payment_method, external_reference, created_at, updated_at`

func scanTransaction(row interface {
	Scan(dest ...interface{}) error
}) (*models.Transaction, error) {
	var t models.Transaction
	var ticketID uuid.NullUUID
	var reference sql.NullString
	err := row.Scan(
		&t.ID, &t.UserID, &ticketID, &t.Kind, &t.Amount, &t.Status,
		&t.Description, &t.PaymentMethod, &reference, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if ticketID.Valid {
		id := ticketID.UUID
		t.TicketID = &id
	}
	if reference.Valid {
		ref := reference.String
		t.ExternalReference = &ref
	}
	return &t, nil
}

// WithinTx opens a database transaction, runs fn, and commits only if fn
// succeeds. Rollback on the error path also releases any idempotency
// reservation made inside.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(uow UnitOfWork) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgUnitOfWork{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Balance reads the current amount without locking. Unknown users read as
// zero: the row is created lazily on first mutation.
func (s *PostgresStore) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var amount int64
	err := s.db.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE user_id = $1`, userID).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return amount, nil
}

// Transaction loads one transaction by id.
func (s *PostgresStore) Transaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

// TransactionsByUser lists transactions newest first with optional status
// filtering.
func (s *PostgresStore) TransactionsByUser(ctx context.Context, userID uuid.UUID, page Page, status *models.TransactionStatus) ([]models.Transaction, error) {
	page = page.Normalize()

	var rows *sql.Rows
	var err error
	if status != nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+transactionColumns+` FROM transactions
			 WHERE user_id = $1 AND status = $2
			 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
			userID, *status, page.Limit, page.Offset)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+transactionColumns+` FROM transactions
			 WHERE user_id = $1
			 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			userID, page.Limit, page.Offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

type pgUnitOfWork struct {
	tx *sql.Tx
}

func (u *pgUnitOfWork) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	txn.Status = models.StatusPending

	// ON CONFLICT DO NOTHING keeps the enclosing transaction usable when the
	// reference is already taken; zero rows affected is the duplicate signal.
	res, err := u.tx.ExecContext(ctx, `
		INSERT INTO transactions
		(id, user_id, ticket_id, kind, amount, status, description, payment_method, external_reference, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (payment_method, external_reference) WHERE external_reference IS NOT NULL DO NOTHING`,
		txn.ID, txn.UserID, txn.TicketID, txn.Kind, txn.Amount, txn.Status,
		txn.Description, txn.PaymentMethod, txn.ExternalReference, txn.CreatedAt, txn.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	prior, err := u.findByReference(ctx, txn.PaymentMethod, txn.Reference())
	if err != nil {
		return err
	}
	return &DuplicateReferenceError{TransactionID: prior.ID}
}

func (u *pgUnitOfWork) findByReference(ctx context.Context, method, reference string) (*models.Transaction, error) {
	row := u.tx.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE payment_method = $1 AND external_reference = $2`, method, reference)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

func (u *pgUnitOfWork) ApplyDelta(ctx context.Context, userID uuid.UUID, delta int64) (int64, error) {
	// Deterministic lazy creation: the balance row exists before we lock it.
	if _, err := u.tx.ExecContext(ctx, `
		INSERT INTO balances (id, user_id, amount, version, updated_at)
		VALUES ($1, $2, 0, 1, NOW())
		ON CONFLICT (user_id) DO NOTHING`,
		uuid.New(), userID); err != nil {
		return 0, err
	}

	var amount int64
	var version int
	err := u.tx.QueryRowContext(ctx, `
		SELECT amount, version FROM balances WHERE user_id = $1 FOR UPDATE`,
		userID).Scan(&amount, &version)
	if err != nil {
		return 0, err
	}

	if amount < 0 {
		return amount, fmt.Errorf("%w: user %s holds negative balance %d", ErrInconsistent, userID, amount)
	}
	newAmount := amount + delta
	if newAmount < 0 {
		return amount, ErrInsufficientFunds
	}

	res, err := u.tx.ExecContext(ctx, `
		UPDATE balances
		SET amount = $1, version = version + 1, updated_at = NOW()
		WHERE user_id = $2 AND version = $3`,
		newAmount, userID, version)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "check_violation" {
			return amount, ErrInsufficientFunds
		}
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		// Cannot happen while we hold the row lock.
		return 0, fmt.Errorf("%w: balance row for user %s changed under lock", ErrInconsistent, userID)
	}
	return newAmount, nil
}

func (u *pgUnitOfWork) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.TransactionStatus) (*models.Transaction, error) {
	if !from.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	row := u.tx.QueryRowContext(ctx, `
		UPDATE transactions SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING `+transactionColumns,
		to, id, from)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		// Distinguish a missing row from a lost compare-and-set race.
		var current models.TransactionStatus
		checkErr := u.tx.QueryRowContext(ctx,
			`SELECT status FROM transactions WHERE id = $1`, id).Scan(&current)
		if checkErr == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		if checkErr != nil {
			return nil, checkErr
		}
		return nil, fmt.Errorf("%w: %s is %s, not %s", ErrInvalidTransition, id, current, from)
	}
	return t, err
}

func (u *pgUnitOfWork) FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	row := u.tx.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

// retryablePgError classifies transient failures worth retrying: lock and
// serialization conflicts, dropped connections, and resource exhaustion.
func retryablePgError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "40": // transaction rollback: serialization_failure, deadlock_detected
			return true
		case "08": // connection exceptions
			return true
		}
		if pqErr.Code == "53300" { // too_many_connections
			return true
		}
	}
	return false
}
