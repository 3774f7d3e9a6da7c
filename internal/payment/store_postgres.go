package payment

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

type PostgresAttemptStore struct {
	db *sql.DB
}

const (
	insertAttemptQuery = `
		INSERT INTO payment_attempt (txnid, order_number, user_id, amount, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	getAttemptQuery = `
		SELECT txnid, order_number, user_id, amount, status, created_at, expires_at
		FROM payment_attempt
		WHERE txnid = $1 AND expires_at > $2
	`
	setAttemptStatusQuery     = `UPDATE payment_attempt SET status = $2 WHERE txnid = $1`
	deleteExpiredAttemptQuery = `DELETE FROM payment_attempt WHERE expires_at <= $1`
)

func NewPostgresAttemptStore(db *sql.DB) *PostgresAttemptStore {
	return &PostgresAttemptStore{db: db}
}

func (p *PostgresAttemptStore) Save(ctx context.Context, a Attempt) error {
	_, err := p.db.ExecContext(ctx, insertAttemptQuery,
		a.TxnID, a.OrderNumber, a.UserID, a.Amount, string(a.Status), a.CreatedAt, a.ExpiresAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateAttempt
	}
	return errors.Wrap(err, "insert payment attempt")
}

func (p *PostgresAttemptStore) Get(ctx context.Context, txnid string, now time.Time) (Attempt, error) {
	var a Attempt
	var status string
	err := p.db.QueryRowContext(ctx, getAttemptQuery, txnid, now).
		Scan(&a.TxnID, &a.OrderNumber, &a.UserID, &a.Amount, &status, &a.CreatedAt, &a.ExpiresAt)
	if err == sql.ErrNoRows {
		return Attempt{}, ErrAttemptNotFound
	}
	if err != nil {
		return Attempt{}, errors.Wrap(err, "get payment attempt")
	}
	a.Status = AttemptStatus(status)
	return a, nil
}

func (p *PostgresAttemptStore) SetStatus(ctx context.Context, txnid string, status AttemptStatus) (bool, error) {
	res, err := p.db.ExecContext(ctx, setAttemptStatusQuery, txnid, string(status))
	if err != nil {
		return false, errors.Wrap(err, "update payment attempt")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "update payment attempt")
	}
	return n > 0, nil
}

func (p *PostgresAttemptStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, deleteExpiredAttemptQuery, now)
	if err != nil {
		return 0, errors.Wrap(err, "delete expired payment attempts")
	}
	return res.RowsAffected()
}
