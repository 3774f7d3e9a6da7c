package checkout

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

type PostgresSessionStore struct {
	db *sql.DB
}

const (
	sessionColumns = `id, user_id, items, subtotal, tax, shipping, total, mode, status, expires_at, created_at, updated_at`

	insertSessionQuery = `
		INSERT INTO checkout_session (id, user_id, items, subtotal, tax, shipping, total, mode, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	getSessionQuery    = `SELECT ` + sessionColumns + ` FROM checkout_session WHERE id = $1`
	activeSessionQuery = `
		SELECT ` + sessionColumns + `
		FROM checkout_session
		WHERE user_id = $1 AND status = 'active' AND expires_at > $2
	`
	completeSessionQuery = `UPDATE checkout_session SET status = 'completed', updated_at = $2 WHERE id = $1 AND status = 'active'`
	reopenSessionQuery   = `UPDATE checkout_session SET status = 'active', updated_at = $2 WHERE id = $1 AND status = 'completed'`
	expireSessionsQuery  = `UPDATE checkout_session SET status = 'expired', updated_at = $2 WHERE user_id = $1 AND status = 'active'`
	deleteExpiredQuery   = `DELETE FROM checkout_session WHERE expires_at <= $1`
)

func NewPostgresSessionStore(db *sql.DB) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var s Session
	var items []byte
	var mode, status string
	err := row.Scan(&s.ID, &s.UserID, &items, &s.Subtotal, &s.Tax, &s.Shipping, &s.Total, &mode, &status, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Session{}, err
	}
	s.Mode, s.Status = Mode(mode), SessionStatus(status)
	if err := json.Unmarshal(items, &s.Items); err != nil {
		return Session{}, errors.Wrap(err, "decode session items")
	}
	return s, nil
}

func (p *PostgresSessionStore) Create(ctx context.Context, s Session) error {
	items, err := json.Marshal(s.Items)
	if err != nil {
		return errors.Wrap(err, "encode session items")
	}
	_, err = p.db.ExecContext(ctx, insertSessionQuery,
		s.ID, s.UserID, string(items), s.Subtotal, s.Tax, s.Shipping, s.Total,
		string(s.Mode), string(s.Status), s.ExpiresAt, s.CreatedAt, s.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrActiveSession
	}
	return errors.Wrap(err, "insert checkout session")
}

func (p *PostgresSessionStore) Get(ctx context.Context, id string) (Session, error) {
	s, err := scanSession(p.db.QueryRowContext(ctx, getSessionQuery, id))
	if err == sql.ErrNoRows {
		return Session{}, ErrSessionNotFound
	}
	return s, errors.Wrap(err, "get checkout session")
}

func (p *PostgresSessionStore) Active(ctx context.Context, userID int, now time.Time) (Session, error) {
	s, err := scanSession(p.db.QueryRowContext(ctx, activeSessionQuery, userID, now))
	if err == sql.ErrNoRows {
		return Session{}, ErrSessionNotFound
	}
	return s, errors.Wrap(err, "get active checkout session")
}

func (p *PostgresSessionStore) MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, completeSessionQuery, id, at)
	if err != nil {
		return false, errors.Wrap(err, "complete checkout session")
	}
	n, err := res.RowsAffected()
	return n == 1, errors.Wrap(err, "complete checkout session rows affected")
}

func (p *PostgresSessionStore) Reopen(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, reopenSessionQuery, id, at)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "reopen checkout session")
	}
	n, err := res.RowsAffected()
	return n == 1, errors.Wrap(err, "reopen checkout session rows affected")
}

func (p *PostgresSessionStore) ExpireActiveForUser(ctx context.Context, userID int, at time.Time) error {
	_, err := p.db.ExecContext(ctx, expireSessionsQuery, userID, at)
	return errors.Wrap(err, "expire checkout sessions")
}

func (p *PostgresSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, deleteExpiredQuery, now)
	if err != nil {
		return 0, errors.Wrap(err, "delete expired checkout sessions")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "delete expired rows affected")
}
