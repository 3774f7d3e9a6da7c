package payment

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresAttemptStore_SaveAndGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresAttemptStore(db)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := Attempt{
		TxnID: "ORD-1_PAY_1", OrderNumber: "ORD-1", UserID: 7,
		Amount: decimal.NewFromInt(200), Status: AttemptInitiated,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	mock.ExpectExec("INSERT INTO payment_attempt").
		WithArgs("ORD-1_PAY_1", "ORD-1", 7, sqlmock.AnyArg(), "initiated", now, now.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Save(ctx, a))

	mock.ExpectQuery("expires_at > \\$2").WithArgs("ORD-1_PAY_1", now).WillReturnRows(
		sqlmock.NewRows([]string{"txnid", "order_number", "user_id", "amount", "status", "created_at", "expires_at"}).
			AddRow("ORD-1_PAY_1", "ORD-1", 7, "200.00", "succeeded", now, now.Add(time.Hour)))
	got, err := store.Get(ctx, "ORD-1_PAY_1", now)
	require.NoError(t, err)
	assert.Equal(t, AttemptSucceeded, got.Status)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(200)))

	mock.ExpectQuery("FROM payment_attempt").WithArgs("ORD-2_PAY_1", now).WillReturnRows(sqlmock.NewRows([]string{"txnid"}))
	_, err = store.Get(ctx, "ORD-2_PAY_1", now)
	assert.Equal(t, ErrAttemptNotFound, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAttemptStore_DuplicateTxnID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO payment_attempt").WillReturnError(&pgconn.PgError{Code: "23505"})
	err = NewPostgresAttemptStore(db).Save(context.Background(), Attempt{TxnID: "ORD-1_PAY_1", Status: AttemptInitiated})
	assert.Equal(t, ErrDuplicateAttempt, err)
}

func TestPostgresAttemptStore_StatusAndReap(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresAttemptStore(db)
	ctx := context.Background()

	mock.ExpectExec("UPDATE payment_attempt").WithArgs("ORD-1_PAY_1", "failed").WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err := store.SetStatus(ctx, "ORD-1_PAY_1", AttemptFailed)
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Now().UTC()
	mock.ExpectExec("DELETE FROM payment_attempt").WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 4))
	n, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	assert.NoError(t, mock.ExpectationsWereMet())
}
