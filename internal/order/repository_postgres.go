package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

type PostgresRepository struct {
	db *sql.DB
}

const (
	orderColumns = `id, order_number, user_id, address_id, items, subtotal, tax, shipping, total, status,
		payment_method, payment_status, payment_details, payment_error, payment_date, notes, status_history,
		created_at, updated_at`

	insertOrderQuery = `
		INSERT INTO orders (id, order_number, user_id, address_id, items, subtotal, tax, shipping, total, status,
			payment_method, payment_status, notes, status_history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	getOrderQuery         = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderByNumberQuery = `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`
	countUserOrdersQuery  = `SELECT count(*) FROM orders WHERE user_id = $1 AND ($2 = '' OR status = $2)`
	listUserOrdersQuery   = `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	transitionQuery = `
		UPDATE orders
		SET status = $3,
			payment_status = CASE WHEN $4::boolean AND payment_status = 'pending' THEN 'paid' ELSE payment_status END,
			payment_date = CASE WHEN $4::boolean AND payment_status = 'pending' THEN $5 ELSE payment_date END,
			status_history = status_history || $6::jsonb,
			updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING ` + orderColumns
	markPaidQuery = `
		UPDATE orders
		SET payment_status = 'paid', payment_details = $2, payment_error = '', payment_date = $3, updated_at = $3
		WHERE order_number = $1 AND payment_status IN ('pending', 'awaiting_payment', 'failed')
	`
	markPaymentFailedQuery = `
		UPDATE orders
		SET payment_status = 'failed', payment_error = $2, updated_at = $3
		WHERE order_number = $1 AND payment_status NOT IN ('paid', 'refunded')
	`
)

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(s rowScanner) (Order, error) {
	var (
		o                      Order
		items, history         []byte
		details                []byte
		paymentDate            sql.NullTime
		status, method, paySts string
	)
	err := s.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.AddressID, &items, &o.Subtotal, &o.Tax, &o.Shipping, &o.Total,
		&status, &method, &paySts, &details, &o.PaymentError, &paymentDate, &o.Notes, &history,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	o.Status, o.PaymentMethod, o.PaymentStatus = Status(status), PaymentMethod(method), PaymentStatus(paySts)
	if paymentDate.Valid {
		o.PaymentDate = &paymentDate.Time
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return Order{}, errors.Wrap(err, "decode order items")
	}
	if err := json.Unmarshal(history, &o.StatusHistory); err != nil {
		return Order{}, errors.Wrap(err, "decode status history")
	}
	if len(details) > 0 && string(details) != "null" {
		o.PaymentDetails = new(PaymentDetails)
		if err := json.Unmarshal(details, o.PaymentDetails); err != nil {
			return Order{}, errors.Wrap(err, "decode payment details")
		}
	}
	return o, nil
}

func (r *PostgresRepository) Create(ctx context.Context, o Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "encode order items")
	}
	history, err := json.Marshal(o.StatusHistory)
	if err != nil {
		return errors.Wrap(err, "encode status history")
	}

	_, err = r.db.ExecContext(ctx, insertOrderQuery,
		o.ID, o.OrderNumber, o.UserID, o.AddressID, string(items), o.Subtotal, o.Tax, o.Shipping, o.Total,
		string(o.Status), string(o.PaymentMethod), string(o.PaymentStatus), o.Notes, string(history),
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateNumber
		}
		return errors.Wrap(err, "insert order")
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, getOrderQuery, id))
	if err == sql.ErrNoRows {
		return Order{}, ErrNotFound
	}
	return o, errors.Wrap(err, "get order")
}

func (r *PostgresRepository) GetByNumber(ctx context.Context, number string) (Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, getOrderByNumberQuery, number))
	if err == sql.ErrNoRows {
		return Order{}, ErrNotFound
	}
	return o, errors.Wrap(err, "get order by number")
}

func (r *PostgresRepository) ListForUser(ctx context.Context, userID int, f Filter) ([]Order, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, countUserOrdersQuery, userID, string(f.Status)).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count orders")
	}

	rows, err := r.db.QueryContext(ctx, listUserOrdersQuery, userID, string(f.Status), f.Limit, f.offset())
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}
	defer rows.Close()

	out := make([]Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

func (r *PostgresRepository) Transition(ctx context.Context, id string, t Transition) (Order, error) {
	entry, err := json.Marshal([]StatusChange{{Status: t.To, At: t.At, Note: t.Note}})
	if err != nil {
		return Order{}, errors.Wrap(err, "encode status change")
	}
	o, err := scanOrder(r.db.QueryRowContext(ctx, transitionQuery, id, string(t.From), string(t.To), t.SettleCOD, t.At, string(entry)))
	if err == sql.ErrNoRows {
		// distinguish a missing order from a lost race
		if _, getErr := r.Get(ctx, id); getErr == ErrNotFound {
			return Order{}, ErrNotFound
		}
		return Order{}, ErrStaleStatus
	}
	return o, errors.Wrap(err, "transition order")
}

func (r *PostgresRepository) MarkPaid(ctx context.Context, number string, d PaymentDetails, at time.Time) (bool, error) {
	details, err := json.Marshal(d)
	if err != nil {
		return false, errors.Wrap(err, "encode payment details")
	}
	res, err := r.db.ExecContext(ctx, markPaidQuery, number, string(details), at)
	if err != nil {
		return false, errors.Wrap(err, "mark order paid")
	}
	n, err := res.RowsAffected()
	return n == 1, errors.Wrap(err, "mark order paid rows affected")
}

func (r *PostgresRepository) MarkPaymentFailed(ctx context.Context, number, reason string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, markPaymentFailedQuery, number, reason, at)
	if err != nil {
		return false, errors.Wrap(err, "mark payment failed")
	}
	n, err := res.RowsAffected()
	return n == 1, errors.Wrap(err, "mark payment failed rows affected")
}
