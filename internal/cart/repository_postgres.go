package cart

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

type PostgresRepository struct {
	db *sql.DB
}

const (
	listItemsQuery = `
		SELECT c.product_id, c.variant_id, p.product_name, c.quantity, c.unit_price, c.added_at
		FROM cart_item c
		JOIN product p ON p.product_id = c.product_id
		WHERE c.user_id = $1
		ORDER BY c.added_at, c.product_id
	`
	lockItemQuery = `
		SELECT quantity FROM cart_item
		WHERE user_id = $1 AND product_id = $2 AND variant_id = $3
		FOR UPDATE
	`
	insertItemQuery = `
		INSERT INTO cart_item (user_id, product_id, variant_id, quantity, unit_price, added_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	setQuantityQuery = `UPDATE cart_item SET quantity = $4 WHERE user_id = $1 AND product_id = $2 AND variant_id = $3`
	deleteItemQuery  = `DELETE FROM cart_item WHERE user_id = $1 AND product_id = $2 AND variant_id = $3`
	clearCartQuery   = `DELETE FROM cart_item WHERE user_id = $1`
)

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Items(ctx context.Context, userID int) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, listItemsQuery, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "list cart of user %d", userID)
	}
	defer rows.Close()

	out := make([]Item, 0)
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.VariantID, &it.Name, &it.Quantity, &it.UnitPrice, &it.AddedAt); err != nil {
			return nil, errors.Wrap(err, "scan cart item")
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Add(ctx context.Context, userID int, item Item) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin add to cart")
	}
	defer tx.Rollback()

	var current int
	err = tx.QueryRowContext(ctx, lockItemQuery, userID, item.ProductID, item.VariantID).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		if item.Quantity <= 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, insertItemQuery, userID, item.ProductID, item.VariantID, item.Quantity, item.UnitPrice, item.AddedAt)
	case err != nil:
		return errors.Wrap(err, "lock cart item")
	case current+item.Quantity <= 0:
		_, err = tx.ExecContext(ctx, deleteItemQuery, userID, item.ProductID, item.VariantID)
	default:
		_, err = tx.ExecContext(ctx, setQuantityQuery, userID, item.ProductID, item.VariantID, current+item.Quantity)
	}
	if err != nil {
		return errors.Wrap(err, "write cart item")
	}
	return errors.Wrap(tx.Commit(), "commit add to cart")
}

func (r *PostgresRepository) SetQuantity(ctx context.Context, userID, productID, variantID, qty int) error {
	q, args := setQuantityQuery, []interface{}{userID, productID, variantID, qty}
	if qty <= 0 {
		q, args = deleteItemQuery, args[:3]
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "update cart item")
	}
	return affected(res)
}

func (r *PostgresRepository) Remove(ctx context.Context, userID, productID, variantID int) error {
	res, err := r.db.ExecContext(ctx, deleteItemQuery, userID, productID, variantID)
	if err != nil {
		return errors.Wrap(err, "remove cart item")
	}
	return affected(res)
}

func (r *PostgresRepository) Clear(ctx context.Context, userID int) error {
	_, err := r.db.ExecContext(ctx, clearCartQuery, userID)
	return errors.Wrapf(err, "clear cart of user %d", userID)
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}
