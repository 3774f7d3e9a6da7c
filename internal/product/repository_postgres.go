package product

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

type PostgresRepository struct {
	db *sql.DB
}

const (
	productColumns = `product_id, product_name, product_price, status, category, product_desc, product_pic, created_at, updated_at`
	variantColumns = `variant_id, product_id, sku, name, price, stock, is_active`

	listProductsQuery = `SELECT ` + productColumns + ` FROM product ORDER BY product_id`
	getProductQuery   = `SELECT ` + productColumns + ` FROM product WHERE product_id = $1`
	listVariantsQuery = `SELECT ` + variantColumns + ` FROM variant WHERE product_id = $1 ORDER BY variant_id`
	getVariantQuery   = `SELECT ` + variantColumns + ` FROM variant WHERE variant_id = $1`

	decrementStockQuery = `UPDATE variant SET stock = stock - $2 WHERE variant_id = $1 AND is_active AND stock >= $2`

	// Both statements take parallel arrays of variant ids and quantities.
	reserveStockQuery = `
		UPDATE variant v
		SET stock = v.stock - r.qty
		FROM unnest($1::int[], $2::int[]) AS r(variant_id, qty)
		WHERE v.variant_id = r.variant_id AND v.is_active AND v.stock >= r.qty
	`
	releaseStockQuery = `
		UPDATE variant v
		SET stock = v.stock + r.qty
		FROM unnest($1::int[], $2::int[]) AS r(variant_id, qty)
		WHERE v.variant_id = r.variant_id
	`
)

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(s scanner) (Product, error) {
	var p Product
	var category, pic sql.NullString
	var createdAt, updatedAt sql.NullTime
	if err := s.Scan(&p.ID, &p.Name, &p.Price, &p.Status, &category, &p.Description, &pic, &createdAt, &updatedAt); err != nil {
		return Product{}, err
	}
	if category.Valid {
		p.Category = &category.String
	}
	if pic.Valid {
		p.Pic = &pic.String
	}
	if createdAt.Valid {
		p.CreatedAt = &createdAt.Time
	}
	if updatedAt.Valid {
		p.UpdatedAt = &updatedAt.Time
	}
	return p, nil
}

func scanVariant(s scanner) (Variant, error) {
	var v Variant
	err := s.Scan(&v.ID, &v.ProductID, &v.SKU, &v.Name, &v.Price, &v.Stock, &v.IsActive)
	return v, err
}

func (r *PostgresRepository) List(ctx context.Context) ([]Product, error) {
	rows, err := r.db.QueryContext(ctx, listProductsQuery)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	defer rows.Close()

	out := make([]Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int) (Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, getProductQuery, id))
	if err == sql.ErrNoRows {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, errors.Wrapf(err, "get product %d", id)
	}

	rows, err := r.db.QueryContext(ctx, listVariantsQuery, id)
	if err != nil {
		return Product{}, errors.Wrapf(err, "list variants of product %d", id)
	}
	defer rows.Close()
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return Product{}, errors.Wrap(err, "scan variant")
		}
		p.Variants = append(p.Variants, v)
	}
	return p, rows.Err()
}

func (r *PostgresRepository) GetVariant(ctx context.Context, id int) (Variant, error) {
	v, err := scanVariant(r.db.QueryRowContext(ctx, getVariantQuery, id))
	if err == sql.ErrNoRows {
		return Variant{}, ErrVariantNotFound
	}
	if err != nil {
		return Variant{}, errors.Wrapf(err, "get variant %d", id)
	}
	return v, nil
}

func (r *PostgresRepository) DecrementStockIfAvailable(ctx context.Context, variantID, qty int) (bool, error) {
	if qty <= 0 {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx, decrementStockQuery, variantID, qty)
	if err != nil {
		return false, errors.Wrapf(err, "decrement stock of variant %d", variantID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "decrement stock rows affected")
	}
	return n == 1, nil
}

func (r *PostgresRepository) ReserveStock(ctx context.Context, lines []Reservation) error {
	lines = merge(lines)
	if len(lines) == 0 {
		return nil
	}
	ids, qtys := columns(lines)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin reserve stock")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, reserveStockQuery, pq.Array(ids), pq.Array(qtys))
	if err != nil {
		return errors.Wrap(err, "reserve stock")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reserve stock rows affected")
	}
	if int(n) != len(lines) {
		return errors.Wrapf(ErrInsufficientStock, "%d of %d lines available", n, len(lines))
	}
	return errors.Wrap(tx.Commit(), "commit reserve stock")
}

func (r *PostgresRepository) ReleaseStock(ctx context.Context, lines []Reservation) error {
	lines = merge(lines)
	if len(lines) == 0 {
		return nil
	}
	ids, qtys := columns(lines)
	_, err := r.db.ExecContext(ctx, releaseStockQuery, pq.Array(ids), pq.Array(qtys))
	return errors.Wrap(err, "release stock")
}

func columns(lines []Reservation) ([]int64, []int64) {
	ids := make([]int64, len(lines))
	qtys := make([]int64, len(lines))
	for i, l := range lines {
		ids[i] = int64(l.VariantID)
		qtys[i] = int64(l.Quantity)
	}
	return ids, qtys
}
