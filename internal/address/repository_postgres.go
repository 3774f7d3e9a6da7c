package address

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

type PostgresRepository struct {
	db *sql.DB
}

const (
	addressColumns = `address_id, user_id, address_desc, phone, address_name, created_at, updated_at`

	listAddressQuery   = `SELECT ` + addressColumns + ` FROM address WHERE user_id = $1 ORDER BY address_id`
	getAddressQuery    = `SELECT ` + addressColumns + ` FROM address WHERE user_id = $1 AND address_id = $2`
	insertAddressQuery = `
		INSERT INTO address (user_id, address_desc, phone, address_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING ` + addressColumns
	updateAddressQuery = `
		UPDATE address
		SET address_desc = $3, phone = $4, address_name = $5, updated_at = $6
		WHERE user_id = $1 AND address_id = $2
		RETURNING ` + addressColumns
	deleteAddressQuery = `DELETE FROM address WHERE user_id = $1 AND address_id = $2`
)

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAddress(s rowScanner) (Address, error) {
	var a Address
	err := s.Scan(&a.AddressID, &a.UserID, &a.AddressDesc, &a.Phone, &a.AddressName, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *PostgresRepository) List(ctx context.Context, userID int) ([]Address, error) {
	rows, err := r.db.QueryContext(ctx, listAddressQuery, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list addresses")
	}
	defer rows.Close()

	out := make([]Address, 0)
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan address")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Get(ctx context.Context, userID, addressID int) (Address, error) {
	a, err := scanAddress(r.db.QueryRowContext(ctx, getAddressQuery, userID, addressID))
	if err == sql.ErrNoRows {
		return Address{}, ErrNotFound
	}
	return a, errors.Wrap(err, "get address")
}

func (r *PostgresRepository) Add(ctx context.Context, a Address) (Address, error) {
	out, err := scanAddress(r.db.QueryRowContext(ctx, insertAddressQuery, a.UserID, a.AddressDesc, a.Phone, a.AddressName, a.CreatedAt))
	return out, errors.Wrap(err, "insert address")
}

func (r *PostgresRepository) Update(ctx context.Context, a Address) (Address, error) {
	out, err := scanAddress(r.db.QueryRowContext(ctx, updateAddressQuery, a.UserID, a.AddressID, a.AddressDesc, a.Phone, a.AddressName, a.UpdatedAt))
	if err == sql.ErrNoRows {
		return Address{}, ErrNotFound
	}
	return out, errors.Wrap(err, "update address")
}

func (r *PostgresRepository) Delete(ctx context.Context, userID, addressID int) error {
	res, err := r.db.ExecContext(ctx, deleteAddressQuery, userID, addressID)
	if err != nil {
		return errors.Wrap(err, "delete address")
	}
	cnt, _ := res.RowsAffected()
	if cnt == 0 {
		return ErrNotFound
	}
	return nil
}
