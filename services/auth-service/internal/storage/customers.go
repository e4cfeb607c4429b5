package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/db"
)

// Customer is the slice of a customer row the PIN login needs.
type Customer struct {
	ID           string `json:"id"`
	CustomerCode string `json:"customer_code"`
	Name         string `json:"name"`
	Phone        string `json:"phone,omitempty"`
	PinHash      string `json:"-"`
	IsInitialPin bool   `json:"-"`
}

type CustomerRepository struct {
	pool *db.Pool
}

func NewCustomerRepository(pool *db.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

const customerColumns = `id::text, customer_code, name, COALESCE(phone, ''), COALESCE(pin_code, ''), is_initial_pin`

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.CustomerCode, &c.Name, &c.Phone, &c.PinHash, &c.IsInitialPin)
	return c, err
}

// ByName returns every live customer sharing the name, oldest first.
func (r *CustomerRepository) ByName(ctx context.Context, name string) ([]Customer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE name = $1 AND NOT is_deleted
		ORDER BY created_at
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CustomerRepository) ByID(ctx context.Context, id string) (Customer, error) {
	c, err := scanCustomer(r.pool.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE id = $1 AND NOT is_deleted
	`, id))
	if db.IsNotFound(err) {
		return Customer{}, ErrNotFound
	}
	return c, err
}

func (r *CustomerRepository) SetPIN(ctx context.Context, id, hash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE customers SET pin_code = $2, is_initial_pin = false, updated_at = now()
		WHERE id = $1 AND NOT is_deleted
	`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
