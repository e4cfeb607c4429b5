package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/db"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrNameTaken = errors.New("name already exists")
)

type Employee struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"is_active"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type EmployeeRepository struct {
	pool *db.Pool
}

func NewEmployeeRepository(pool *db.Pool) *EmployeeRepository {
	return &EmployeeRepository{pool: pool}
}

const employeeColumns = `id::text, name, role, is_active, password_hash, created_at`

func scanEmployee(row pgx.Row) (Employee, error) {
	var e Employee
	err := row.Scan(&e.ID, &e.Name, &e.Role, &e.IsActive, &e.PasswordHash, &e.CreatedAt)
	if db.IsNotFound(err) {
		return Employee{}, ErrNotFound
	}
	return e, err
}

func (r *EmployeeRepository) GetByName(ctx context.Context, name string) (Employee, error) {
	return scanEmployee(r.pool.QueryRow(ctx, `SELECT `+employeeColumns+` FROM employees WHERE name = $1`, name))
}

func (r *EmployeeRepository) GetByID(ctx context.Context, id string) (Employee, error) {
	return scanEmployee(r.pool.QueryRow(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = $1`, id))
}

func (r *EmployeeRepository) List(ctx context.Context) ([]Employee, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Employee{}
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *EmployeeRepository) CreateTx(ctx context.Context, tx pgx.Tx, e Employee) (Employee, error) {
	out, err := scanEmployee(tx.QueryRow(ctx, `
		INSERT INTO employees (name, role, password_hash, is_active)
		VALUES ($1, $2, $3, true)
		RETURNING `+employeeColumns,
		e.Name, e.Role, e.PasswordHash))
	if db.IsUniqueViolation(err) {
		return Employee{}, ErrNameTaken
	}
	return out, err
}

// EmployeeUpdate leaves a field unchanged when it is nil.
type EmployeeUpdate struct {
	Name         *string
	Role         *string
	IsActive     *bool
	PasswordHash *string
}

func (r *EmployeeRepository) Update(ctx context.Context, id string, u EmployeeUpdate) (Employee, error) {
	out, err := scanEmployee(r.pool.QueryRow(ctx, `
		UPDATE employees
		SET name = COALESCE($2, name),
			role = COALESCE($3, role),
			is_active = COALESCE($4, is_active),
			password_hash = COALESCE($5, password_hash),
			updated_at = now()
		WHERE id = $1
		RETURNING `+employeeColumns,
		id, u.Name, u.Role, u.IsActive, u.PasswordHash))
	if db.IsUniqueViolation(err) {
		return Employee{}, ErrNameTaken
	}
	return out, err
}

func (r *EmployeeRepository) SetPasswordTx(ctx context.Context, tx pgx.Tx, id, hash string) error {
	tag, err := tx.Exec(ctx, `UPDATE employees SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *EmployeeRepository) DeleteTx(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM employees WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *EmployeeRepository) HasPurchaseRequests(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM purchase_requests WHERE employee_id = $1)`, id).Scan(&exists)
	return exists, err
}
