package storage

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/outbox"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyDecided   = errors.New("already processed")
	ErrAlreadyCheckedIn = errors.New("already checked in")
)

type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, ob *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: ob}
}

type Employee struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Role           string     `json:"role"`
	IsActive       bool       `json:"is_active"`
	SalaryType     string     `json:"salary_type"`
	DependentCount int        `json:"dependent_count"`
	BaseSalary     int64      `json:"base_salary"`
	HourlyRate     int64      `json:"hourly_rate"`
	HireDate       *time.Time `json:"hire_date"`
	Email          string     `json:"email"`
}

func (r *Repository) GetEmployee(ctx context.Context, id string) (Employee, error) {
	var e Employee
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, name, role, is_active, salary_type, dependent_count,
		       COALESCE(base_salary, 0), COALESCE(hourly_rate, 0), hire_date, COALESCE(email, '')
		FROM employees
		WHERE id = $1
	`, id).Scan(&e.ID, &e.Name, &e.Role, &e.IsActive, &e.SalaryType, &e.DependentCount,
		&e.BaseSalary, &e.HourlyRate, &e.HireDate, &e.Email)
	if db.IsMissing(err) {
		return Employee{}, ErrNotFound
	}
	return e, err
}

// EmployeeNames maps id to name for every employee.
func (r *Repository) EmployeeNames(ctx context.Context) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id::text, name FROM employees`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}
