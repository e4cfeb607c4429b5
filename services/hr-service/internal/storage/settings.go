package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/db"
)

// PayrollSettings is the single row of payroll configuration.
type PayrollSettings struct {
	AccountantEmail string     `json:"accountant_email"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// PayrollSettings returns ErrNotFound until settings are first saved.
func (r *Repository) PayrollSettings(ctx context.Context) (PayrollSettings, error) {
	var s PayrollSettings
	err := r.pool.QueryRow(ctx, `SELECT accountant_email, updated_at FROM payroll_settings WHERE id = 1`).
		Scan(&s.AccountantEmail, &s.UpdatedAt)
	if db.IsMissing(err) {
		return PayrollSettings{}, ErrNotFound
	}
	return s, err
}

func (r *Repository) SavePayrollSettings(ctx context.Context, accountantEmail string) (PayrollSettings, error) {
	var s PayrollSettings
	err := r.pool.QueryRow(ctx, `
		INSERT INTO payroll_settings (id, accountant_email, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET accountant_email = EXCLUDED.accountant_email, updated_at = now()
		RETURNING accountant_email, updated_at
	`, accountantEmail).Scan(&s.AccountantEmail, &s.UpdatedAt)
	return s, err
}
