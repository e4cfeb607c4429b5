package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/db"
)

type Salary struct {
	ID                 string     `json:"id"`
	EmployeeID         string     `json:"employee_id"`
	BaseSalary         int64      `json:"base_salary"`
	HourlyRate         int64      `json:"hourly_rate"`
	OvertimeRate       float64    `json:"overtime_rate"`
	NightShiftRate     float64    `json:"night_shift_rate"`
	HolidayRate        float64    `json:"holiday_rate"`
	MealAllowance      int64      `json:"meal_allowance"`
	CarAllowance       int64      `json:"car_allowance"`
	ChildcareAllowance int64      `json:"childcare_allowance"`
	FixedOvertimeHours float64    `json:"fixed_overtime_hours"`
	FixedOvertimePay   int64      `json:"fixed_overtime_pay"`
	EffectiveFrom      time.Time  `json:"effective_from"`
	EffectiveTo        *time.Time `json:"effective_to"`
	CreatedBy          *string    `json:"created_by"`
	CreatedAt          time.Time  `json:"created_at"`
}

const salaryColumns = `id::text, employee_id::text, base_salary, hourly_rate, overtime_rate::float8,
	night_shift_rate::float8, holiday_rate::float8, meal_allowance, car_allowance, childcare_allowance,
	fixed_overtime_hours::float8, fixed_overtime_pay, effective_from, effective_to, created_by::text, created_at`

func scanSalary(row pgx.Row) (Salary, error) {
	var s Salary
	err := row.Scan(&s.ID, &s.EmployeeID, &s.BaseSalary, &s.HourlyRate, &s.OvertimeRate,
		&s.NightShiftRate, &s.HolidayRate, &s.MealAllowance, &s.CarAllowance, &s.ChildcareAllowance,
		&s.FixedOvertimeHours, &s.FixedOvertimePay, &s.EffectiveFrom, &s.EffectiveTo, &s.CreatedBy, &s.CreatedAt)
	return s, err
}

// SetSalary closes the open salary row at s.EffectiveFrom and inserts s.
func (r *Repository) SetSalary(ctx context.Context, s Salary) (Salary, error) {
	var out Salary
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE salaries SET effective_to = $2
			WHERE employee_id = $1 AND effective_to IS NULL
		`, s.EmployeeID, s.EffectiveFrom); err != nil {
			return err
		}
		var err error
		out, err = scanSalary(tx.QueryRow(ctx, `
			INSERT INTO salaries (employee_id, base_salary, hourly_rate, overtime_rate, night_shift_rate,
				holiday_rate, meal_allowance, car_allowance, childcare_allowance, fixed_overtime_hours,
				fixed_overtime_pay, effective_from, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING `+salaryColumns,
			s.EmployeeID, s.BaseSalary, s.HourlyRate, s.OvertimeRate, s.NightShiftRate,
			s.HolidayRate, s.MealAllowance, s.CarAllowance, s.ChildcareAllowance, s.FixedOvertimeHours,
			s.FixedOvertimePay, s.EffectiveFrom, s.CreatedBy))
		return err
	})
	return out, err
}

func (r *Repository) ListSalaries(ctx context.Context, employeeID string) ([]Salary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+salaryColumns+`
		FROM salaries
		WHERE employee_id = $1
		ORDER BY effective_from DESC
	`, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Salary
	for rows.Next() {
		s, err := scanSalary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SalaryForPeriod returns the salary valid in [start, end], else the most
// recent one. ErrNotFound when the employee has no salary rows.
func (r *Repository) SalaryForPeriod(ctx context.Context, employeeID string, start, end time.Time) (Salary, error) {
	s, err := scanSalary(r.pool.QueryRow(ctx, `
		SELECT `+salaryColumns+`
		FROM salaries
		WHERE employee_id = $1
		  AND effective_from <= $3
		  AND (effective_to IS NULL OR effective_to >= $2)
		ORDER BY effective_from DESC
		LIMIT 1
	`, employeeID, start, end))
	if err == nil {
		return s, nil
	}
	if !db.IsNotFound(err) {
		return Salary{}, err
	}
	s, err = scanSalary(r.pool.QueryRow(ctx, `
		SELECT `+salaryColumns+`
		FROM salaries
		WHERE employee_id = $1
		ORDER BY effective_from DESC
		LIMIT 1
	`, employeeID))
	if db.IsNotFound(err) {
		return Salary{}, ErrNotFound
	}
	return s, err
}
