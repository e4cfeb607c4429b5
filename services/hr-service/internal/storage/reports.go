package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/events"
	"github.com/md-rashed-zaman/mspharm/services/hr-service/internal/taxreport"
)

// ApprovedPayrollLines returns approved payroll whose period starts in
// [from, to), ordered by employee name.
func (r *Repository) ApprovedPayrollLines(ctx context.Context, from, to time.Time) ([]taxreport.Line, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT COALESCE(e.name, ''), p.gross_pay, p.meal_allowance, p.car_allowance, p.childcare_allowance,
		       p.national_pension, p.health_insurance, p.long_term_care, p.employment_insurance,
		       p.income_tax, p.local_income_tax
		FROM payroll p
		LEFT JOIN employees e ON e.id = p.employee_id
		WHERE p.status = 'approved' AND p.pay_period_start >= $1 AND p.pay_period_start < $2
		ORDER BY e.name
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []taxreport.Line
	for rows.Next() {
		var l taxreport.Line
		if err := rows.Scan(&l.EmployeeName, &l.GrossPay, &l.MealAllowance, &l.CarAllowance, &l.ChildcareAllowance,
			&l.NationalPension, &l.HealthInsurance, &l.LongTermCare, &l.EmploymentInsurance,
			&l.IncomeTax, &l.LocalIncomeTax); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SaveTaxReport records a sent report and queues its delivery.
func (r *Repository) SaveTaxReport(ctx context.Context, rep taxreport.Report, recipient, sentBy string, msg events.NotificationRequest) (string, error) {
	data, err := json.Marshal(rep)
	if err != nil {
		return "", err
	}
	var id string
	err = r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO tax_reports (report_month, recipient_email, employee_count, total_gross_pay, report_data, sent_by)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id::text
		`, rep.Month, recipient, rep.EmployeeCount, rep.Totals.GrossPay, data, sentBy).Scan(&id); err != nil {
			return err
		}
		msg.Reference = "tax_report:" + id
		return r.outbox.Emit(ctx, tx, "tax_report", id, events.NotificationRequested, msg)
	})
	return id, err
}

type DashboardStats struct {
	TotalEmployees      int     `json:"totalEmployees"`
	ActiveEmployees     int     `json:"activeEmployees"`
	MonthlyLaborCost    int64   `json:"monthlyLaborCost"`
	PendingPayrolls     int     `json:"pendingPayrolls"`
	ThisMonthAttendance float64 `json:"thisMonthAttendance"`
}

const (
	laborCostPerHour    = 15000
	laborCostPerPremium = 7500
)

// Dashboard summarizes headcount and the attendance of [from, to).
func (r *Repository) Dashboard(ctx context.Context, from, to time.Time) (DashboardStats, error) {
	var s DashboardStats
	if err := r.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE is_active) FROM employees
	`).Scan(&s.TotalEmployees, &s.ActiveEmployees); err != nil {
		return s, err
	}
	var hours, overtime, night float64
	if err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(sum(work_hours), 0)::float8, COALESCE(sum(overtime_hours), 0)::float8,
		       COALESCE(sum(night_hours), 0)::float8
		FROM attendance
		WHERE work_date >= $1 AND work_date < $2
	`, from, to).Scan(&hours, &overtime, &night); err != nil {
		return s, err
	}
	s.MonthlyLaborCost = LaborCost(hours, overtime, night)
	s.ThisMonthAttendance = float64(int64(hours*10+0.5)) / 10
	n, err := r.CountPendingPayrolls(ctx)
	if err != nil {
		return s, err
	}
	s.PendingPayrolls = n
	return s, nil
}

// LaborCost estimates a month's labor cost from attendance hours.
func LaborCost(hours, overtime, night float64) int64 {
	return int64(hours*laborCostPerHour + overtime*laborCostPerPremium + night*laborCostPerPremium + 0.5)
}
