package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/events"
	"github.com/md-rashed-zaman/mspharm/libs/payroll"
)

// Payroll is one stored settlement.
type Payroll struct {
	ID                 string     `json:"id"`
	EmployeeID         string     `json:"employee_id"`
	EmployeeName       string     `json:"employee_name,omitempty"`
	PayPeriodStart     time.Time  `json:"pay_period_start"`
	PayPeriodEnd       time.Time  `json:"pay_period_end"`
	PaymentDate        time.Time  `json:"payment_date"`
	SalaryType         string     `json:"salary_type"`
	BasePay            int64      `json:"base_pay"`
	OvertimePay        int64      `json:"overtime_pay"`
	NightShiftPay      int64      `json:"night_shift_pay"`
	HolidayPay         int64      `json:"holiday_pay"`
	WeeklyHolidayPay   int64      `json:"weekly_holiday_pay"`
	FixedOvertimePay   int64      `json:"fixed_overtime_pay"`
	Bonus              int64      `json:"bonus"`
	MealAllowance      int64      `json:"meal_allowance"`
	CarAllowance       int64      `json:"car_allowance"`
	ChildcareAllowance int64      `json:"childcare_allowance"`
	TotalNonTaxable    int64      `json:"total_non_taxable"`
	GrossPay           int64      `json:"gross_pay"`
	TaxableIncome      int64      `json:"taxable_income"`
	NationalPension    int64      `json:"national_pension"`
	HealthInsurance    int64      `json:"health_insurance"`
	LongTermCare       int64      `json:"long_term_care"`
	EmploymentIns      int64      `json:"employment_insurance"`
	IncomeTax          int64      `json:"income_tax"`
	LocalIncomeTax     int64      `json:"local_income_tax"`
	TotalDeductions    int64      `json:"total_deductions"`
	NetPay             int64      `json:"net_pay"`
	NetTarget          *int64     `json:"net_target"`
	GrossCalculated    *int64     `json:"gross_calculated"`
	WorkDays           int        `json:"work_days"`
	WorkHours          float64    `json:"work_hours"`
	OvertimeHours      float64    `json:"overtime_hours"`
	NightHours         float64    `json:"night_hours"`
	HolidayHours       float64    `json:"holiday_hours"`
	DependentCount     int        `json:"dependent_count"`
	MinimumWageOK      bool       `json:"minimum_wage_ok"`
	Notes              string     `json:"notes"`
	Status             string     `json:"status"`
	ApprovedBy         *string    `json:"approved_by"`
	ApprovedAt         *time.Time `json:"approved_at"`
	CalculatedBy       *string    `json:"calculated_by"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// PayrollFromResult maps a calculation onto a storable row.
func PayrollFromResult(employeeID string, start, end, paymentDate time.Time, res payroll.Result) Payroll {
	d := res.Deductions
	return Payroll{
		EmployeeID:         employeeID,
		PayPeriodStart:     start,
		PayPeriodEnd:       end,
		PaymentDate:        paymentDate,
		SalaryType:         res.SalaryType,
		BasePay:            res.BasePay,
		OvertimePay:        res.OvertimePay,
		NightShiftPay:      res.NightShiftPay,
		HolidayPay:         res.HolidayPay,
		WeeklyHolidayPay:   res.WeeklyHolidayPay,
		FixedOvertimePay:   res.FixedOvertimePay,
		Bonus:              res.Bonus,
		MealAllowance:      res.MealAllowance,
		CarAllowance:       res.CarAllowance,
		ChildcareAllowance: res.ChildcareAllowance,
		TotalNonTaxable:    res.TotalNonTaxable,
		GrossPay:           res.GrossPay,
		TaxableIncome:      res.TaxableIncome,
		NationalPension:    d.NationalPension,
		HealthInsurance:    d.HealthInsurance,
		LongTermCare:       d.LongTermCare,
		EmploymentIns:      d.EmploymentInsurance,
		IncomeTax:          d.IncomeTax,
		LocalIncomeTax:     d.LocalIncomeTax,
		TotalDeductions:    d.Total,
		NetPay:             res.NetPay,
		NetTarget:          res.NetTarget,
		GrossCalculated:    res.GrossCalculated,
		WorkDays:           res.Work.Days,
		WorkHours:          res.Work.Hours,
		OvertimeHours:      res.Work.OvertimeHours,
		NightHours:         res.Work.NightHours,
		HolidayHours:       res.Work.HolidayHours,
		DependentCount:     res.Dependents,
		MinimumWageOK:      res.MinimumWageOK,
	}
}

const payrollColumns = `p.id::text, p.employee_id::text, COALESCE(e.name, '알 수 없음'),
	p.pay_period_start, p.pay_period_end, p.payment_date, p.salary_type,
	p.base_pay, p.overtime_pay, p.night_shift_pay, p.holiday_pay, p.weekly_holiday_pay, p.fixed_overtime_pay,
	p.bonus, p.meal_allowance, p.car_allowance, p.childcare_allowance, p.total_non_taxable,
	p.gross_pay, p.taxable_income, p.national_pension, p.health_insurance, p.long_term_care,
	p.employment_insurance, p.income_tax, p.local_income_tax, p.total_deductions, p.net_pay,
	p.net_target, p.gross_calculated, p.work_days, p.work_hours::float8, p.overtime_hours::float8,
	p.night_hours::float8, p.holiday_hours::float8, p.dependent_count, p.minimum_wage_ok,
	COALESCE(p.notes, ''), p.status, p.approved_by::text, p.approved_at, p.calculated_by::text,
	p.created_at, p.updated_at`

const payrollFrom = ` FROM payroll p LEFT JOIN employees e ON e.id = p.employee_id`

func scanPayroll(row pgx.Row) (Payroll, error) {
	var p Payroll
	err := row.Scan(&p.ID, &p.EmployeeID, &p.EmployeeName,
		&p.PayPeriodStart, &p.PayPeriodEnd, &p.PaymentDate, &p.SalaryType,
		&p.BasePay, &p.OvertimePay, &p.NightShiftPay, &p.HolidayPay, &p.WeeklyHolidayPay, &p.FixedOvertimePay,
		&p.Bonus, &p.MealAllowance, &p.CarAllowance, &p.ChildcareAllowance, &p.TotalNonTaxable,
		&p.GrossPay, &p.TaxableIncome, &p.NationalPension, &p.HealthInsurance, &p.LongTermCare,
		&p.EmploymentIns, &p.IncomeTax, &p.LocalIncomeTax, &p.TotalDeductions, &p.NetPay,
		&p.NetTarget, &p.GrossCalculated, &p.WorkDays, &p.WorkHours, &p.OvertimeHours,
		&p.NightHours, &p.HolidayHours, &p.DependentCount, &p.MinimumWageOK,
		&p.Notes, &p.Status, &p.ApprovedBy, &p.ApprovedAt, &p.CalculatedBy,
		&p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// UpsertPayroll stores a settlement keyed by employee and period. A
// recalculation resets the row to draft.
func (r *Repository) UpsertPayroll(ctx context.Context, p Payroll) (Payroll, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO payroll (employee_id, pay_period_start, pay_period_end, payment_date, salary_type,
			base_pay, overtime_pay, night_shift_pay, holiday_pay, weekly_holiday_pay, fixed_overtime_pay,
			bonus, meal_allowance, car_allowance, childcare_allowance, total_non_taxable,
			gross_pay, taxable_income, national_pension, health_insurance, long_term_care,
			employment_insurance, income_tax, local_income_tax, total_deductions, net_pay,
			net_target, gross_calculated, work_days, work_hours, overtime_hours, night_hours, holiday_hours,
			dependent_count, minimum_wage_ok, notes, status, calculated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36, 'draft', $37)
		ON CONFLICT (employee_id, pay_period_start, pay_period_end) DO UPDATE SET
			payment_date = EXCLUDED.payment_date,
			salary_type = EXCLUDED.salary_type,
			base_pay = EXCLUDED.base_pay,
			overtime_pay = EXCLUDED.overtime_pay,
			night_shift_pay = EXCLUDED.night_shift_pay,
			holiday_pay = EXCLUDED.holiday_pay,
			weekly_holiday_pay = EXCLUDED.weekly_holiday_pay,
			fixed_overtime_pay = EXCLUDED.fixed_overtime_pay,
			bonus = EXCLUDED.bonus,
			meal_allowance = EXCLUDED.meal_allowance,
			car_allowance = EXCLUDED.car_allowance,
			childcare_allowance = EXCLUDED.childcare_allowance,
			total_non_taxable = EXCLUDED.total_non_taxable,
			gross_pay = EXCLUDED.gross_pay,
			taxable_income = EXCLUDED.taxable_income,
			national_pension = EXCLUDED.national_pension,
			health_insurance = EXCLUDED.health_insurance,
			long_term_care = EXCLUDED.long_term_care,
			employment_insurance = EXCLUDED.employment_insurance,
			income_tax = EXCLUDED.income_tax,
			local_income_tax = EXCLUDED.local_income_tax,
			total_deductions = EXCLUDED.total_deductions,
			net_pay = EXCLUDED.net_pay,
			net_target = EXCLUDED.net_target,
			gross_calculated = EXCLUDED.gross_calculated,
			work_days = EXCLUDED.work_days,
			work_hours = EXCLUDED.work_hours,
			overtime_hours = EXCLUDED.overtime_hours,
			night_hours = EXCLUDED.night_hours,
			holiday_hours = EXCLUDED.holiday_hours,
			dependent_count = EXCLUDED.dependent_count,
			minimum_wage_ok = EXCLUDED.minimum_wage_ok,
			notes = EXCLUDED.notes,
			status = 'draft',
			approved_by = NULL,
			approved_at = NULL,
			calculated_by = EXCLUDED.calculated_by,
			updated_at = now()
		RETURNING id::text
	`, p.EmployeeID, p.PayPeriodStart, p.PayPeriodEnd, p.PaymentDate, p.SalaryType,
		p.BasePay, p.OvertimePay, p.NightShiftPay, p.HolidayPay, p.WeeklyHolidayPay, p.FixedOvertimePay,
		p.Bonus, p.MealAllowance, p.CarAllowance, p.ChildcareAllowance, p.TotalNonTaxable,
		p.GrossPay, p.TaxableIncome, p.NationalPension, p.HealthInsurance, p.LongTermCare,
		p.EmploymentIns, p.IncomeTax, p.LocalIncomeTax, p.TotalDeductions, p.NetPay,
		p.NetTarget, p.GrossCalculated, p.WorkDays, p.WorkHours, p.OvertimeHours, p.NightHours, p.HolidayHours,
		p.DependentCount, p.MinimumWageOK, p.Notes, p.CalculatedBy).Scan(&id)
	if err != nil {
		return Payroll{}, err
	}
	return r.GetPayroll(ctx, id)
}

func (r *Repository) GetPayroll(ctx context.Context, id string) (Payroll, error) {
	p, err := scanPayroll(r.pool.QueryRow(ctx, `SELECT `+payrollColumns+payrollFrom+` WHERE p.id::text = $1`, id))
	if db.IsMissing(err) {
		return Payroll{}, ErrNotFound
	}
	return p, err
}

// PayrollFilter narrows ListPayroll. Zero values match everything.
type PayrollFilter struct {
	EmployeeID string
	From, To   *time.Time
	Status     string
}

// ListPayroll returns payrolls whose period starts inside [From, To).
func (r *Repository) ListPayroll(ctx context.Context, f PayrollFilter) ([]Payroll, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+payrollColumns+payrollFrom+`
		WHERE ($1 = '' OR p.employee_id::text = $1)
		  AND ($2::date IS NULL OR p.pay_period_start >= $2)
		  AND ($3::date IS NULL OR p.pay_period_start < $3)
		  AND ($4 = '' OR p.status = $4)
		ORDER BY p.pay_period_start DESC, e.name
	`, f.EmployeeID, f.From, f.To, f.Status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Payroll{}
	for rows.Next() {
		p, err := scanPayroll(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ApprovePayroll moves a draft or pending payroll to approved and emits the
// approval event in the same transaction.
func (r *Repository) ApprovePayroll(ctx context.Context, id, approverID string) (Payroll, error) {
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var (
			employeeID, name, email string
			start, end, payment     time.Time
			gross, deductions, net  int64
		)
		err := tx.QueryRow(ctx, `
			UPDATE payroll p
			SET status = 'approved', approved_by = $2, approved_at = now(), updated_at = now()
			FROM employees e
			WHERE p.id = $1 AND e.id = p.employee_id AND p.status IN ('draft', 'pending')
			RETURNING p.employee_id::text, e.name, COALESCE(e.email, ''), p.pay_period_start, p.pay_period_end,
			          p.payment_date, p.gross_pay, p.total_deductions, p.net_pay
		`, id, approverID).Scan(&employeeID, &name, &email, &start, &end, &payment, &gross, &deductions, &net)
		if db.IsNotFound(err) {
			return ErrAlreadyDecided
		}
		if err != nil {
			return err
		}
		return r.outbox.Emit(ctx, tx, "payroll", id, events.PayrollApproved, events.PayrollApprovedPayload{
			PayrollID:      id,
			EmployeeID:     employeeID,
			EmployeeName:   name,
			EmployeeEmail:  email,
			PayPeriodStart: start.Format("2006-01-02"),
			PayPeriodEnd:   end.Format("2006-01-02"),
			GrossPay:       gross,
			TotalDeduction: deductions,
			NetPay:         net,
			PaymentDate:    payment.Format("2006-01-02"),
		})
	})
	if err != nil {
		return Payroll{}, err
	}
	return r.GetPayroll(ctx, id)
}

func (r *Repository) CountPendingPayrolls(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM payroll WHERE status IN ('draft', 'pending')`).Scan(&n)
	return n, err
}
