package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/libs/money"
	"github.com/md-rashed-zaman/mspharm/libs/payroll"
	"github.com/md-rashed-zaman/mspharm/services/hr-service/internal/storage"
	"github.com/md-rashed-zaman/mspharm/services/hr-service/internal/worktime"
)

const msgNoSalary = "직원의 급여 정보를 찾을 수 없습니다. employees 또는 salaries 테이블에 급여 정보를 입력해주세요."

type calculateRequest struct {
	EmployeeID       string `json:"employee_id"`
	PayPeriodStart   string `json:"pay_period_start"`
	PayPeriodEnd     string `json:"pay_period_end"`
	PaymentDate      string `json:"payment_date"`
	Bonus            int64  `json:"bonus"`
	SpecialAllowance int64  `json:"special_allowance"`
	Notes            string `json:"notes"`
}

func (h *Handler) CalculatePayroll(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := requireManager(w, r, "급여 계산 권한이 없습니다")
	if !ok {
		return
	}
	var req calculateRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.EmployeeID) == "" || req.PayPeriodStart == "" || req.PayPeriodEnd == "" {
		httpx.WriteError(w, http.StatusBadRequest, msgMissingParams)
		return
	}
	start, errStart := worktime.ParseDate(req.PayPeriodStart)
	end, errEnd := worktime.ParseDate(req.PayPeriodEnd)
	if errStart != nil || errEnd != nil || end.Before(start) {
		httpx.WriteError(w, http.StatusBadRequest, "급여 기간이 올바르지 않습니다")
		return
	}
	paymentDate := end
	if req.PaymentDate != "" {
		d, err := worktime.ParseDate(req.PaymentDate)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "날짜는 YYYY-MM-DD 형식이어야 합니다")
			return
		}
		paymentDate = d
	}

	ctx := r.Context()
	emp, err := h.repo.GetEmployee(ctx, req.EmployeeID)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "직원 정보를 찾을 수 없습니다")
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "급여 계산 중 오류가 발생했습니다", err)
		return
	}
	salary, err := h.contractFor(ctx, emp, start, end)
	if errors.Is(err, payroll.ErrNoSalary) {
		httpx.WriteError(w, http.StatusNotFound, msgNoSalary)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "급여 계산 중 오류가 발생했습니다", err)
		return
	}
	days, err := h.repo.PresentDays(ctx, emp.ID, start, end)
	if err != nil {
		httpx.Fail(w, r, h.logger, "급여 계산 중 오류가 발생했습니다", err)
		return
	}
	res, err := h.calc.Calculate(ctx, payroll.Input{
		SalaryType:       emp.SalaryType,
		Dependents:       emp.DependentCount,
		Salary:           salary,
		Work:             payroll.Summarize(days),
		Bonus:            req.Bonus,
		SpecialAllowance: req.SpecialAllowance,
	})
	if err != nil {
		httpx.Fail(w, r, h.logger, "급여 계산 중 오류가 발생했습니다", err)
		return
	}

	row := storage.PayrollFromResult(emp.ID, start, end, paymentDate, res)
	row.Notes = payrollNotes(req.Notes, res.WeeklyHolidayPay)
	row.CalculatedBy = &actor.ID
	saved, err := h.repo.UpsertPayroll(ctx, row)
	if err != nil {
		httpx.Fail(w, r, h.logger, "급여 저장 중 오류가 발생했습니다", err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "급여가 계산되었습니다", map[string]any{
		"payroll":     saved,
		"calculation": res,
	})
}

// contractFor picks the salary row for the period, falling back to the
// figures on the employee record.
func (h *Handler) contractFor(ctx context.Context, emp storage.Employee, start, end time.Time) (payroll.Salary, error) {
	s, err := h.repo.SalaryForPeriod(ctx, emp.ID, start, end)
	if err == nil {
		return payroll.Salary{
			BaseSalary:         s.BaseSalary,
			HourlyRate:         float64(s.HourlyRate),
			OvertimeRate:       s.OvertimeRate,
			NightShiftRate:     s.NightShiftRate,
			HolidayRate:        s.HolidayRate,
			MealAllowance:      s.MealAllowance,
			CarAllowance:       s.CarAllowance,
			ChildcareAllowance: s.ChildcareAllowance,
			FixedOvertimePay:   s.FixedOvertimePay,
		}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return payroll.Salary{}, err
	}
	fallback, ok := payroll.SalaryFromEmployee(emp.BaseSalary, emp.HourlyRate, h.calc.Rates.MinimumWage.MonthlyHours)
	if !ok {
		return payroll.Salary{}, payroll.ErrNoSalary
	}
	return fallback, nil
}

func payrollNotes(notes string, weekly int64) string {
	notes = strings.TrimSpace(notes)
	if weekly <= 0 {
		return notes
	}
	line := "주휴 수당: " + money.Won(weekly) + "원"
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

func (h *Handler) ListPayroll(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	actor, ok := requireEmployee(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := storage.PayrollFilter{Status: q.Get("status")}
	if actor.IsManager() {
		f.EmployeeID = strings.TrimSpace(q.Get("employee_id"))
	} else {
		f.EmployeeID = actor.ID
	}
	if year := queryInt(r, "year", 0); year > 0 {
		from := time.Date(year, time.January, 1, 0, 0, 0, 0, worktime.KST)
		to := from.AddDate(1, 0, 0)
		if month := queryInt(r, "month", 0); month >= 1 && month <= 12 {
			from = time.Date(year, time.Month(month), 1, 0, 0, 0, 0, worktime.KST)
			to = from.AddDate(0, 1, 0)
		}
		f.From, f.To = &from, &to
	}
	list, err := h.repo.ListPayroll(r.Context(), f)
	if err != nil {
		httpx.Fail(w, r, h.logger, "급여 조회 중 오류가 발생했습니다", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, list)
}

func (h *Handler) ApprovePayroll(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	if !actor.IsOwner() {
		httpx.WriteError(w, http.StatusForbidden, "급여 승인 권한이 없습니다")
		return
	}
	id := r.PathValue("id")
	if !knownID(w, id, msgNoPayroll) {
		return
	}
	ctx := r.Context()
	p, err := h.repo.GetPayroll(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, msgNoPayroll)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "급여 승인 중 오류가 발생했습니다", err)
		return
	}
	if p.Status != "draft" && p.Status != "pending" {
		httpx.WriteError(w, http.StatusBadRequest, "이미 처리된 급여입니다")
		return
	}
	approved, err := h.repo.ApprovePayroll(ctx, p.ID, actor.ID)
	if errors.Is(err, storage.ErrAlreadyDecided) {
		httpx.WriteError(w, http.StatusBadRequest, "이미 처리된 급여입니다")
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "급여 승인 중 오류가 발생했습니다", err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "급여가 승인되었습니다", approved)
}

type netToGrossRequest struct {
	NetTarget          int64  `json:"net_target"`
	DependentCount     *int   `json:"dependent_count"`
	MealAllowance      *int64 `json:"meal_allowance"`
	CarAllowance       int64  `json:"car_allowance"`
	ChildcareAllowance int64  `json:"childcare_allowance"`
}

type netToGrossResponse struct {
	GrossPayCalculated  int64 `json:"gross_pay_calculated"`
	TaxableCalculated   int64 `json:"taxable_calculated"`
	TotalNonTaxable     int64 `json:"total_non_taxable"`
	NationalPension     int64 `json:"national_pension"`
	HealthInsurance     int64 `json:"health_insurance"`
	LongTermCare        int64 `json:"long_term_care"`
	EmploymentInsurance int64 `json:"employment_insurance"`
	IncomeTax           int64 `json:"income_tax"`
	LocalTax            int64 `json:"local_tax"`
	TotalDeductions     int64 `json:"total_deductions"`
	NetPayResult        int64 `json:"net_pay_result"`
	Iterations          int   `json:"iterations"`
	Difference          int64 `json:"difference"`
}

func (h *Handler) NetToGross(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := requireEmployee(w, r); !ok {
		return
	}
	var req netToGrossRequest
	if !decode(w, r, &req) {
		return
	}
	if req.NetTarget <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "목표 실수령액을 입력해주세요")
		return
	}
	nonTaxable := deref(req.MealAllowance, payroll.DefaultMealAllowance) + req.CarAllowance + req.ChildcareAllowance
	res, err := h.calc.NetToGross(r.Context(), req.NetTarget, nonTaxable, deref(req.DependentCount, 1))
	if err != nil {
		httpx.Fail(w, r, h.logger, "역산 계산 중 오류가 발생했습니다", err)
		return
	}
	d := res.Deductions
	httpx.WriteData(w, http.StatusOK, netToGrossResponse{
		GrossPayCalculated:  res.Gross,
		TaxableCalculated:   res.Taxable,
		TotalNonTaxable:     res.NonTaxable,
		NationalPension:     d.NationalPension,
		HealthInsurance:     d.HealthInsurance,
		LongTermCare:        d.LongTermCare,
		EmploymentInsurance: d.EmploymentInsurance,
		IncomeTax:           d.IncomeTax,
		LocalTax:            d.LocalIncomeTax,
		TotalDeductions:     d.Total,
		NetPayResult:        res.Net,
		Iterations:          res.Iterations,
		Difference:          res.Difference,
	})
}
