package handlers

import (
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/libs/payroll"
	"github.com/md-rashed-zaman/mspharm/services/hr-service/internal/storage"
	"github.com/md-rashed-zaman/mspharm/services/hr-service/internal/worktime"
)

type setSalaryRequest struct {
	EmployeeID         string   `json:"employee_id"`
	BaseSalary         *int64   `json:"base_salary"`
	HourlyRate         *int64   `json:"hourly_rate"`
	OvertimeRate       *float64 `json:"overtime_rate"`
	NightShiftRate     *float64 `json:"night_shift_rate"`
	HolidayRate        *float64 `json:"holiday_rate"`
	MealAllowance      *int64   `json:"meal_allowance"`
	CarAllowance       int64    `json:"car_allowance"`
	ChildcareAllowance int64    `json:"childcare_allowance"`
	FixedOvertimeHours float64  `json:"fixed_overtime_hours"`
	FixedOvertimePay   int64    `json:"fixed_overtime_pay"`
	EffectiveFrom      string   `json:"effective_from"`
}

func (h *Handler) SetSalary(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := requireManager(w, r, "급여 설정 권한이 없습니다")
	if !ok {
		return
	}
	var req setSalaryRequest
	if !decode(w, r, &req) {
		return
	}
	req.EmployeeID = strings.TrimSpace(req.EmployeeID)
	if req.EmployeeID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "employee_id가 필요합니다")
		return
	}
	if req.BaseSalary == nil && req.HourlyRate == nil {
		httpx.WriteError(w, http.StatusBadRequest, "기본급 또는 시급 중 하나는 필수입니다")
		return
	}

	from := h.today()
	if req.EffectiveFrom != "" {
		d, err := worktime.ParseDate(req.EffectiveFrom)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "날짜는 YYYY-MM-DD 형식이어야 합니다")
			return
		}
		from = d
	}

	s := storage.Salary{
		EmployeeID:         req.EmployeeID,
		BaseSalary:         deref(req.BaseSalary, 0),
		HourlyRate:         deref(req.HourlyRate, 0),
		OvertimeRate:       deref(req.OvertimeRate, payroll.DefaultOvertimeRate),
		NightShiftRate:     deref(req.NightShiftRate, payroll.DefaultNightRate),
		HolidayRate:        deref(req.HolidayRate, payroll.DefaultHolidayRate),
		MealAllowance:      deref(req.MealAllowance, payroll.DefaultMealAllowance),
		CarAllowance:       req.CarAllowance,
		ChildcareAllowance: req.ChildcareAllowance,
		FixedOvertimeHours: req.FixedOvertimeHours,
		FixedOvertimePay:   req.FixedOvertimePay,
		EffectiveFrom:      from,
		CreatedBy:          &actor.ID,
	}
	saved, err := h.repo.SetSalary(r.Context(), s)
	if err != nil {
		httpx.Fail(w, r, h.logger, "급여 설정 중 오류가 발생했습니다", err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "급여 정보가 설정되었습니다", saved)
}

func (h *Handler) ListSalaries(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	actor, ok := requireEmployee(w, r)
	if !ok {
		return
	}
	employeeID := strings.TrimSpace(r.URL.Query().Get("employee_id"))
	if employeeID == "" {
		employeeID = actor.ID
	}
	if employeeID != actor.ID && !actor.IsManager() {
		httpx.WriteError(w, http.StatusForbidden, "다른 직원의 급여 정보를 조회할 권한이 없습니다")
		return
	}
	list, err := h.repo.ListSalaries(r.Context(), employeeID)
	if err != nil {
		httpx.Fail(w, r, h.logger, "급여 정보 조회 중 오류가 발생했습니다", err)
		return
	}
	if list == nil {
		list = []storage.Salary{}
	}
	httpx.WriteData(w, http.StatusOK, list)
}

func deref[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
