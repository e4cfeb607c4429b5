package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/libs/payroll"
	"github.com/md-rashed-zaman/mspharm/services/hr-service/internal/storage"
	"github.com/md-rashed-zaman/mspharm/services/hr-service/internal/worktime"
)

const (
	msgMissingParams = "필수 파라미터가 누락되었습니다"
	msgAdminOnly     = "관리자만 접근할 수 있습니다"
	msgInvalidBody   = "잘못된 요청 형식입니다"

	msgNoLeaveType    = "휴가 종류를 찾을 수 없습니다"
	msgNoLeaveRequest = "휴가 신청을 찾을 수 없습니다"
	msgNoPayroll      = "급여 레코드를 찾을 수 없습니다"
)

type Handler struct {
	repo   *storage.Repository
	calc   payroll.Calculator
	clock  clockwork.Clock
	logger *slog.Logger
}

func New(repo *storage.Repository, calc payroll.Calculator, clock clockwork.Clock, logger *slog.Logger) *Handler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Handler{repo: repo, calc: calc, clock: clock, logger: logger}
}

// Register mounts every hr route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/hr/salary/set", h.SetSalary)
	mux.HandleFunc("/api/hr/salary", h.ListSalaries)

	mux.HandleFunc("/api/hr/attendance/check-in", h.CheckIn)
	mux.HandleFunc("/api/hr/attendance/check-out", h.CheckOut)
	mux.HandleFunc("/api/hr/attendance/record", h.RecordAttendance)
	mux.HandleFunc("/api/hr/attendance/today", h.Today)
	mux.HandleFunc("/api/hr/attendance/monthly", h.Monthly)
	mux.HandleFunc("/api/hr/attendance/{id}/delete", h.DeleteAttendance)
	mux.HandleFunc("/api/hr/admin/attendance-all", h.AllAttendance)

	mux.HandleFunc("/api/hr/leave/request", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			h.ListLeave(w, r)
			return
		}
		h.RequestLeave(w, r)
	})
	mux.HandleFunc("/api/hr/leave/{id}/approve", h.ApproveLeave)
	mux.HandleFunc("/api/hr/leave/{id}/reject", h.RejectLeave)
	mux.HandleFunc("/api/hr/leave/balance", h.LeaveBalance)
	mux.HandleFunc("/api/hr/leave/grant-annual", h.GrantAnnual)

	mux.HandleFunc("/api/payroll-2026/calculate", h.CalculatePayroll)
	mux.HandleFunc("/api/hr/payroll/calculate", h.CalculatePayroll)
	mux.HandleFunc("/api/payroll-2026/get", h.ListPayroll)
	mux.HandleFunc("/api/hr/payroll", h.ListPayroll)
	mux.HandleFunc("/api/hr/payroll/{id}/approve", h.ApprovePayroll)
	mux.HandleFunc("/api/hr/calculator/net-to-gross", h.NetToGross)

	mux.HandleFunc("/api/hr/admin/tax-report", h.TaxReport)
	mux.HandleFunc("/api/hr/admin/send-tax-report", h.SendTaxReport)
	mux.HandleFunc("/api/hr/admin/dashboard-stats", h.DashboardStats)
	mux.HandleFunc("/api/hr/admin/settings", h.Settings)
}

func (h *Handler) today() time.Time {
	now := h.clock.Now().In(worktime.KST)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, worktime.KST)
}

func requireManager(w http.ResponseWriter, r *http.Request, denied string) (httpx.Actor, bool) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return actor, false
	}
	if !actor.IsManager() {
		httpx.WriteError(w, http.StatusForbidden, denied)
		return actor, false
	}
	return actor, true
}

// knownID answers 404 with msg for ids that cannot name a row.
func knownID(w http.ResponseWriter, id, msg string) bool {
	if httpx.ValidID(id) {
		return true
	}
	httpx.WriteError(w, http.StatusNotFound, msg)
	return false
}

func requireEmployee(w http.ResponseWriter, r *http.Request) (httpx.Actor, bool) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return actor, false
	}
	if !actor.IsEmployee() {
		httpx.WriteError(w, http.StatusForbidden, "직원만 사용할 수 있습니다")
		return actor, false
	}
	return actor, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidBody)
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return fallback
	}
	return v
}
