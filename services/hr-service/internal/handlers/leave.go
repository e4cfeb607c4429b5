package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/services/hr-service/internal/leave"
	"github.com/md-rashed-zaman/mspharm/services/hr-service/internal/storage"
	"github.com/md-rashed-zaman/mspharm/services/hr-service/internal/worktime"
)

type leaveRequestBody struct {
	LeaveTypeID string  `json:"leave_type_id"`
	StartDate   string  `json:"start_date"`
	EndDate     string  `json:"end_date"`
	TotalDays   float64 `json:"total_days"`
	Reason      string  `json:"reason"`
}

func (h *Handler) RequestLeave(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := requireEmployee(w, r)
	if !ok {
		return
	}
	var req leaveRequestBody
	if !decode(w, r, &req) {
		return
	}
	if req.LeaveTypeID == "" || req.StartDate == "" || req.EndDate == "" || req.TotalDays <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, msgMissingParams)
		return
	}
	start, errStart := worktime.ParseDate(req.StartDate)
	end, errEnd := worktime.ParseDate(req.EndDate)
	if errStart != nil || errEnd != nil {
		httpx.WriteError(w, http.StatusBadRequest, "날짜는 YYYY-MM-DD 형식이어야 합니다")
		return
	}
	if end.Before(start) {
		httpx.WriteError(w, http.StatusBadRequest, "종료일은 시작일 이후여야 합니다")
		return
	}

	ctx := r.Context()
	if !knownID(w, req.LeaveTypeID, msgNoLeaveType) {
		return
	}
	lt, err := h.repo.LeaveTypeByID(ctx, req.LeaveTypeID)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, msgNoLeaveType)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "휴가 신청 중 오류가 발생했습니다", err)
		return
	}
	if lt.MaxDaysPerYear != nil {
		remaining, err := h.repo.Remaining(ctx, actor.ID, lt.ID, start.Year())
		if err != nil {
			httpx.Fail(w, r, h.logger, "휴가 신청 중 오류가 발생했습니다", err)
			return
		}
		if remaining < req.TotalDays {
			httpx.WriteError(w, http.StatusBadRequest, fmt.Sprintf("휴가 잔여 일수가 부족합니다 (잔여: %g일)", remaining))
			return
		}
	}
	overlap, err := h.repo.HasOverlappingLeave(ctx, actor.ID, start, end)
	if err != nil {
		httpx.Fail(w, r, h.logger, "휴가 신청 중 오류가 발생했습니다", err)
		return
	}
	if overlap {
		httpx.WriteError(w, http.StatusBadRequest, "해당 기간에 이미 휴가 신청이 있습니다")
		return
	}
	created, err := h.repo.CreateLeaveRequest(ctx, storage.LeaveRequest{
		EmployeeID:  actor.ID,
		LeaveTypeID: lt.ID,
		StartDate:   start,
		EndDate:     end,
		TotalDays:   req.TotalDays,
		Reason:      strings.TrimSpace(req.Reason),
	})
	if err != nil {
		httpx.Fail(w, r, h.logger, "휴가 신청 중 오류가 발생했습니다", err)
		return
	}
	created.LeaveTypeCode, created.LeaveTypeName = lt.Code, lt.Name
	httpx.WriteMessage(w, http.StatusCreated, "휴가 신청이 완료되었습니다", created)
}

func (h *Handler) ListLeave(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	actor, ok := requireEmployee(w, r)
	if !ok {
		return
	}
	employeeID := actor.ID
	if actor.IsManager() {
		employeeID = strings.TrimSpace(r.URL.Query().Get("employee_id"))
	}
	list, err := h.repo.ListLeaveRequests(r.Context(), employeeID, r.URL.Query().Get("status"))
	if err != nil {
		httpx.Fail(w, r, h.logger, "휴가 신청 조회 중 오류가 발생했습니다", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, list)
}

// loadPending fetches a leave request for a decision and writes the guard
// errors shared by approve and reject.
func (h *Handler) loadPending(w http.ResponseWriter, r *http.Request, actor httpx.Actor) (storage.LeaveRequest, bool) {
	id := r.PathValue("id")
	if !knownID(w, id, msgNoLeaveRequest) {
		return storage.LeaveRequest{}, false
	}
	req, err := h.repo.GetLeaveRequest(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, msgNoLeaveRequest)
		return req, false
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "휴가 처리 중 오류가 발생했습니다", err)
		return req, false
	}
	if req.Status != "pending" {
		httpx.WriteError(w, http.StatusBadRequest, "이미 처리된 휴가 신청입니다")
		return req, false
	}
	if req.EmployeeID == actor.ID {
		httpx.WriteError(w, http.StatusForbidden, "본인의 휴가는 승인할 수 없습니다")
		return req, false
	}
	return req, true
}

func (h *Handler) ApproveLeave(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := requireManager(w, r, "휴가 승인 권한이 없습니다")
	if !ok {
		return
	}
	req, ok := h.loadPending(w, r, actor)
	if !ok {
		return
	}
	approved, err := h.repo.ApproveLeave(r.Context(), req, actor.ID, worktime.Dates(req.StartDate, req.EndDate))
	if errors.Is(err, storage.ErrAlreadyDecided) {
		httpx.WriteError(w, http.StatusBadRequest, "이미 처리된 휴가 신청입니다")
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "휴가 승인 중 오류가 발생했습니다", err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "휴가가 승인되었습니다", approved)
}

func (h *Handler) RejectLeave(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := requireManager(w, r, "휴가 반려 권한이 없습니다")
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &body) {
		return
	}
	req, ok := h.loadPending(w, r, actor)
	if !ok {
		return
	}
	rejected, err := h.repo.RejectLeave(r.Context(), req.ID, actor.ID, strings.TrimSpace(body.Reason))
	if errors.Is(err, storage.ErrAlreadyDecided) {
		httpx.WriteError(w, http.StatusBadRequest, "이미 처리된 휴가 신청입니다")
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "휴가 반려 중 오류가 발생했습니다", err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "휴가가 반려되었습니다", rejected)
}

func (h *Handler) LeaveBalance(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	actor, ok := requireEmployee(w, r)
	if !ok {
		return
	}
	year := queryInt(r, "year", h.today().Year())
	employeeID := strings.TrimSpace(r.URL.Query().Get("employee_id"))
	if employeeID == "" {
		employeeID = actor.ID
	}
	if employeeID != actor.ID && !actor.IsManager() {
		httpx.WriteError(w, http.StatusForbidden, "다른 직원의 휴가 잔여를 조회할 권한이 없습니다")
		return
	}
	balances, err := h.repo.Balances(r.Context(), employeeID, year)
	if err != nil {
		httpx.Fail(w, r, h.logger, "휴가 잔여 조회 중 오류가 발생했습니다", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{"year": year, "employee_id": employeeID, "balances": balances})
}

func (h *Handler) GrantAnnual(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := requireManager(w, r, "연차 부여 권한이 없습니다"); !ok {
		return
	}
	var req struct {
		EmployeeID string `json:"employee_id"`
		Year       int    `json:"year"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.EmployeeID) == "" || req.Year == 0 {
		httpx.WriteError(w, http.StatusBadRequest, "employee_id와 year가 필요합니다")
		return
	}
	ctx := r.Context()
	if !knownID(w, req.EmployeeID, "직원 정보를 찾을 수 없습니다") {
		return
	}
	emp, err := h.repo.GetEmployee(ctx, req.EmployeeID)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "직원 정보를 찾을 수 없습니다")
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "연차 부여 중 오류가 발생했습니다", err)
		return
	}
	if emp.HireDate == nil {
		httpx.WriteError(w, http.StatusBadRequest, "입사일 정보가 없습니다")
		return
	}
	lt, err := h.repo.LeaveTypeByCode(ctx, leave.CodeAnnual)
	if err != nil {
		httpx.Fail(w, r, h.logger, "연차 부여 중 오류가 발생했습니다", err)
		return
	}
	days := leave.AnnualDays(emp.HireDate.In(worktime.KST), req.Year)
	if err := h.repo.GrantAnnual(ctx, emp.ID, lt.ID, req.Year, float64(days)); err != nil {
		httpx.Fail(w, r, h.logger, "연차 부여 중 오류가 발생했습니다", err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, fmt.Sprintf("%d일의 연차가 부여되었습니다", days), map[string]any{
		"employee_id": emp.ID,
		"year":        req.Year,
		"total_days":  days,
	})
}
