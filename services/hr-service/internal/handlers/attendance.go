package handlers

import (
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/services/hr-service/internal/storage"
	"github.com/md-rashed-zaman/mspharm/services/hr-service/internal/worktime"
)

const defaultLocation = "본점"

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := requireEmployee(w, r)
	if !ok {
		return
	}
	var req struct {
		Location string `json:"location"`
	}
	if !decode(w, r, &req) {
		return
	}
	location := strings.TrimSpace(req.Location)
	if location == "" {
		location = defaultLocation
	}
	now := h.clock.Now()
	day := h.today()
	rec, err := h.repo.CheckIn(r.Context(), storage.Attendance{
		EmployeeID:  actor.ID,
		WorkDate:    day,
		CheckInTime: &now,
		IsHoliday:   worktime.IsWeekend(day),
		Location:    location,
	})
	if errors.Is(err, storage.ErrAlreadyCheckedIn) {
		httpx.WriteError(w, http.StatusBadRequest, "이미 출근 체크가 되어 있습니다")
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "출근 체크 중 오류가 발생했습니다", err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "출근 체크가 완료되었습니다", rec)
}

func (h *Handler) CheckOut(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := requireEmployee(w, r)
	if !ok {
		return
	}
	rec, err := h.repo.AttendanceOn(r.Context(), actor.ID, h.today())
	if errors.Is(err, storage.ErrNotFound) || (err == nil && rec.CheckInTime == nil) {
		httpx.WriteError(w, http.StatusBadRequest, "출근 기록이 없습니다. 먼저 출근 체크를 해주세요.")
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "퇴근 체크 중 오류가 발생했습니다", err)
		return
	}
	if rec.CheckOutTime != nil {
		httpx.WriteError(w, http.StatusBadRequest, "이미 퇴근 체크가 되어 있습니다")
		return
	}
	now := h.clock.Now()
	hours := worktime.Compute(*rec.CheckInTime, now)
	out, err := h.repo.CheckOut(r.Context(), rec.ID, now, hours.Work, hours.Overtime, hours.Night)
	if err != nil {
		httpx.Fail(w, r, h.logger, "퇴근 체크 중 오류가 발생했습니다", err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "퇴근 체크가 완료되었습니다", out)
}

type recordRequest struct {
	EmployeeID   string `json:"employee_id"`
	Date         string `json:"date"`
	CheckInTime  string `json:"check_in_time"`
	CheckOutTime string `json:"check_out_time"`
	Status       string `json:"status"`
	Location     string `json:"location"`
	Notes        string `json:"notes"`
}

// RecordAttendance writes a whole day at once. Employees may record their
// own day; managers may record anyone's.
func (h *Handler) RecordAttendance(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := requireEmployee(w, r)
	if !ok {
		return
	}
	var req recordRequest
	if !decode(w, r, &req) {
		return
	}
	employeeID := strings.TrimSpace(req.EmployeeID)
	if employeeID == "" {
		employeeID = actor.ID
	}
	if employeeID != actor.ID && !actor.IsManager() {
		httpx.WriteError(w, http.StatusForbidden, "근태 기록 수정 권한이 없습니다")
		return
	}
	if req.Date == "" || req.CheckInTime == "" || req.CheckOutTime == "" {
		httpx.WriteError(w, http.StatusBadRequest, "날짜, 출근시간, 퇴근시간은 필수입니다")
		return
	}
	day, err := worktime.ParseDate(req.Date)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "날짜는 YYYY-MM-DD 형식이어야 합니다")
		return
	}
	in, out, err := parseShift(day, req.CheckInTime, req.CheckOutTime)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "시간 형식이 올바르지 않습니다")
		return
	}
	if !out.After(in) {
		httpx.WriteError(w, http.StatusBadRequest, "퇴근 시간은 출근 시간 이후여야 합니다")
		return
	}
	status := req.Status
	switch status {
	case "":
		status = "present"
	case "present", "absent", "vacation", "sick", "late":
	default:
		httpx.WriteError(w, http.StatusBadRequest, "올바르지 않은 근태 상태입니다")
		return
	}
	location := strings.TrimSpace(req.Location)
	if location == "" {
		location = defaultLocation
	}
	hours := worktime.Compute(in, out)
	rec, err := h.repo.UpsertAttendance(r.Context(), storage.Attendance{
		EmployeeID:    employeeID,
		WorkDate:      day,
		CheckInTime:   &in,
		CheckOutTime:  &out,
		WorkHours:     hours.Work,
		OvertimeHours: hours.Overtime,
		NightHours:    hours.Night,
		IsHoliday:     worktime.IsWeekend(day),
		Status:        status,
		Location:      location,
		Notes:         req.Notes,
	})
	if err != nil {
		httpx.Fail(w, r, h.logger, "근무 기록 처리 중 오류가 발생했습니다", err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "근무 기록이 저장되었습니다", rec)
}

// parseClock accepts an RFC 3339 timestamp or an HH:MM wall time on day.
// wall reports which one it was.
func parseClock(day time.Time, s string) (t time.Time, wall bool, err error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, false, nil
	}
	t, err = time.ParseInLocation("15:04", s, worktime.KST)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, worktime.KST), true, nil
}

// parseShift reads a check-in and check-out pair. A wall-time check-out
// earlier than check-in is an overnight shift ending the next day.
func parseShift(day time.Time, in, out string) (time.Time, time.Time, error) {
	start, _, err := parseClock(day, in)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, wall, err := parseClock(day, out)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if wall && end.Before(start) {
		end = end.AddDate(0, 0, 1)
	}
	return start, end, nil
}

func (h *Handler) Today(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	actor, ok := requireEmployee(w, r)
	if !ok {
		return
	}
	rec, err := h.repo.AttendanceOn(r.Context(), actor.ID, h.today())
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteData(w, http.StatusOK, map[string]any{"record": nil, "isCheckedIn": false, "isCheckedOut": false})
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "근태 조회 중 오류가 발생했습니다", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{
		"record":       rec,
		"isCheckedIn":  rec.CheckInTime != nil,
		"isCheckedOut": rec.CheckOutTime != nil,
	})
}

type MonthlyStats struct {
	TotalDays     int     `json:"totalDays"`
	TotalHours    float64 `json:"totalHours"`
	OvertimeHours float64 `json:"overtimeHours"`
	NightHours    float64 `json:"nightHours"`
	HolidayDays   int     `json:"holidayDays"`
	AverageHours  float64 `json:"averageHours"`
	PresentDays   int     `json:"presentDays"`
	AbsentDays    int     `json:"absentDays"`
	LateDays      int     `json:"lateDays"`
	VacationDays  int     `json:"vacationDays"`
}

func monthlyStats(recs []storage.Attendance) MonthlyStats {
	var s MonthlyStats
	for _, a := range recs {
		s.TotalDays++
		s.TotalHours += a.WorkHours
		s.OvertimeHours += a.OvertimeHours
		s.NightHours += a.NightHours
		if a.IsHoliday {
			s.HolidayDays++
		}
		switch a.Status {
		case "present":
			s.PresentDays++
		case "absent":
			s.AbsentDays++
		case "late":
			s.LateDays++
		case "vacation":
			s.VacationDays++
		}
	}
	if s.TotalDays > 0 {
		s.AverageHours = worktime.Round2(s.TotalHours / float64(s.TotalDays))
	}
	s.TotalHours = worktime.Round2(s.TotalHours)
	s.OvertimeHours = worktime.Round2(s.OvertimeHours)
	s.NightHours = worktime.Round2(s.NightHours)
	return s
}

func (h *Handler) Monthly(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	actor, ok := requireEmployee(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	from, to, err := worktime.MonthRange(q.Get("month"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "month는 YYYY-MM 형식이어야 합니다")
		return
	}
	employeeID := strings.TrimSpace(q.Get("employee_id"))
	if employeeID == "" {
		employeeID = actor.ID
	}
	if employeeID != actor.ID && !actor.IsManager() {
		httpx.WriteError(w, http.StatusForbidden, "다른 직원의 근태를 조회할 권한이 없습니다")
		return
	}
	recs, err := h.repo.ListAttendance(r.Context(), employeeID, from, to)
	if err != nil {
		httpx.Fail(w, r, h.logger, "근태 조회 중 오류가 발생했습니다", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{
		"month":   q.Get("month"),
		"records": recs,
		"stats":   monthlyStats(recs),
	})
}

func (h *Handler) DeleteAttendance(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodDelete) {
		return
	}
	if _, ok := requireManager(w, r, "근태 기록 삭제 권한이 없습니다"); !ok {
		return
	}
	id := r.PathValue("id")
	if !knownID(w, id, "근태 기록을 찾을 수 없습니다") {
		return
	}
	err := h.repo.DeleteAttendance(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "근태 기록을 찾을 수 없습니다")
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "근태 기록 삭제 중 오류가 발생했습니다", err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "근태 기록이 삭제되었습니다", nil)
}

// AllAttendance lists every employee's records; the range defaults to the
// current month.
func (h *Handler) AllAttendance(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := requireManager(w, r, msgAdminOnly); !ok {
		return
	}
	today := h.today()
	from := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, worktime.KST)
	to := from.AddDate(0, 1, -1)
	q := r.URL.Query()
	if s := q.Get("start"); s != "" {
		d, err := worktime.ParseDate(s)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "날짜는 YYYY-MM-DD 형식이어야 합니다")
			return
		}
		from = d
	}
	if s := q.Get("end"); s != "" {
		d, err := worktime.ParseDate(s)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "날짜는 YYYY-MM-DD 형식이어야 합니다")
			return
		}
		to = d
	}
	recs, err := h.repo.ListAllAttendance(r.Context(), from, to)
	if err != nil {
		httpx.Fail(w, r, h.logger, "근태 조회 중 오류가 발생했습니다", err)
		return
	}
	var hours float64
	for _, a := range recs {
		hours += a.WorkHours
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{
		"records":    recs,
		"totalHours": math.Round(hours*10) / 10,
		"start":      worktime.Date(from),
		"end":        worktime.Date(to),
	})
}
