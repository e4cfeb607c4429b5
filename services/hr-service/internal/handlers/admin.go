package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"github.com/md-rashed-zaman/mspharm/libs/events"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/libs/money"
	"github.com/md-rashed-zaman/mspharm/services/hr-service/internal/storage"
	"github.com/md-rashed-zaman/mspharm/services/hr-service/internal/taxreport"
	"github.com/md-rashed-zaman/mspharm/services/hr-service/internal/worktime"
)

func (h *Handler) buildReport(w http.ResponseWriter, r *http.Request, month string) (taxreport.Report, bool) {
	from, to, err := worktime.MonthRange(month)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "month는 YYYY-MM 형식이어야 합니다")
		return taxreport.Report{}, false
	}
	lines, err := h.repo.ApprovedPayrollLines(r.Context(), from, to.AddDate(0, 0, 1))
	if err != nil {
		httpx.Fail(w, r, h.logger, "급여대장 생성 중 오류가 발생했습니다", err)
		return taxreport.Report{}, false
	}
	return taxreport.Build(month, lines), true
}

func (h *Handler) TaxReport(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost, http.MethodGet) {
		return
	}
	if _, ok := requireManager(w, r, msgAdminOnly); !ok {
		return
	}
	month := r.URL.Query().Get("month")
	if r.Method == http.MethodPost {
		var req struct {
			Month string `json:"month"`
		}
		if !decode(w, r, &req) {
			return
		}
		month = req.Month
	}
	month = strings.TrimSpace(month)
	if month == "" {
		httpx.WriteError(w, http.StatusBadRequest, "월 파라미터가 필요합니다")
		return
	}
	rep, ok := h.buildReport(w, r, month)
	if !ok {
		return
	}
	httpx.WriteData(w, http.StatusOK, rep)
}

func (h *Handler) SendTaxReport(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := requireManager(w, r, msgAdminOnly)
	if !ok {
		return
	}
	var req struct {
		Month     string `json:"month"`
		Recipient string `json:"recipient"`
	}
	if !decode(w, r, &req) {
		return
	}
	req.Month, req.Recipient = strings.TrimSpace(req.Month), strings.TrimSpace(req.Recipient)
	if req.Month == "" {
		httpx.WriteError(w, http.StatusBadRequest, msgMissingParams)
		return
	}
	if req.Recipient == "" {
		settings, err := h.repo.PayrollSettings(r.Context())
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			httpx.Fail(w, r, h.logger, "급여 설정 조회 중 오류가 발생했습니다", err)
			return
		}
		req.Recipient = settings.AccountantEmail
	}
	if req.Recipient == "" {
		httpx.WriteError(w, http.StatusBadRequest, msgMissingParams)
		return
	}
	if _, err := mail.ParseAddress(req.Recipient); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "올바른 이메일 주소를 입력해주세요")
		return
	}
	rep, ok := h.buildReport(w, r, req.Month)
	if !ok {
		return
	}
	if rep.EmployeeCount == 0 {
		httpx.WriteError(w, http.StatusBadRequest, "해당 월에 승인된 급여가 없습니다")
		return
	}
	msg := events.NotificationRequest{
		Channel:   "email",
		Recipient: req.Recipient,
		Subject:   fmt.Sprintf("[급여대장] %s 원천세 신고 자료", req.Month),
		Body: fmt.Sprintf("%s 급여대장을 첨부합니다.\n대상 인원: %d명\n총 지급액: %s원\n",
			req.Month, rep.EmployeeCount, money.Won(rep.Totals.GrossPay)),
		Attachments: []events.Attachment{{
			Filename:    taxreport.Filename(req.Month),
			ContentType: "text/csv; charset=utf-8",
			Content:     taxreport.CSV(rep),
		}},
	}
	id, err := h.repo.SaveTaxReport(r.Context(), rep, req.Recipient, actor.ID, msg)
	if err != nil {
		httpx.Fail(w, r, h.logger, "급여대장 전송 중 오류가 발생했습니다", err)
		return
	}
	httpx.WriteMessage(w, http.StatusAccepted, "급여대장 전송이 요청되었습니다", map[string]any{
		"report_id":      id,
		"month":          rep.Month,
		"employee_count": rep.EmployeeCount,
	})
}

func (h *Handler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := requireManager(w, r, msgAdminOnly); !ok {
		return
	}
	today := h.today()
	from := today.AddDate(0, 0, 1-today.Day())
	stats, err := h.repo.Dashboard(r.Context(), from, from.AddDate(0, 1, 0))
	if err != nil {
		httpx.Fail(w, r, h.logger, "대시보드 조회 중 오류가 발생했습니다", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, stats)
}

const (
	msgAccountantRequired = "세무사 이메일이 필요합니다"
	msgBadAccountant      = "올바른 이메일 형식이 아닙니다"
)

// Settings reads or saves the accountant address tax reports go to when a
// request names no recipient.
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if _, ok := requireManager(w, r, msgAdminOnly); !ok {
		return
	}
	if r.Method == http.MethodGet {
		s, err := h.repo.PayrollSettings(r.Context())
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			httpx.Fail(w, r, h.logger, "설정 조회 중 오류가 발생했습니다", err)
			return
		}
		httpx.WriteData(w, http.StatusOK, map[string]any{"settings": s})
		return
	}
	var req struct {
		AccountantEmail string `json:"accountant_email"`
	}
	if !decode(w, r, &req) {
		return
	}
	email := strings.TrimSpace(req.AccountantEmail)
	if email == "" {
		httpx.WriteError(w, http.StatusBadRequest, msgAccountantRequired)
		return
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		httpx.WriteError(w, http.StatusBadRequest, msgBadAccountant)
		return
	}
	s, err := h.repo.SavePayrollSettings(r.Context(), email)
	if err != nil {
		httpx.Fail(w, r, h.logger, "설정 저장 중 오류가 발생했습니다", err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "설정이 저장되었습니다", map[string]any{"settings": s})
}
