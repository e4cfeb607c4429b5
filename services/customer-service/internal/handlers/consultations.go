package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	objstore "github.com/md-rashed-zaman/mspharm/libs/storage"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/lifestyle"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/storage"
)

const (
	msgSymptomsRequired  = "호소증상은 필수 입력 항목입니다."
	msgBadConsultDate    = "상담일자가 유효하지 않습니다."
	msgNoConsultation    = "상담일지를 찾을 수 없습니다."
	msgConsultationError = "상담일지 처리 중 오류가 발생했습니다."
	summaryCount         = 5
)

type consultationRequest struct {
	CustomerID       string    `json:"customer_id"`
	ConsultDate      *string   `json:"consult_date"`
	Symptoms         *string   `json:"symptoms"`
	PatientCondition *string   `json:"patient_condition"`
	TongueAnalysis   *string   `json:"tongue_analysis"`
	SpecialNotes     *string   `json:"special_notes"`
	Prescription     *string   `json:"prescription"`
	Result           *string   `json:"result"`
	Images           []string  `json:"images"`
	KeepImageURLs    *[]string `json:"keep_image_urls"`
}

// parseConsultDate accepts RFC 3339 or a bare KST date and rejects dates
// before 1900 or more than two years ahead of now.
func parseConsultDate(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.ParseInLocation("2006-01-02", s, KST)
		if err != nil {
			return time.Time{}, false
		}
	}
	if t.In(KST).Year() < 1900 || t.After(now.AddDate(2, 0, 0)) {
		return time.Time{}, false
	}
	return t, true
}

func (h *Handler) Consultations(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	if r.Method == http.MethodPost {
		h.createConsultation(w, r)
		return
	}
	q := r.URL.Query()
	page := httpx.PageFromQuery(r, 10)
	customerID := strings.TrimSpace(q.Get("customerId"))
	if customerID != "" && !knownID(w, customerID, msgNoCustomer) {
		return
	}
	list, total, err := h.repo.ListConsultations(r.Context(), customerID,
		strings.TrimSpace(q.Get("search")), page.Limit, page.Offset())
	if err != nil {
		httpx.Fail(w, r, h.logger, "상담일지 조회 중 오류가 발생했습니다.", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{"consultations": list, "pagination": pagination(page, total)})
}

func (h *Handler) createConsultation(w http.ResponseWriter, r *http.Request) {
	var req consultationRequest
	if !decode(w, r, &req) {
		return
	}
	in, msg := h.newConsultationInput(req)
	if msg != "" {
		httpx.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	ctx := r.Context()
	created, err := h.repo.CreateConsultation(ctx, in)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, msgNoCustomer)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "상담일지 등록 중 오류가 발생했습니다.", err)
		return
	}
	if urls := h.uploadImages(ctx, created, req.Images); len(urls) > 0 {
		updated, _, err := h.repo.UpdateConsultation(ctx, created.ID, storage.ConsultationUpdate{AddImages: urls})
		if err != nil {
			h.logger.Error("saving image urls failed", "consultation", created.ConsultationID, "err", err)
			h.removeImages(ctx, ConsultationBucket, urls)
		} else {
			created = updated
		}
	}
	if h.advisor != nil {
		h.advisor.Forget(ctx, created.CustomerID)
	}
	httpx.WriteMessage(w, http.StatusCreated, "상담일지가 등록되었습니다.", map[string]any{"consultation": created})
}

func (h *Handler) newConsultationInput(req consultationRequest) (storage.NewConsultation, string) {
	if strings.TrimSpace(req.CustomerID) == "" {
		return storage.NewConsultation{}, msgNoCustomer
	}
	symptoms := str(req.Symptoms)
	if symptoms == "" {
		return storage.NewConsultation{}, msgSymptomsRequired
	}
	now := h.now()
	date := now
	if s := str(req.ConsultDate); s != "" {
		d, ok := parseConsultDate(s, now)
		if !ok {
			return storage.NewConsultation{}, msgBadConsultDate
		}
		date = d
	}
	return storage.NewConsultation{
		CustomerID:       strings.TrimSpace(req.CustomerID),
		ConsultDate:      date,
		Symptoms:         symptoms,
		PatientCondition: str(req.PatientCondition),
		TongueAnalysis:   str(req.TongueAnalysis),
		SpecialNotes:     str(req.SpecialNotes),
		Prescription:     str(req.Prescription),
		Result:           str(req.Result),
	}, ""
}

// uploadImages stores each data URL under the consultation's folder,
// numbering after the images it already has. Failures are logged and
// skipped.
func (h *Handler) uploadImages(ctx context.Context, c storage.Consultation, images []string) []string {
	if h.store == nil || len(images) == 0 {
		return nil
	}
	used := map[string]bool{}
	for _, u := range c.ImageURLs {
		used[objstore.ObjectPath(ConsultationBucket, u)] = true
	}
	var urls []string
	n := 0
	for _, img := range images {
		data, _, err := objstore.DecodeDataURL(img)
		if err != nil {
			h.logger.Warn("skipping undecodable image", "consultation", c.ConsultationID, "err", err)
			continue
		}
		var path string
		for {
			n++
			path = fmt.Sprintf("%s/%s/image_%d.jpg", c.CustomerCode, c.ConsultationID, n)
			if !used[path] {
				break
			}
		}
		url, err := h.store.Upload(ctx, ConsultationBucket, path, data, "image/jpeg")
		if err != nil {
			h.logger.Warn("image upload failed", "consultation", c.ConsultationID, "path", path, "err", err)
			continue
		}
		urls = append(urls, url)
	}
	return urls
}

// Consultation serves GET, PUT and DELETE on one consultation.
func (h *Handler) Consultation(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet, http.MethodPut, http.MethodDelete) {
		return
	}
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if !knownID(w, id, msgNoConsultation) {
		return
	}
	ctx := r.Context()
	if r.Method == http.MethodGet {
		c, err := h.repo.GetConsultation(ctx, id)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && actor.IsCustomer() && c.CustomerID != actor.ID) {
			httpx.WriteError(w, http.StatusNotFound, msgNoConsultation)
			return
		}
		if err != nil {
			httpx.Fail(w, r, h.logger, msgConsultationError, err)
			return
		}
		httpx.WriteData(w, http.StatusOK, map[string]any{"consultation": c})
		return
	}
	if !actor.IsEmployee() {
		httpx.WriteError(w, http.StatusForbidden, msgStaffOnly)
		return
	}
	if r.Method == http.MethodDelete {
		c, err := h.repo.DeleteConsultation(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, msgNoConsultation)
			return
		}
		if err != nil {
			httpx.Fail(w, r, h.logger, "상담일지 삭제 중 오류가 발생했습니다.", err)
			return
		}
		h.removeImages(ctx, ConsultationBucket, c.ImageURLs)
		httpx.WriteMessage(w, http.StatusOK, "상담일지가 삭제되었습니다.", nil)
		return
	}
	h.updateConsultation(w, r, id)
}

func (h *Handler) updateConsultation(w http.ResponseWriter, r *http.Request, id string) {
	var req consultationRequest
	if !decode(w, r, &req) {
		return
	}
	u, msg := h.consultationUpdate(req)
	if msg != "" {
		httpx.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	ctx := r.Context()
	current, err := h.repo.GetConsultation(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, msgNoConsultation)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "상담일지 수정 중 오류가 발생했습니다.", err)
		return
	}
	u.AddImages = h.uploadImages(ctx, current, req.Images)
	updated, dropped, err := h.repo.UpdateConsultation(ctx, id, u)
	if err != nil {
		h.removeImages(ctx, ConsultationBucket, u.AddImages)
		if errors.Is(err, storage.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, msgNoConsultation)
			return
		}
		httpx.Fail(w, r, h.logger, "상담일지 수정 중 오류가 발생했습니다.", err)
		return
	}
	h.removeImages(ctx, ConsultationBucket, dropped)
	httpx.WriteMessage(w, http.StatusOK, "상담일지가 수정되었습니다.", map[string]any{"consultation": updated})
}

func (h *Handler) consultationUpdate(req consultationRequest) (storage.ConsultationUpdate, string) {
	if req.Symptoms != nil && str(req.Symptoms) == "" {
		return storage.ConsultationUpdate{}, msgSymptomsRequired
	}
	var u storage.ConsultationUpdate
	if s := str(req.ConsultDate); s != "" {
		d, ok := parseConsultDate(s, h.now())
		if !ok {
			return storage.ConsultationUpdate{}, msgBadConsultDate
		}
		u.ConsultDate = &d
	}
	u.Symptoms = req.Symptoms
	u.PatientCondition = req.PatientCondition
	u.TongueAnalysis = req.TongueAnalysis
	u.SpecialNotes = req.SpecialNotes
	u.Prescription = req.Prescription
	u.Result = req.Result
	if req.KeepImageURLs != nil {
		u.ReplaceImages = true
		u.KeepImages = *req.KeepImageURLs
	}
	return u, ""
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	customerID, ok := customerScope(w, r, r.URL.Query().Get("customerId"))
	if !ok {
		return
	}
	list, err := h.repo.History(r.Context(), customerID)
	if err != nil {
		httpx.Fail(w, r, h.logger, "상담 내역 조회 중 오류가 발생했습니다.", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{"consultations": list, "total": len(list)})
}

// SearchConsultations prefers the search index and falls back to SQL when
// the index is missing or failing.
func (h *Handler) SearchConsultations(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	q := r.URL.Query()
	term := strings.TrimSpace(q.Get("q"))
	if term == "" {
		httpx.WriteError(w, http.StatusBadRequest, "검색어를 입력해주세요.")
		return
	}
	customerID := strings.TrimSpace(q.Get("customerId"))
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 20
	}
	ctx := r.Context()
	if h.search != nil {
		ids, err := h.search.Search(ctx, term, customerID, limit)
		if err == nil {
			list, err := h.repo.ConsultationsByIDs(ctx, ids)
			if err == nil {
				httpx.WriteData(w, http.StatusOK, map[string]any{"consultations": list, "source": "elasticsearch"})
				return
			}
			h.logger.Warn("loading search hits failed", "err", err)
		} else {
			h.logger.Warn("search index unavailable, using database", "err", err)
		}
	}
	list, err := h.repo.SearchConsultations(ctx, term, customerID, limit)
	if err != nil {
		httpx.Fail(w, r, h.logger, "상담일지 검색 중 오류가 발생했습니다.", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{"consultations": list, "source": "database"})
}

// MyConsultations is the customer portal view of their own record.
func (h *Handler) MyConsultations(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	customerID, ok := customerScope(w, r, r.URL.Query().Get("customerId"))
	if !ok {
		return
	}
	page := httpx.PageFromQuery(r, 10)
	list, total, err := h.repo.ListConsultations(r.Context(), customerID, "", page.Limit, page.Offset())
	if err != nil {
		httpx.Fail(w, r, h.logger, "상담 기록을 불러올 수 없습니다", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{"consultations": list, "pagination": pagination(page, total)})
}

func (h *Handler) Summarize(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var body struct {
		CustomerID string `json:"customerId"`
	}
	if !decode(w, r, &body) {
		return
	}
	customerID, ok := customerScope(w, r, body.CustomerID)
	if !ok {
		return
	}
	recent, err := h.repo.RecentConsultations(r.Context(), customerID, summaryCount)
	if err != nil {
		httpx.Fail(w, r, h.logger, "상담 기록을 불러올 수 없습니다", err)
		return
	}
	if len(recent) == 0 {
		httpx.WriteMessage(w, http.StatusOK, "상담 기록이 없습니다", map[string]any{"summaries": []lifestyle.Summary{}, "total": 0})
		return
	}
	summaries := h.advisor.Summaries(r.Context(), adviceConsultations(recent))
	httpx.WriteData(w, http.StatusOK, map[string]any{"summaries": summaries, "total": len(summaries)})
}

func adviceConsultations(list []storage.Consultation) []lifestyle.Consultation {
	out := make([]lifestyle.Consultation, 0, len(list))
	for _, c := range list {
		out = append(out, lifestyle.Consultation{
			ID:               c.ID,
			ConsultationID:   c.ConsultationID,
			ConsultDate:      c.ConsultDate,
			Symptoms:         c.Symptoms,
			PatientCondition: c.PatientCondition,
			TongueAnalysis:   c.TongueAnalysis,
			SpecialNotes:     c.SpecialNotes,
			Prescription:     c.Prescription,
			Result:           c.Result,
			CreatedAt:        c.CreatedAt,
		})
	}
	return out
}

const (
	msgNoMyConsultation = "상담 기록을 찾을 수 없습니다"
	msgImageRange       = "시작일과 종료일이 필요합니다."
	imagesDefaultLimit  = 500
)

// MyConsultation is one consultation in the customer portal, with a plain
// language summary attached.
func (h *Handler) MyConsultation(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if !knownID(w, id, msgNoMyConsultation) {
		return
	}
	ctx := r.Context()
	c, err := h.repo.GetConsultation(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && actor.IsCustomer() && c.CustomerID != actor.ID) {
		httpx.WriteError(w, http.StatusNotFound, msgNoMyConsultation)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "상담 기록을 불러올 수 없습니다", err)
		return
	}
	single := adviceConsultations([]storage.Consultation{c})
	summary := lifestyle.FallbackSummary(single[0])
	if h.advisor != nil {
		summary = h.advisor.Summaries(ctx, single)[0]
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{"consultation": c, "summary": summary})
}

type consultationImage struct {
	ID                  string    `json:"id"`
	URL                 string    `json:"url"`
	CustomerName        string    `json:"customerName"`
	CustomerCode        string    `json:"customerCode"`
	ConsultationDate    time.Time `json:"consultationDate"`
	ConsultationID      string    `json:"consultationId"`
	CustomerID          string    `json:"customerId"`
	ConsultationContent string    `json:"consultationContent"`
	ImageIndex          int       `json:"imageIndex"`
}

// ConsultationImages flattens every consultation image taken between two
// KST dates, both inclusive, for the staff gallery.
func (h *Handler) ConsultationImages(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	q := r.URL.Query()
	from, errFrom := time.ParseInLocation("2006-01-02", strings.TrimSpace(q.Get("startDate")), KST)
	to, errTo := time.ParseInLocation("2006-01-02", strings.TrimSpace(q.Get("endDate")), KST)
	if errFrom != nil || errTo != nil {
		httpx.WriteError(w, http.StatusBadRequest, msgImageRange)
		return
	}
	limit := imagesDefaultLimit
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, imagesDefaultLimit)
	}
	list, err := h.repo.ConsultationsWithImages(r.Context(), from, to.AddDate(0, 0, 1), limit)
	if err != nil {
		httpx.Fail(w, r, h.logger, "이미지 조회 중 오류가 발생했습니다.", err)
		return
	}
	images := []consultationImage{}
	for _, c := range list {
		for i, url := range c.ImageURLs {
			images = append(images, consultationImage{
				ID:                  fmt.Sprintf("%s-%d", c.ID, i),
				URL:                 url,
				CustomerName:        c.CustomerName,
				CustomerCode:        c.CustomerCode,
				ConsultationDate:    c.ConsultDate,
				ConsultationID:      c.ConsultationID,
				CustomerID:          c.CustomerID,
				ConsultationContent: c.Symptoms,
				ImageIndex:          i,
			})
		}
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{
		"images":            images,
		"count":             len(images),
		"consultationCount": len(list),
	})
}
