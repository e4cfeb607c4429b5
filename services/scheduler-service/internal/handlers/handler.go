package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/services/scheduler-service/internal/jobs"
)

const (
	msgManagerOnly = "관리자만 접근할 수 있습니다"
	msgBadStatus   = "status는 pending, done, dead 중 하나여야 합니다"
	msgBadID       = "잘못된 작업 ID입니다"
	msgNotDead     = "실패 상태의 작업만 다시 실행할 수 있습니다"
	msgListFailed  = "작업 조회 중 오류가 발생했습니다"
	msgRetryFailed = "작업 재실행 중 오류가 발생했습니다"
)

type Store interface {
	List(ctx context.Context, status string, limit, offset int) ([]jobs.Job, int, error)
	Requeue(ctx context.Context, id int64, now time.Time) (jobs.Job, error)
}

type Handler struct {
	store  Store
	clock  clockwork.Clock
	logger *slog.Logger
}

func New(store Store, clock clockwork.Clock, logger *slog.Logger) *Handler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Handler{store: store, clock: clock, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/scheduler/jobs", h.ListJobs)
	mux.HandleFunc("/api/scheduler/jobs/{id}/retry", h.RetryJob)
}

func requireManager(w http.ResponseWriter, r *http.Request) (httpx.Actor, bool) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return actor, false
	}
	if !actor.IsManager() {
		httpx.WriteError(w, http.StatusForbidden, msgManagerOnly)
		return actor, false
	}
	return actor, true
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := requireManager(w, r); !ok {
		return
	}
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	switch status {
	case "", jobs.StatusPending, jobs.StatusDone, jobs.StatusDead:
	default:
		httpx.WriteError(w, http.StatusBadRequest, msgBadStatus)
		return
	}
	page := httpx.PageFromQuery(r, 20)
	list, total, err := h.store.List(r.Context(), status, page.Limit, page.Offset())
	if err != nil {
		httpx.Fail(w, r, h.logger, msgListFailed, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{
		"jobs": list,
		"pagination": map[string]int{
			"page": page.Page, "limit": page.Limit, "total": total, "totalPages": page.TotalPages(total),
		},
	})
}

func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := requireManager(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, msgBadID)
		return
	}
	job, err := h.store.Requeue(r.Context(), id, h.clock.Now())
	switch {
	case errors.Is(err, jobs.ErrNotDead):
		httpx.WriteError(w, http.StatusConflict, msgNotDead)
	case err != nil:
		httpx.Fail(w, r, h.logger, msgRetryFailed, err)
	default:
		h.logger.Info("dead job requeued", "id", id, "kind", job.Kind, "by", actor.ID)
		httpx.WriteMessage(w, http.StatusOK, "작업이 다시 예약되었습니다", job)
	}
}
