package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/services/notification-service/internal/storage"
)

type Lister interface {
	List(ctx context.Context, status string, limit, offset int) ([]storage.Notification, int, error)
}

type Handler struct {
	store  Lister
	logger *slog.Logger
}

func New(store Lister, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/notifications", h.List)
}

// List shows recent deliveries to managers, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	if !actor.IsManager() {
		httpx.WriteError(w, http.StatusForbidden, "관리자만 접근할 수 있습니다")
		return
	}
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status != "" && status != storage.StatusSent && status != storage.StatusFailed {
		httpx.WriteError(w, http.StatusBadRequest, "status는 sent 또는 failed여야 합니다")
		return
	}
	page := httpx.PageFromQuery(r, 20)
	list, total, err := h.store.List(r.Context(), status, page.Limit, page.Offset())
	if err != nil {
		httpx.Fail(w, r, h.logger, "알림 조회 중 오류가 발생했습니다", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{
		"notifications": list,
		"pagination": map[string]int{
			"page": page.Page, "limit": page.Limit, "total": total, "totalPages": page.TotalPages(total),
		},
	})
}
