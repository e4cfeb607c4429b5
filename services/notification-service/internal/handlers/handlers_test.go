package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/services/notification-service/internal/storage"
)

type fakeLister struct{ status string }

func (f *fakeLister) List(_ context.Context, status string, limit, offset int) ([]storage.Notification, int, error) {
	f.status = status
	return []storage.Notification{{ID: 1, Status: storage.StatusFailed}}, 1, nil
}

func get(t *testing.T, mux http.Handler, path, role string) (int, httpx.Envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if role != "" {
		httpx.SetActorHeaders(req.Header, httpx.Actor{ID: "e1", Role: role, Kind: httpx.KindEmployee})
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var env httpx.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, env
}

func TestList(t *testing.T) {
	store := &fakeLister{}
	mux := http.NewServeMux()
	New(store, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(mux)

	if code, _ := get(t, mux, "/api/notifications", httpx.RoleStaff); code != http.StatusForbidden {
		t.Fatalf("staff = %d", code)
	}
	if code, _ := get(t, mux, "/api/notifications?status=queued", httpx.RoleManager); code != http.StatusBadRequest {
		t.Fatalf("bad status = %d", code)
	}
	code, env := get(t, mux, "/api/notifications?status=failed", httpx.RoleOwner)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("owner = %d", code)
	}
	if store.status != storage.StatusFailed {
		t.Fatalf("store saw status %q", store.status)
	}
}
