package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/services/scheduler-service/internal/jobs"
)

type fakeStore struct {
	status        string
	limit, offset int
	dead          map[int64]bool
	requeuedAt    time.Time
}

func (f *fakeStore) List(_ context.Context, status string, limit, offset int) ([]jobs.Job, int, error) {
	f.status, f.limit, f.offset = status, limit, offset
	return []jobs.Job{{ID: 3, Kind: jobs.KindPayslip, Status: jobs.StatusDead}}, 41, nil
}

func (f *fakeStore) Requeue(_ context.Context, id int64, now time.Time) (jobs.Job, error) {
	if !f.dead[id] {
		return jobs.Job{}, jobs.ErrNotDead
	}
	f.requeuedAt = now
	return jobs.Job{ID: id, Kind: jobs.KindPayslip, Status: jobs.StatusPending, RunAt: now}, nil
}

func setup() (*http.ServeMux, *fakeStore, *clockwork.FakeClock) {
	store := &fakeStore{dead: map[int64]bool{3: true}}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 6, 1, 0, 0, 0, time.UTC))
	mux := http.NewServeMux()
	New(store, clock, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(mux)
	return mux, store, clock
}

func do(t *testing.T, mux http.Handler, method, path, role string) (*httptest.ResponseRecorder, httpx.Envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if role != "" {
		httpx.SetActorHeaders(req.Header, httpx.Actor{ID: "emp-1", Name: "관리자", Role: role, Kind: httpx.KindEmployee})
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var env httpx.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return rec, env
}

func TestListJobs(t *testing.T) {
	mux, store, _ := setup()

	rec, env := do(t, mux, http.MethodGet, "/api/scheduler/jobs", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	rec, env = do(t, mux, http.MethodGet, "/api/scheduler/jobs", httpx.RoleStaff)
	if rec.Code != http.StatusForbidden || env.Error != msgManagerOnly {
		t.Fatalf("staff got %d %q", rec.Code, env.Error)
	}

	rec, env = do(t, mux, http.MethodGet, "/api/scheduler/jobs?status=lost", httpx.RoleManager)
	if rec.Code != http.StatusBadRequest || env.Error != msgBadStatus {
		t.Fatalf("bad status got %d %q", rec.Code, env.Error)
	}

	rec, env = do(t, mux, http.MethodGet, "/api/scheduler/jobs?status=dead&page=3&limit=10", httpx.RoleManager)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("list got %d %s", rec.Code, rec.Body.String())
	}
	if store.status != "dead" || store.limit != 10 || store.offset != 20 {
		t.Fatalf("store saw %q %d %d", store.status, store.limit, store.offset)
	}
	data := env.Data.(map[string]any)
	if pages := data["pagination"].(map[string]any)["totalPages"]; pages != float64(5) {
		t.Fatalf("totalPages = %v", pages)
	}
}

func TestRetryJob(t *testing.T) {
	mux, store, clock := setup()

	rec, _ := do(t, mux, http.MethodGet, "/api/scheduler/jobs/3/retry", httpx.RoleOwner)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET retry = %d", rec.Code)
	}

	rec, env := do(t, mux, http.MethodPost, "/api/scheduler/jobs/abc/retry", httpx.RoleOwner)
	if rec.Code != http.StatusBadRequest || env.Error != msgBadID {
		t.Fatalf("bad id got %d %q", rec.Code, env.Error)
	}

	rec, env = do(t, mux, http.MethodPost, "/api/scheduler/jobs/9/retry", httpx.RoleOwner)
	if rec.Code != http.StatusConflict || env.Error != msgNotDead {
		t.Fatalf("live job got %d %q", rec.Code, env.Error)
	}

	rec, env = do(t, mux, http.MethodPost, "/api/scheduler/jobs/3/retry", httpx.RoleOwner)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("retry got %d %s", rec.Code, rec.Body.String())
	}
	if !store.requeuedAt.Equal(clock.Now()) {
		t.Fatalf("requeued at %v", store.requeuedAt)
	}
}
