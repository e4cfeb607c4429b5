package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReadyzReportsFailingCheck(t *testing.T) {
	mux := NewBaseMuxWithReady(
		ReadyCheck{Name: "db", Check: func(context.Context) error { return nil }},
		ReadyCheck{Name: "kafka", Check: func(context.Context) error { return errors.New("down") }},
		ReadyCheck{Name: "optional"},
	)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var body struct {
		Ready  bool              `json:"ready"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Ready || body.Checks["db"] != "ok" || body.Checks["kafka"] != "down" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if _, ok := body.Checks["optional"]; ok {
		t.Fatalf("nil check should be skipped")
	}
}

func TestHealthz(t *testing.T) {
	rr := httptest.NewRecorder()
	NewBaseMuxWithReady().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("unexpected healthz: %d %q", rr.Code, rr.Body.String())
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("DEBUG").String() != "DEBUG" || parseLevel("").String() != "INFO" {
		t.Fatalf("unexpected level parsing")
	}
}
