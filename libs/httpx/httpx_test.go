package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "h") }), mk("a"), mk("b"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if strings.Join(order, ",") != "a,b,h" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestWithRequestIDPreservesInbound(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != "req-1" || rr.Header().Get(RequestIDHeader) != "req-1" {
		t.Fatalf("request id not preserved: %q %q", seen, rr.Header().Get(RequestIDHeader))
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(rr.Header().Get(RequestIDHeader)) != 36 {
		t.Fatalf("expected generated uuid, got %q", rr.Header().Get(RequestIDHeader))
	}
}

func TestEnvelopeShapes(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, http.StatusBadRequest, "이름은 필수 입력 항목입니다.")
	var env map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env["success"] != false || env["error"] != "이름은 필수 입력 항목입니다." {
		t.Fatalf("unexpected error envelope %v", env)
	}
	if _, ok := env["data"]; ok {
		t.Fatalf("error envelope must not carry data")
	}

	rr = httptest.NewRecorder()
	WriteData(rr, http.StatusCreated, map[string]int{"n": 1})
	env = nil
	_ = json.NewDecoder(rr.Body).Decode(&env)
	if rr.Code != http.StatusCreated || env["success"] != true || env["data"] == nil {
		t.Fatalf("unexpected data envelope %d %v", rr.Code, env)
	}
}

func TestRequireMethod(t *testing.T) {
	rr := httptest.NewRecorder()
	if RequireMethod(rr, httptest.NewRequest(http.MethodDelete, "/", nil), http.MethodGet, http.MethodPost) {
		t.Fatalf("DELETE should be rejected")
	}
	if rr.Code != http.StatusMethodNotAllowed || rr.Header().Get("Allow") != "GET, POST" {
		t.Fatalf("unexpected response %d %q", rr.Code, rr.Header().Get("Allow"))
	}
}

func TestDecodeJSONBodyLimit(t *testing.T) {
	var dst map[string]string
	h := WithBodyLimit(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := DecodeJSON(r, &dst); err != ErrBodyTooLarge {
			t.Errorf("expected ErrBodyTooLarge, got %v", err)
		}
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"0123456789"}`)))

	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	if err := DecodeJSON(req, &dst); err != nil {
		t.Fatalf("empty body should decode cleanly: %v", err)
	}
}

func TestPageFromQuery(t *testing.T) {
	p := PageFromQuery(httptest.NewRequest(http.MethodGet, "/?page=3&limit=500", nil), 10)
	if p.Page != 3 || p.Limit != 100 || p.Offset() != 200 {
		t.Fatalf("unexpected page %+v", p)
	}
	p = PageFromQuery(httptest.NewRequest(http.MethodGet, "/?page=-1", nil), 10)
	if p.Page != 1 || p.Limit != 10 {
		t.Fatalf("unexpected defaults %+v", p)
	}
	if p.TotalPages(21) != 3 || p.TotalPages(0) != 0 {
		t.Fatalf("unexpected total pages")
	}
}

func TestValidID(t *testing.T) {
	if !ValidID("6f1c2a4e-93b1-4c55-9a57-3f0c9d1e2b7a") {
		t.Fatalf("uuid rejected")
	}
	for _, bad := range []string{"", "abc", "00001", "6f1c2a4e-93b1-4c55-9a57"} {
		if ValidID(bad) {
			t.Fatalf("%q accepted", bad)
		}
	}
}

func TestActorHeadersRoundTrip(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRole, "owner")
	SetActorHeaders(req.Header, Actor{ID: "e1", Name: "김약사", Role: RoleManager, Kind: KindEmployee})
	a := ActorFromRequest(req)
	if a.ID != "e1" || a.Name != "김약사" || !a.IsManager() || a.IsOwner() {
		t.Fatalf("unexpected actor %+v", a)
	}

	rr := httptest.NewRecorder()
	if _, ok := RequireActor(rr, httptest.NewRequest(http.MethodGet, "/", nil)); ok || rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous request should be rejected, got %d", rr.Code)
	}
}

func TestWithRecover(t *testing.T) {
	h := WithRecover(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError || !strings.Contains(rr.Body.String(), "서버 오류가 발생했습니다") {
		t.Fatalf("unexpected recover response %d %s", rr.Code, rr.Body.String())
	}
}

func TestAccessLogCapturesStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := WithAccessLog(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	if !strings.Contains(buf.String(), `"status":418`) {
		t.Fatalf("status not logged: %s", buf.String())
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/api/customer/6f1c2a8e-6a4c-4c1e-9d0b-3f2f8d7e1a11": "/api/customer/:id",
		"/api/hr/leave/42/approve":                           "/api/hr/leave/:id/approve",
		"/api/consultation/00012_003":                        "/api/consultation/:id",
		"/api/daily-income/monthly":                          "/api/daily-income/monthly",
	}
	for in, want := range cases {
		if got := NormalizePath(in); got != want {
			t.Fatalf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) { return false, errors.New("redis down") }
func (brokenLimiter) Window() time.Duration                       { return time.Minute }

func TestRateLimitKeysStaffSeparately(t *testing.T) {
	h := RateLimit(NewMemoryLimiter(1, time.Minute), ActorOrIP, discardLogger(), true)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	call := func(actor *Actor) int {
		req := httptest.NewRequest(http.MethodGet, "/api/hr/attendance/today", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.2")
		if actor != nil {
			SetActorHeaders(req.Header, *actor)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	kim := &Actor{ID: "emp-1", Role: RoleStaff, Kind: KindEmployee}
	park := &Actor{ID: "emp-2", Role: RoleManager, Kind: KindEmployee}

	if call(kim) != http.StatusOK || call(park) != http.StatusOK || call(nil) != http.StatusOK {
		t.Fatalf("first request of each caller should pass")
	}
	if code := call(kim); code != http.StatusTooManyRequests {
		t.Fatalf("second request by the same employee = %d", code)
	}
	if code := call(nil); code != http.StatusTooManyRequests {
		t.Fatalf("second anonymous request from the same address = %d", code)
	}
}

func TestActorOrIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:5123"
	if got := ActorOrIP(req); got != "ip:198.51.100.4" {
		t.Fatalf("anonymous key %q", got)
	}
	SetActorHeaders(req.Header, Actor{ID: "c-9", Role: RoleCustomer, Kind: KindCustomer})
	if got := ActorOrIP(req); got != "customer:c-9" {
		t.Fatalf("customer key %q", got)
	}
}

func TestRateLimitWhenLimiterFails(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	rr := httptest.NewRecorder()
	RateLimit(brokenLimiter{}, nil, discardLogger(), true)(ok).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("fail open = %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	RateLimit(brokenLimiter{}, nil, discardLogger(), false)(ok).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("fail closed = %d", rr.Code)
	}
}

func TestRedisLimiterKey(t *testing.T) {
	if got := NewRedisLimiter(nil, 0, 0, "").Key("staff:emp-1"); got != "mspharm:ratelimit:staff:emp-1" {
		t.Fatalf("default key %q", got)
	}
	if got := NewRedisLimiter(nil, 0, 0, "mspharm:gateway:").Key("ip:1.2.3.4"); got != "mspharm:gateway:ip:1.2.3.4" {
		t.Fatalf("prefixed key %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := WithCORS(CORSPolicy{AllowedOrigins: []string{"https://portal.pharm.example"}, AllowCredentials: true, MaxAge: time.Minute})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { t.Fatalf("preflight should not reach handler") }))
	req := httptest.NewRequest(http.MethodOptions, "/api/customer", nil)
	req.Header.Set("Origin", "https://portal.pharm.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://portal.pharm.example" || rr.Header().Get("Access-Control-Max-Age") != "60" {
		t.Fatalf("unexpected cors headers %v", rr.Header())
	}
}

func TestCORSOriginRules(t *testing.T) {
	h := WithCORS(CORSPolicy{AllowedOrigins: []string{"https://*.pharm.example", "http://localhost:3000"}, AllowCredentials: true})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	origin := func(o string) string {
		req := httptest.NewRequest(http.MethodGet, "/api/customer/profile", nil)
		req.Header.Set("Origin", o)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Header().Get("Access-Control-Allow-Origin")
	}
	for _, ok := range []string{"https://staff.pharm.example", "https://Customer.Pharm.Example", "http://localhost:3000"} {
		if origin(ok) != ok {
			t.Fatalf("%s should be allowed", ok)
		}
	}
	for _, bad := range []string{"https://pharm.example", "http://staff.pharm.example", "https://evilpharm.example", "http://localhost:3001"} {
		if got := origin(bad); got != "" {
			t.Fatalf("%s allowed as %q", bad, got)
		}
	}
}
