package main

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/auth"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
)

const secret = "test-secret"

func token(t *testing.T, kind, role, issuer string) string {
	t.Helper()
	tok, err := auth.SignHS256(auth.NewClaims("u-1", "김약사", role, kind, issuer, time.Now(), time.Hour), secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

// gateway wires every route to one upstream that echoes which service was hit
// and the forwarded identity.
func gateway(t *testing.T) http.Handler {
	t.Helper()
	targets := map[string]*url.URL{}
	for name := range serviceDefaults {
		name := name
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Service", name)
			w.Header().Set("X-Seen-User", r.Header.Get(httpx.HeaderUserID))
			w.Header().Set("X-Seen-Role", r.Header.Get(httpx.HeaderRole))
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(srv.Close)
		u, _ := url.Parse(srv.URL)
		targets[name] = u
	}
	mux := http.NewServeMux()
	registerRoutes(mux, targets, auth.Verifier{Secret: secret}, http.DefaultTransport, nil)
	return mux
}

func send(h http.Handler, method, path string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func bearer(tok string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func TestRoutesReachServices(t *testing.T) {
	h := gateway(t)
	staff := bearer(token(t, httpx.KindEmployee, httpx.RoleStaff, employeeIssuer))
	mgr := bearer(token(t, httpx.KindEmployee, httpx.RoleManager, employeeIssuer))

	cases := []struct {
		path    string
		as      func(*http.Request)
		service string
	}{
		{"/api/employee-purchase/auth/login", nil, "auth"},
		{"/api/customer/auth/search?name=x", nil, "auth"},
		{"/api/customer/123", staff, "customer"},
		{"/api/consultation/search?q=a", staff, "customer"},
		{"/api/hr/attendance/today", staff, "hr"},
		{"/api/daily-income?date=2026-03-14", staff, "ledger"},
		{"/api/employee-purchase/requests", staff, "ledger"},
		{"/api/scheduler/jobs", mgr, "scheduler"},
		{"/api/notifications", mgr, "notification"},
		{"/api/analytics/daily", mgr, "analytics"},
	}
	for _, tc := range cases {
		rec := send(h, http.MethodGet, tc.path, tc.as)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", tc.path, rec.Code)
		}
		if got := rec.Header().Get("X-Service"); got != tc.service {
			t.Fatalf("%s: reached %q, want %q", tc.path, got, tc.service)
		}
	}
}

func TestGuard(t *testing.T) {
	h := gateway(t)

	if rec := send(h, http.MethodGet, "/api/hr/salary", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", rec.Code)
	}
	if rec := send(h, http.MethodGet, "/api/hr/salary", bearer("garbage")); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d", rec.Code)
	}

	staff := bearer(token(t, httpx.KindEmployee, httpx.RoleStaff, employeeIssuer))
	if rec := send(h, http.MethodGet, "/api/hr/admin/dashboard-stats", staff); rec.Code != http.StatusForbidden {
		t.Fatalf("staff on admin = %d", rec.Code)
	}
	mgr := bearer(token(t, httpx.KindEmployee, httpx.RoleManager, employeeIssuer))
	if rec := send(h, http.MethodGet, "/api/employee-purchase/employees", mgr); rec.Code != http.StatusForbidden {
		t.Fatalf("manager on employees = %d", rec.Code)
	}
	own := bearer(token(t, httpx.KindEmployee, httpx.RoleOwner, employeeIssuer))
	rec := send(h, http.MethodGet, "/api/employee-purchase/employees", own)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Seen-Role") != httpx.RoleOwner {
		t.Fatalf("owner on employees = %d role %q", rec.Code, rec.Header().Get("X-Seen-Role"))
	}

	// a customer token minted with the employee issuer is refused
	forged := bearer(token(t, httpx.KindCustomer, httpx.RoleCustomer, employeeIssuer))
	if rec := send(h, http.MethodGet, "/api/customer/food/records", forged); rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged customer = %d", rec.Code)
	}
	cust := bearer(token(t, httpx.KindCustomer, httpx.RoleCustomer, customerIssuer))
	if rec := send(h, http.MethodGet, "/api/customer/food/records", cust); rec.Code != http.StatusOK {
		t.Fatalf("customer on food = %d", rec.Code)
	}
	if rec := send(h, http.MethodGet, "/api/customer/list", cust); rec.Code != http.StatusForbidden {
		t.Fatalf("customer on list = %d", rec.Code)
	}
}

func TestCustomerPortalRoutes(t *testing.T) {
	h := gateway(t)
	cust := bearer(token(t, httpx.KindCustomer, httpx.RoleCustomer, customerIssuer))

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/customer/consultations/summarize"},
		{http.MethodGet, "/api/customer/consultations/6f1c2a4e-0000-4000-8000-000000000001"},
		{http.MethodGet, "/api/customer/profile"},
		{http.MethodGet, "/api/customer/nutrition/stats?period=week"},
		{http.MethodPost, "/api/customer/food/submit-answers"},
	} {
		rec := send(h, tc.method, tc.path, cust)
		if rec.Code != http.StatusOK {
			t.Fatalf("customer %s %s = %d", tc.method, tc.path, rec.Code)
		}
		if got := rec.Header().Get("X-Service"); got != "customer" {
			t.Fatalf("%s reached %q", tc.path, got)
		}
	}

	for _, path := range []string{"/api/consultation/images?startDate=2026-01-01&endDate=2026-01-31", "/api/recognize-medicine"} {
		if rec := send(h, http.MethodGet, path, cust); rec.Code != http.StatusForbidden {
			t.Fatalf("customer on %s = %d", path, rec.Code)
		}
	}
}

func TestCookiesAndHeaderSpoofing(t *testing.T) {
	h := gateway(t)

	rec := send(h, http.MethodGet, "/api/hr/leave/balance", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: employeeCookie, Value: token(t, httpx.KindEmployee, httpx.RoleStaff, employeeIssuer)})
		r.Header.Set(httpx.HeaderRole, httpx.RoleOwner)
	})
	if rec.Code != http.StatusOK || rec.Header().Get("X-Seen-Role") != httpx.RoleStaff {
		t.Fatalf("cookie auth = %d role %q", rec.Code, rec.Header().Get("X-Seen-Role"))
	}

	// the customer cookie is not accepted on employee routes
	rec = send(h, http.MethodGet, "/api/hr/leave/balance", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: customerCookie, Value: token(t, httpx.KindCustomer, httpx.RoleCustomer, customerIssuer)})
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("customer cookie on hr = %d", rec.Code)
	}

	// public routes never forward client supplied identity
	rec = send(h, http.MethodPost, "/api/customer/auth/login", func(r *http.Request) {
		r.Header.Set(httpx.HeaderUserID, "someone")
	})
	if rec.Header().Get("X-Seen-User") != "" {
		t.Fatalf("identity leaked to public route")
	}

	// optional routes pass through without a token and forward one when valid
	if rec := send(h, http.MethodPost, "/api/customer/auth/change-pin", nil); rec.Code != http.StatusOK {
		t.Fatalf("optional without token = %d", rec.Code)
	}
	rec = send(h, http.MethodPost, "/api/customer/auth/change-pin", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: customerCookie, Value: token(t, httpx.KindCustomer, httpx.RoleCustomer, customerIssuer)})
	})
	if rec.Header().Get("X-Seen-User") != "u-1" {
		t.Fatalf("optional with cookie saw user %q", rec.Header().Get("X-Seen-User"))
	}
}

func TestRateLimitPerVerifiedCaller(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(upstream.Close)
	u, _ := url.Parse(upstream.URL)
	targets := map[string]*url.URL{}
	for name := range serviceDefaults {
		targets[name] = u
	}
	mux := http.NewServeMux()
	limit := httpx.RateLimit(httpx.NewMemoryLimiter(1, time.Minute), httpx.ActorOrIP, nil, true)
	registerRoutes(mux, targets, auth.Verifier{Secret: secret}, http.DefaultTransport, limit)

	staffAs := func(id string) func(*http.Request) {
		tok, err := auth.SignHS256(auth.NewClaims(id, "직원", httpx.RoleStaff, httpx.KindEmployee, employeeIssuer, time.Now(), time.Hour), secret)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return bearer(tok)
	}
	if rec := send(mux, http.MethodGet, "/api/hr/attendance/today", staffAs("emp-1")); rec.Code != http.StatusOK {
		t.Fatalf("first call = %d", rec.Code)
	}
	if rec := send(mux, http.MethodGet, "/api/hr/attendance/today", staffAs("emp-2")); rec.Code != http.StatusOK {
		t.Fatalf("colleague on the same terminal address = %d", rec.Code)
	}
	if rec := send(mux, http.MethodGet, "/api/hr/attendance/today", staffAs("emp-1")); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("repeat caller = %d", rec.Code)
	}
	// a refused token never reaches the limiter
	if rec := send(mux, http.MethodGet, "/api/hr/attendance/today", bearer("garbage")); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d", rec.Code)
	}
}
