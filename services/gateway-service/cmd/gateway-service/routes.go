package main

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/md-rashed-zaman/mspharm/libs/config"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type route struct {
	pattern string
	service string
	level   access
}

// routes maps public paths onto services. Patterns ending in "/" cover the
// subtree; the most specific pattern wins.
var routes = []route{
	{"/.well-known/jwks.json", "auth", public},
	{"/api/employee-purchase/auth/login", "auth", public},
	{"/api/employee-purchase/auth/refresh", "auth", public},
	{"/api/employee-purchase/auth/logout", "auth", public},
	{"/api/employee-purchase/auth/me", "auth", optional},
	{"/api/employee-purchase/auth/", "auth", employee},
	{"/api/employee-purchase/employees", "auth", owner},
	{"/api/employee-purchase/employees/", "auth", owner},
	{"/api/auth/audit", "auth", manager},
	{"/api/auth/rotate", "auth", owner},
	{"/api/customer/auth/login", "auth", public},
	{"/api/customer/auth/login-with-id", "auth", public},
	{"/api/customer/auth/search", "auth", public},
	{"/api/customer/auth/change-pin", "auth", optional},

	{"/api/customer", "customer", employee},
	{"/api/customer/", "customer", employee},
	{"/api/customer/consultations", "customer", member},
	{"/api/customer/consultations/", "customer", member},
	{"/api/customer/profile", "customer", member},
	{"/api/customer/food/", "customer", member},
	{"/api/customer/nutrition/", "customer", member},
	{"/api/customer/lifestyle/", "customer", member},
	{"/api/consultation", "customer", employee},
	{"/api/consultation/", "customer", member},
	{"/api/consultation/images", "customer", employee},
	{"/api/face-embedding", "customer", employee},
	{"/api/face-embedding/", "customer", employee},

	{"/api/hr/", "hr", employee},
	{"/api/hr/admin/", "hr", manager},
	{"/api/payroll-2026/", "hr", employee},

	{"/api/daily-income", "ledger", employee},
	{"/api/daily-income/", "ledger", employee},
	{"/api/extract-invoice", "ledger", employee},
	{"/api/recognize-medicine", "ledger", employee},
	{"/api/employee-purchase/requests", "ledger", employee},
	{"/api/employee-purchase/requests/", "ledger", manager},
	{"/api/employee-purchase/statistics", "ledger", owner},
	{"/api/employee-purchase/upload", "ledger", employee},

	{"/api/scheduler/", "scheduler", manager},
	{"/api/notifications", "notification", manager},
	{"/api/analytics/", "analytics", manager},
}

var serviceDefaults = map[string]string{
	"auth":         "http://auth-service:8081",
	"hr":           "http://hr-service:8082",
	"customer":     "http://customer-service:8083",
	"ledger":       "http://ledger-service:8084",
	"scheduler":    "http://scheduler-service:8085",
	"notification": "http://notification-service:8086",
	"analytics":    "http://analytics-service:8087",
}

// upstreams reads <NAME>_URL for every service.
func upstreams() (map[string]*url.URL, error) {
	out := make(map[string]*url.URL, len(serviceDefaults))
	for name, def := range serviceDefaults {
		u, err := url.Parse(config.String(strings.ToUpper(name)+"_URL", def))
		if err != nil {
			return nil, err
		}
		out[name] = u
	}
	return out, nil
}

// registerRoutes mounts every route behind its guard. limit runs after the
// guard so it sees the verified caller; nil disables limiting.
func registerRoutes(mux *http.ServeMux, targets map[string]*url.URL, verifier TokenVerifier, transport http.RoundTripper, limit httpx.Middleware) {
	proxies := make(map[string]http.Handler, len(targets))
	for name, target := range targets {
		p := httputil.NewSingleHostReverseProxy(target)
		p.Transport = transport
		proxies[name] = p
		if limit != nil {
			proxies[name] = limit(p)
		}
	}
	for _, rt := range routes {
		mux.Handle(rt.pattern, guard(proxies[rt.service], rt.level, verifier))
	}
}

func otelTransport() http.RoundTripper {
	return otelhttp.NewTransport(http.DefaultTransport)
}
