package httpx

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy lists the browser origins allowed to call the API. An origin
// may be exact ("https://pharm.example.kr") or cover subdomains
// ("https://*.pharm.example.kr"), which is how the staff and customer
// portals are usually split.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultOrigins are the local portal dev servers.
var DefaultOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

type originRule struct {
	scheme string
	host   string // exact host, or the suffix after "*."
	any    bool
	sub    bool
}

func parseOriginRule(s string) (originRule, bool) {
	s = strings.TrimSpace(s)
	if s == "*" {
		return originRule{any: true}, true
	}
	scheme, host, ok := strings.Cut(s, "://")
	if !ok || host == "" {
		return originRule{}, false
	}
	r := originRule{scheme: strings.ToLower(scheme), host: strings.ToLower(strings.TrimSuffix(host, "/"))}
	if rest, ok := strings.CutPrefix(r.host, "*."); ok {
		r.host, r.sub = rest, true
	}
	return r, true
}

func (r originRule) match(scheme, host string) bool {
	switch {
	case r.any:
		return true
	case r.scheme != scheme:
		return false
	case r.sub:
		return strings.HasSuffix(host, "."+r.host)
	}
	return host == r.host
}

// WithCORS answers preflights and decorates responses for allowed origins.
// Requests from other origins pass through undecorated so the browser
// blocks them. With no usable origins it is a no-op.
func WithCORS(p CORSPolicy) Middleware {
	var rules []originRule
	wildcard := false
	for _, o := range p.AllowedOrigins {
		if r, ok := parseOriginRule(o); ok {
			rules = append(rules, r)
			wildcard = wildcard || r.any
		}
	}
	if len(rules) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	methods := joinOr(p.AllowedMethods, "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	headers := joinOr(p.AllowedHeaders, "Authorization, Content-Type, "+RequestIDHeader)
	exposed := joinOr(append(append([]string{}, p.ExposedHeaders...), RequestIDHeader), "")
	maxAge := strconv.Itoa(int(p.MaxAge.Seconds()))

	allowed := func(origin string) bool {
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		scheme, host := strings.ToLower(u.Scheme), strings.ToLower(u.Host)
		for _, r := range rules {
			if r.match(scheme, host) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")
			if origin == "" || !allowed(origin) {
				next.ServeHTTP(w, r)
				return
			}
			// Credentialed requests may not use "*", so the origin is echoed.
			if wildcard && !p.AllowCredentials {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
			}
			if p.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			h.Set("Access-Control-Expose-Headers", exposed)

			if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
				next.ServeHTTP(w, r)
				return
			}
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Allow-Headers", headers)
			if p.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", maxAge)
			}
			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func joinOr(values []string, fallback string) string {
	var kept []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return fallback
	}
	return strings.Join(kept, ", ")
}
