package main

import (
	"context"
	"net/http"

	"github.com/md-rashed-zaman/mspharm/libs/auth"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
)

const (
	employeeIssuer = "mspharm-employee-purchase"
	customerIssuer = "mspharm-customer"

	employeeCookie = "employee_token"
	customerCookie = "customer_token"

	msgUnauthorized = "인증이 필요합니다"
	msgForbidden    = "권한이 없습니다"
)

// access is the minimum identity a route needs before it is proxied.
type access int

const (
	public   access = iota // identity headers are stripped
	optional               // identity forwarded when a valid token is present
	member                 // any employee or customer
	employee
	manager
	owner
)

type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

// actorFromClaims accepts a token only when its kind matches the issuer that
// mints that kind.
func actorFromClaims(c *auth.Claims) (httpx.Actor, bool) {
	switch c.Kind {
	case httpx.KindEmployee:
		if c.Iss != employeeIssuer {
			return httpx.Actor{}, false
		}
	case httpx.KindCustomer:
		if c.Iss != customerIssuer {
			return httpx.Actor{}, false
		}
	default:
		return httpx.Actor{}, false
	}
	if c.Sub == "" {
		return httpx.Actor{}, false
	}
	return httpx.Actor{ID: c.Sub, Name: c.Name, Role: c.Role, Kind: c.Kind}, true
}

// tokenFor prefers the Authorization header, then the session cookies the
// route may be reached with.
func tokenFor(r *http.Request, level access) string {
	if tok := auth.BearerToken(r.Header.Get("Authorization")); tok != "" {
		return tok
	}
	cookies := []string{employeeCookie}
	if level == member || level == optional {
		cookies = append(cookies, customerCookie)
	}
	for _, name := range cookies {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value
		}
	}
	return ""
}

func allowed(level access, a httpx.Actor) bool {
	switch level {
	case member:
		return a.IsEmployee() || a.IsCustomer()
	case employee:
		return a.IsEmployee()
	case manager:
		return a.IsEmployee() && a.IsManager()
	case owner:
		return a.IsEmployee() && a.IsOwner()
	}
	return true
}

// guard authenticates the request for level and replaces the identity
// headers the upstream trusts.
func guard(next http.Handler, level access, verifier TokenVerifier) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.ClearActorHeaders(r.Header)
		if level == public {
			next.ServeHTTP(w, r)
			return
		}

		var (
			actor httpx.Actor
			ok    bool
		)
		if tok := tokenFor(r, level); tok != "" {
			if claims, err := verifier.Verify(r.Context(), tok); err == nil {
				actor, ok = actorFromClaims(claims)
			}
		}
		if !ok {
			if level == optional {
				next.ServeHTTP(w, r)
				return
			}
			httpx.WriteError(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		if !allowed(level, actor) {
			httpx.WriteError(w, http.StatusForbidden, msgForbidden)
			return
		}
		httpx.SetActorHeaders(r.Header, actor)
		next.ServeHTTP(w, r)
	})
}
