package httpx

import (
	"net/http"
	"net/url"
	"strings"
)

// Headers set by the gateway after verifying a token. Services trust them
// only because they are not reachable from outside the gateway.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserName = "X-User-Name"
	HeaderRole     = "X-Role"
	HeaderKind     = "X-Subject-Kind"
)

const (
	RoleStaff    = "staff"
	RoleManager  = "manager"
	RoleOwner    = "owner"
	RoleCustomer = "customer"

	KindEmployee = "employee"
	KindCustomer = "customer"
)

// Actor is the authenticated caller of a request.
type Actor struct {
	ID   string
	Name string
	Role string
	Kind string
}

func (a Actor) Authenticated() bool { return a.ID != "" }

// IsManager reports manager or owner.
func (a Actor) IsManager() bool {
	return a.Kind == KindEmployee && (a.Role == RoleManager || a.Role == RoleOwner)
}

func (a Actor) IsOwner() bool {
	return a.Kind == KindEmployee && a.Role == RoleOwner
}

func (a Actor) IsEmployee() bool { return a.Kind == KindEmployee && a.ID != "" }

func (a Actor) IsCustomer() bool { return a.Kind == KindCustomer && a.ID != "" }

func ActorFromRequest(r *http.Request) Actor {
	name, err := url.QueryUnescape(r.Header.Get(HeaderUserName))
	if err != nil {
		name = ""
	}
	kind := strings.TrimSpace(r.Header.Get(HeaderKind))
	if kind == "" {
		kind = KindEmployee
	}
	return Actor{
		ID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Name: name,
		Role: strings.TrimSpace(r.Header.Get(HeaderRole)),
		Kind: kind,
	}
}

// SetActorHeaders replaces any identity headers on h. Names are query-escaped
// because they are usually Korean.
func SetActorHeaders(h http.Header, a Actor) {
	ClearActorHeaders(h)
	h.Set(HeaderUserID, a.ID)
	h.Set(HeaderUserName, url.QueryEscape(a.Name))
	h.Set(HeaderRole, a.Role)
	h.Set(HeaderKind, a.Kind)
}

func ClearActorHeaders(h http.Header) {
	h.Del(HeaderUserID)
	h.Del(HeaderUserName)
	h.Del(HeaderRole)
	h.Del(HeaderKind)
}

// RequireActor writes 401 and returns false when the request carries no identity.
func RequireActor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	a := ActorFromRequest(r)
	if !a.Authenticated() {
		WriteError(w, http.StatusUnauthorized, "인증이 필요합니다")
		return a, false
	}
	return a, true
}
