package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/mspharm/libs/auth"
	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/services/auth-service/internal/audit"
	"github.com/md-rashed-zaman/mspharm/services/auth-service/internal/sessions"
	"github.com/md-rashed-zaman/mspharm/services/auth-service/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

const (
	EmployeeIssuer = "mspharm-employee-purchase"
	CustomerIssuer = "mspharm-customer"

	EmployeeCookie = "employee_token"
	RefreshCookie  = "employee_refresh"
	CustomerCookie = "customer_token"

	msgInvalidBody = "잘못된 요청 형식입니다"
	msgServerError = "서버 오류가 발생했습니다"
	msgOwnerOnly   = "사장님만 접근할 수 있습니다"
)

var (
	employeePasswordRe = regexp.MustCompile(`^\d{4}$`)
	customerPinRe      = regexp.MustCompile(`^\d{6}$`)
)

type Config struct {
	AccessTTL   time.Duration
	CustomerTTL time.Duration
	RefreshTTL  time.Duration
	// SecureCookies adds the Secure attribute; off for local http.
	SecureCookies bool
	// RotateKey guards the key rotation and audit endpoints.
	RotateKey string
}

func (c Config) withDefaults() Config {
	if c.AccessTTL <= 0 {
		c.AccessTTL = 24 * time.Hour
	}
	if c.CustomerTTL <= 0 {
		c.CustomerTTL = 24 * time.Hour
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 30 * 24 * time.Hour
	}
	return c
}

type Handler struct {
	pool      *db.Pool
	employees *storage.EmployeeRepository
	customers *storage.CustomerRepository
	refresh   *sessions.RefreshRepository
	audit     *audit.Repository
	signer    TokenSigner
	clock     clockwork.Clock
	cfg       Config
	logger    *slog.Logger
}

type Deps struct {
	Pool      *db.Pool
	Employees *storage.EmployeeRepository
	Customers *storage.CustomerRepository
	Refresh   *sessions.RefreshRepository
	Audit     *audit.Repository
	Signer    TokenSigner
	Clock     clockwork.Clock
	Logger    *slog.Logger
}

func New(d Deps, cfg Config) *Handler {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	return &Handler{
		pool:      d.Pool,
		employees: d.Employees,
		customers: d.Customers,
		refresh:   d.Refresh,
		audit:     d.Audit,
		signer:    d.Signer,
		clock:     d.Clock,
		cfg:       cfg.withDefaults(),
		logger:    d.Logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/employee-purchase/auth/login", h.Login)
	mux.HandleFunc("/api/employee-purchase/auth/refresh", h.Refresh)
	mux.HandleFunc("/api/employee-purchase/auth/logout", h.Logout)
	mux.HandleFunc("/api/employee-purchase/auth/me", h.Me)
	mux.HandleFunc("/api/employee-purchase/auth/change-password", h.ChangePassword)

	mux.HandleFunc("/api/employee-purchase/employees", h.Employees)
	mux.HandleFunc("/api/employee-purchase/employees/{id}", h.Employee)

	mux.HandleFunc("/api/customer/auth/login", h.CustomerLogin)
	mux.HandleFunc("/api/customer/auth/login-with-id", h.CustomerLoginWithID)
	mux.HandleFunc("/api/customer/auth/change-pin", h.ChangePIN)
	mux.HandleFunc("/api/customer/auth/search", h.SearchCustomers)

	mux.HandleFunc("/.well-known/jwks.json", h.JWKS)
	mux.HandleFunc("/api/auth/rotate", h.Rotate)
	mux.HandleFunc("/api/auth/audit", h.Audit)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidBody)
		return false
	}
	return true
}

func requireOwner(w http.ResponseWriter, r *http.Request) (httpx.Actor, bool) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return actor, false
	}
	if !actor.IsEmployee() || !actor.IsOwner() {
		httpx.WriteError(w, http.StatusForbidden, msgOwnerOnly)
		return actor, false
	}
	return actor, true
}

// tokenFromRequest prefers the Authorization header over the cookie.
func tokenFromRequest(r *http.Request, cookie string) string {
	if tok := auth.BearerToken(r.Header.Get("Authorization")); tok != "" {
		return tok
	}
	if c, err := r.Cookie(cookie); err == nil {
		return c.Value
	}
	return ""
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value, path string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

func verifyPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
