package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/auth"
	"github.com/md-rashed-zaman/mspharm/libs/events"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/services/auth-service/internal/audit"
	"github.com/md-rashed-zaman/mspharm/services/auth-service/internal/sessions"
	"github.com/md-rashed-zaman/mspharm/services/auth-service/internal/storage"
)

const (
	refreshPath = "/api/employee-purchase/auth"

	msgBadCredentials  = "이름 또는 비밀번호가 올바르지 않습니다"
	msgSessionExpired  = "세션이 만료되었습니다. 다시 로그인해주세요"
	msgPasswordFormat  = "새 비밀번호는 4자리 숫자여야 합니다"
	msgWrongPassword   = "현재 비밀번호가 올바르지 않습니다"
	msgPasswordSame    = "새 비밀번호는 현재 비밀번호와 달라야 합니다"
	msgPasswordMissing = "현재 비밀번호와 새 비밀번호를 모두 입력해주세요"
)

type loginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	Token        string           `json:"token"`
	RefreshToken string           `json:"refresh_token"`
	TokenType    string           `json:"token_type"`
	ExpiresIn    int64            `json:"expires_in"`
	Employee     storage.Employee `json:"employee"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "이름과 비밀번호를 입력해주세요")
		return
	}

	emp, err := h.employees.GetByName(r.Context(), req.Name)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusUnauthorized, msgBadCredentials)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}
	if !emp.IsActive || verifyPassword(emp.PasswordHash, req.Password) != nil {
		httpx.WriteError(w, http.StatusUnauthorized, msgBadCredentials)
		return
	}

	resp, err := h.issueEmployeeTokens(r.Context(), emp)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}
	h.record(r.Context(), audit.Entry{ActorID: emp.ID, Action: audit.ActionLogin, Target: emp.ID},
		events.EmployeeLoggedIn, emp, emp.ID)

	h.setSessionCookies(w, resp)
	httpx.WriteMessage(w, http.StatusOK, "로그인 성공", resp)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}
	raw := refreshTokenFrom(r, req)
	if raw == "" {
		httpx.WriteError(w, http.StatusUnauthorized, msgSessionExpired)
		return
	}

	ctx := r.Context()
	rec, err := h.refresh.Get(ctx, raw)
	if errors.Is(err, sessions.ErrNotFound) {
		httpx.WriteError(w, http.StatusUnauthorized, msgSessionExpired)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}
	if !rec.Usable(h.clock.Now()) || rec.SubjectKind != httpx.KindEmployee {
		httpx.WriteError(w, http.StatusUnauthorized, msgSessionExpired)
		return
	}

	emp, err := h.employees.GetByID(ctx, rec.SubjectID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !emp.IsActive) {
		httpx.WriteError(w, http.StatusUnauthorized, msgSessionExpired)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}
	if err := h.refresh.Revoke(ctx, rec.Hash); err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}
	resp, err := h.issueEmployeeTokens(ctx, emp)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}
	h.setSessionCookies(w, resp)
	httpx.WriteData(w, http.StatusOK, resp)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req refreshRequest
	_ = httpx.DecodeJSON(r, &req)
	if raw := refreshTokenFrom(r, req); raw != "" && h.refresh != nil {
		if err := h.refresh.Revoke(r.Context(), sessions.HashToken(raw)); err != nil {
			h.logger.Warn("refresh revoke failed", "err", err)
		}
	}
	h.clearCookie(w, EmployeeCookie, "/")
	h.clearCookie(w, RefreshCookie, refreshPath)
	httpx.WriteMessage(w, http.StatusOK, "로그아웃되었습니다", nil)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	token := tokenFromRequest(r, EmployeeCookie)
	if token == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "인증이 필요합니다")
		return
	}
	claims, err := h.signer.Verify(token)
	if err != nil || claims.Kind != httpx.KindEmployee {
		httpx.WriteError(w, http.StatusUnauthorized, "유효하지 않은 토큰입니다")
		return
	}
	emp, err := h.employees.GetByID(r.Context(), claims.Sub)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !emp.IsActive) {
		httpx.WriteError(w, http.StatusUnauthorized, "유효하지 않은 토큰입니다")
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, emp)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// validatePasswordChange returns the user-facing rejection, or "".
func validatePasswordChange(req changePasswordRequest) string {
	switch {
	case req.CurrentPassword == "" || req.NewPassword == "":
		return msgPasswordMissing
	case !employeePasswordRe.MatchString(req.NewPassword):
		return msgPasswordFormat
	case req.CurrentPassword == req.NewPassword:
		return msgPasswordSame
	}
	return ""
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	if !actor.IsEmployee() {
		httpx.WriteError(w, http.StatusForbidden, "직원만 사용할 수 있습니다")
		return
	}
	var req changePasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if msg := validatePasswordChange(req); msg != "" {
		httpx.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	ctx := r.Context()
	emp, err := h.employees.GetByID(ctx, actor.ID)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "존재하지 않는 직원입니다")
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}
	if verifyPassword(emp.PasswordHash, req.CurrentPassword) != nil {
		httpx.WriteError(w, http.StatusUnauthorized, msgWrongPassword)
		return
	}
	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}
	err = h.pool.InTx(ctx, func(tx pgx.Tx) error {
		if err := h.employees.SetPasswordTx(ctx, tx, emp.ID, hash); err != nil {
			return err
		}
		return h.audit.RecordTx(ctx, tx,
			audit.Entry{ActorID: emp.ID, Action: audit.ActionPasswordChanged, Target: emp.ID},
			audit.Event{Type: events.EmployeePasswordChanged, AggregateID: emp.ID, Payload: h.employeeEvent(emp, emp.ID)})
	})
	if err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}
	if err := h.refresh.RevokeSubject(ctx, emp.ID); err != nil {
		h.logger.Warn("session revoke after password change failed", "employee_id", emp.ID, "err", err)
	}
	httpx.WriteMessage(w, http.StatusOK, "비밀번호가 변경되었습니다", nil)
}

func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	set := h.signer.JWKS()
	if len(set.Keys) == 0 {
		httpx.WriteError(w, http.StatusNotFound, "jwks not available")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	httpx.WriteJSON(w, http.StatusOK, set)
}

func (h *Handler) rotateKeyOK(r *http.Request) bool {
	key := r.Header.Get("X-Rotate-Key")
	return h.cfg.RotateKey != "" && key == h.cfg.RotateKey
}

func (h *Handler) Rotate(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	if !h.rotateKeyOK(r) {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req struct {
		ActiveKid string `json:"active_kid"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.ActiveKid == "" {
		httpx.WriteError(w, http.StatusBadRequest, "active_kid is required")
		return
	}
	if err := h.signer.Rotate(req.ActiveKid); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.record(r.Context(), audit.Entry{
		Action:   audit.ActionKeyRotated,
		Metadata: map[string]any{"active_kid": req.ActiveKid},
	}, "", storage.Employee{}, "")
	httpx.WriteMessage(w, http.StatusOK, "signing key rotated", map[string]string{"active_kid": req.ActiveKid})
}

// Audit lists recent entries to the owner or to an operator holding the
// rotation key.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if !h.rotateKeyOK(r) {
		if _, ok := requireOwner(w, r); !ok {
			return
		}
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := h.audit.ListRecent(r.Context(), limit)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, rows)
}

func (h *Handler) issueEmployeeTokens(ctx context.Context, emp storage.Employee) (tokenResponse, error) {
	now := h.clock.Now()
	claims := auth.NewClaims(emp.ID, emp.Name, emp.Role, httpx.KindEmployee, EmployeeIssuer, now, h.cfg.AccessTTL)
	token, err := h.signer.Sign(claims)
	if err != nil {
		return tokenResponse{}, err
	}
	refresh, err := newRefreshToken()
	if err != nil {
		return tokenResponse{}, err
	}
	if err := h.refresh.Create(ctx, emp.ID, httpx.KindEmployee, refresh, now.Add(h.cfg.RefreshTTL)); err != nil {
		return tokenResponse{}, err
	}
	return tokenResponse{
		Token:        token,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.cfg.AccessTTL.Seconds()),
		Employee:     emp,
	}, nil
}

func (h *Handler) setSessionCookies(w http.ResponseWriter, resp tokenResponse) {
	h.setCookie(w, EmployeeCookie, resp.Token, "/", h.cfg.AccessTTL)
	h.setCookie(w, RefreshCookie, resp.RefreshToken, refreshPath, h.cfg.RefreshTTL)
}

// refreshTokenFrom prefers the body over the refresh cookie.
func refreshTokenFrom(r *http.Request, req refreshRequest) string {
	if raw := strings.TrimSpace(req.RefreshToken); raw != "" {
		return raw
	}
	if c, err := r.Cookie(RefreshCookie); err == nil {
		return c.Value
	}
	return ""
}

func (h *Handler) employeeEvent(emp storage.Employee, actorID string) events.Employee {
	return events.Employee{EmployeeID: emp.ID, Name: emp.Name, Role: emp.Role, ActorID: actorID, At: h.clock.Now().UTC()}
}

// record writes an audit entry outside any business transaction. Failures
// are logged; the caller's action has already happened.
func (h *Handler) record(ctx context.Context, e audit.Entry, eventType string, emp storage.Employee, actorID string) {
	if h.audit == nil {
		return
	}
	var evt audit.Event
	if eventType != "" {
		evt = audit.Event{Type: eventType, AggregateID: emp.ID, Payload: h.employeeEvent(emp, actorID)}
	}
	if err := h.audit.Record(ctx, e, evt); err != nil {
		h.logger.Warn("audit record failed", "action", e.Action, "err", err)
	}
}
