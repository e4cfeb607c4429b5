package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/mspharm/libs/auth"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/services/auth-service/internal/storage"
)

const (
	msgPinFormat     = "6자리 PIN 코드를 입력해주세요"
	msgWrongPin      = "올바르지 않은 PIN 코드입니다"
	msgNewPinFormat  = "새 PIN은 6자리 숫자여야 합니다"
	msgPinSame       = "새 PIN은 현재 PIN과 달라야 합니다"
	msgWrongCurrent  = "현재 PIN이 올바르지 않습니다"
	msgPinTaken      = "이미 사용중인 PIN입니다. 다른 PIN을 선택해주세요"
	msgNoCustomer    = "고객 정보를 찾을 수 없습니다"
	msgNoPhoneOnFile = "등록된 번호 없음"
)

// customerLoginRequest accepts both the short and the legacy field names.
type customerLoginRequest struct {
	Name         string `json:"name"`
	CustomerName string `json:"customerName"`
	CustomerID   string `json:"customerId"`
	Pin          string `json:"pin"`
}

func (req customerLoginRequest) name() string {
	if n := strings.TrimSpace(req.Name); n != "" {
		return n
	}
	return strings.TrimSpace(req.CustomerName)
}

type customerSummary struct {
	ID           string `json:"id"`
	CustomerCode string `json:"customer_code"`
	Name         string `json:"name"`
}

type customerLoginResponse struct {
	RequiresPinChange bool            `json:"requiresPinChange"`
	Customer          customerSummary `json:"customer"`
	Token             string          `json:"token"`
}

func (h *Handler) CustomerLogin(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req customerLoginRequest
	if !decode(w, r, &req) {
		return
	}
	name := req.name()
	if name == "" || req.Pin == "" {
		httpx.WriteError(w, http.StatusBadRequest, "고객명과 PIN을 모두 입력해주세요")
		return
	}
	if !customerPinRe.MatchString(req.Pin) {
		httpx.WriteError(w, http.StatusBadRequest, msgPinFormat)
		return
	}
	candidates, err := h.customers.ByName(r.Context(), name)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}
	c, ok := matchPin(candidates, req.Pin)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, msgWrongPin)
		return
	}
	h.completeCustomerLogin(w, r, c)
}

func (h *Handler) CustomerLoginWithID(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req customerLoginRequest
	if !decode(w, r, &req) {
		return
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if req.CustomerID == "" || req.Pin == "" {
		httpx.WriteError(w, http.StatusBadRequest, "고객 ID와 PIN을 모두 입력해주세요")
		return
	}
	if !customerPinRe.MatchString(req.Pin) {
		httpx.WriteError(w, http.StatusBadRequest, msgPinFormat)
		return
	}
	c, err := h.customers.ByID(r.Context(), req.CustomerID)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, msgNoCustomer)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}
	if _, ok := matchPin([]storage.Customer{c}, req.Pin); !ok {
		httpx.WriteError(w, http.StatusUnauthorized, msgWrongPin)
		return
	}
	h.completeCustomerLogin(w, r, c)
}

func (h *Handler) completeCustomerLogin(w http.ResponseWriter, r *http.Request, c storage.Customer) {
	claims := auth.NewClaims(c.ID, c.Name, httpx.RoleCustomer, httpx.KindCustomer, CustomerIssuer, h.clock.Now(), h.cfg.CustomerTTL)
	token, err := h.signer.Sign(claims)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}
	h.setCookie(w, CustomerCookie, token, "/", h.cfg.CustomerTTL)
	h.logger.Info("customer login", "customer_id", c.ID, "initial_pin", c.IsInitialPin)
	httpx.WriteMessage(w, http.StatusOK, "로그인 성공", customerLoginResponse{
		RequiresPinChange: c.IsInitialPin,
		Customer:          customerSummary{ID: c.ID, CustomerCode: c.CustomerCode, Name: c.Name},
		Token:             token,
	})
}

// matchPin returns the first candidate whose stored hash accepts pin.
func matchPin(candidates []storage.Customer, pin string) (storage.Customer, bool) {
	for _, c := range candidates {
		if c.PinHash != "" && verifyPassword(c.PinHash, pin) == nil {
			return c, true
		}
	}
	return storage.Customer{}, false
}

type changePinRequest struct {
	CustomerID   string `json:"customerId"`
	CustomerName string `json:"customerName"`
	CurrentPin   string `json:"currentPin"`
	NewPin       string `json:"newPin"`
}

func validatePinChange(req changePinRequest) string {
	switch {
	case (req.CustomerID == "" && req.CustomerName == "") || req.CurrentPin == "" || req.NewPin == "":
		return "고객명, 현재 PIN, 새 PIN이 모두 필요합니다"
	case !customerPinRe.MatchString(req.NewPin):
		return msgNewPinFormat
	case req.CurrentPin == req.NewPin:
		return msgPinSame
	}
	return ""
}

func (h *Handler) ChangePIN(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req changePinRequest
	if !decode(w, r, &req) {
		return
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if actor := httpx.ActorFromRequest(r); actor.IsCustomer() {
		req.CustomerID = actor.ID
	}
	if msg := validatePinChange(req); msg != "" {
		httpx.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	ctx := r.Context()
	c, err := h.customerForPinChange(ctx, req)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusUnauthorized, msgWrongCurrent)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}

	namesakes, err := h.customers.ByName(ctx, c.Name)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}
	others := namesakes[:0]
	for _, n := range namesakes {
		if n.ID != c.ID {
			others = append(others, n)
		}
	}
	if _, taken := matchPin(others, req.NewPin); taken {
		httpx.WriteError(w, http.StatusConflict, msgPinTaken)
		return
	}

	hash, err := hashPassword(req.NewPin)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}
	if err := h.customers.SetPIN(ctx, c.ID, hash); err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "PIN이 성공적으로 변경되었습니다", customerSummary{ID: c.ID, CustomerCode: c.CustomerCode, Name: c.Name})
}

// customerForPinChange resolves the customer whose current PIN matches,
// by id when known and by name otherwise.
func (h *Handler) customerForPinChange(ctx context.Context, req changePinRequest) (storage.Customer, error) {
	var candidates []storage.Customer
	if req.CustomerID != "" {
		c, err := h.customers.ByID(ctx, req.CustomerID)
		if err != nil {
			return storage.Customer{}, err
		}
		candidates = []storage.Customer{c}
	} else {
		var err error
		candidates, err = h.customers.ByName(ctx, req.CustomerName)
		if err != nil {
			return storage.Customer{}, err
		}
	}
	c, ok := matchPin(candidates, req.CurrentPin)
	if !ok {
		return storage.Customer{}, storage.ErrNotFound
	}
	return c, nil
}

type customerMatch struct {
	ID           string `json:"id"`
	CustomerCode string `json:"customer_code"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
}

// SearchCustomers lets a customer pick their record among namesakes
// before logging in, so phones are masked.
func (h *Handler) SearchCustomers(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if r.Method == http.MethodPost {
		var req customerLoginRequest
		if !decode(w, r, &req) {
			return
		}
		name = req.name()
	}
	if name == "" {
		httpx.WriteError(w, http.StatusBadRequest, "고객명을 입력해주세요")
		return
	}
	found, err := h.customers.ByName(r.Context(), name)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}
	if len(found) == 0 {
		httpx.WriteError(w, http.StatusNotFound, "해당 이름의 고객을 찾을 수 없습니다")
		return
	}
	out := make([]customerMatch, 0, len(found))
	for _, c := range found {
		out = append(out, customerMatch{ID: c.ID, CustomerCode: c.CustomerCode, Name: c.Name, Phone: MaskPhone(c.Phone)})
	}
	httpx.WriteData(w, http.StatusOK, out)
}

// MaskPhone keeps the first three and last four digits: 010-****-1234.
func MaskPhone(phone string) string {
	var digits strings.Builder
	for _, c := range phone {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	d := digits.String()
	if len(d) < 7 {
		return msgNoPhoneOnFile
	}
	return d[:3] + "-****-" + d[len(d)-4:]
}
