package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

const (
	msgNameRequired  = "이름은 필수 입력 항목입니다."
	msgCustomerError = "고객 정보 처리 중 오류가 발생했습니다."
	msgPinFormat     = "PIN은 6자리 숫자여야 합니다."
	msgBadBirth      = "생년월일은 YYYY-MM-DD 형식이어야 합니다."
	defaultPin       = "000000"
)

var pinRe = regexp.MustCompile(`^\d{6}$`)

// flexInt accepts 42 or "42".
type flexInt struct{ v *int }

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		f.v = nil
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	f.v = &n
	return nil
}

type customerRequest struct {
	Name          *string         `json:"name"`
	Phone         *string         `json:"phone"`
	Gender        *string         `json:"gender"`
	Birth         *string         `json:"birth"`
	EstimatedAge  flexInt         `json:"estimatedAge"`
	Address       *string         `json:"address"`
	SpecialNote   *string         `json:"specialNote"`
	FaceEmbedding json.RawMessage `json:"faceEmbedding"`
	Pin           string          `json:"pin"`
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

func parseBirth(p *string) (*time.Time, bool) {
	s := str(p)
	if s == "" {
		return nil, true
	}
	t, err := time.ParseInLocation("2006-01-02", s, KST)
	if err != nil {
		return nil, false
	}
	return &t, true
}

// InitialPin is the last six digits of phone, or 000000 when it has fewer.
func InitialPin(phone string) string {
	var digits []byte
	for i := 0; i < len(phone); i++ {
		if phone[i] >= '0' && phone[i] <= '9' {
			digits = append(digits, phone[i])
		}
	}
	if len(digits) < 6 {
		return defaultPin
	}
	return string(digits[len(digits)-6:])
}

// Customers serves search (GET) and registration (POST).
func (h *Handler) Customers(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	if r.Method == http.MethodPost {
		h.createCustomer(w, r)
		return
	}
	q := r.URL.Query()
	customers, err := h.repo.SearchCustomers(r.Context(), strings.TrimSpace(q.Get("search")), q.Get("includeDeleted") == "true")
	if err != nil {
		httpx.Fail(w, r, h.logger, "고객 조회 중 오류가 발생했습니다.", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{"customers": customers, "total": len(customers)})
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if !decode(w, r, &req) {
		return
	}
	in, msg := newCustomerInput(req)
	if msg != "" {
		httpx.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	pin := req.Pin
	in.InitialPin = pin == ""
	if in.InitialPin {
		pin = InitialPin(in.Phone)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		httpx.Fail(w, r, h.logger, "고객 등록 중 오류가 발생했습니다.", err)
		return
	}
	in.PinHash = string(hash)
	created, err := h.repo.CreateCustomer(r.Context(), in)
	if err != nil {
		httpx.Fail(w, r, h.logger, "고객 등록 중 오류가 발생했습니다.", err)
		return
	}
	httpx.WriteMessage(w, http.StatusCreated, "고객이 등록되었습니다.", map[string]any{"customer": created})
}

// newCustomerInput validates a registration and returns the Korean error
// message when it is rejected.
func newCustomerInput(req customerRequest) (storage.NewCustomer, string) {
	name := str(req.Name)
	if name == "" {
		return storage.NewCustomer{}, msgNameRequired
	}
	if req.Pin != "" && !pinRe.MatchString(req.Pin) {
		return storage.NewCustomer{}, msgPinFormat
	}
	birth, ok := parseBirth(req.Birth)
	if !ok {
		return storage.NewCustomer{}, msgBadBirth
	}
	var embedding json.RawMessage
	if len(req.FaceEmbedding) > 0 && string(req.FaceEmbedding) != "null" {
		embedding = req.FaceEmbedding
	}
	return storage.NewCustomer{
		Name:          name,
		Phone:         str(req.Phone),
		Gender:        str(req.Gender),
		BirthDate:     birth,
		EstimatedAge:  req.EstimatedAge.v,
		Address:       str(req.Address),
		SpecialNotes:  str(req.SpecialNote),
		FaceEmbedding: embedding,
	}, ""
}

func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	page := httpx.PageFromQuery(r, 20)
	customers, total, err := h.repo.ListCustomers(r.Context(), page.Limit, page.Offset())
	if err != nil {
		httpx.Fail(w, r, h.logger, "고객 목록 조회 중 오류가 발생했습니다.", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{
		"customers":  customers,
		"pagination": pagination(page, total),
	})
}

func pagination(p httpx.Page, total int) map[string]int {
	return map[string]int{"page": p.Page, "limit": p.Limit, "total": total, "totalPages": p.TotalPages(total)}
}

// Customer serves GET and PUT on one customer.
func (h *Handler) Customer(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	id := r.PathValue("id")
	if r.Method == http.MethodGet {
		if _, ok := customerScope(w, r, id); !ok {
			return
		}
		if !knownID(w, id, msgNoCustomer) {
			return
		}
		c, err := h.repo.GetCustomer(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, msgNoCustomer)
			return
		}
		if err != nil {
			httpx.Fail(w, r, h.logger, msgCustomerError, err)
			return
		}
		httpx.WriteData(w, http.StatusOK, map[string]any{"customer": c})
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	var req customerRequest
	if !decode(w, r, &req) {
		return
	}
	u, msg := customerUpdate(req)
	if msg != "" {
		httpx.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if !knownID(w, id, msgNoCustomer) {
		return
	}
	c, err := h.repo.UpdateCustomer(r.Context(), id, u)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, msgNoCustomer)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "고객 정보 업데이트 중 오류가 발생했습니다.", err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "고객 정보가 업데이트되었습니다.", map[string]any{"customer": c})
}

func customerUpdate(req customerRequest) (storage.CustomerUpdate, string) {
	if req.Name != nil && str(req.Name) == "" {
		return storage.CustomerUpdate{}, msgNameRequired
	}
	birth, ok := parseBirth(req.Birth)
	if !ok {
		return storage.CustomerUpdate{}, msgBadBirth
	}
	trimmed := func(p *string) *string {
		if p == nil {
			return nil
		}
		s := strings.TrimSpace(*p)
		return &s
	}
	return storage.CustomerUpdate{
		Name:         trimmed(req.Name),
		Phone:        trimmed(req.Phone),
		Gender:       trimmed(req.Gender),
		BirthDate:    birth,
		EstimatedAge: req.EstimatedAge.v,
		Address:      trimmed(req.Address),
		SpecialNotes: trimmed(req.SpecialNote),
	}, ""
}

// DeleteCustomer soft deletes, or with permanent=true removes the customer
// and every stored image (owner only).
func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodDelete, http.MethodPost) {
		return
	}
	actor, ok := requireStaff(w, r)
	if !ok {
		return
	}
	var body struct {
		CustomerID string `json:"customerId"`
	}
	if !decode(w, r, &body) {
		return
	}
	q := r.URL.Query()
	id := strings.TrimSpace(q.Get("id"))
	if id == "" {
		id = strings.TrimSpace(body.CustomerID)
	}
	if id == "" {
		httpx.WriteError(w, http.StatusBadRequest, "고객 ID가 필요합니다.")
		return
	}
	ctx := r.Context()
	if q.Get("permanent") == "true" {
		if !actor.IsOwner() {
			httpx.WriteError(w, http.StatusForbidden, msgOwnerOnly)
			return
		}
		if !knownID(w, id, msgNoCustomer) {
			return
		}
		consultationImages, foodImages, err := h.repo.HardDelete(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, msgNoCustomer)
			return
		}
		if err != nil {
			httpx.Fail(w, r, h.logger, "고객 영구 삭제 중 오류가 발생했습니다.", err)
			return
		}
		h.removeImages(ctx, ConsultationBucket, consultationImages)
		h.removeImages(ctx, FoodBucket, foodImages)
		if h.advisor != nil {
			h.advisor.Forget(ctx, id)
		}
		httpx.WriteMessage(w, http.StatusOK, "고객이 영구 삭제되었습니다.", nil)
		return
	}
	if !knownID(w, id, msgNoCustomer) {
		return
	}
	if _, err := h.repo.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, msgNoCustomer)
			return
		}
		httpx.Fail(w, r, h.logger, "고객 삭제 중 오류가 발생했습니다.", err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "고객이 휴지통으로 이동되었습니다.", nil)
}

func (h *Handler) Trash(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	customers, err := h.repo.Trash(r.Context())
	if err != nil {
		httpx.Fail(w, r, h.logger, "휴지통 고객 목록 조회 중 오류가 발생했습니다.", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{"customers": customers, "totalCount": len(customers)})
}

func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	id := r.PathValue("id")
	if !knownID(w, id, msgNoCustomer) {
		return
	}
	c, err := h.repo.Restore(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, msgNoCustomer)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "고객 복원 중 오류가 발생했습니다.", err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "고객이 복원되었습니다.", map[string]any{"customer": c})
}
