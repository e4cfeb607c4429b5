package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/mspharm/libs/cache"
	"github.com/md-rashed-zaman/mspharm/libs/gemini"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	objstore "github.com/md-rashed-zaman/mspharm/libs/storage"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/lifestyle"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/storage"
)

type fakeModel struct {
	reply string
	err   error
}

func (f fakeModel) Text(context.Context, string, ...gemini.Blob) (string, error) {
	return f.reply, f.err
}

func (f fakeModel) JSON(_ context.Context, _ string, dst any, _ ...gemini.Blob) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply, gemini.DecodeJSON(f.reply, dst)
}

var (
	staff    = &httpx.Actor{ID: "emp-1", Name: "김직원", Role: httpx.RoleStaff, Kind: httpx.KindEmployee}
	owner    = &httpx.Actor{ID: "emp-9", Name: "사장", Role: httpx.RoleOwner, Kind: httpx.KindEmployee}
	customer = &httpx.Actor{ID: "cus-1", Name: "홍길동", Role: httpx.RoleCustomer, Kind: httpx.KindCustomer}
)

// newTestHandler has no repository; tests only reach paths that reject the
// request or never touch storage.
func newTestHandler(model Model, store objstore.Store) *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClockAt(time.Date(2026, 6, 1, 12, 0, 0, 0, KST))
	advisor := lifestyle.NewAdvisor(model, cache.NewLoader[lifestyle.Tips](cache.NewMemory(clock), "tips:", time.Hour, logger))
	return New(Deps{Store: store, Model: model, Advisor: advisor, Clock: clock, Logger: logger})
}

func newMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func send(t *testing.T, mux http.Handler, req *http.Request, actor *httpx.Actor) (*httptest.ResponseRecorder, httpx.Envelope) {
	t.Helper()
	if actor != nil {
		httpx.SetActorHeaders(req.Header, *actor)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var env httpx.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope %q: %v", rec.Body.String(), err)
	}
	return rec, env
}

func do(t *testing.T, mux http.Handler, method, path string, actor *httpx.Actor, body any) (*httptest.ResponseRecorder, httpx.Envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	return send(t, mux, httptest.NewRequest(method, path, &buf), actor)
}

func imageRequest(t *testing.T, path string, image []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if image != nil {
		part, err := mw.CreateFormFile("image", "face.jpg")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(image); err != nil {
			t.Fatal(err)
		}
	} else {
		_ = mw.WriteField("note", "empty")
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, env httpx.Envelope, status int, msg string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected %d, got %d (%s)", status, rec.Code, rec.Body.String())
	}
	if env.Success || env.Error != msg {
		t.Fatalf("expected error %q, got %+v", msg, env)
	}
}

func TestWrongMethodIs405(t *testing.T) {
	mux := newMux(newTestHandler(nil, nil))
	rec, env := do(t, mux, http.MethodPatch, "/api/customer", staff, nil)
	expectError(t, rec, env, http.StatusMethodNotAllowed, "method not allowed")
	rec, env = do(t, mux, http.MethodGet, "/api/face-embedding", staff, nil)
	expectError(t, rec, env, http.StatusMethodNotAllowed, "method not allowed")
}

func TestStaffRoutesRejectOthers(t *testing.T) {
	mux := newMux(newTestHandler(nil, nil))
	rec, env := do(t, mux, http.MethodGet, "/api/customer?search=kim", nil, nil)
	expectError(t, rec, env, http.StatusUnauthorized, "인증이 필요합니다")
	rec, env = do(t, mux, http.MethodPost, "/api/consultation", customer, map[string]any{})
	expectError(t, rec, env, http.StatusForbidden, msgStaffOnly)
}

func TestCreateCustomerValidation(t *testing.T) {
	mux := newMux(newTestHandler(nil, nil))
	rec, env := do(t, mux, http.MethodPost, "/api/customer", staff, map[string]any{"name": "  ", "phone": "010-1234-5678"})
	expectError(t, rec, env, http.StatusBadRequest, msgNameRequired)
	rec, env = do(t, mux, http.MethodPost, "/api/customer", staff, map[string]any{"name": "홍길동", "pin": "12ab"})
	expectError(t, rec, env, http.StatusBadRequest, msgPinFormat)
	rec, env = do(t, mux, http.MethodPost, "/api/customer", staff, map[string]any{"name": "홍길동", "birth": "1980/01/01"})
	expectError(t, rec, env, http.StatusBadRequest, msgBadBirth)
}

func TestNewCustomerInputAcceptsStringAge(t *testing.T) {
	var req customerRequest
	if err := json.Unmarshal([]byte(`{"name":"홍길동","estimatedAge":"45","birth":"1981-02-03"}`), &req); err != nil {
		t.Fatal(err)
	}
	in, msg := newCustomerInput(req)
	if msg != "" {
		t.Fatalf("unexpected rejection %q", msg)
	}
	if in.EstimatedAge == nil || *in.EstimatedAge != 45 {
		t.Fatalf("estimated age = %v", in.EstimatedAge)
	}
	if in.BirthDate == nil || in.BirthDate.Format("2006-01-02") != "1981-02-03" {
		t.Fatalf("birth date = %v", in.BirthDate)
	}
}

func TestInitialPin(t *testing.T) {
	cases := map[string]string{
		"010-1234-5678": "345678",
		"01098765432":   "765432",
		"123-45":        "000000",
		"":              "000000",
	}
	for phone, want := range cases {
		if got := InitialPin(phone); got != want {
			t.Fatalf("InitialPin(%q) = %q, want %q", phone, got, want)
		}
	}
}

func TestPermanentDeleteIsOwnerOnly(t *testing.T) {
	mux := newMux(newTestHandler(nil, nil))
	rec, env := do(t, mux, http.MethodPost, "/api/customer/delete?id=c-1&permanent=true", staff, nil)
	expectError(t, rec, env, http.StatusForbidden, msgOwnerOnly)
	rec, env = do(t, mux, http.MethodDelete, "/api/customer/delete", owner, nil)
	expectError(t, rec, env, http.StatusBadRequest, "고객 ID가 필요합니다.")
}

func TestCreateConsultationValidation(t *testing.T) {
	mux := newMux(newTestHandler(nil, nil))
	rec, env := do(t, mux, http.MethodPost, "/api/consultation", staff, map[string]any{"customer_id": "c-1", "symptoms": " "})
	expectError(t, rec, env, http.StatusBadRequest, msgSymptomsRequired)
	rec, env = do(t, mux, http.MethodPost, "/api/consultation", staff, map[string]any{
		"customer_id": "c-1", "symptoms": "두통", "consult_date": "2029-01-01",
	})
	expectError(t, rec, env, http.StatusBadRequest, msgBadConsultDate)
}

func TestParseConsultDate(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, KST)
	for _, ok := range []string{"2026-05-31", "1900-01-01", "2028-05-31T10:00:00+09:00"} {
		if _, valid := parseConsultDate(ok, now); !valid {
			t.Fatalf("%s should be valid", ok)
		}
	}
	for _, bad := range []string{"1899-12-31", "2028-06-02", "yesterday"} {
		if _, valid := parseConsultDate(bad, now); valid {
			t.Fatalf("%s should be rejected", bad)
		}
	}
}

func TestCustomerScope(t *testing.T) {
	mux := newMux(newTestHandler(nil, nil))
	rec, env := do(t, mux, http.MethodGet, "/api/customer/food/records?customerId=cus-2", customer, nil)
	expectError(t, rec, env, http.StatusForbidden, msgForbidden)
	rec, env = do(t, mux, http.MethodGet, "/api/customer/food/records", staff, nil)
	expectError(t, rec, env, http.StatusBadRequest, msgCustomerIDNeeded)
	rec, env = do(t, mux, http.MethodPost, "/api/customer/lifestyle/recommendations", staff, map[string]string{})
	expectError(t, rec, env, http.StatusBadRequest, msgCustomerIDNeeded)
}

func TestMalformedIDsAreNotFound(t *testing.T) {
	mux := newMux(newTestHandler(nil, nil))
	rec, env := do(t, mux, http.MethodGet, "/api/customer/abc", staff, nil)
	expectError(t, rec, env, http.StatusNotFound, msgNoCustomer)
	rec, env = do(t, mux, http.MethodPost, "/api/customer/trash/abc/restore", staff, nil)
	expectError(t, rec, env, http.StatusNotFound, msgNoCustomer)
	rec, env = do(t, mux, http.MethodGet, "/api/consultation/abc", staff, nil)
	expectError(t, rec, env, http.StatusNotFound, msgNoConsultation)
	rec, env = do(t, mux, http.MethodGet, "/api/consultation?customerId=abc", staff, nil)
	expectError(t, rec, env, http.StatusNotFound, msgNoCustomer)
	rec, env = do(t, mux, http.MethodGet, "/api/customer/food/records?customerId=abc", staff, nil)
	expectError(t, rec, env, http.StatusNotFound, msgNoCustomer)
	rec, env = do(t, mux, http.MethodDelete, "/api/customer/food/records/abc", customer, nil)
	expectError(t, rec, env, http.StatusNotFound, msgNoFood)
}

func TestFoodValidation(t *testing.T) {
	mux := newMux(newTestHandler(nil, nil))
	rec, env := do(t, mux, http.MethodPost, "/api/customer/food/analyze", customer, map[string]string{"customerId": "cus-1"})
	expectError(t, rec, env, http.StatusBadRequest, msgFoodInput)
	rec, env = do(t, mux, http.MethodGet, "/api/customer/food/record", customer, nil)
	expectError(t, rec, env, http.StatusBadRequest, msgFoodIDRequired)
	rec, env = do(t, mux, http.MethodPost, "/api/customer/food/analyze", customer, map[string]string{"customerId": "cus-1", "image": "aGVsbG8="})
	expectError(t, rec, env, http.StatusServiceUnavailable, msgAIUnavailable)
}

func TestSearchRequiresTerm(t *testing.T) {
	mux := newMux(newTestHandler(nil, nil))
	rec, env := do(t, mux, http.MethodGet, "/api/consultation/search?q=%20", staff, nil)
	expectError(t, rec, env, http.StatusBadRequest, "검색어를 입력해주세요.")
}

func TestFaceEmbedding(t *testing.T) {
	reply := `{"faceDetected": true, "embedding": {"eyeDistanceRatio": 0.48}, "gender": "여성", "age": 35}`
	mux := newMux(newTestHandler(fakeModel{reply: reply}, nil))
	rec, env := send(t, mux, imageRequest(t, "/api/face-embedding", []byte("\xff\xd8\xff\xe0jpeg")), staff)
	if rec.Code != http.StatusOK || !env.Success || env.Message != "" {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	data := env.Data.(map[string]any)
	emb := data["embedding"].(map[string]any)
	if emb["eyeDistanceRatio"] != 0.48 || emb["eyeNoseRatio"] != 0.35 || emb["contourFeatures"] != "둥근 형태" {
		t.Fatalf("unexpected embedding %v", emb)
	}
}

func TestFaceEmbeddingUnreadableReplyUsesDefaults(t *testing.T) {
	mux := newMux(newTestHandler(fakeModel{reply: "얼굴이 보이지 않습니다"}, nil))
	rec, env := send(t, mux, imageRequest(t, "/api/face-embedding", []byte("img")), staff)
	if rec.Code != http.StatusOK || env.Message != msgFaceDefaultUsed {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if env.Data.(map[string]any)["gender"] != "불명확" {
		t.Fatalf("expected default payload, got %v", env.Data)
	}
}

func TestFaceEmbeddingErrors(t *testing.T) {
	mux := newMux(newTestHandler(fakeModel{err: errors.New("quota")}, nil))
	rec, env := send(t, mux, imageRequest(t, "/api/face-embedding", nil), staff)
	expectError(t, rec, env, http.StatusBadRequest, msgImageRequired)
	rec, env = send(t, mux, imageRequest(t, "/api/face-embedding", []byte("img")), staff)
	expectError(t, rec, env, http.StatusInternalServerError, msgImageAnalysis)
	rec, env = send(t, mux, imageRequest(t, "/api/face-embedding", make([]byte, maxFaceImage+1)), staff)
	expectError(t, rec, env, http.StatusBadRequest, msgImageTooLarge)
}

func TestSetFaceRejectsEmptyEmbedding(t *testing.T) {
	mux := newMux(newTestHandler(nil, nil))
	rec, env := do(t, mux, http.MethodPut, "/api/customer/c-1/face", staff, map[string]any{"faceEmbedding": map[string]string{"gender": "남성"}})
	expectError(t, rec, env, http.StatusBadRequest, "얼굴 특징 데이터가 올바르지 않습니다.")
}

func TestUploadImagesSkipsUsedNamesAndBadData(t *testing.T) {
	store := objstore.NewMemory()
	h := newTestHandler(nil, store)
	existing := store.PublicURL(ConsultationBucket, "00003/00003_002/image_1.jpg")
	c := storage.Consultation{CustomerCode: "00003", ConsultationID: "00003_002", ImageURLs: []string{existing}}

	urls := h.uploadImages(context.Background(), c, []string{"data:image/png;base64,aGVsbG8=", "%%%", "d29ybGQ="})
	if len(urls) != 2 {
		t.Fatalf("expected 2 uploads, got %v", urls)
	}
	for _, p := range []string{"00003/00003_002/image_2.jpg", "00003/00003_002/image_3.jpg"} {
		if !store.Has(ConsultationBucket, p) {
			t.Fatalf("missing object %s", p)
		}
	}

	h.removeImages(context.Background(), ConsultationBucket, urls[:1])
	if store.Has(ConsultationBucket, "00003/00003_002/image_2.jpg") {
		t.Fatal("image_2 should have been removed")
	}
}
