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
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/mspharm/libs/cache"
	"github.com/md-rashed-zaman/mspharm/libs/gemini"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	objstore "github.com/md-rashed-zaman/mspharm/libs/storage"
	"github.com/md-rashed-zaman/mspharm/services/ledger-service/internal/income"
	"github.com/md-rashed-zaman/mspharm/services/ledger-service/internal/purchase"
	"github.com/md-rashed-zaman/mspharm/services/ledger-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memDays struct {
	mu   sync.Mutex
	days map[string]income.Day
}

func (m *memDays) Get(_ context.Context, date string) (income.Day, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.days[date]
	return d, ok, nil
}

func (m *memDays) Save(_ context.Context, d income.Day) (income.Day, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.days[d.Date] = d
	return d, nil
}

func (m *memDays) Range(_ context.Context, from, to string) ([]income.Day, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []income.Day
	for _, d := range m.days {
		if (from == "" || d.Date >= from) && (to == "" || d.Date <= to) {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakePurchases struct {
	items   map[string]storage.PurchaseRequest
	decided []string
	filter  storage.PurchaseFilter
	since   time.Time
}

func (f *fakePurchases) CreatePurchase(_ context.Context, employeeID string, amount int64, urls []string, notes string) (storage.PurchaseRequest, error) {
	p := storage.PurchaseRequest{ID: "new", EmployeeID: employeeID, TotalAmount: amount, ImageURLs: urls, Notes: notes, Status: storage.StatusPending}
	f.items[p.ID] = p
	return p, nil
}

func (f *fakePurchases) GetPurchase(_ context.Context, id string) (storage.PurchaseRequest, error) {
	p, ok := f.items[id]
	if !ok {
		return p, storage.ErrNotFound
	}
	return p, nil
}

func (f *fakePurchases) ListPurchases(_ context.Context, flt storage.PurchaseFilter) ([]storage.PurchaseRequest, int, error) {
	f.filter = flt
	return []storage.PurchaseRequest{}, 0, nil
}

func (f *fakePurchases) DecidePurchase(_ context.Context, id, status, deciderID, reason string) (storage.PurchaseRequest, error) {
	p := f.items[id]
	p.Status, p.RejectionReason = status, reason
	p.ApprovedBy = &deciderID
	f.items[id] = p
	f.decided = append(f.decided, id+":"+status)
	return p, nil
}

func (f *fakePurchases) PurchaseStats(_ context.Context, since time.Time) ([]purchase.Entry, error) {
	f.since = since
	return []purchase.Entry{{EmployeeName: "김약사", Status: "approved", TotalAmount: 30_000, RequestDate: since}}, nil
}

type fakeModel struct {
	reply string
	err   error
	mime  string
}

func (f *fakeModel) Text(_ context.Context, _ string, blobs ...gemini.Blob) (string, error) {
	if len(blobs) > 0 {
		f.mime = blobs[0].MIMEType
	}
	return f.reply, f.err
}

type fixture struct {
	mux       *http.ServeMux
	days      *memDays
	purchases *fakePurchases
	store     *objstore.Memory
	model     *fakeModel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 9, 30, 0, 0, income.KST))
	f := &fixture{
		days:      &memDays{days: map[string]income.Day{}},
		purchases: &fakePurchases{items: map[string]storage.PurchaseRequest{}},
		store:     objstore.NewMemory(),
		model:     &fakeModel{},
	}
	svc := income.NewService(f.days, cache.NewLoader[income.Record](cache.NewMemory(clock), income.CachePrefix, income.CacheTTL, logger))
	h := New(Deps{Income: svc, Purchases: f.purchases, Store: f.store, Model: f.model, Clock: clock, Logger: logger})
	f.mux = http.NewServeMux()
	h.Register(f.mux)
	return f
}

var (
	staff   = &httpx.Actor{ID: "emp-1", Name: "김직원", Role: httpx.RoleStaff, Kind: httpx.KindEmployee}
	manager = &httpx.Actor{ID: "emp-2", Name: "박실장", Role: httpx.RoleManager, Kind: httpx.KindEmployee}
	owner   = &httpx.Actor{ID: "emp-3", Name: "이대표", Role: httpx.RoleOwner, Kind: httpx.KindEmployee}
	client  = &httpx.Actor{ID: "cus-1", Name: "홍길동", Role: httpx.RoleCustomer, Kind: httpx.KindCustomer}
)

func serve(t *testing.T, mux http.Handler, req *http.Request, actor *httpx.Actor) (*httptest.ResponseRecorder, httpx.Envelope) {
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
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	return serve(t, mux, httptest.NewRequest(method, path, &buf), actor)
}

func upload(t *testing.T, mux http.Handler, path, field, filename, contentType string, data []byte, actor *httpx.Actor) (*httptest.ResponseRecorder, httpx.Envelope) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, _ = part.Write(data)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return serve(t, mux, req, actor)
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, env httpx.Envelope, status int, msg string) {
	t.Helper()
	assert.Equal(t, status, rec.Code, rec.Body.String())
	assert.False(t, env.Success)
	assert.Equal(t, msg, env.Error)
}

func dataAs[T any](t *testing.T, env httpx.Envelope) T {
	t.Helper()
	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestDailyIncomeValidation(t *testing.T) {
	f := newFixture(t)

	rec, env := do(t, f.mux, http.MethodGet, "/api/daily-income", nil, nil)
	expectError(t, rec, env, http.StatusUnauthorized, "인증이 필요합니다")

	rec, env = do(t, f.mux, http.MethodGet, "/api/daily-income", client, nil)
	expectError(t, rec, env, http.StatusForbidden, msgStaffOnly)

	rec, env = do(t, f.mux, http.MethodGet, "/api/daily-income", staff, nil)
	expectError(t, rec, env, http.StatusBadRequest, msgDateParam)

	rec, env = do(t, f.mux, http.MethodPost, "/api/daily-income", staff, map[string]any{"cas1": 1})
	expectError(t, rec, env, http.StatusBadRequest, msgDateField)

	rec, env = do(t, f.mux, http.MethodDelete, "/api/daily-income", staff, nil)
	expectError(t, rec, env, http.StatusMethodNotAllowed, "method not allowed")
}

func TestDailyIncomeMissingDayReadsZero(t *testing.T) {
	f := newFixture(t)
	rec, env := do(t, f.mux, http.MethodGet, "/api/daily-income?date=2026-03-01", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := dataAs[map[string]any](t, env)
	assert.Equal(t, false, got["exists"])
	assert.Equal(t, "2026-03-01", got["date"])
	assert.EqualValues(t, 0, got["income"])
}

func TestDailyIncomeSaveMergesLegacyShapes(t *testing.T) {
	f := newFixture(t)
	f.days.days["2026-03-01"] = income.Day{Date: "2026-03-01", Car1: 300_000, Pos: 1}

	body := `{"date":"2026-03-01","cas5":{"number":100000},"cas1":"20,000","Pos":410000}`
	rec, env := do(t, f.mux, http.MethodPost, "/api/daily-income", staff, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	saved := f.days.days["2026-03-01"]
	assert.Equal(t, income.Day{Date: "2026-03-01", Cas5: 100_000, Cas1: 20_000, Car1: 300_000, Pos: 410_000}, saved)
	got := dataAs[map[string]any](t, env)
	assert.EqualValues(t, 420_000, got["income"])
	assert.EqualValues(t, 10_000, got["diff"])
	assert.Equal(t, true, got["exists"])

	rec, env = do(t, f.mux, http.MethodGet, "/api/daily-income?date=2026-03-01", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 100_000, dataAs[map[string]any](t, env)["cas5"])
}

func TestDailyIncomeRejectsGarbageAmount(t *testing.T) {
	f := newFixture(t)
	rec, env := do(t, f.mux, http.MethodPost, "/api/daily-income", staff, `{"date":"2026-03-01","cas1":"lots"}`)
	expectError(t, rec, env, http.StatusBadRequest, msgInvalidBody)
}

func TestMonthlyModes(t *testing.T) {
	f := newFixture(t)
	f.days.days["2026-02-10"] = income.Day{Date: "2026-02-10", Cas1: 50_000}
	f.days.days["2026-03-13"] = income.Day{Date: "2026-03-13", Cas1: 70_000}

	cases := []struct {
		query, msg string
	}{
		{"mode=month", msgYearMonth},
		{"mode=month&yearMonth=2026-3", msgYearMonthFmt},
		{"mode=recent&days=0", msgDaysPositive},
		{"mode=recent&days=abc", msgDaysPositive},
		{"mode=recent&days=99999999", msgDaysTooMany},
		{"mode=recent&days=99999999999999999999", msgDaysPositive},
		{"mode=weekly", msgBadMode},
	}
	for _, c := range cases {
		rec, env := do(t, f.mux, http.MethodGet, "/api/daily-income/monthly?"+c.query, staff, nil)
		expectError(t, rec, env, http.StatusBadRequest, c.msg)
	}

	rec, env := do(t, f.mux, http.MethodGet, "/api/daily-income/monthly?mode=month&yearMonth=2026-02", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := dataAs[monthlyResponse](t, env)
	assert.Equal(t, income.Period{Start: "2026-02-01", End: "2026-02-28"}, got.Period)
	assert.Equal(t, "2026년 02월 1일부터 28일까지", got.FilterInfo.Description)
	assert.Equal(t, 1, got.RecordCount)

	rec, env = do(t, f.mux, http.MethodGet, "/api/daily-income/monthly?mode=recent&days=7", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got = dataAs[monthlyResponse](t, env)
	assert.Equal(t, income.Period{Start: "2026-03-08", End: "2026-03-14"}, got.Period)
	assert.EqualValues(t, 70_000, got.Stats.TotalIncome)

	rec, env = do(t, f.mux, http.MethodGet, "/api/daily-income/monthly?mode=all", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got = dataAs[monthlyResponse](t, env)
	assert.Equal(t, 2, got.RecordCount)
	assert.Equal(t, income.Amount{Date: "2026-02-10", Amount: 50_000}, got.Stats.MinIncome)
}

func TestExtractInvoice(t *testing.T) {
	f := newFixture(t)

	rec, env := upload(t, f.mux, "/api/extract-invoice", "file", "a.txt", "text/plain", []byte("hello"), staff)
	expectError(t, rec, env, http.StatusBadRequest, msgUnsupportedFile)

	rec, env = upload(t, f.mux, "/api/extract-invoice", "other", "a.png", "image/png", []byte("x"), staff)
	expectError(t, rec, env, http.StatusBadRequest, msgFileRequired)

	f.model.reply = "공급처: 대한약품\n품명: 감기약\n합계: 5,000"
	rec, env = upload(t, f.mux, "/api/extract-invoice", "file", "scan.pdf", "application/pdf", []byte("%PDF-1.4"), staff)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := dataAs[map[string]any](t, env)
	assert.Equal(t, "대한약품", got["supplier"])
	assert.EqualValues(t, 5000, got["total"])
	assert.Equal(t, "2026-03-14", got["date"])
	assert.Equal(t, "application/pdf", f.model.mime)

	f.model.err = errors.New("boom")
	rec, env = upload(t, f.mux, "/api/extract-invoice", "image", "scan.jpg", "image/jpeg", []byte("jpg"), staff)
	expectError(t, rec, env, http.StatusInternalServerError, msgInvoiceFailed)
}

func TestUploadReceipt(t *testing.T) {
	f := newFixture(t)

	rec, env := upload(t, f.mux, "/api/employee-purchase/upload", "file", "r.pdf", "application/pdf", []byte("%PDF"), staff)
	expectError(t, rec, env, http.StatusBadRequest, msgImagesOnly)

	big := bytes.Repeat([]byte{0xff}, maxReceipt+10)
	rec, env = upload(t, f.mux, "/api/employee-purchase/upload", "file", "r.jpg", "image/jpeg", big, staff)
	expectError(t, rec, env, http.StatusBadRequest, msgReceiptTooLarge)

	rec, env = upload(t, f.mux, "/api/employee-purchase/upload", "photo", "r.jpg", "image/jpeg", []byte("x"), staff)
	expectError(t, rec, env, http.StatusBadRequest, msgNoFile)

	rec, env = upload(t, f.mux, "/api/employee-purchase/upload", "file", "Receipt.PNG", "image/png", []byte("png"), staff)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := dataAs[map[string]string](t, env)
	assert.True(t, strings.HasPrefix(got["path"], "emp-1/"), got["path"])
	assert.True(t, strings.HasSuffix(got["path"], ".png"), got["path"])
	assert.True(t, f.store.Has(ReceiptBucket, got["path"]))
}

func TestCreatePurchaseValidation(t *testing.T) {
	f := newFixture(t)

	rec, env := do(t, f.mux, http.MethodPost, "/api/employee-purchase/requests", staff, map[string]any{"totalAmount": 0, "imageUrls": []string{"u"}})
	expectError(t, rec, env, http.StatusBadRequest, msgBadAmount)

	rec, env = do(t, f.mux, http.MethodPost, "/api/employee-purchase/requests", staff, map[string]any{"totalAmount": 1000, "imageUrls": []string{" "}})
	expectError(t, rec, env, http.StatusBadRequest, msgNeedImage)

	rec, _ = do(t, f.mux, http.MethodPost, "/api/employee-purchase/requests", staff, map[string]any{"totalAmount": "12,500", "imageUrls": []string{"u1"}, "notes": " 소모품 "})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := f.purchases.items["new"]
	assert.Equal(t, "emp-1", p.EmployeeID)
	assert.EqualValues(t, 12_500, p.TotalAmount)
	assert.Equal(t, "소모품", p.Notes)
}

func TestListPurchasesScope(t *testing.T) {
	f := newFixture(t)

	do(t, f.mux, http.MethodGet, "/api/employee-purchase/requests?admin=true&status=pending", staff, nil)
	assert.Equal(t, "emp-1", f.purchases.filter.EmployeeID)

	do(t, f.mux, http.MethodGet, "/api/employee-purchase/requests?admin=true&page=2&limit=5", manager, nil)
	assert.Equal(t, storage.PurchaseFilter{Limit: 5, Offset: 5}, f.purchases.filter)
}

func TestDecideGuards(t *testing.T) {
	const (
		mine    = "0b8f3c1e-5d2a-4f61-9c3e-7a1d2e4f5a01"
		done    = "0b8f3c1e-5d2a-4f61-9c3e-7a1d2e4f5a02"
		open    = "0b8f3c1e-5d2a-4f61-9c3e-7a1d2e4f5a03"
		missing = "0b8f3c1e-5d2a-4f61-9c3e-7a1d2e4f5a04"
	)
	f := newFixture(t)
	f.purchases.items[mine] = storage.PurchaseRequest{ID: mine, EmployeeID: "emp-2", Status: storage.StatusPending}
	f.purchases.items[done] = storage.PurchaseRequest{ID: done, EmployeeID: "emp-1", Status: storage.StatusApproved}
	f.purchases.items[open] = storage.PurchaseRequest{ID: open, EmployeeID: "emp-1", Status: storage.StatusPending}
	path := func(id, action string) string { return "/api/employee-purchase/requests/" + id + "/" + action }

	rec, env := do(t, f.mux, http.MethodPost, path(open, "approve"), staff, nil)
	expectError(t, rec, env, http.StatusForbidden, msgApproveDenied)

	rec, env = do(t, f.mux, http.MethodPost, path(missing, "approve"), manager, nil)
	expectError(t, rec, env, http.StatusNotFound, msgNotFound)

	rec, env = do(t, f.mux, http.MethodPost, path("abc", "approve"), manager, nil)
	expectError(t, rec, env, http.StatusNotFound, msgNotFound)

	rec, env = do(t, f.mux, http.MethodPost, path(mine, "approve"), manager, nil)
	expectError(t, rec, env, http.StatusForbidden, msgOwnRequest)

	rec, env = do(t, f.mux, http.MethodPost, path(done, "reject"), manager, map[string]string{"reason": "x"})
	expectError(t, rec, env, http.StatusBadRequest, msgAlreadyDone)

	rec, env = do(t, f.mux, http.MethodPost, path(open, "reject"), owner, map[string]string{"reason": " 영수증 불일치 "})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, env.Success)
	assert.Equal(t, []string{open + ":rejected"}, f.purchases.decided)
	assert.Equal(t, "영수증 불일치", f.purchases.items[open].RejectionReason)

	rec, env = do(t, f.mux, http.MethodPost, path(open, "approve"), manager, nil)
	expectError(t, rec, env, http.StatusBadRequest, msgAlreadyDone)
}

func TestStatisticsOwnerOnly(t *testing.T) {
	f := newFixture(t)

	rec, env := do(t, f.mux, http.MethodGet, "/api/employee-purchase/statistics", manager, nil)
	expectError(t, rec, env, http.StatusForbidden, msgOwnerOnly)

	rec, env = do(t, f.mux, http.MethodGet, "/api/employee-purchase/statistics?period=decade", owner, nil)
	expectError(t, rec, env, http.StatusBadRequest, msgBadPeriod)

	rec, env = do(t, f.mux, http.MethodGet, "/api/employee-purchase/statistics?period=thisMonth", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, time.Date(2026, 3, 1, 0, 0, 0, 0, income.KST).Equal(f.purchases.since))
	rep := dataAs[purchase.Report](t, env)
	assert.Equal(t, 1, rep.ApprovedRequests)
	assert.EqualValues(t, 30_000, rep.TotalAmount)
}

func TestReceiptPath(t *testing.T) {
	p := receiptPath("emp-9", "", "image/webp", 1700000000000)
	assert.True(t, strings.HasPrefix(p, "emp-9/1700000000000-"), p)
	assert.True(t, strings.HasSuffix(p, ".webp"), p)

	p = receiptPath("emp-9", "x", "image/svg+xml", 1)
	assert.True(t, strings.HasSuffix(p, ".jpg"), p)
}

func medicineUpload(t *testing.T, mux http.Handler, contentType string, data []byte, items string) (*httptest.ResponseRecorder, httpx.Envelope) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if data != nil {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", `form-data; name="image"; filename="box"`)
		hdr.Set("Content-Type", contentType)
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, _ = part.Write(data)
	}
	if items != "" {
		require.NoError(t, mw.WriteField("invoiceItems", items))
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/recognize-medicine", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return serve(t, mux, req, staff)
}

func TestRecognizeMedicine(t *testing.T) {
	f := newFixture(t)

	rec, env := medicineUpload(t, f.mux, "", nil, `[{"name":"타이레놀"}]`)
	expectError(t, rec, env, http.StatusBadRequest, msgMedicineImage)

	rec, env = medicineUpload(t, f.mux, "application/pdf", []byte("%PDF-1.4"), "")
	expectError(t, rec, env, http.StatusBadRequest, msgMedicineImageOnly)

	f.model.reply = `{"identified": true, "medicineName": "타이레놀", "confidence": 92}`
	rec, env = medicineUpload(t, f.mux, "image/jpeg", []byte("jpg"), `[{"name":"타이레놀"},{"name":"판콜에이"}]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := dataAs[map[string]any](t, env)
	assert.Equal(t, true, got["identified"])
	assert.Equal(t, "타이레놀", got["medicineName"])
	assert.EqualValues(t, 92, got["confidence"])
	assert.Equal(t, "image/jpeg", f.model.mime)

	f.model.reply = "잘 모르겠습니다"
	rec, env = medicineUpload(t, f.mux, "image/png", []byte("png"), "")
	expectError(t, rec, env, http.StatusUnprocessableEntity, msgMedicineUnrecognise)
	assert.Equal(t, map[string]any{"identified": false, "medicineName": "", "confidence": float64(0)}, env.Data)

	f.model.err = errors.New("boom")
	rec, env = medicineUpload(t, f.mux, "image/png", []byte("png"), "")
	expectError(t, rec, env, http.StatusInternalServerError, msgMedicineFailed)

	rec, env = do(t, f.mux, http.MethodPost, "/api/recognize-medicine", client, nil)
	expectError(t, rec, env, http.StatusForbidden, msgStaffOnly)
}
