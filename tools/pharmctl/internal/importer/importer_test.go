package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/md-rashed-zaman/mspharm/libs/notion"
	objstore "github.com/md-rashed-zaman/mspharm/libs/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func title(s string) map[string]any {
	return map[string]any{"type": "title", "title": []any{map[string]any{"plain_text": s}}}
}

func text(s string) map[string]any {
	return map[string]any{"type": "rich_text", "rich_text": []any{map[string]any{"plain_text": s}}}
}

func date(s string) map[string]any {
	return map[string]any{"type": "date", "date": map[string]any{"start": s}}
}

func page(t *testing.T, id string, props map[string]any) notion.Page {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"id": id, "created_time": "2024-05-01T00:00:00Z", "properties": props})
	require.NoError(t, err)
	var pg notion.Page
	require.NoError(t, json.Unmarshal(raw, &pg))
	return pg
}

func consultationPage(t *testing.T, id, consultationID, day string, images ...string) notion.Page {
	files := []any{}
	for _, u := range images {
		files = append(files, map[string]any{"name": "x.jpg", "type": "file", "file": map[string]any{"url": u}})
	}
	return page(t, id, map[string]any{
		"id":     title(consultationID),
		"고객":     map[string]any{"type": "relation", "relation": []any{map[string]any{"id": "rel-" + id}}},
		"상담일자":   date(day),
		"호소증상":   text("두통"),
		"처방약":    text("갈근탕"),
		"증상이미지": map[string]any{"type": "files", "files": files},
	})
}

func TestCustomerFromPage(t *testing.T) {
	pg := page(t, "p1", map[string]any{
		"고객":     title("00012"),
		"전화번호":   map[string]any{"type": "phone_number", "phone_number": "010-1234-5678"},
		"생년월일":   date("1980-02-03"),
		"추정나이":   map[string]any{"type": "number", "number": 45},
		"얼굴_임베딩": text(`{"faceShape":"oval"}`),
	})
	c, err := CustomerFromPage(pg)
	require.NoError(t, err)
	assert.Equal(t, "00012", c.Code)
	assert.Equal(t, "고객_00012", c.Name)
	assert.Equal(t, "010-1234-5678", c.Phone)
	require.NotNil(t, c.BirthDate)
	assert.Equal(t, "1980-02-03", c.BirthDate.Format("2006-01-02"))
	require.NotNil(t, c.EstimatedAge)
	assert.Equal(t, 45, *c.EstimatedAge)
	assert.JSONEq(t, `{"faceShape":"oval"}`, string(c.FaceEmbedding))

	_, err = CustomerFromPage(page(t, "p2", map[string]any{"이름": text("김철수")}))
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestConsultationFromPage(t *testing.T) {
	c, err := ConsultationFromPage(consultationPage(t, "p1", "00012_003", "2024-05-02", "https://files/a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "00012", c.CustomerCode)
	assert.Equal(t, "2024-05-02", c.ConsultDate.In(KST).Format("2006-01-02"))
	assert.Equal(t, []string{"https://files/a.jpg"}, c.ImageURLs)
	assert.Equal(t, "갈근탕", c.Prescription)

	_, err = ConsultationFromPage(page(t, "p2", map[string]any{"id": title("nocode")}))
	require.ErrorIs(t, err, ErrIncomplete)
	for _, field := range []string{"고객", "상담일자", "호소증상"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "00001", CustomerCode("00001_010"))
	assert.Equal(t, "", CustomerCode("00001"))
	assert.Equal(t, "00001/00001_010/image_2.jpg", ImagePath("00001", "00001_010", 2))
	assert.Equal(t, "345678", InitialPIN("010-1234-5678"))
	assert.Equal(t, "000000", InitialPIN("12"))
}

type fakeSource struct {
	dbs map[string][]notion.Page
}

func (f *fakeSource) QueryAll(_ context.Context, databaseID string, req notion.QueryRequest, fn func([]notion.Page) error) error {
	pages := f.dbs[databaseID]
	size := req.PageSize
	for len(pages) > 0 {
		n := min(size, len(pages))
		if err := fn(pages[:n]); err != nil {
			return err
		}
		pages = pages[n:]
	}
	return nil
}

type fakeSink struct {
	mu            sync.Mutex
	customers     map[string]string
	consultations map[string]Consultation
	ensured       int
	failOn        string
}

func newFakeSink() *fakeSink {
	return &fakeSink{customers: map[string]string{}, consultations: map[string]Consultation{}}
}

func (f *fakeSink) ConsultationIDs(context.Context) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]bool{}
	for id := range f.consultations {
		out[id] = true
	}
	return out, nil
}

func (f *fakeSink) InsertCustomer(_ context.Context, c Customer, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.customers[c.Code]; ok {
		return false, nil
	}
	f.customers[c.Code] = "id-" + c.Code
	return true, nil
}

func (f *fakeSink) EnsureCustomer(_ context.Context, code, pinHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pinHash == "" {
		return "", errors.New("no pin hash")
	}
	f.ensured++
	if id, ok := f.customers[code]; ok {
		return id, nil
	}
	f.customers[code] = "id-" + code
	return f.customers[code], nil
}

func (f *fakeSink) InsertConsultation(_ context.Context, customerID string, c Consultation) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ConsultationID == f.failOn {
		return false, errors.New("insert failed")
	}
	if _, ok := f.consultations[c.ConsultationID]; ok {
		return false, nil
	}
	f.consultations[c.ConsultationID] = c
	return true, nil
}

func (f *fakeSink) Counts(context.Context) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.customers), len(f.consultations), nil
}

func fetcher(_ context.Context, url string) ([]byte, string, error) {
	if strings.Contains(url, "expired") {
		return nil, "", fmt.Errorf("download returned 403")
	}
	return []byte("jpeg"), "image/jpeg", nil
}

func newImporter(src *fakeSource, sink *fakeSink, store Uploader, dryRun bool) *Importer {
	return New(src, sink, store, fetcher, Config{
		CustomerDB:     "cust",
		ConsultationDB: "cons",
		Concurrency:    3,
		DryRun:         dryRun,
		HashPIN:        func(pin string) (string, error) { return "hash:" + pin, nil },
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestImportConsultations(t *testing.T) {
	src := &fakeSource{dbs: map[string][]notion.Page{"cons": {
		consultationPage(t, "a", "00001_001", "2024-01-01", "https://files/1.jpg", "https://files/expired.jpg"),
		consultationPage(t, "b", "00001_002", "2024-01-02"),
		consultationPage(t, "c", "00002_001", "2024-01-03"),
		consultationPage(t, "d", "00002_002", "2024-01-04"),
		consultationPage(t, "e", "00001_002", "2024-01-05"),
		page(t, "f", map[string]any{"id": title("00003_001")}),
	}}}
	sink := newFakeSink()
	sink.consultations["00002_001"] = Consultation{}
	sink.failOn = "00002_002"
	store := objstore.NewMemory()

	rep, err := newImporter(src, sink, store, false).Consultations(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 6, rep.Fetched.Load())
	assert.EqualValues(t, 2, rep.Inserted.Load())
	// 00002_001 exists, 00001_002 repeats, f is incomplete
	assert.EqualValues(t, 3, rep.Skipped.Load())
	assert.EqualValues(t, 1, rep.Failed.Load())
	assert.EqualValues(t, 1, rep.Images.Load())

	assert.True(t, store.Has(ConsultationBucket, "00001/00001_001/image_1.jpg"))
	assert.Len(t, sink.consultations["00001_001"].ImageURLs, 1)
	assert.Equal(t, "id-00001", sink.customers["00001"])
	// two customers, each looked up once thanks to the id cache
	assert.Equal(t, 2, sink.ensured)

	var out strings.Builder
	rep.Print(&out)
	assert.Contains(t, out.String(), "consultations: fetched=6 inserted=2 skipped=3 failed=1 images=1")
	assert.Contains(t, out.String(), "00001_001 image 2")
}

func TestImportIsIdempotent(t *testing.T) {
	src := &fakeSource{dbs: map[string][]notion.Page{"cons": {
		consultationPage(t, "a", "00001_001", "2024-01-01"),
	}}}
	sink := newFakeSink()
	store := objstore.NewMemory()

	_, err := newImporter(src, sink, store, false).Consultations(context.Background())
	require.NoError(t, err)
	rep, err := newImporter(src, sink, store, false).Consultations(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, rep.Inserted.Load())
	assert.EqualValues(t, 1, rep.Skipped.Load())
}

func TestDryRunWritesNothing(t *testing.T) {
	src := &fakeSource{dbs: map[string][]notion.Page{
		"cons": {consultationPage(t, "a", "00001_001", "2024-01-01", "https://files/1.jpg")},
		"cust": {page(t, "c1", map[string]any{"고객": title("00001")})},
	}}
	sink := newFakeSink()
	im := newImporter(src, sink, objstore.NewMemory(), true)

	rep, err := im.Consultations(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, rep.Inserted.Load())
	assert.EqualValues(t, 1, rep.Images.Load())

	rep, err = im.Customers(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, rep.Inserted.Load())
	assert.Empty(t, sink.customers)
	assert.Empty(t, sink.consultations)
}

func TestImportCustomers(t *testing.T) {
	src := &fakeSource{dbs: map[string][]notion.Page{"cust": {
		page(t, "c1", map[string]any{"고객": title("00001"), "이름": text("김철수")}),
		page(t, "c2", map[string]any{"고객": title("00002")}),
		page(t, "c3", map[string]any{"이름": text("코드없음")}),
	}}}
	sink := newFakeSink()
	sink.customers["00002"] = "id-existing"

	rep, err := newImporter(src, sink, objstore.NewMemory(), false).Customers(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, rep.Inserted.Load())
	assert.EqualValues(t, 2, rep.Skipped.Load())
	assert.Len(t, rep.Issues, 1)
}

func TestVerify(t *testing.T) {
	src := &fakeSource{dbs: map[string][]notion.Page{
		"cons": {
			consultationPage(t, "a", "00001_001", "2024-01-01"),
			consultationPage(t, "b", "00001_002", "2024-01-02"),
		},
		"cust": {page(t, "c1", map[string]any{"고객": title("00001")})},
	}}
	sink := newFakeSink()
	sink.customers["00001"] = "id-00001"
	sink.consultations["00001_001"] = Consultation{}

	v, err := newImporter(src, sink, objstore.NewMemory(), false).Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v.NotionCustomers)
	assert.Equal(t, 2, v.NotionConsultations)
	assert.Equal(t, 1, v.DBConsultations)
	assert.Equal(t, []string{"00001_002"}, v.Missing)
	assert.False(t, v.Complete())
}
