package notion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{Token: "secret", BaseURL: srv.URL, RatePerSecond: 1000, Backoff: time.Millisecond})
	require.NoError(t, err)
	return c
}

func TestQueryAllFollowsCursor(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, APIVersion, r.Header.Get("Notion-Version"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req QueryRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, 100, req.PageSize)
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"results":[{"id":"p1"}],"has_more":true,"next_cursor":"c2"}`))
			return
		}
		assert.Equal(t, "c2", req.StartCursor)
		_, _ = w.Write([]byte(`{"results":[{"id":"p2"}],"has_more":false}`))
	})

	var ids []string
	err := c.QueryAll(context.Background(), "db", QueryRequest{}, func(pages []Page) error {
		for _, p := range pages {
			ids = append(ids, p.ID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, ids)
}

func TestRetriesServerErrorsOnly(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"code":"bad_gateway","message":"upstream"}`))
	})
	_, err := c.UpdatePage(context.Background(), "p", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(0)
	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"validation_error","message":"bad"}`))
	})
	_, err = c.CreatePage(context.Background(), "db", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUndecodableBodyIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"results": [`))
	})
	_, err := c.QueryDatabase(context.Background(), "db", QueryRequest{})
	require.ErrorIs(t, err, ErrBadResponse)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryable(t *testing.T) {
	assert.False(t, retryable(nil))
	assert.False(t, retryable(context.Canceled))
	assert.False(t, retryable(&APIError{Status: http.StatusNotFound}))
	assert.True(t, retryable(&APIError{Status: http.StatusTooManyRequests}))
	assert.True(t, retryable(errors.New("connection reset")))
}

func TestLinearDelay(t *testing.T) {
	var waits []time.Duration
	policy := retrypolicy.NewBuilder[any]().
		WithMaxAttempts(4).
		WithDelayFunc(func(exec failsafe.ExecutionAttempt[any]) time.Duration {
			d := linearDelay(10 * time.Second)(exec)
			waits = append(waits, d)
			return time.Millisecond
		}).
		Build()
	_ = failsafe.Run(func() error { return errors.New("down") }, policy)
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second}, waits)
}

func TestPropertyAccessors(t *testing.T) {
	raw := `{"id":"p","properties":{
		"고객명":{"type":"title","title":[{"plain_text":"홍길동"}]},
		"전화번호":{"type":"phone_number","phone_number":"010-1234-5678"},
		"cas5":{"type":"number","number":150000},
		"날짜":{"type":"date","date":{"start":"2026-01-05"}},
		"증상이미지":{"type":"files","files":[{"type":"file","file":{"url":"https://a/1.jpg"}},{"type":"external","external":{"url":"https://b/2.jpg"}}]},
		"고객":{"type":"relation","relation":[{"id":"rel-1"}]}
	}}`
	var p Page
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	assert.Equal(t, "홍길동", p.Prop("고객명").Text())
	assert.Equal(t, "010-1234-5678", p.Prop("전화번호").Text())
	assert.Equal(t, int64(150000), p.Prop("cas5").Int64())
	assert.Equal(t, "2026-01-05", p.Prop("날짜").DateStart())
	assert.Equal(t, []string{"https://a/1.jpg", "https://b/2.jpg"}, p.Prop("증상이미지").FileURLs())
	assert.Equal(t, "rel-1", p.Prop("고객").RelationID())
	assert.Equal(t, "", p.Prop("없음").Text())
}
