package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadAndRemove(t *testing.T) {
	var uploads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		switch r.Method {
		case http.MethodPost:
			if uploads.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			assert.Equal(t, "/storage/v1/object/consultation-images/00001/00001_001/image_1.jpg", r.URL.Path)
			assert.Equal(t, "true", r.Header.Get("x-upsert"))
			assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, "jpeg", string(body))
		case http.MethodDelete:
			var req map[string][]string
			_ = json.NewDecoder(r.Body).Decode(&req)
			assert.Equal(t, []string{"00001/00001_001/image_1.jpg"}, req["prefixes"])
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	s, err := NewSupabase(Config{URL: srv.URL, ServiceKey: "key"})
	require.NoError(t, err)

	u, err := s.Upload(context.Background(), "consultation-images", "00001/00001_001/image_1.jpg", []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/storage/v1/object/public/consultation-images/00001/00001_001/image_1.jpg", u)
	assert.Equal(t, int32(2), uploads.Load())

	path := ObjectPath("consultation-images", u)
	require.NoError(t, s.Remove(context.Background(), "consultation-images", path))
}

func TestDecodeDataURL(t *testing.T) {
	data, mime, err := DecodeDataURL("data:image/png;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, "image/png", mime)

	data, mime, err = DecodeDataURL("aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Empty(t, mime)

	_, _, err = DecodeDataURL("data:image/png;base64,@@@")
	assert.Error(t, err)
}

func TestObjectPathIgnoresForeignURLs(t *testing.T) {
	assert.Equal(t, "", ObjectPath("food-images", "https://example.com/x.jpg"))
	assert.Equal(t, "a/b c.jpg", ObjectPath("food-images", "https://x/storage/v1/object/public/food-images/a/b%20c.jpg?t=1"))
}
