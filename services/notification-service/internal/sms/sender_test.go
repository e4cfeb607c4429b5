package sms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSendsDigitsWithToken(t *testing.T) {
	var got map[string]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, " secret ", srv.Client())
	require.NoError(t, s.Send(context.Background(), "010-1234-5678", "약 수령 안내"))
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, map[string]string{"to": "01012345678", "body": "약 수령 안내"}, got)
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookSender(srv.URL, "", srv.Client()).Send(context.Background(), "01012345678", "hi"))
	assert.EqualValues(t, 3, calls.Load())
}

func TestWebhookDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewWebhookSender(srv.URL, "", srv.Client()).Send(context.Background(), "01012345678", "hi")
	var se *StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, se.Status)
	assert.EqualValues(t, 1, calls.Load())
}

func TestWebhookNotConfigured(t *testing.T) {
	assert.ErrorIs(t, NewWebhookSender("  ", "", nil).Send(context.Background(), "010", "x"), ErrNotConfigured)
}

func TestDigits(t *testing.T) {
	assert.Equal(t, "01012345678", Digits(" 010.1234.5678 "))
	assert.Equal(t, "", Digits("없음"))
}
