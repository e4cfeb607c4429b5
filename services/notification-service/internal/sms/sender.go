package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

var ErrNotConfigured = errors.New("sms webhook url not configured")

type Sender interface {
	Send(ctx context.Context, to string, body string) error
	ProviderID() string
}

// StatusError is a non-2xx webhook reply. 5xx and 429 are retried.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string { return fmt.Sprintf("sms webhook returned %d", e.Status) }

func (e *StatusError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type WebhookSender struct {
	url   string
	token string
	http  *http.Client
	retry retrypolicy.RetryPolicy[any]
}

func NewWebhookSender(url, token string, client *http.Client) *WebhookSender {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &WebhookSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http:  client,
		retry: retrypolicy.NewBuilder[any]().
			HandleIf(func(_ any, err error) bool {
				var se *StatusError
				if errors.As(err, &se) {
					return se.retryable()
				}
				return err != nil && !errors.Is(err, context.Canceled)
			}).
			WithMaxAttempts(3).
			WithBackoff(200*time.Millisecond, 2*time.Second).
			Build(),
	}
}

func (s *WebhookSender) ProviderID() string {
	return "sms-webhook"
}

// Send posts {"to","body"} with an optional bearer token. Phone numbers are
// sent digits only.
func (s *WebhookSender) Send(ctx context.Context, to string, body string) error {
	if s.url == "" {
		return ErrNotConfigured
	}
	raw, err := json.Marshal(map[string]string{"to": Digits(to), "body": body})
	if err != nil {
		return err
	}
	return failsafe.NewExecutor[any](s.retry).WithContext(ctx).Run(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if s.token != "" {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}
		resp, err := s.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &StatusError{Status: resp.StatusCode}
		}
		return nil
	})
}

func Digits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NoopSender accepts everything; used when no provider is configured.
type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) ProviderID() string {
	return "sms-noop"
}

func (s *NoopSender) Send(_ context.Context, _ string, _ string) error {
	return nil
}
