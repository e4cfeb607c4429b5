// Package notion is a small client for the Notion v1 REST API covering the
// calls the legacy pharmacy databases need: query, create and update pages.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.notion.com/v1"
	APIVersion     = "2022-06-28"
)

var ErrNotConfigured = errors.New("notion token not configured")

// ErrBadResponse marks a 2xx answer whose body does not decode.
var ErrBadResponse = errors.New("notion: undecodable response")

// APIError is a non-2xx answer from Notion.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notion %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// linearDelay waits base after the first attempt, 2*base after the second
// and so on.
func linearDelay(base time.Duration) failsafe.DelayFunc[any] {
	return func(exec failsafe.ExecutionAttempt[any]) time.Duration {
		return base * time.Duration(exec.Attempts())
	}
}

// retryable retries throttling, server errors and transport failures.
// A body that did not decode would decode no better the second time.
func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrBadResponse) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.retryable()
	}
	return true
}

type Config struct {
	Token   string
	BaseURL string
	// RatePerSecond defaults to 3, the documented Notion average.
	RatePerSecond float64
	Attempts      int
	Backoff       time.Duration
	HTTPClient    *http.Client
}

type Client struct {
	base    string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	retry   retrypolicy.RetryPolicy[any]
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrNotConfigured
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 3
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	policy := retrypolicy.NewBuilder[any]().
		WithMaxAttempts(cfg.Attempts).
		WithDelayFunc(linearDelay(cfg.Backoff)).
		HandleIf(func(_ any, err error) bool { return retryable(err) }).
		Build()
	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    cfg.HTTPClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		retry:   policy,
	}, nil
}

type Sort struct {
	Property  string `json:"property,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Direction string `json:"direction"`
}

type QueryRequest struct {
	Filter      any    `json:"filter,omitempty"`
	Sorts       []Sort `json:"sorts,omitempty"`
	StartCursor string `json:"start_cursor,omitempty"`
	PageSize    int    `json:"page_size,omitempty"`
}

type QueryResponse struct {
	Results    []Page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

func (c *Client) QueryDatabase(ctx context.Context, databaseID string, req QueryRequest) (*QueryResponse, error) {
	var out QueryResponse
	if err := c.do(ctx, http.MethodPost, "/databases/"+databaseID+"/query", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueryAll follows next_cursor until the database is exhausted, calling fn
// for every page of results.
func (c *Client) QueryAll(ctx context.Context, databaseID string, req QueryRequest, fn func([]Page) error) error {
	if req.PageSize == 0 {
		req.PageSize = 100
	}
	for {
		resp, err := c.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return err
		}
		if err := fn(resp.Results); err != nil {
			return err
		}
		if !resp.HasMore || resp.NextCursor == "" {
			return nil
		}
		req.StartCursor = resp.NextCursor
	}
}

func (c *Client) CreatePage(ctx context.Context, databaseID string, props map[string]any) (*Page, error) {
	body := map[string]any{
		"parent":     map[string]string{"database_id": databaseID},
		"properties": props,
	}
	var out Page
	if err := c.do(ctx, http.MethodPost, "/pages", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdatePage(ctx context.Context, pageID string, props map[string]any) (*Page, error) {
	var out Page
	if err := c.do(ctx, http.MethodPatch, "/pages/"+pageID, map[string]any{"properties": props}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return failsafe.NewExecutor[any](c.retry).WithContext(ctx).Run(func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Notion-Version", APIVersion)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode/100 != 2 {
			apiErr := &APIError{Status: resp.StatusCode}
			_ = json.Unmarshal(raw, apiErr)
			apiErr.Status = resp.StatusCode
			return apiErr
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		return nil
	})
}
