// Package gemini wraps the genai SDK for the prompts the pharmacy services
// send: JSON answers from text or images, behind a circuit breaker.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.5-flash"

var (
	ErrNotConfigured = errors.New("gemini api key not configured")
	ErrUnavailable   = errors.New("gemini temporarily unavailable")
	ErrEmptyResponse = errors.New("gemini returned an empty response")
)

// Generator is satisfied by *genai.Models.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Config struct {
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float32
}

// Blob is inline image or PDF data sent alongside a prompt.
type Blob struct {
	Data     []byte
	MIMEType string
}

type Client struct {
	gen     Generator
	model   string
	timeout time.Duration
	temp    float32
	cb      circuitbreaker.CircuitBreaker[any]
}

// New returns a client, or ErrNotConfigured when no key is set. Callers keep
// running without AI features in that case.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return NewWithGenerator(gc.Models, cfg, logger), nil
}

func NewWithGenerator(gen Generator, cfg Config, logger *slog.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.4
	}
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			logger.Warn("circuit breaker state changed",
				"component", "gemini",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
		}).
		Build()
	return &Client{gen: gen, model: cfg.Model, timeout: cfg.Timeout, temp: cfg.Temperature, cb: cb}
}

// Text sends prompt plus any blobs and returns the raw answer text.
func (c *Client) Text(ctx context.Context, prompt string, blobs ...Blob) (string, error) {
	return c.generate(ctx, prompt, "", blobs)
}

// JSON asks for an application/json answer and decodes it into dst. The raw
// text is returned even when decoding fails so callers can fall back.
func (c *Client) JSON(ctx context.Context, prompt string, dst any, blobs ...Blob) (string, error) {
	raw, err := c.generate(ctx, prompt, "application/json", blobs)
	if err != nil {
		return "", err
	}
	if err := DecodeJSON(raw, dst); err != nil {
		return raw, err
	}
	return raw, nil
}

func (c *Client) generate(ctx context.Context, prompt, mime string, blobs []Blob) (string, error) {
	if c == nil {
		return "", ErrNotConfigured
	}
	if !c.cb.TryAcquirePermit() {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, circuitbreaker.ErrOpen)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	parts := make([]*genai.Part, 0, len(blobs)+1)
	for _, b := range blobs {
		parts = append(parts, genai.NewPartFromBytes(b.Data, b.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(prompt))

	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr(c.temp)}
	if mime != "" {
		cfg.ResponseMIMEType = mime
	}
	resp, err := c.gen.GenerateContent(ctx, c.model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		c.cb.RecordError(err)
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	c.cb.RecordSuccess()

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// StripFences removes a surrounding ```json ... ``` block.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// ExtractJSON returns the outermost {...} object in s, or s itself.
func ExtractJSON(s string) string {
	s = StripFences(s)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func DecodeJSON(raw string, dst any) error {
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), dst); err != nil {
		return fmt.Errorf("decode gemini json: %w", err)
	}
	return nil
}
