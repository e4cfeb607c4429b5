package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	text  string
	err   error
	calls int
	cfg   *genai.GenerateContentConfig
	parts int
}

func (f *fakeGenerator) GenerateContent(_ context.Context, _ string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.cfg = cfg
	f.parts = len(contents[0].Parts)
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: genai.NewContentFromText(f.text, genai.RoleModel),
	}}}, nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestStripFencesAndExtract(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
		`{"a":1}`:                 `{"a":1}`,
		"결과입니다: {\"a\":1} 끝":      `{"a":1}`,
	}
	for in, want := range cases {
		assert.Equal(t, want, ExtractJSON(in), in)
	}
}

func TestJSONDecodesAndSendsBlobs(t *testing.T) {
	gen := &fakeGenerator{text: "```json\n{\"supplier\":\"한국약품\"}\n```"}
	c := NewWithGenerator(gen, Config{}, quietLogger())

	var out struct {
		Supplier string `json:"supplier"`
	}
	_, err := c.JSON(context.Background(), "extract", &out, Blob{Data: []byte{1, 2}, MIMEType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, "한국약품", out.Supplier)
	assert.Equal(t, "application/json", gen.cfg.ResponseMIMEType)
	assert.Equal(t, 2, gen.parts)
}

func TestJSONReturnsRawOnDecodeFailure(t *testing.T) {
	gen := &fakeGenerator{text: "공급처: 한국약품"}
	c := NewWithGenerator(gen, Config{}, quietLogger())
	var out map[string]any
	raw, err := c.JSON(context.Background(), "extract", &out)
	require.Error(t, err)
	assert.Equal(t, "공급처: 한국약품", raw)
}

func TestCircuitOpensAfterFailures(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("503")}
	c := NewWithGenerator(gen, Config{}, quietLogger())
	for i := 0; i < 5; i++ {
		_, _ = c.Text(context.Background(), "hi")
	}
	_, err := c.Text(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 5, gen.calls)
}

func TestNilClientIsNotConfigured(t *testing.T) {
	var c *Client
	_, err := c.Text(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
