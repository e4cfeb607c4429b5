// Package storage uploads and removes objects in Supabase Storage buckets
// over its REST API.
package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

var ErrNotConfigured = errors.New("storage not configured")

// Store is what handlers depend on; *Supabase implements it.
type Store interface {
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)
	Remove(ctx context.Context, bucket string, paths ...string) error
	PublicURL(bucket, path string) string
}

type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("storage returned %d: %s", e.Status, e.Body)
}

type Config struct {
	URL        string
	ServiceKey string
	HTTPClient *http.Client
}

type Supabase struct {
	base  string
	key   string
	http  *http.Client
	retry retrypolicy.RetryPolicy[any]
}

func NewSupabase(cfg Config) (*Supabase, error) {
	if cfg.URL == "" || cfg.ServiceKey == "" {
		return nil, ErrNotConfigured
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Supabase{
		base: strings.TrimRight(cfg.URL, "/"),
		key:  cfg.ServiceKey,
		http: cfg.HTTPClient,
		retry: retrypolicy.NewBuilder[any]().
			WithMaxAttempts(3).
			WithBackoff(500*time.Millisecond, 2*time.Second).
			HandleIf(func(_ any, err error) bool {
				var se *StatusError
				if errors.As(err, &se) {
					return se.Status >= 500 || se.Status == http.StatusTooManyRequests
				}
				return err != nil && !errors.Is(err, context.Canceled)
			}).
			Build(),
	}, nil
}

func (s *Supabase) PublicURL(bucket, path string) string {
	return s.base + "/storage/v1/object/public/" + bucket + "/" + escapePath(path)
}

// Upload writes the object with upsert and returns its public URL.
func (s *Supabase) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	endpoint := s.base + "/storage/v1/object/" + bucket + "/" + escapePath(path)
	err := s.send(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("x-upsert", "true")
		req.Header.Set("Cache-Control", "3600")
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", bucket, path, err)
	}
	return s.PublicURL(bucket, path), nil
}

func (s *Supabase) Remove(ctx context.Context, bucket string, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string][]string{"prefixes": paths})
	if err != nil {
		return err
	}
	return s.send(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.base+"/storage/v1/object/"+bucket, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

func (s *Supabase) send(ctx context.Context, build func() (*http.Request, error)) error {
	return failsafe.NewExecutor[any](s.retry).WithContext(ctx).Run(func() error {
		req, err := build()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+s.key)
		req.Header.Set("apikey", s.key)
		resp, err := s.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &StatusError{Status: resp.StatusCode, Body: string(raw)}
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	})
}

// ObjectPath recovers the in-bucket path from a public URL produced by
// PublicURL, or "" when the URL points elsewhere.
func ObjectPath(bucket, publicURL string) string {
	marker := "/storage/v1/object/public/" + bucket + "/"
	i := strings.Index(publicURL, marker)
	if i < 0 {
		return ""
	}
	p := publicURL[i+len(marker):]
	if q := strings.IndexAny(p, "?#"); q >= 0 {
		p = p[:q]
	}
	if unescaped, err := url.PathUnescape(p); err == nil {
		return unescaped
	}
	return p
}

// DecodeDataURL strips a data:<mime>;base64, prefix and decodes the rest.
func DecodeDataURL(s string) ([]byte, string, error) {
	mime := ""
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, "", errors.New("malformed data url")
		}
		meta := s[len("data:"):comma]
		mime = strings.TrimSuffix(meta, ";base64")
		s = s[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, "", fmt.Errorf("decode base64 image: %w", err)
	}
	return data, mime, nil
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
