package httpx

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const tooManyRequestsMessage = "요청이 너무 많습니다. 잠시 후 다시 시도해주세요."

// Limiter admits or refuses one request counted against key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Window() time.Duration
}

// KeyFunc names the bucket a request is counted in.
type KeyFunc func(r *http.Request) string

// ClientIP keys on the caller's address.
func ClientIP(r *http.Request) string { return "ip:" + clientAddr(r) }

// clientAddr is the first forwarded address, else the peer address.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ActorOrIP keys signed-in callers on who they are, so the staff terminals
// behind the pharmacy's single address do not share one bucket. Only use it
// after the actor headers have been verified and rewritten.
func ActorOrIP(r *http.Request) string {
	a := ActorFromRequest(r)
	switch {
	case a.IsEmployee():
		return "staff:" + a.ID
	case a.IsCustomer():
		return "customer:" + a.ID
	}
	return ClientIP(r)
}

// RateLimit refuses requests over the limiter's budget with 429. When the
// limiter itself fails the request passes if failOpen, else gets 503.
func RateLimit(l Limiter, key KeyFunc, logger *slog.Logger, failOpen bool) Middleware {
	if key == nil {
		key = ClientIP
	}
	retryAfter := strconv.Itoa(int(l.Window().Seconds()))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), key(r))
			if err != nil {
				if logger != nil {
					logger.Warn("rate limiter unavailable", "err", err, "fail_open", failOpen)
				}
				if !failOpen {
					WriteError(w, http.StatusServiceUnavailable, "일시적으로 요청을 처리할 수 없습니다")
					return
				}
				ok = true
			}
			if !ok {
				w.Header().Set("Retry-After", retryAfter)
				WriteError(w, http.StatusTooManyRequests, tooManyRequestsMessage)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MemoryLimiter is a fixed-window counter for a single replica.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	count   int
	resetAt time.Time
}

// maxBuckets bounds memory; expired buckets are swept when it is reached.
const maxBuckets = 10000

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{limit: limit, window: window, now: time.Now, buckets: map[string]*bucket{}}
}

func (l *MemoryLimiter) Window() time.Duration { return l.window }

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.buckets) >= maxBuckets {
		for k, b := range l.buckets {
			if now.After(b.resetAt) {
				delete(l.buckets, k)
			}
		}
	}
	b, ok := l.buckets[key]
	if !ok || now.After(b.resetAt) {
		l.buckets[key] = &bucket{count: 1, resetAt: now.Add(l.window)}
		return true, nil
	}
	if b.count >= l.limit {
		return false, nil
	}
	b.count++
	return true, nil
}
