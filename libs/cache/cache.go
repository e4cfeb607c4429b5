// Package cache is a read-through JSON cache over Redis. Concurrent misses
// for one key share a single load, and cache faults never fail the caller.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

var ErrMiss = errors.New("cache miss")

type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis { return &Redis{rdb: rdb} }

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return v, err
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}

// Memory is an in-process Backend for tests and runs without Redis.
type Memory struct {
	mu    sync.Mutex
	clock clockwork.Clock
	items map[string]memItem
}

type memItem struct {
	value   []byte
	expires time.Time
}

func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{clock: clock, items: map[string]memItem{}}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok || !m.clock.Now().Before(it.expires) {
		delete(m.items, key)
		return nil, ErrMiss
	}
	return it.value, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memItem{value: append([]byte(nil), value...), expires: m.clock.Now().Add(ttl)}
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

// Loader caches values of type T under prefix+key.
type Loader[T any] struct {
	backend Backend
	prefix  string
	ttl     time.Duration
	logger  *slog.Logger
	group   singleflight.Group
}

func NewLoader[T any](backend Backend, prefix string, ttl time.Duration, logger *slog.Logger) *Loader[T] {
	return &Loader[T]{backend: backend, prefix: prefix, ttl: ttl, logger: logger}
}

// Get returns the cached value, or runs load and stores its result. The
// bool reports a cache hit.
func (l *Loader[T]) Get(ctx context.Context, key string, load func(context.Context) (T, error)) (T, bool, error) {
	full := l.prefix + key
	if v, ok := l.read(ctx, full); ok {
		return v, true, nil
	}
	res, err, _ := l.group.Do(full, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		l.write(ctx, full, v)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return res.(T), false, nil
}

func (l *Loader[T]) Invalidate(ctx context.Context, keys ...string) {
	if l.backend == nil || len(keys) == 0 {
		return
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = l.prefix + k
	}
	if err := l.backend.Del(ctx, full...); err != nil {
		l.logger.Warn("cache invalidate failed", "keys", full, "err", err)
	}
}

func (l *Loader[T]) read(ctx context.Context, key string) (T, bool) {
	var v T
	if l.backend == nil {
		return v, false
	}
	raw, err := l.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			l.logger.Warn("cache read failed", "key", key, "err", err)
		}
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		l.logger.Warn("cache entry undecodable", "key", key, "err", err)
		return v, false
	}
	return v, true
}

func (l *Loader[T]) write(ctx context.Context, key string, v T) {
	if l.backend == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := l.backend.Set(ctx, key, raw, l.ttl); err != nil {
		l.logger.Warn("cache write failed", "key", key, "err", err)
	}
}
