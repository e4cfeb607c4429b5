package httpx

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultLimitPrefix namespaces limiter keys in the shared redis.
const DefaultLimitPrefix = "mspharm:ratelimit"

// incrWindow bumps a counter and starts its window on the first hit.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisLimiter shares one fixed-window budget across gateway replicas.
type RedisLimiter struct {
	rdb    redis.Scripter
	limit  int64
	window time.Duration
	prefix string
}

func NewRedisLimiter(rdb redis.Scripter, limit int, window time.Duration, prefix string) *RedisLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window < time.Millisecond {
		window = time.Minute
	}
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = DefaultLimitPrefix
	}
	return &RedisLimiter{rdb: rdb, limit: int64(limit), window: window, prefix: prefix}
}

func (l *RedisLimiter) Window() time.Duration { return l.window }

func (l *RedisLimiter) Key(key string) string { return l.prefix + ":" + key }

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	n, err := incrWindow.Run(ctx, l.rdb, []string{l.Key(key)}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n <= l.limit, nil
}
