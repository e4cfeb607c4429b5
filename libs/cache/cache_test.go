package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestLoaderCachesUntilExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewLoader[[]string](NewMemory(clock), "tips:", time.Hour, discard())
	var calls int
	load := func(context.Context) ([]string, error) {
		calls++
		return []string{"물 많이 마시기"}, nil
	}
	ctx := context.Background()

	v, hit, err := l.Get(ctx, "c1", load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []string{"물 많이 마시기"}, v)

	_, hit, _ = l.Get(ctx, "c1", load)
	assert.True(t, hit)
	assert.Equal(t, 1, calls)

	clock.Advance(time.Hour + time.Second)
	_, hit, _ = l.Get(ctx, "c1", load)
	assert.False(t, hit)
	assert.Equal(t, 2, calls)
}

func TestLoaderInvalidate(t *testing.T) {
	l := NewLoader[int](NewMemory(nil), "n:", time.Minute, discard())
	ctx := context.Background()
	_, _, _ = l.Get(ctx, "a", func(context.Context) (int, error) { return 1, nil })
	l.Invalidate(ctx, "a")
	v, hit, _ := l.Get(ctx, "a", func(context.Context) (int, error) { return 2, nil })
	assert.False(t, hit)
	assert.Equal(t, 2, v)
}

func TestLoaderDoesNotCacheErrors(t *testing.T) {
	l := NewLoader[int](NewMemory(nil), "", time.Minute, discard())
	boom := errors.New("boom")
	_, _, err := l.Get(context.Background(), "k", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	v, hit, err := l.Get(context.Background(), "k", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 7, v)
}

func TestLoaderSharesConcurrentLoads(t *testing.T) {
	l := NewLoader[int](NewMemory(nil), "", time.Minute, discard())
	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := l.Get(context.Background(), "k", load)
			assert.NoError(t, err)
			assert.Equal(t, 42, v)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}
