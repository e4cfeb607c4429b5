package reconcile

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/mspharm/libs/events"
	"github.com/md-rashed-zaman/mspharm/services/ledger-service/internal/income"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeDays struct {
	days     []income.Day
	from, to string
}

func (f *fakeDays) Range(_ context.Context, from, to string) ([]income.Day, error) {
	f.from, f.to = from, to
	return f.days, nil
}

type fakeAlerts struct {
	mu      sync.Mutex
	claimed map[string]events.NotificationRequest
}

func (f *fakeAlerts) RecordAlert(_ context.Context, date string, _ int64, n events.NotificationRequest) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.claimed[date]; ok {
		return false, nil
	}
	f.claimed[date] = n
	return true, nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held bool
	runs int
}

func (f *fakeLocker) WithLock(ctx context.Context, _ int64, fn func(context.Context) error) (bool, error) {
	f.mu.Lock()
	held := f.held
	if !held {
		f.runs++
	}
	f.mu.Unlock()
	if held {
		return false, nil
	}
	return true, fn(ctx)
}

func (f *fakeLocker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestSweepOnceAlertsEachDateOnce(t *testing.T) {
	days := &fakeDays{days: []income.Day{
		{Date: "2026-03-08", Cas1: 100_000, Pos: 100_000},
		{Date: "2026-03-09", Cas1: 100_000, Pos: 90_000},
		{Date: "2026-03-10", Cas1: 100_000, Pos: 125_500},
		{Date: "2026-03-11", Cas1: 100_000, Pos: 95_000},
	}}
	alerts := &fakeAlerts{claimed: map[string]events.NotificationRequest{}}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 12, 1, 0, 0, 0, income.KST))
	s := NewSweeper(days, alerts, &fakeLocker{}, clock, logger, Config{Recipient: "owner@example.com"})

	got, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-03-09", "2026-03-10"}, got)
	assert.Equal(t, "2026-03-05", days.from)
	assert.Equal(t, "2026-03-11", days.to)

	n := alerts.claimed["2026-03-10"]
	assert.Equal(t, "owner@example.com", n.Recipient)
	assert.Equal(t, "email", n.Channel)
	assert.Contains(t, n.Body, "차액: -25,500원")

	again, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestRunSkipsWithoutRecipient(t *testing.T) {
	locker := &fakeLocker{}
	s := NewSweeper(&fakeDays{}, &fakeAlerts{}, locker, clockwork.NewFakeClock(), logger, Config{})
	s.Run(context.Background())
	assert.Zero(t, locker.count())
}

func TestRunTicksUntilCancelled(t *testing.T) {
	clock := clockwork.NewFakeClock()
	locker := &fakeLocker{}
	s := NewSweeper(&fakeDays{}, &fakeAlerts{claimed: map[string]events.NotificationRequest{}}, locker, clock, logger,
		Config{Recipient: "owner@example.com", Interval: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return locker.count() == 2 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestLockedElsewhereDoesNotSweep(t *testing.T) {
	days := &fakeDays{}
	s := NewSweeper(days, &fakeAlerts{}, &fakeLocker{held: true}, clockwork.NewFakeClock(), logger, Config{Recipient: "x@example.com"})
	s.tick(context.Background())
	assert.Empty(t, days.from)
}
