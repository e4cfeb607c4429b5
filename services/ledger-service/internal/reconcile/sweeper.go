// Package reconcile periodically compares each closed day's drawer count with
// the register total and asks for an email when they disagree.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/events"
	"github.com/md-rashed-zaman/mspharm/libs/money"
	"github.com/md-rashed-zaman/mspharm/services/ledger-service/internal/income"
)

const (
	DefaultThreshold = 10_000
	DefaultLookback  = 7
	DefaultLockKey   = 4242001
)

type Days interface {
	Range(ctx context.Context, from, to string) ([]income.Day, error)
}

// Alerts claims a date once and queues its notification.
type Alerts interface {
	RecordAlert(ctx context.Context, date string, diff int64, notice events.NotificationRequest) (bool, error)
}

// Locker runs fn only when this instance wins the lock. It reports whether
// fn ran.
type Locker interface {
	WithLock(ctx context.Context, key int64, fn func(context.Context) error) (bool, error)
}

type Config struct {
	Interval  time.Duration
	Threshold int64
	// Lookback is how many closed days before today are checked.
	Lookback  int
	Recipient string
	LockKey   int64
}

type Sweeper struct {
	days   Days
	alerts Alerts
	locker Locker
	clock  clockwork.Clock
	logger *slog.Logger
	cfg    Config
}

func NewSweeper(days Days, alerts Alerts, locker Locker, clock clockwork.Clock, logger *slog.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.LockKey == 0 {
		cfg.LockKey = DefaultLockKey
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sweeper{days: days, alerts: alerts, locker: locker, clock: clock, logger: logger, cfg: cfg}
}

func (s *Sweeper) Run(ctx context.Context) {
	if strings.TrimSpace(s.cfg.Recipient) == "" {
		s.logger.Warn("reconcile sweep disabled: RECONCILE_ALERT_EMAIL missing")
		return
	}
	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	ran, err := s.locker.WithLock(ctx, s.cfg.LockKey, func(ctx context.Context) error {
		_, err := s.SweepOnce(ctx)
		return err
	})
	switch {
	case err != nil:
		s.logger.Error("reconcile sweep failed", "err", err)
	case !ran:
		s.logger.Debug("reconcile sweep skipped: lock held by another instance", "lock_key", s.cfg.LockKey)
	}
}

// SweepOnce checks the lookback window ending yesterday and returns the
// dates newly alerted.
func (s *Sweeper) SweepOnce(ctx context.Context) ([]string, error) {
	today := s.clock.Now().In(income.KST)
	from := today.AddDate(0, 0, -s.cfg.Lookback).Format(income.DateLayout)
	to := today.AddDate(0, 0, -1).Format(income.DateLayout)
	days, err := s.days.Range(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load days %s..%s: %w", from, to, err)
	}
	var alerted []string
	for _, d := range days {
		diff := d.Diff()
		if abs(diff) < s.cfg.Threshold {
			continue
		}
		claimed, err := s.alerts.RecordAlert(ctx, d.Date, diff, Notice(s.cfg.Recipient, d))
		if err != nil {
			return alerted, fmt.Errorf("record alert %s: %w", d.Date, err)
		}
		if claimed {
			s.logger.Info("reconcile alert queued", "date", d.Date, "diff", diff)
			alerted = append(alerted, d.Date)
		}
	}
	return alerted, nil
}

// Notice is the email sent for a mismatched day.
func Notice(recipient string, d income.Day) events.NotificationRequest {
	var b strings.Builder
	fmt.Fprintf(&b, "%s 시재 정산에서 차액이 발생했습니다.\n\n", d.Date)
	fmt.Fprintf(&b, "총 수입: %s원\n", money.Won(d.Income()))
	fmt.Fprintf(&b, "지출: %s원\n", money.Won(d.Person))
	fmt.Fprintf(&b, "순수입: %s원\n", money.Won(d.Net()))
	fmt.Fprintf(&b, "POS 매출: %s원\n", money.Won(d.Pos))
	fmt.Fprintf(&b, "차액: %s원\n", money.Won(d.Diff()))
	return events.NotificationRequest{
		Channel:   "email",
		Recipient: recipient,
		Subject:   fmt.Sprintf("[명성약국] %s 시재 차액 알림", d.Date),
		Body:      b.String(),
		Reference: "reconcile:" + d.Date,
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// PgLocker elects one sweeper across instances with a transaction-scoped
// advisory lock, held for as long as fn runs.
type PgLocker struct {
	Pool *db.Pool
}

func (l PgLocker) WithLock(ctx context.Context, key int64, fn func(context.Context) error) (bool, error) {
	var locked bool
	err := l.Pool.InTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, key).Scan(&locked); err != nil {
			return err
		}
		if !locked {
			return nil
		}
		return fn(ctx)
	})
	return locked, err
}
