package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/mspharm/libs/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var processedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "jobs_processed_total",
	Help: "Scheduled jobs attempted, by outcome.",
}, []string{"outcome"})

// Queue is the job table as the worker sees it.
type Queue interface {
	Enqueue(ctx context.Context, p Plan) (bool, error)
	RunDue(ctx context.Context, now time.Time, limit, maxAttempts int, handle Handle) (Result, error)
}

type WorkerConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	// TaxRecipient enables the monthly reminder when set.
	TaxRecipient   string
	TaxReminderDay int
}

type Worker struct {
	queue   Queue
	runners map[string]Runner
	clock   clockwork.Clock
	logger  *slog.Logger
	cfg     WorkerConfig
}

func NewWorker(queue Queue, clock clockwork.Clock, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Worker{
		queue: queue,
		runners: map[string]Runner{
			KindPayslip:     RunnerFunc(Payslip),
			KindTaxReminder: RunnerFunc(TaxReminder),
		},
		clock:  clock,
		logger: logger,
		cfg:    cfg,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := w.clock.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := w.Tick(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("scheduler batch failed", "err", err)
			}
		}
	}
}

// Tick plans recurring jobs and then drains one batch of due jobs.
func (w *Worker) Tick(ctx context.Context) error {
	now := w.clock.Now()
	if strings.TrimSpace(w.cfg.TaxRecipient) != "" {
		plan := NextTaxReminder(now, w.cfg.TaxReminderDay, w.cfg.TaxRecipient)
		added, err := w.queue.Enqueue(ctx, plan)
		if err != nil {
			return fmt.Errorf("plan tax reminder: %w", err)
		}
		if added {
			w.logger.Info("tax reminder planned", "key", plan.DedupeKey, "run_at", plan.RunAt)
		}
	}

	res, err := w.queue.RunDue(ctx, now, w.cfg.BatchSize, w.cfg.MaxAttempts, w.handle)
	if err != nil {
		return err
	}
	processedTotal.WithLabelValues(StatusDone).Add(float64(res.Done))
	processedTotal.WithLabelValues("retried").Add(float64(res.Retried))
	processedTotal.WithLabelValues(StatusDead).Add(float64(res.Dead))
	if res.Done+res.Retried+res.Dead > 0 {
		w.logger.Info("scheduler batch", "done", res.Done, "retried", res.Retried, "dead", res.Dead)
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, job Job) (events.NotificationRequest, error) {
	runner, ok := w.runners[job.Kind]
	if !ok {
		return events.NotificationRequest{}, fmt.Errorf("%w: unknown kind %q", ErrPermanent, job.Kind)
	}
	msg, err := runner.Run(ctx, job)
	if err != nil {
		w.logger.Warn("job attempt failed", "id", job.ID, "kind", job.Kind, "attempt", job.Attempts+1, "err", err)
	}
	return msg, err
}
