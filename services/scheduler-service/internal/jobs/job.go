// Package jobs runs deferred work: payslip emails after payroll approval and
// the monthly withholding tax reminder. Due jobs are claimed from Postgres,
// turned into notification requests, and retried with backoff until they
// either succeed or land on the dead letter topic.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/events"
)

const (
	KindPayslip     = "payslip_email"
	KindTaxReminder = "tax_report_reminder"

	StatusPending = "pending"
	StatusDone    = "done"
	StatusDead    = "dead"

	DefaultMaxAttempts = 5
	maxBackoff         = time.Hour
)

// ErrPermanent marks failures that retrying cannot fix.
var ErrPermanent = errors.New("permanent job failure")

type Job struct {
	ID        int64           `json:"id"`
	Kind      string          `json:"kind"`
	DedupeKey string          `json:"dedupe_key"`
	Payload   json.RawMessage `json:"payload"`
	RunAt     time.Time       `json:"run_at"`
	Status    string          `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Runner turns one job into the message to deliver.
type Runner interface {
	Run(ctx context.Context, job Job) (events.NotificationRequest, error)
}

type RunnerFunc func(ctx context.Context, job Job) (events.NotificationRequest, error)

func (f RunnerFunc) Run(ctx context.Context, job Job) (events.NotificationRequest, error) {
	return f(ctx, job)
}

// Backoff is 2^attempt minutes, capped at an hour.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		return maxBackoff
	}
	d := time.Duration(1<<attempt) * time.Minute
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Outcome is what happens to a job after one attempt.
type Outcome struct {
	Status   string
	Attempts int
	RunAt    time.Time
	Error    string
}

func Decide(job Job, err error, now time.Time, maxAttempts int) Outcome {
	attempts := job.Attempts + 1
	if err == nil {
		return Outcome{Status: StatusDone, Attempts: attempts, RunAt: job.RunAt}
	}
	out := Outcome{Status: StatusPending, Attempts: attempts, Error: err.Error()}
	if errors.Is(err, ErrPermanent) || attempts >= maxAttempts {
		out.Status = StatusDead
		out.RunAt = job.RunAt
		return out
	}
	out.RunAt = now.Add(Backoff(attempts))
	return out
}

// DeadLetter is the DLQ payload for a job that gave up.
func DeadLetter(job Job, out Outcome, now time.Time) events.JobDeadLetter {
	return events.JobDeadLetter{
		JobID:     job.ID,
		Kind:      job.Kind,
		DedupeKey: job.DedupeKey,
		Attempts:  out.Attempts,
		Error:     out.Error,
		Payload:   job.Payload,
		FailedAt:  now.UTC(),
	}
}
