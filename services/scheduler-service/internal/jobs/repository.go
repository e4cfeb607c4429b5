package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/events"
	"github.com/md-rashed-zaman/mspharm/libs/outbox"
)

var ErrNotDead = errors.New("job is not dead")

// Handle runs one claimed job.
type Handle func(ctx context.Context, job Job) (events.NotificationRequest, error)

// Result counts the outcomes of one batch.
type Result struct {
	Done    int
	Retried int
	Dead    int
}

type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, ob *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: ob}
}

const jobColumns = `id, kind, dedupe_key, payload, run_at, status, attempts, COALESCE(last_error, ''), created_at`

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.Kind, &j.DedupeKey, &j.Payload, &j.RunAt, &j.Status, &j.Attempts, &j.LastError, &j.CreatedAt)
	return j, err
}

// Enqueue reports false when a job with the same dedupe key already exists.
func (r *Repository) Enqueue(ctx context.Context, p Plan) (bool, error) {
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (kind, dedupe_key, payload, run_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dedupe_key) DO NOTHING
	`, p.Kind, p.DedupeKey, payload, p.RunAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RunDue claims up to limit due jobs, hands each to handle, and records the
// outcome in the same transaction as the resulting outbox event.
func (r *Repository) RunDue(ctx context.Context, now time.Time, limit, maxAttempts int, handle Handle) (Result, error) {
	var res Result
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		res = Result{}
		rows, err := tx.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE status = 'pending' AND run_at <= $1
			ORDER BY run_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, now, limit)
		if err != nil {
			return err
		}
		due, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Job, error) { return scanJob(row) })
		if err != nil {
			return err
		}

		for _, job := range due {
			msg, runErr := handle(ctx, job)
			out := Decide(job, runErr, now, maxAttempts)
			switch out.Status {
			case StatusDone:
				if err := r.outbox.Emit(ctx, tx, "job", fmt.Sprint(job.ID), events.NotificationRequested, msg); err != nil {
					return err
				}
				res.Done++
			case StatusDead:
				if err := r.outbox.Emit(ctx, tx, "job", fmt.Sprint(job.ID), events.JobsDLQ, DeadLetter(job, out, now)); err != nil {
					return err
				}
				res.Dead++
			default:
				res.Retried++
			}
			if _, err := tx.Exec(ctx, `
				UPDATE jobs
				SET status = $2, attempts = $3, run_at = $4, last_error = NULLIF($5, ''), locked_at = $6, updated_at = now()
				WHERE id = $1
			`, job.ID, out.Status, out.Attempts, out.RunAt, out.Error, now); err != nil {
				return err
			}
		}
		return nil
	})
	return res, err
}

func (r *Repository) List(ctx context.Context, status string, limit, offset int) ([]Job, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM jobs WHERE $1::text = '' OR status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE $1::text = '' OR status = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Job, error) { return scanJob(row) })
	if err != nil {
		return nil, 0, err
	}
	if list == nil {
		list = []Job{}
	}
	return list, total, nil
}

// Requeue gives a dead job a fresh set of attempts.
func (r *Repository) Requeue(ctx context.Context, id int64, now time.Time) (Job, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'pending', attempts = 0, run_at = $2, last_error = NULL, updated_at = now()
		WHERE id = $1 AND status = 'dead'
		RETURNING `+jobColumns, id, now))
	if db.IsNotFound(err) {
		return Job{}, ErrNotDead
	}
	return job, err
}
