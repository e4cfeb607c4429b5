package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/events"
	"github.com/md-rashed-zaman/mspharm/libs/outbox"
	"github.com/md-rashed-zaman/mspharm/services/ledger-service/internal/income"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyDecided = errors.New("already processed")
)

type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, ob *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: ob}
}

const dayColumns = `to_char(work_date, 'YYYY-MM-DD'), cas5, cas1, gif, car1, car2, person, pos`

func scanDay(row pgx.Row) (income.Day, error) {
	var d income.Day
	err := row.Scan(&d.Date, &d.Cas5, &d.Cas1, &d.Gif, &d.Car1, &d.Car2, &d.Person, &d.Pos)
	return d, err
}

// Get implements income.Store.
func (r *Repository) Get(ctx context.Context, date string) (income.Day, bool, error) {
	d, err := scanDay(r.pool.QueryRow(ctx, `SELECT `+dayColumns+` FROM daily_income WHERE work_date = $1`, date))
	if db.IsNotFound(err) {
		return income.Day{}, false, nil
	}
	if err != nil {
		return income.Day{}, false, err
	}
	return d, true, nil
}

// Save upserts the day and queues the saved event in the same transaction.
func (r *Repository) Save(ctx context.Context, day income.Day) (income.Day, error) {
	var out income.Day
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = scanDay(tx.QueryRow(ctx, `
			INSERT INTO daily_income (work_date, cas5, cas1, gif, car1, car2, person, pos)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (work_date) DO UPDATE
			SET cas5 = EXCLUDED.cas5,
				cas1 = EXCLUDED.cas1,
				gif = EXCLUDED.gif,
				car1 = EXCLUDED.car1,
				car2 = EXCLUDED.car2,
				person = EXCLUDED.person,
				pos = EXCLUDED.pos,
				updated_at = now()
			RETURNING `+dayColumns,
			day.Date, day.Cas5, day.Cas1, day.Gif, day.Car1, day.Car2, day.Person, day.Pos))
		if err != nil {
			return err
		}
		return r.emitSaved(ctx, tx, out)
	})
	return out, err
}

func (r *Repository) Range(ctx context.Context, from, to string) ([]income.Day, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dayColumns+`
		FROM daily_income
		WHERE ($1::date IS NULL OR work_date >= $1::date) AND ($2::date IS NULL OR work_date <= $2::date)
		ORDER BY work_date
	`, nullIfEmpty(from), nullIfEmpty(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []income.Day{}
	for rows.Next() {
		d, err := scanDay(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// EmitIncomeSaved queues the saved event for a day written elsewhere, such
// as the Notion backend.
func (r *Repository) EmitIncomeSaved(ctx context.Context, day income.Day) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		return r.emitSaved(ctx, tx, day)
	})
}

func (r *Repository) emitSaved(ctx context.Context, tx pgx.Tx, day income.Day) error {
	return r.outbox.Emit(ctx, tx, "daily_income", day.Date, events.DailyIncomeSaved, day.SavedEvent())
}

// RecordAlert claims the alert for a date and queues the notification. It
// reports false when the date was already alerted.
func (r *Repository) RecordAlert(ctx context.Context, date string, diff int64, notice events.NotificationRequest) (bool, error) {
	var claimed bool
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO reconcile_alerts (work_date, diff, alerted_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (work_date) DO NOTHING
		`, date, diff, time.Now().UTC())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		claimed = true
		return r.outbox.Emit(ctx, tx, "reconcile_alert", date, events.NotificationRequested, notice)
	})
	return claimed, err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
