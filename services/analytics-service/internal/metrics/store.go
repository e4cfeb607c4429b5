package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/db"
)

// Cell is one stored counter.
type Cell struct {
	Day    time.Time
	Metric string
	Value  int64
}

type Store struct {
	pool *db.Pool
}

func NewStore(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

// Apply writes all changes of one event atomically.
func (s *Store) Apply(ctx context.Context, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, c := range changes {
			if c.Mode == ModeSet {
				batch.Queue(`
					INSERT INTO daily_metrics (day, metric, value) VALUES ($1::date, $2, $3)
					ON CONFLICT (day, metric) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
				`, c.Day, c.Metric, c.Value)
				continue
			}
			batch.Queue(`
				INSERT INTO daily_metrics (day, metric, value) VALUES ($1::date, $2, $3)
				ON CONFLICT (day, metric) DO UPDATE SET value = daily_metrics.value + EXCLUDED.value, updated_at = now()
			`, c.Day, c.Metric, c.Value)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// Range returns cells between from and to inclusive, optionally limited to
// the named metrics.
func (s *Store) Range(ctx context.Context, from, to time.Time, names []string) ([]Cell, error) {
	if names == nil {
		names = []string{}
	}
	rows, err := s.pool.Query(ctx, `
		SELECT day, metric, value
		FROM daily_metrics
		WHERE day BETWEEN $1::date AND $2::date
		  AND (cardinality($3::text[]) = 0 OR metric = ANY($3))
		ORDER BY day, metric
	`, from.Format(time.DateOnly), to.Format(time.DateOnly), names)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Cell, error) {
		var c Cell
		err := row.Scan(&c.Day, &c.Metric, &c.Value)
		return c, err
	})
}
