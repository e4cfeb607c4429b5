package inbox

import (
	"context"

	"github.com/md-rashed-zaman/mspharm/libs/db"
)

// Repository dedupes consumed events. Rows are scoped by consumer group so
// two services can both handle the same event.
type Repository struct {
	pool     *db.Pool
	consumer string
}

func NewRepository(pool *db.Pool, consumer string) *Repository {
	return &Repository{pool: pool, consumer: consumer}
}

// Record reports false when the event was already handled.
func (r *Repository) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (consumer, event_id, event_type)
		VALUES ($1, $2, $3)
	`, r.consumer, eventID, eventType)
	if err == nil {
		return true, nil
	}
	if db.IsUniqueViolation(err) {
		return false, nil
	}
	return false, err
}

// Forget removes the record so a redelivery is handled again.
func (r *Repository) Forget(ctx context.Context, eventID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM inbox_events WHERE consumer = $1 AND event_id = $2`, r.consumer, eventID)
	return err
}
