package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/events"
	"github.com/md-rashed-zaman/mspharm/libs/outbox"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Notification is the latest outcome for one requested delivery.
type Notification struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	Channel   string    `json:"channel"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, ob *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: ob}
}

// Record upserts the outcome by request event id and publishes it.
func (r *Repository) Record(ctx context.Context, n Notification) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO notifications (event_id, channel, recipient, subject, status, error, reference)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), NULLIF($7, ''))
			ON CONFLICT (event_id) DO UPDATE
			SET status = EXCLUDED.status, error = EXCLUDED.error
		`, n.EventID, n.Channel, n.Recipient, n.Subject, n.Status, n.Error, n.Reference); err != nil {
			return err
		}
		eventType := events.NotificationSent
		if n.Status != StatusSent {
			eventType = events.NotificationFailed
		}
		return r.outbox.Emit(ctx, tx, "notification", n.EventID, eventType, events.NotificationOutcome{
			RequestEventID: n.EventID,
			Channel:        n.Channel,
			Reference:      n.Reference,
			Status:         n.Status,
			Error:          n.Error,
			At:             time.Now().UTC(),
		})
	})
}

func (r *Repository) List(ctx context.Context, status string, limit, offset int) ([]Notification, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM notifications WHERE $1::text = '' OR status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_id, channel, recipient, COALESCE(subject, ''), status, COALESCE(error, ''), COALESCE(reference, ''), created_at
		FROM notifications
		WHERE $1::text = '' OR status = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	list := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.EventID, &n.Channel, &n.Recipient, &n.Subject, &n.Status, &n.Error, &n.Reference, &n.CreatedAt); err != nil {
			return nil, 0, err
		}
		list = append(list, n)
	}
	return list, total, rows.Err()
}
