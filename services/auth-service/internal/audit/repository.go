// Package audit records security-relevant actions in audit_log, optionally
// announcing them on the outbox in the same transaction.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/outbox"
)

const (
	ActionLogin           = "employee.login"
	ActionPasswordChanged = "employee.password_changed"
	ActionEmployeeCreated = "employee.created"
	ActionEmployeeDeleted = "employee.deleted"
	ActionKeyRotated      = "jwt.rotate"
)

type Entry struct {
	ActorID  string
	Action   string
	Target   string
	Metadata map[string]any
}

// Event is the outbox message that accompanies an entry.
type Event struct {
	Type        string
	AggregateID string
	Payload     any
}

type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, ob *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: ob}
}

// RecordTx writes the entry inside tx, plus evt when it has a type.
func (r *Repository) RecordTx(ctx context.Context, tx pgx.Tx, e Entry, evt Event) error {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO audit_log (actor_id, action, target, metadata)
		VALUES (NULLIF($1, '')::uuid, $2, NULLIF($3, ''), $4)
	`, e.ActorID, e.Action, e.Target, raw); err != nil {
		return err
	}
	if evt.Type == "" || r.outbox == nil {
		return nil
	}
	return r.outbox.Emit(ctx, tx, "employee", evt.AggregateID, evt.Type, evt.Payload)
}

func (r *Repository) Record(ctx context.Context, e Entry, evt Event) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		return r.RecordTx(ctx, tx, e, evt)
	})
}

type Row struct {
	ID        int64           `json:"id"`
	ActorID   string          `json:"actor_id,omitempty"`
	Action    string          `json:"action"`
	Target    string          `json:"target,omitempty"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}

func (r *Repository) ListRecent(ctx context.Context, limit int) ([]Row, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, COALESCE(actor_id::text, ''), action, COALESCE(target, ''), metadata, created_at
		FROM audit_log
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Row{}
	for rows.Next() {
		var e Row
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Target, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
