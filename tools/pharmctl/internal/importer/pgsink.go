package importer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/events"
	"github.com/md-rashed-zaman/mspharm/libs/outbox"
)

// PgSink writes imported rows and emits the same events the customer service
// does, so the search index picks them up.
type PgSink struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewPgSink(pool *db.Pool, ob *outbox.Repository) *PgSink {
	return &PgSink{pool: pool, outbox: ob}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *PgSink) ConsultationIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT consultation_id FROM consultations`)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (s *PgSink) InsertCustomer(ctx context.Context, c Customer, pinHash string) (bool, error) {
	inserted := false
	err := s.pool.InTx(ctx, func(tx pgx.Tx) error {
		var embedding any
		if len(c.FaceEmbedding) > 0 {
			embedding = c.FaceEmbedding
		}
		var id string
		err := tx.QueryRow(ctx, `
			INSERT INTO customers (customer_code, name, phone, gender, birth_date, estimated_age, address,
				special_notes, face_embedding, pin_code, is_initial_pin)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, true)
			ON CONFLICT (customer_code) DO NOTHING
			RETURNING id::text
		`, c.Code, c.Name, nullable(c.Phone), nullable(c.Gender), c.BirthDate, c.EstimatedAge,
			nullable(c.Address), nullable(c.SpecialNotes), embedding, pinHash).Scan(&id)
		if db.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		inserted = true
		return s.emitCustomer(ctx, tx, id, c.Code, c.Name)
	})
	return inserted, err
}

func (s *PgSink) EnsureCustomer(ctx context.Context, code, pinHash string) (string, error) {
	var id string
	err := s.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT id::text FROM customers WHERE customer_code = $1`, code).Scan(&id)
		if err == nil || !db.IsNotFound(err) {
			return err
		}
		name := PlaceholderName(code)
		if err := tx.QueryRow(ctx, `
			INSERT INTO customers (customer_code, name, pin_code, is_initial_pin)
			VALUES ($1, $2, $3, true)
			RETURNING id::text
		`, code, name, pinHash).Scan(&id); err != nil {
			return err
		}
		return s.emitCustomer(ctx, tx, id, code, name)
	})
	return id, err
}

func (s *PgSink) emitCustomer(ctx context.Context, tx pgx.Tx, id, code, name string) error {
	return s.outbox.Emit(ctx, tx, "customer", id, events.CustomerCreated, events.Customer{
		CustomerID:   id,
		CustomerCode: code,
		Name:         name,
		At:           time.Now().UTC(),
	})
}

func (s *PgSink) InsertConsultation(ctx context.Context, customerID string, c Consultation) (bool, error) {
	inserted := false
	err := s.pool.InTx(ctx, func(tx pgx.Tx) error {
		if c.ImageURLs == nil {
			c.ImageURLs = []string{}
		}
		created := c.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		var id, customerName string
		err := tx.QueryRow(ctx, `
			WITH ins AS (
				INSERT INTO consultations (consultation_id, customer_id, consult_date, symptoms, patient_condition,
					tongue_analysis, special_notes, prescription, result, image_urls, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				ON CONFLICT (consultation_id) DO NOTHING
				RETURNING id, customer_id
			)
			SELECT ins.id::text, cu.name FROM ins JOIN customers cu ON cu.id = ins.customer_id
		`, c.ConsultationID, customerID, c.ConsultDate, c.Symptoms, nullable(c.PatientCondition),
			nullable(c.TongueAnalysis), nullable(c.SpecialNotes), nullable(c.Prescription), nullable(c.Result),
			c.ImageURLs, created).Scan(&id, &customerName)
		if db.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		inserted = true
		if _, err := tx.Exec(ctx, `
			UPDATE customers
			SET consultation_count = (SELECT count(*) FROM consultations WHERE customer_id = $1), updated_at = now()
			WHERE id = $1
		`, customerID); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, "consultation", id, events.ConsultationCreated, events.Consultation{
			ID:               id,
			ConsultationID:   c.ConsultationID,
			CustomerID:       customerID,
			CustomerName:     customerName,
			ConsultDate:      c.ConsultDate,
			Symptoms:         c.Symptoms,
			PatientCondition: c.PatientCondition,
			TongueAnalysis:   c.TongueAnalysis,
			SpecialNotes:     c.SpecialNotes,
			Prescription:     c.Prescription,
			Result:           c.Result,
			At:               time.Now().UTC(),
		})
	})
	return inserted, err
}

func (s *PgSink) Counts(ctx context.Context) (customers, consultations int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT (SELECT count(*) FROM customers WHERE NOT is_deleted), (SELECT count(*) FROM consultations)
	`).Scan(&customers, &consultations)
	return customers, consultations, err
}
