package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/events"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/face"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/ids"
)

type Customer struct {
	ID                string          `json:"id"`
	CustomerCode      string          `json:"customer_code"`
	Name              string          `json:"name"`
	Phone             string          `json:"phone"`
	Gender            string          `json:"gender"`
	BirthDate         *time.Time      `json:"birth_date"`
	EstimatedAge      *int            `json:"estimated_age"`
	Address           string          `json:"address"`
	SpecialNotes      string          `json:"special_notes"`
	FaceEmbedding     json.RawMessage `json:"face_embedding,omitempty"`
	ConsultationCount int             `json:"consultation_count"`
	IsDeleted         bool            `json:"is_deleted"`
	DeletedAt         *time.Time      `json:"deleted_at,omitempty"`
	IsInitialPin      bool            `json:"is_initial_pin"`
	HealthConditions  []string        `json:"health_conditions"`
	CustomAlerts      []string        `json:"custom_alerts"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

const customerColumns = `id::text, customer_code, name, COALESCE(phone, ''), COALESCE(gender, ''), birth_date,
	estimated_age, COALESCE(address, ''), COALESCE(special_notes, ''), face_embedding, consultation_count,
	is_deleted, deleted_at, is_initial_pin, health_conditions, custom_alerts, created_at, updated_at`

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	var embedding []byte
	err := row.Scan(&c.ID, &c.CustomerCode, &c.Name, &c.Phone, &c.Gender, &c.BirthDate,
		&c.EstimatedAge, &c.Address, &c.SpecialNotes, &embedding, &c.ConsultationCount,
		&c.IsDeleted, &c.DeletedAt, &c.IsInitialPin, &c.HealthConditions, &c.CustomAlerts, &c.CreatedAt, &c.UpdatedAt)
	if len(embedding) > 0 {
		c.FaceEmbedding = embedding
	}
	if c.HealthConditions == nil {
		c.HealthConditions = []string{}
	}
	if c.CustomAlerts == nil {
		c.CustomAlerts = []string{}
	}
	return c, err
}

func collectCustomers(rows pgx.Rows, err error) ([]Customer, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchCustomers matches term against name, phone, code and notes. An
// empty term lists everyone.
func (r *Repository) SearchCustomers(ctx context.Context, term string, includeDeleted bool) ([]Customer, error) {
	return collectCustomers(r.pool.Query(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE ($2 OR NOT is_deleted)
		  AND ($1 = '' OR name ILIKE $3 OR phone ILIKE $3 OR customer_code ILIKE $3 OR special_notes ILIKE $3)
		ORDER BY customer_code
	`, term, includeDeleted, likePattern(term)))
}

func (r *Repository) ListCustomers(ctx context.Context, limit, offset int) ([]Customer, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM customers WHERE NOT is_deleted`).Scan(&total); err != nil {
		return nil, 0, err
	}
	out, err := collectCustomers(r.pool.Query(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE NOT is_deleted
		ORDER BY customer_code
		LIMIT $1 OFFSET $2
	`, limit, offset))
	return out, total, err
}

func (r *Repository) Trash(ctx context.Context) ([]Customer, error) {
	return collectCustomers(r.pool.Query(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE is_deleted
		ORDER BY deleted_at DESC
	`))
}

// GetCustomer returns a customer including soft-deleted ones.
func (r *Repository) GetCustomer(ctx context.Context, id string) (Customer, error) {
	c, err := scanCustomer(r.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if db.IsMissing(err) {
		return Customer{}, ErrNotFound
	}
	return c, err
}

type NewCustomer struct {
	Name          string
	Phone         string
	Gender        string
	BirthDate     *time.Time
	EstimatedAge  *int
	Address       string
	SpecialNotes  string
	FaceEmbedding json.RawMessage
	PinHash       string
	InitialPin    bool
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CreateCustomer assigns the next customer code under an advisory lock so
// concurrent creates never collide.
func (r *Repository) CreateCustomer(ctx context.Context, in NewCustomer) (Customer, error) {
	var out Customer
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('customers.customer_code'))`); err != nil {
			return err
		}
		var highest int
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(customer_code::int), 0)
			FROM customers
			WHERE customer_code ~ '^[0-9]+$'
		`).Scan(&highest); err != nil {
			return err
		}
		var embedding any
		if len(in.FaceEmbedding) > 0 {
			embedding = in.FaceEmbedding
		}
		c, err := scanCustomer(tx.QueryRow(ctx, `
			INSERT INTO customers (customer_code, name, phone, gender, birth_date, estimated_age, address,
				special_notes, face_embedding, pin_code, is_initial_pin)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING `+customerColumns,
			ids.CustomerCode(highest), in.Name, nullable(in.Phone), nullable(in.Gender), in.BirthDate,
			in.EstimatedAge, nullable(in.Address), nullable(in.SpecialNotes), embedding, in.PinHash, in.InitialPin))
		if err != nil {
			return err
		}
		out = c
		return r.emitCustomer(ctx, tx, events.CustomerCreated, c)
	})
	return out, err
}

func (r *Repository) emitCustomer(ctx context.Context, tx pgx.Tx, eventType string, c Customer) error {
	return r.outbox.Emit(ctx, tx, "customer", c.ID, eventType, events.Customer{
		CustomerID:   c.ID,
		CustomerCode: c.CustomerCode,
		Name:         c.Name,
		At:           time.Now().UTC(),
	})
}

// CustomerUpdate applies only the non-nil fields.
type CustomerUpdate struct {
	Name         *string
	Phone        *string
	Gender       *string
	BirthDate    *time.Time
	EstimatedAge *int
	Address      *string
	SpecialNotes *string
}

func (r *Repository) UpdateCustomer(ctx context.Context, id string, u CustomerUpdate) (Customer, error) {
	var out Customer
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		c, err := scanCustomer(tx.QueryRow(ctx, `
			UPDATE customers
			SET name = COALESCE($2, name),
				phone = COALESCE($3, phone),
				gender = COALESCE($4, gender),
				birth_date = COALESCE($5, birth_date),
				estimated_age = COALESCE($6, estimated_age),
				address = COALESCE($7, address),
				special_notes = COALESCE($8, special_notes),
				updated_at = now()
			WHERE id = $1
			RETURNING `+customerColumns,
			id, u.Name, u.Phone, u.Gender, u.BirthDate, u.EstimatedAge, u.Address, u.SpecialNotes))
		if db.IsMissing(err) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out = c
		return r.emitCustomer(ctx, tx, events.CustomerUpdated, c)
	})
	return out, err
}

// ProfileUpdate is what customers may change about themselves. Nil fields
// are left alone.
type ProfileUpdate struct {
	HealthConditions *[]string
	CustomAlerts     *[]string
	Phone            *string
	Address          *string
}

func (r *Repository) UpdateProfile(ctx context.Context, id string, u ProfileUpdate) (Customer, error) {
	var conditions, alerts []string
	if u.HealthConditions != nil {
		conditions = nonNil(*u.HealthConditions)
	}
	if u.CustomAlerts != nil {
		alerts = nonNil(*u.CustomAlerts)
	}
	var out Customer
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		c, err := scanCustomer(tx.QueryRow(ctx, `
			UPDATE customers
			SET health_conditions = CASE WHEN $2 THEN $3::text[] ELSE health_conditions END,
				custom_alerts = CASE WHEN $4 THEN $5::text[] ELSE custom_alerts END,
				phone = COALESCE($6, phone),
				address = COALESCE($7, address),
				updated_at = now()
			WHERE id = $1 AND NOT is_deleted
			RETURNING `+customerColumns,
			id, u.HealthConditions != nil, conditions, u.CustomAlerts != nil, alerts, u.Phone, u.Address))
		if db.IsMissing(err) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out = c
		return r.emitCustomer(ctx, tx, events.CustomerUpdated, c)
	})
	return out, err
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

// SetFace stores the analysis used for face matching.
func (r *Repository) SetFace(ctx context.Context, id string, embedding json.RawMessage) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE customers SET face_embedding = $2, updated_at = now() WHERE id = $1
	`, id, embedding)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete moves a customer to the trash.
func (r *Repository) SoftDelete(ctx context.Context, id string) (Customer, error) {
	return r.setDeleted(ctx, id, true)
}

func (r *Repository) Restore(ctx context.Context, id string) (Customer, error) {
	return r.setDeleted(ctx, id, false)
}

func (r *Repository) setDeleted(ctx context.Context, id string, deleted bool) (Customer, error) {
	eventType := events.CustomerUpdated
	if deleted {
		eventType = events.CustomerDeleted
	}
	var out Customer
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		c, err := scanCustomer(tx.QueryRow(ctx, `
			UPDATE customers
			SET is_deleted = $2,
				deleted_at = CASE WHEN $2 THEN now() END,
				updated_at = now()
			WHERE id = $1
			RETURNING `+customerColumns, id, deleted))
		if db.IsMissing(err) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out = c
		return r.emitCustomer(ctx, tx, eventType, c)
	})
	return out, err
}

// HardDelete removes the customer with every consultation and food record.
// The returned URLs are the stored images the caller should remove.
func (r *Repository) HardDelete(ctx context.Context, id string) (consultationImages, foodImages []string, err error) {
	err = r.pool.InTx(ctx, func(tx pgx.Tx) error {
		c, err := scanCustomer(tx.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1 FOR UPDATE`, id))
		if db.IsMissing(err) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		consultations, err := collectConsultations(tx.Query(ctx, `
			SELECT `+consultationColumns+`
			FROM consultations c JOIN customers cu ON cu.id = c.customer_id
			WHERE c.customer_id = $1
		`, id))
		if err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(array_agg(image_url), '{}') FROM food_records
			WHERE customer_id = $1 AND image_url IS NOT NULL
		`, id).Scan(&foodImages); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM customers WHERE id = $1`, id); err != nil {
			return err
		}
		for _, cons := range consultations {
			consultationImages = append(consultationImages, cons.ImageURLs...)
			if err := r.outbox.Emit(ctx, tx, "consultation", cons.ID, events.ConsultationDeleted, cons.Event()); err != nil {
				return err
			}
		}
		return r.emitCustomer(ctx, tx, events.CustomerDeleted, c)
	})
	return consultationImages, foodImages, err
}

// FaceCandidates lists live customers with a usable stored embedding.
func (r *Repository) FaceCandidates(ctx context.Context) ([]face.Candidate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, customer_code, name, COALESCE(phone, ''), face_embedding
		FROM customers
		WHERE NOT is_deleted AND face_embedding IS NOT NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []face.Candidate
	for rows.Next() {
		var c face.Candidate
		var raw []byte
		if err := rows.Scan(&c.CustomerID, &c.CustomerCode, &c.Name, &c.Phone, &raw); err != nil {
			return nil, err
		}
		emb, ok := face.FromStored(raw)
		if !ok {
			continue
		}
		c.Embedding = emb
		out = append(out, c)
	}
	return out, rows.Err()
}
