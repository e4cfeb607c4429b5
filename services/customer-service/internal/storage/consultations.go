package storage

import (
	"context"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/events"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/ids"
)

type Consultation struct {
	ID               string    `json:"id"`
	ConsultationID   string    `json:"consultation_id"`
	CustomerID       string    `json:"customer_id"`
	CustomerCode     string    `json:"customer_code"`
	CustomerName     string    `json:"customer_name"`
	ConsultDate      time.Time `json:"consult_date"`
	Symptoms         string    `json:"symptoms"`
	PatientCondition string    `json:"patient_condition"`
	TongueAnalysis   string    `json:"tongue_analysis"`
	SpecialNotes     string    `json:"special_notes"`
	Prescription     string    `json:"prescription"`
	Result           string    `json:"result"`
	ImageURLs        []string  `json:"image_urls"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Event is the search payload carried on consultation topics.
func (c Consultation) Event() events.Consultation {
	return events.Consultation{
		ID:               c.ID,
		ConsultationID:   c.ConsultationID,
		CustomerID:       c.CustomerID,
		CustomerName:     c.CustomerName,
		ConsultDate:      c.ConsultDate,
		Symptoms:         c.Symptoms,
		PatientCondition: c.PatientCondition,
		TongueAnalysis:   c.TongueAnalysis,
		SpecialNotes:     c.SpecialNotes,
		Prescription:     c.Prescription,
		Result:           c.Result,
		At:               time.Now().UTC(),
	}
}

const consultationColumns = `c.id::text, c.consultation_id, c.customer_id::text, cu.customer_code, cu.name,
	c.consult_date, c.symptoms, COALESCE(c.patient_condition, ''), COALESCE(c.tongue_analysis, ''),
	COALESCE(c.special_notes, ''), COALESCE(c.prescription, ''), COALESCE(c.result, ''),
	c.image_urls, c.created_at, c.updated_at`

const consultationFrom = `FROM consultations c JOIN customers cu ON cu.id = c.customer_id`

func scanConsultation(row pgx.Row) (Consultation, error) {
	var c Consultation
	err := row.Scan(&c.ID, &c.ConsultationID, &c.CustomerID, &c.CustomerCode, &c.CustomerName,
		&c.ConsultDate, &c.Symptoms, &c.PatientCondition, &c.TongueAnalysis,
		&c.SpecialNotes, &c.Prescription, &c.Result,
		&c.ImageURLs, &c.CreatedAt, &c.UpdatedAt)
	if c.ImageURLs == nil {
		c.ImageURLs = []string{}
	}
	return c, err
}

func collectConsultations(rows pgx.Rows, err error) ([]Consultation, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Consultation{}
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type NewConsultation struct {
	CustomerID       string
	ConsultDate      time.Time
	Symptoms         string
	PatientCondition string
	TongueAnalysis   string
	SpecialNotes     string
	Prescription     string
	Result           string
}

// CreateConsultation locks the customer row, numbers the consultation after
// the customer's highest suffix and refreshes consultation_count.
func (r *Repository) CreateConsultation(ctx context.Context, in NewConsultation) (Consultation, error) {
	var out Consultation
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var code string
		err := tx.QueryRow(ctx, `
			SELECT customer_code FROM customers WHERE id = $1 AND NOT is_deleted FOR UPDATE
		`, in.CustomerID).Scan(&code)
		if db.IsMissing(err) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var existing []string
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(array_agg(consultation_id), '{}') FROM consultations WHERE customer_id = $1
		`, in.CustomerID).Scan(&existing); err != nil {
			return err
		}
		var id string
		if err := tx.QueryRow(ctx, `
			INSERT INTO consultations (consultation_id, customer_id, consult_date, symptoms, patient_condition,
				tongue_analysis, special_notes, prescription, result)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id::text
		`, ids.ConsultationID(code, existing), in.CustomerID, in.ConsultDate, in.Symptoms,
			nullable(in.PatientCondition), nullable(in.TongueAnalysis), nullable(in.SpecialNotes),
			nullable(in.Prescription), nullable(in.Result)).Scan(&id); err != nil {
			return err
		}
		if err := recount(ctx, tx, in.CustomerID); err != nil {
			return err
		}
		c, err := scanConsultation(tx.QueryRow(ctx, `SELECT `+consultationColumns+` `+consultationFrom+` WHERE c.id = $1`, id))
		if err != nil {
			return err
		}
		out = c
		return r.outbox.Emit(ctx, tx, "consultation", c.ID, events.ConsultationCreated, c.Event())
	})
	return out, err
}

func recount(ctx context.Context, tx pgx.Tx, customerID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE customers
		SET consultation_count = (SELECT count(*) FROM consultations WHERE customer_id = $1),
			updated_at = now()
		WHERE id = $1
	`, customerID)
	return err
}

func (r *Repository) GetConsultation(ctx context.Context, id string) (Consultation, error) {
	c, err := scanConsultation(r.pool.QueryRow(ctx, `SELECT `+consultationColumns+` `+consultationFrom+` WHERE c.id = $1`, id))
	if db.IsMissing(err) {
		return Consultation{}, ErrNotFound
	}
	return c, err
}

// ListConsultations pages newest first; search matches symptoms and
// prescription.
func (r *Repository) ListConsultations(ctx context.Context, customerID, search string, limit, offset int) ([]Consultation, int, error) {
	const where = `WHERE ($1 = '' OR c.customer_id::text = $1)
		AND ($2 = '' OR c.symptoms ILIKE $3 OR c.prescription ILIKE $3)`
	pattern := likePattern(search)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) `+consultationFrom+` `+where, customerID, search, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}
	out, err := collectConsultations(r.pool.Query(ctx, `
		SELECT `+consultationColumns+` `+consultationFrom+` `+where+`
		ORDER BY c.consult_date DESC, c.created_at DESC
		LIMIT $4 OFFSET $5
	`, customerID, search, pattern, limit, offset))
	return out, total, err
}

// History is the full record of one customer, oldest first.
func (r *Repository) History(ctx context.Context, customerID string) ([]Consultation, error) {
	return collectConsultations(r.pool.Query(ctx, `
		SELECT `+consultationColumns+` `+consultationFrom+`
		WHERE c.customer_id = $1
		ORDER BY c.consult_date, c.created_at
	`, customerID))
}

func (r *Repository) RecentConsultations(ctx context.Context, customerID string, n int) ([]Consultation, error) {
	return collectConsultations(r.pool.Query(ctx, `
		SELECT `+consultationColumns+` `+consultationFrom+`
		WHERE c.customer_id = $1
		ORDER BY c.consult_date DESC, c.created_at DESC
		LIMIT $2
	`, customerID, n))
}

// SearchConsultations is the database fallback for free text search.
func (r *Repository) SearchConsultations(ctx context.Context, q, customerID string, limit int) ([]Consultation, error) {
	return collectConsultations(r.pool.Query(ctx, `
		SELECT `+consultationColumns+` `+consultationFrom+`
		WHERE ($2 = '' OR c.customer_id::text = $2)
		  AND (c.symptoms ILIKE $1 OR c.prescription ILIKE $1 OR c.patient_condition ILIKE $1
		       OR c.tongue_analysis ILIKE $1 OR c.special_notes ILIKE $1 OR c.result ILIKE $1 OR cu.name ILIKE $1)
		ORDER BY c.consult_date DESC
		LIMIT $3
	`, likePattern(q), customerID, limit))
}

// ConsultationsByIDs loads rows in the order of ids, skipping missing ones.
func (r *Repository) ConsultationsByIDs(ctx context.Context, ids []string) ([]Consultation, error) {
	if len(ids) == 0 {
		return []Consultation{}, nil
	}
	found, err := collectConsultations(r.pool.Query(ctx, `
		SELECT `+consultationColumns+` `+consultationFrom+` WHERE c.id::text = ANY($1)
	`, ids))
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Consultation, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	out := make([]Consultation, 0, len(found))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// ConsultationsWithImages lists consultations in [from, until) that carry at
// least one image, newest first.
func (r *Repository) ConsultationsWithImages(ctx context.Context, from, until time.Time, limit int) ([]Consultation, error) {
	return collectConsultations(r.pool.Query(ctx, `
		SELECT `+consultationColumns+` `+consultationFrom+`
		WHERE c.consult_date >= $1 AND c.consult_date < $2 AND cardinality(c.image_urls) > 0
		ORDER BY c.consult_date DESC
		LIMIT $3
	`, from, until, limit))
}

// ConsultationUpdate applies only the non-nil fields. KeepImages, when set,
// replaces the current image list before AddImages are appended.
type ConsultationUpdate struct {
	ConsultDate      *time.Time
	Symptoms         *string
	PatientCondition *string
	TongueAnalysis   *string
	SpecialNotes     *string
	Prescription     *string
	Result           *string
	KeepImages       []string
	ReplaceImages    bool
	AddImages        []string
}

// UpdateConsultation returns the updated row and the image URLs no longer
// referenced.
func (r *Repository) UpdateConsultation(ctx context.Context, id string, u ConsultationUpdate) (Consultation, []string, error) {
	var out Consultation
	var dropped []string
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var current []string
		err := tx.QueryRow(ctx, `SELECT image_urls FROM consultations WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if db.IsMissing(err) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		images := current
		if u.ReplaceImages {
			images = u.KeepImages
			for _, url := range current {
				if !slices.Contains(images, url) {
					dropped = append(dropped, url)
				}
			}
		}
		images = append(slices.Clone(images), u.AddImages...)
		if images == nil {
			images = []string{}
		}
		if _, err := tx.Exec(ctx, `
			UPDATE consultations
			SET consult_date = COALESCE($2, consult_date),
				symptoms = COALESCE($3, symptoms),
				patient_condition = COALESCE($4, patient_condition),
				tongue_analysis = COALESCE($5, tongue_analysis),
				special_notes = COALESCE($6, special_notes),
				prescription = COALESCE($7, prescription),
				result = COALESCE($8, result),
				image_urls = $9,
				updated_at = now()
			WHERE id = $1
		`, id, u.ConsultDate, u.Symptoms, u.PatientCondition, u.TongueAnalysis, u.SpecialNotes,
			u.Prescription, u.Result, images); err != nil {
			return err
		}
		c, err := scanConsultation(tx.QueryRow(ctx, `SELECT `+consultationColumns+` `+consultationFrom+` WHERE c.id = $1`, id))
		if err != nil {
			return err
		}
		out = c
		return r.outbox.Emit(ctx, tx, "consultation", c.ID, events.ConsultationUpdated, c.Event())
	})
	return out, dropped, err
}

// DeleteConsultation returns the deleted row so its images can be removed.
func (r *Repository) DeleteConsultation(ctx context.Context, id string) (Consultation, error) {
	var out Consultation
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		c, err := scanConsultation(tx.QueryRow(ctx, `SELECT `+consultationColumns+` `+consultationFrom+` WHERE c.id = $1 FOR UPDATE OF c`, id))
		if db.IsMissing(err) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM consultations WHERE id = $1`, id); err != nil {
			return err
		}
		if err := recount(ctx, tx, c.CustomerID); err != nil {
			return err
		}
		out = c
		return r.outbox.Emit(ctx, tx, "consultation", c.ID, events.ConsultationDeleted, c.Event())
	})
	return out, err
}
