package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/db"
)

const (
	SessionPending   = "pending_questions"
	SessionCompleted = "completed"
)

var ErrSessionClosed = errors.New("analysis session already completed")

// FoodSession holds a photo analysis while the customer answers follow-up
// questions about it.
type FoodSession struct {
	ID             string          `json:"id"`
	CustomerID     string          `json:"customer_id"`
	ImageURL       string          `json:"image_url"`
	AnalysisResult json.RawMessage `json:"analysis_result"`
	Questions      json.RawMessage `json:"questions"`
	Status         string          `json:"status"`
	FinalRecordID  *string         `json:"final_record_id"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at"`
}

const sessionColumns = `id::text, customer_id::text, COALESCE(image_url, ''), analysis_result, questions, status,
	final_record_id::text, created_at, completed_at`

func scanSession(row pgx.Row) (FoodSession, error) {
	var s FoodSession
	var analysis, questions []byte
	err := row.Scan(&s.ID, &s.CustomerID, &s.ImageURL, &analysis, &questions, &s.Status,
		&s.FinalRecordID, &s.CreatedAt, &s.CompletedAt)
	s.AnalysisResult, s.Questions = analysis, questions
	return s, err
}

func (r *Repository) CreateFoodSession(ctx context.Context, customerID, imageURL string, analysis, questions json.RawMessage) (FoodSession, error) {
	return scanSession(r.pool.QueryRow(ctx, `
		INSERT INTO food_analysis_sessions (customer_id, image_url, analysis_result, questions)
		VALUES ($1, $2, $3, $4)
		RETURNING `+sessionColumns,
		customerID, nullable(imageURL), []byte(analysis), []byte(questions)))
}

// GetFoodSession only finds sessions that belong to customerID.
func (r *Repository) GetFoodSession(ctx context.Context, id, customerID string) (FoodSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM food_analysis_sessions
		WHERE id = $1 AND customer_id = $2
	`, id, customerID))
	if db.IsMissing(err) {
		return FoodSession{}, ErrNotFound
	}
	return s, err
}

// CompleteFoodSession stores the final record and closes the session in one
// transaction. A session can be completed once.
func (r *Repository) CompleteFoodSession(ctx context.Context, sessionID string, f FoodRecord, at time.Time) (FoodRecord, error) {
	var out FoodRecord
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `
			SELECT status FROM food_analysis_sessions WHERE id = $1 AND customer_id = $2 FOR UPDATE
		`, sessionID, f.CustomerID).Scan(&status)
		if db.IsMissing(err) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if status != SessionPending {
			return ErrSessionClosed
		}
		rec, err := insertFood(ctx, tx, f, at)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE food_analysis_sessions
			SET status = $2, final_record_id = $3, user_answers = $4, completed_at = now()
			WHERE id = $1
		`, sessionID, SessionCompleted, rec.ID, rawOrNil(f.UserAnswers)); err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}
