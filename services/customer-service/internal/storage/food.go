package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/db"
)

type FoodRecord struct {
	ID              string          `json:"id"`
	CustomerID      string          `json:"customer_id"`
	FoodName        string          `json:"food_name"`
	FoodDescription string          `json:"food_description"`
	FoodCategory    string          `json:"food_category"`
	ImageURL        string          `json:"image_url"`
	ConfidenceScore float64         `json:"confidence_score"`
	GeminiAnalysis  json.RawMessage `json:"gemini_analysis,omitempty"`
	RecordedDate    time.Time       `json:"recorded_date"`
	RecordedTime    string          `json:"recorded_time"`
	MealType        string          `json:"meal_type"`
	PortionConsumed *int            `json:"portion_consumed"`
	ActualCalories  *float64        `json:"actual_calories"`
	NutritionalInfo json.RawMessage `json:"nutritional_info,omitempty"`
	ConsumedAt      *time.Time      `json:"consumed_at"`
	UserAnswers     json.RawMessage `json:"user_answers,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

const foodColumns = `id::text, customer_id::text, food_name, COALESCE(food_description, ''),
	COALESCE(food_category, ''), COALESCE(image_url, ''), COALESCE(confidence_score, 0), gemini_analysis,
	recorded_date, to_char(recorded_time, 'HH24:MI:SS'), meal_type, portion_consumed, actual_calories,
	nutritional_info, consumed_at, user_answers, created_at`

func scanFood(row pgx.Row) (FoodRecord, error) {
	var f FoodRecord
	var analysis, nutrition, answers []byte
	err := row.Scan(&f.ID, &f.CustomerID, &f.FoodName, &f.FoodDescription, &f.FoodCategory, &f.ImageURL,
		&f.ConfidenceScore, &analysis, &f.RecordedDate, &f.RecordedTime, &f.MealType, &f.PortionConsumed,
		&f.ActualCalories, &nutrition, &f.ConsumedAt, &answers, &f.CreatedAt)
	if len(analysis) > 0 {
		f.GeminiAnalysis = analysis
	}
	if len(nutrition) > 0 {
		f.NutritionalInfo = nutrition
	}
	if len(answers) > 0 {
		f.UserAnswers = answers
	}
	return f, err
}

func collectFood(rows pgx.Rows, err error) ([]FoodRecord, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []FoodRecord{}
	for rows.Next() {
		f, err := scanFood(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CreateFood stores a record; recorded_date and recorded_time come from at
// as a wall clock in its own location.
func (r *Repository) CreateFood(ctx context.Context, f FoodRecord, at time.Time) (FoodRecord, error) {
	return insertFood(ctx, r.pool, f, at)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertFood(ctx context.Context, q queryRower, f FoodRecord, at time.Time) (FoodRecord, error) {
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	return scanFood(q.QueryRow(ctx, `
		INSERT INTO food_records (customer_id, food_name, food_description, food_category, image_url,
			confidence_score, gemini_analysis, recorded_date, recorded_time, meal_type,
			portion_consumed, actual_calories, nutritional_info, consumed_at, user_answers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::time, $10, $11, $12, $13, $14, $15)
		RETURNING `+foodColumns,
		f.CustomerID, f.FoodName, nullable(f.FoodDescription), nullable(f.FoodCategory), nullable(f.ImageURL),
		f.ConfidenceScore, rawOrNil(f.GeminiAnalysis), day, at.Format("15:04:05"), f.MealType,
		f.PortionConsumed, f.ActualCalories, rawOrNil(f.NutritionalInfo), f.ConsumedAt, rawOrNil(f.UserAnswers)))
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// FoodBetween returns a customer's records with recorded_date in [from, to],
// oldest first.
func (r *Repository) FoodBetween(ctx context.Context, customerID string, from, to time.Time) ([]FoodRecord, error) {
	return collectFood(r.pool.Query(ctx, `
		SELECT `+foodColumns+`
		FROM food_records
		WHERE customer_id = $1 AND recorded_date BETWEEN $2::date AND $3::date
		ORDER BY recorded_date, recorded_time
	`, customerID, from.Format("2006-01-02"), to.Format("2006-01-02")))
}

// ListFood returns a customer's records, optionally for one day.
func (r *Repository) ListFood(ctx context.Context, customerID string, day *time.Time) ([]FoodRecord, error) {
	return collectFood(r.pool.Query(ctx, `
		SELECT `+foodColumns+`
		FROM food_records
		WHERE customer_id = $1 AND ($2::date IS NULL OR recorded_date = $2::date)
		ORDER BY recorded_date DESC, recorded_time DESC
	`, customerID, day))
}

func (r *Repository) RecentFood(ctx context.Context, customerID string, n int) ([]FoodRecord, error) {
	return collectFood(r.pool.Query(ctx, `
		SELECT `+foodColumns+`
		FROM food_records
		WHERE customer_id = $1
		ORDER BY recorded_date DESC, recorded_time DESC
		LIMIT $2
	`, customerID, n))
}

func (r *Repository) GetFood(ctx context.Context, id string) (FoodRecord, error) {
	f, err := scanFood(r.pool.QueryRow(ctx, `SELECT `+foodColumns+` FROM food_records WHERE id = $1`, id))
	if db.IsMissing(err) {
		return FoodRecord{}, ErrNotFound
	}
	return f, err
}

// DeleteFood returns the removed record so its image can be deleted.
func (r *Repository) DeleteFood(ctx context.Context, id string) (FoodRecord, error) {
	f, err := scanFood(r.pool.QueryRow(ctx, `DELETE FROM food_records WHERE id = $1 RETURNING `+foodColumns, id))
	if db.IsMissing(err) {
		return FoodRecord{}, ErrNotFound
	}
	return f, err
}
