package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/events"
)

type LeaveType struct {
	ID             string   `json:"id"`
	Code           string   `json:"code"`
	Name           string   `json:"name"`
	MaxDaysPerYear *float64 `json:"max_days_per_year"`
	IsPaid         bool     `json:"is_paid"`
}

type LeaveRequest struct {
	ID              string     `json:"id"`
	EmployeeID      string     `json:"employee_id"`
	EmployeeName    string     `json:"employee_name,omitempty"`
	LeaveTypeID     string     `json:"leave_type_id"`
	LeaveTypeCode   string     `json:"leave_type_code,omitempty"`
	LeaveTypeName   string     `json:"leave_type_name,omitempty"`
	StartDate       time.Time  `json:"start_date"`
	EndDate         time.Time  `json:"end_date"`
	TotalDays       float64    `json:"total_days"`
	Reason          string     `json:"reason"`
	Status          string     `json:"status"`
	ApprovedBy      *string    `json:"approved_by"`
	ApprovedAt      *time.Time `json:"approved_at"`
	RejectionReason *string    `json:"rejection_reason"`
	CreatedAt       time.Time  `json:"created_at"`
}

type Balance struct {
	Total       float64 `json:"total"`
	Used        float64 `json:"used"`
	Remaining   float64 `json:"remaining"`
	CarriedOver float64 `json:"carried_over"`
}

func (r *Repository) LeaveTypeByID(ctx context.Context, id string) (LeaveType, error) {
	return r.leaveType(ctx, `id::text = $1`, id)
}

func (r *Repository) LeaveTypeByCode(ctx context.Context, code string) (LeaveType, error) {
	return r.leaveType(ctx, `code = $1`, code)
}

func (r *Repository) leaveType(ctx context.Context, where string, arg string) (LeaveType, error) {
	var t LeaveType
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, code, name, max_days_per_year::float8, is_paid
		FROM leave_types WHERE `+where, arg).Scan(&t.ID, &t.Code, &t.Name, &t.MaxDaysPerYear, &t.IsPaid)
	if db.IsMissing(err) {
		return LeaveType{}, ErrNotFound
	}
	return t, err
}

// Remaining returns the unused days of one leave type in a year; zero when
// no balance row exists.
func (r *Repository) Remaining(ctx context.Context, employeeID, leaveTypeID string, year int) (float64, error) {
	var remaining float64
	err := r.pool.QueryRow(ctx, `
		SELECT remaining_days::float8 FROM leave_balances
		WHERE employee_id = $1 AND leave_type_id = $2 AND year = $3
	`, employeeID, leaveTypeID, year).Scan(&remaining)
	if db.IsNotFound(err) {
		return 0, nil
	}
	return remaining, err
}

// HasOverlappingLeave ignores rejected and cancelled requests.
func (r *Repository) HasOverlappingLeave(ctx context.Context, employeeID string, start, end time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM leave_requests
			WHERE employee_id = $1
			  AND status NOT IN ('rejected', 'cancelled')
			  AND start_date <= $3 AND end_date >= $2
		)
	`, employeeID, start, end).Scan(&exists)
	return exists, err
}

func (r *Repository) CreateLeaveRequest(ctx context.Context, req LeaveRequest) (LeaveRequest, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO leave_requests (employee_id, leave_type_id, start_date, end_date, total_days, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id::text, status, created_at
	`, req.EmployeeID, req.LeaveTypeID, req.StartDate, req.EndDate, req.TotalDays, req.Reason).
		Scan(&req.ID, &req.Status, &req.CreatedAt)
	return req, err
}

const leaveRequestSelect = `
	SELECT l.id::text, l.employee_id::text, COALESCE(e.name, '알 수 없음'), l.leave_type_id::text, t.code, t.name,
	       l.start_date, l.end_date, l.total_days::float8, COALESCE(l.reason, ''), l.status,
	       l.approved_by::text, l.approved_at, l.rejection_reason, l.created_at
	FROM leave_requests l
	JOIN leave_types t ON t.id = l.leave_type_id
	LEFT JOIN employees e ON e.id = l.employee_id`

func scanLeaveRequest(row pgx.Row) (LeaveRequest, error) {
	var l LeaveRequest
	err := row.Scan(&l.ID, &l.EmployeeID, &l.EmployeeName, &l.LeaveTypeID, &l.LeaveTypeCode, &l.LeaveTypeName,
		&l.StartDate, &l.EndDate, &l.TotalDays, &l.Reason, &l.Status,
		&l.ApprovedBy, &l.ApprovedAt, &l.RejectionReason, &l.CreatedAt)
	return l, err
}

// ListLeaveRequests filters by employee when employeeID is set and by status
// when status is set.
func (r *Repository) ListLeaveRequests(ctx context.Context, employeeID, status string) ([]LeaveRequest, error) {
	rows, err := r.pool.Query(ctx, leaveRequestSelect+`
		WHERE ($1 = '' OR l.employee_id::text = $1)
		  AND ($2 = '' OR l.status = $2)
		ORDER BY l.created_at DESC
	`, employeeID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []LeaveRequest{}
	for rows.Next() {
		l, err := scanLeaveRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repository) GetLeaveRequest(ctx context.Context, id string) (LeaveRequest, error) {
	l, err := scanLeaveRequest(r.pool.QueryRow(ctx, leaveRequestSelect+` WHERE l.id::text = $1`, id))
	if db.IsMissing(err) {
		return LeaveRequest{}, ErrNotFound
	}
	return l, err
}

// ApproveLeave marks the request approved, deducts the balance of the start
// year and marks every day of the range as vacation, all in one transaction.
func (r *Repository) ApproveLeave(ctx context.Context, req LeaveRequest, approverID string, days []time.Time) (LeaveRequest, error) {
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE leave_requests
			SET status = 'approved', approved_by = $2, approved_at = now()
			WHERE id = $1 AND status = 'pending'
		`, req.ID, approverID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrAlreadyDecided
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO leave_balances (employee_id, leave_type_id, year, total_days, used_days)
			VALUES ($1, $2, $3, 0, $4)
			ON CONFLICT (employee_id, leave_type_id, year) DO UPDATE
			SET used_days = leave_balances.used_days + EXCLUDED.used_days
		`, req.EmployeeID, req.LeaveTypeID, req.StartDate.Year(), req.TotalDays); err != nil {
			return err
		}
		for _, d := range days {
			if _, err := tx.Exec(ctx, `
				INSERT INTO attendance (employee_id, work_date, status, notes)
				VALUES ($1, $2, 'vacation', $3)
				ON CONFLICT (employee_id, work_date) DO UPDATE
				SET status = 'vacation', notes = EXCLUDED.notes, updated_at = now()
			`, req.EmployeeID, d, req.LeaveTypeName); err != nil {
				return err
			}
		}
		return r.outbox.Emit(ctx, tx, "leave_request", req.ID, events.LeaveApproved, events.LeaveApprovedPayload{
			RequestID:  req.ID,
			EmployeeID: req.EmployeeID,
			StartDate:  req.StartDate.Format("2006-01-02"),
			EndDate:    req.EndDate.Format("2006-01-02"),
			TotalDays:  req.TotalDays,
			ApprovedBy: approverID,
		})
	})
	if err != nil {
		return LeaveRequest{}, err
	}
	return r.GetLeaveRequest(ctx, req.ID)
}

func (r *Repository) RejectLeave(ctx context.Context, id, approverID, reason string) (LeaveRequest, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leave_requests
		SET status = 'rejected', approved_by = $2, approved_at = now(), rejection_reason = $3
		WHERE id = $1 AND status = 'pending'
	`, id, approverID, reason)
	if err != nil {
		return LeaveRequest{}, err
	}
	if tag.RowsAffected() == 0 {
		return LeaveRequest{}, ErrAlreadyDecided
	}
	return r.GetLeaveRequest(ctx, id)
}

// Balances returns one employee's balances for a year keyed by leave code.
func (r *Repository) Balances(ctx context.Context, employeeID string, year int) (map[string]Balance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.code, b.total_days::float8, b.used_days::float8, b.remaining_days::float8, b.carried_over_days::float8
		FROM leave_balances b
		JOIN leave_types t ON t.id = b.leave_type_id
		WHERE b.employee_id = $1 AND b.year = $2
	`, employeeID, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]Balance{}
	for rows.Next() {
		var code string
		var b Balance
		if err := rows.Scan(&code, &b.Total, &b.Used, &b.Remaining, &b.CarriedOver); err != nil {
			return nil, err
		}
		out[code] = b
	}
	return out, rows.Err()
}

// GrantAnnual sets the annual balance for a year and resets used days.
func (r *Repository) GrantAnnual(ctx context.Context, employeeID, leaveTypeID string, year int, days float64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO leave_balances (employee_id, leave_type_id, year, total_days, used_days)
		VALUES ($1, $2, $3, $4, 0)
		ON CONFLICT (employee_id, leave_type_id, year) DO UPDATE
		SET total_days = EXCLUDED.total_days, used_days = 0
	`, employeeID, leaveTypeID, year, days)
	return err
}
