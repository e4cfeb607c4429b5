package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/events"
	"github.com/md-rashed-zaman/mspharm/services/ledger-service/internal/purchase"
)

const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusRejected  = "rejected"
)

type PurchaseEmployee struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

type PurchaseRequest struct {
	ID              string            `json:"id"`
	EmployeeID      string            `json:"employee_id"`
	TotalAmount     int64             `json:"total_amount"`
	ImageURLs       []string          `json:"image_urls"`
	Notes           string            `json:"notes"`
	Status          string            `json:"status"`
	ApprovedBy      *string           `json:"approved_by"`
	ApprovedAt      *time.Time        `json:"approved_at"`
	RejectionReason string            `json:"rejection_reason,omitempty"`
	RequestDate     time.Time         `json:"request_date"`
	CreatedAt       time.Time         `json:"created_at"`
	Employee        *PurchaseEmployee `json:"employee,omitempty"`
	Approver        *PurchaseEmployee `json:"approver,omitempty"`
}

const purchaseColumns = `p.id::text, p.employee_id::text, p.total_amount, p.image_urls, COALESCE(p.notes, ''),
	p.status, p.approved_by::text, p.approved_at, COALESCE(p.rejection_reason, ''), p.request_date, p.created_at`

const purchaseJoins = `
	LEFT JOIN employees e ON e.id = p.employee_id
	LEFT JOIN employees a ON a.id = p.approved_by`

func scanPurchase(row pgx.Row) (PurchaseRequest, error) {
	var p PurchaseRequest
	var empName, empRole, apprName *string
	err := row.Scan(&p.ID, &p.EmployeeID, &p.TotalAmount, &p.ImageURLs, &p.Notes,
		&p.Status, &p.ApprovedBy, &p.ApprovedAt, &p.RejectionReason, &p.RequestDate, &p.CreatedAt,
		&empName, &empRole, &apprName)
	if err != nil {
		return p, err
	}
	if empName != nil {
		p.Employee = &PurchaseEmployee{ID: p.EmployeeID, Name: *empName}
		if empRole != nil {
			p.Employee.Role = *empRole
		}
	}
	if apprName != nil && p.ApprovedBy != nil {
		p.Approver = &PurchaseEmployee{ID: *p.ApprovedBy, Name: *apprName}
	}
	if p.ImageURLs == nil {
		p.ImageURLs = []string{}
	}
	return p, nil
}

func (r *Repository) CreatePurchase(ctx context.Context, employeeID string, amount int64, urls []string, notes string) (PurchaseRequest, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO purchase_requests (employee_id, total_amount, image_urls, notes)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING id::text
	`, employeeID, amount, urls, notes).Scan(&id)
	if err != nil {
		return PurchaseRequest{}, err
	}
	return r.GetPurchase(ctx, id)
}

func (r *Repository) GetPurchase(ctx context.Context, id string) (PurchaseRequest, error) {
	p, err := scanPurchase(r.pool.QueryRow(ctx, `
		SELECT `+purchaseColumns+`, e.name, e.role, a.name
		FROM purchase_requests p`+purchaseJoins+`
		WHERE p.id = $1
	`, id))
	if db.IsMissing(err) {
		return PurchaseRequest{}, ErrNotFound
	}
	return p, err
}

// PurchaseFilter narrows ListPurchases. An empty EmployeeID lists everyone.
type PurchaseFilter struct {
	EmployeeID string
	Status     string
	Limit      int
	Offset     int
}

func (r *Repository) ListPurchases(ctx context.Context, f PurchaseFilter) ([]PurchaseRequest, int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM purchase_requests p
		WHERE ($1::text = '' OR p.employee_id::text = $1::text) AND ($2::text = '' OR p.status = $2::text)
	`, f.EmployeeID, f.Status).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+purchaseColumns+`, e.name, e.role, a.name
		FROM purchase_requests p`+purchaseJoins+`
		WHERE ($1::text = '' OR p.employee_id::text = $1::text) AND ($2::text = '' OR p.status = $2::text)
		ORDER BY p.created_at DESC
		LIMIT $3 OFFSET $4
	`, f.EmployeeID, f.Status, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []PurchaseRequest{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// DecidePurchase moves a pending request to status and queues the decided
// event. The caller has already checked who may decide.
func (r *Repository) DecidePurchase(ctx context.Context, id, status, deciderID, reason string) (PurchaseRequest, error) {
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var employeeID string
		var amount int64
		err := tx.QueryRow(ctx, `
			UPDATE purchase_requests
			SET status = $2, approved_by = $3, approved_at = now(), rejection_reason = NULLIF($4, '')
			WHERE id = $1 AND status = 'pending'
			RETURNING employee_id::text, total_amount
		`, id, status, deciderID, reason).Scan(&employeeID, &amount)
		if db.IsNotFound(err) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM purchase_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return ErrAlreadyDecided
			}
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return r.outbox.Emit(ctx, tx, "purchase_request", id, events.PurchaseRequestDecided, events.PurchaseDecidedPayload{
			RequestID:   id,
			EmployeeID:  employeeID,
			Status:      status,
			TotalAmount: amount,
			DecidedBy:   deciderID,
		})
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	return r.GetPurchase(ctx, id)
}

// PurchaseStats returns every request made on or after since; a zero since
// means all time.
func (r *Repository) PurchaseStats(ctx context.Context, since time.Time) ([]purchase.Entry, error) {
	var from *time.Time
	if !since.IsZero() {
		from = &since
	}
	rows, err := r.pool.Query(ctx, `
		SELECT p.employee_id::text, COALESCE(e.name, ''), p.status, p.total_amount, p.request_date
		FROM purchase_requests p
		LEFT JOIN employees e ON e.id = p.employee_id
		WHERE $1::timestamptz IS NULL OR p.request_date >= $1::timestamptz
	`, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []purchase.Entry
	for rows.Next() {
		var s purchase.Entry
		if err := rows.Scan(&s.EmployeeID, &s.EmployeeName, &s.Status, &s.TotalAmount, &s.RequestDate); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
