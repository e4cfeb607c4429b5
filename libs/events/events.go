// Package events names the topics exchanged between services and the
// payloads carried on them.
package events

import (
	"encoding/json"
	"time"
)

const (
	EmployeeLoggedIn        = "auth.employee.logged_in.v1"
	EmployeeCreated         = "auth.employee.created.v1"
	EmployeeDeleted         = "auth.employee.deleted.v1"
	EmployeePasswordChanged = "auth.employee.password_changed.v1"
	CustomerCreated         = "customer.created.v1"
	CustomerUpdated         = "customer.updated.v1"
	CustomerDeleted         = "customer.deleted.v1"
	ConsultationCreated     = "consultation.created.v1"
	ConsultationUpdated     = "consultation.updated.v1"
	ConsultationDeleted     = "consultation.deleted.v1"
	LeaveApproved           = "hr.leave.approved.v1"
	PayrollApproved         = "hr.payroll.approved.v1"
	DailyIncomeSaved        = "ledger.daily_income.saved.v1"
	PurchaseRequestDecided  = "ledger.purchase.decided.v1"
	NotificationRequested   = "notification.requested.v1"
	NotificationSent        = "notification.sent.v1"
	NotificationFailed      = "notification.failed.v1"
	JobsDLQ                 = "jobs.dlq.v1"
)

// Employee is carried on the auth.employee.* topics.
type Employee struct {
	EmployeeID string    `json:"employee_id"`
	Name       string    `json:"name"`
	Role       string    `json:"role,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	At         time.Time `json:"at"`
}

type Customer struct {
	CustomerID   string    `json:"customer_id"`
	CustomerCode string    `json:"customer_code"`
	Name         string    `json:"name"`
	At           time.Time `json:"at"`
}

// Consultation carries enough to index the record for search.
type Consultation struct {
	ID               string    `json:"id"`
	ConsultationID   string    `json:"consultation_id"`
	CustomerID       string    `json:"customer_id"`
	CustomerName     string    `json:"customer_name,omitempty"`
	ConsultDate      time.Time `json:"consult_date"`
	Symptoms         string    `json:"symptoms,omitempty"`
	PatientCondition string    `json:"patient_condition,omitempty"`
	TongueAnalysis   string    `json:"tongue_analysis,omitempty"`
	SpecialNotes     string    `json:"special_notes,omitempty"`
	Prescription     string    `json:"prescription,omitempty"`
	Result           string    `json:"result,omitempty"`
	At               time.Time `json:"at"`
}

type LeaveApprovedPayload struct {
	RequestID  string  `json:"request_id"`
	EmployeeID string  `json:"employee_id"`
	StartDate  string  `json:"start_date"`
	EndDate    string  `json:"end_date"`
	TotalDays  float64 `json:"total_days"`
	ApprovedBy string  `json:"approved_by"`
}

type PayrollApprovedPayload struct {
	PayrollID      string `json:"payroll_id"`
	EmployeeID     string `json:"employee_id"`
	EmployeeName   string `json:"employee_name"`
	EmployeeEmail  string `json:"employee_email,omitempty"`
	PayPeriodStart string `json:"pay_period_start"`
	PayPeriodEnd   string `json:"pay_period_end"`
	GrossPay       int64  `json:"gross_pay"`
	TotalDeduction int64  `json:"total_deductions"`
	NetPay         int64  `json:"net_pay"`
	PaymentDate    string `json:"payment_date"`
}

type DailyIncomeSavedPayload struct {
	Date   string `json:"date"`
	Income int64  `json:"income"`
	Net    int64  `json:"net"`
	Pos    int64  `json:"pos"`
	Diff   int64  `json:"diff"`
}

type PurchaseDecidedPayload struct {
	RequestID   string `json:"request_id"`
	EmployeeID  string `json:"employee_id"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"total_amount"`
	DecidedBy   string `json:"decided_by"`
}

// Attachment content travels base64 encoded inside the JSON payload.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// NotificationRequest asks notification-service to deliver a message.
// Channel is "email" or "sms".
type NotificationRequest struct {
	Channel     string       `json:"channel"`
	Recipient   string       `json:"recipient"`
	Subject     string       `json:"subject,omitempty"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Reference   string       `json:"reference,omitempty"`
}

// JobDeadLetter is published on jobs.dlq.v1 when a scheduled job gives up.
type JobDeadLetter struct {
	JobID     int64           `json:"job_id"`
	Kind      string          `json:"kind"`
	DedupeKey string          `json:"dedupe_key"`
	Attempts  int             `json:"attempts"`
	Error     string          `json:"error"`
	Payload   json.RawMessage `json:"payload"`
	FailedAt  time.Time       `json:"failed_at"`
}

// NotificationOutcome reports one delivery attempt of a NotificationRequest.
type NotificationOutcome struct {
	RequestEventID string    `json:"request_event_id"`
	Channel        string    `json:"channel"`
	Reference      string    `json:"reference,omitempty"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	At             time.Time `json:"at"`
}
