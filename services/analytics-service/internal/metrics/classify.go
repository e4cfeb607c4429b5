// Package metrics turns domain events into per-day counters.
package metrics

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/events"
)

var KST = time.FixedZone("KST", 9*60*60)

const (
	ModeAdd = "add"
	ModeSet = "set"
)

// Change adjusts one (day, metric) cell. ModeSet overwrites the value, which
// is used for figures that are re-saved rather than accumulated.
type Change struct {
	Day    string
	Metric string
	Value  int64
	Mode   string
}

// Topics consumed by the counter.
var Topics = []string{
	events.EmployeeLoggedIn,
	events.CustomerCreated,
	events.CustomerDeleted,
	events.ConsultationCreated,
	events.LeaveApproved,
	events.PayrollApproved,
	events.DailyIncomeSaved,
	events.PurchaseRequestDecided,
	events.NotificationSent,
	events.NotificationFailed,
	events.JobsDLQ,
}

// Classify maps one event to the counters it moves. at is the event time
// used when the payload carries no business date. Unknown event types yield
// no changes.
func Classify(eventType string, raw []byte, at time.Time) ([]Change, error) {
	fallback := at.In(KST).Format(time.DateOnly)
	add := func(day, metric string, v int64) Change {
		return Change{Day: day, Metric: metric, Value: v, Mode: ModeAdd}
	}

	switch eventType {
	case events.EmployeeLoggedIn:
		return []Change{add(fallback, "employee_logins", 1)}, nil

	case events.CustomerCreated, events.CustomerDeleted:
		var p events.Customer
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		metric := "customers_created"
		if eventType == events.CustomerDeleted {
			metric = "customers_deleted"
		}
		return []Change{add(dayOf(p.At, fallback), metric, 1)}, nil

	case events.ConsultationCreated:
		var p events.Consultation
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return []Change{add(dayOf(p.ConsultDate, fallback), "consultations_created", 1)}, nil

	case events.LeaveApproved:
		var p events.LeaveApprovedPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		day := dateOr(p.StartDate, fallback)
		return []Change{
			add(day, "leave_approved", 1),
			// half days are allowed, so the total is kept in tenths
			add(day, "leave_days_x10", int64(p.TotalDays*10+0.5)),
		}, nil

	case events.PayrollApproved:
		var p events.PayrollApprovedPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		day := dateOr(p.PaymentDate, fallback)
		return []Change{
			add(day, "payrolls_approved", 1),
			add(day, "payroll_gross_pay", p.GrossPay),
			add(day, "payroll_net_pay", p.NetPay),
		}, nil

	case events.DailyIncomeSaved:
		var p events.DailyIncomeSavedPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		if _, err := time.Parse(time.DateOnly, p.Date); err != nil {
			return nil, fmt.Errorf("daily income date %q: %w", p.Date, err)
		}
		set := func(metric string, v int64) Change {
			return Change{Day: p.Date, Metric: metric, Value: v, Mode: ModeSet}
		}
		return []Change{
			set("income", p.Income),
			set("income_net", p.Net),
			set("income_pos", p.Pos),
			set("income_diff", p.Diff),
		}, nil

	case events.PurchaseRequestDecided:
		var p events.PurchaseDecidedPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		switch p.Status {
		case "approved":
			return []Change{
				add(fallback, "purchases_approved", 1),
				add(fallback, "purchases_approved_amount", p.TotalAmount),
			}, nil
		case "rejected":
			return []Change{add(fallback, "purchases_rejected", 1)}, nil
		}
		return nil, nil

	case events.NotificationSent, events.NotificationFailed:
		var p events.NotificationOutcome
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		metric := "notifications_sent"
		if eventType == events.NotificationFailed {
			metric = "notifications_failed"
		}
		day := dayOf(p.At, fallback)
		out := []Change{add(day, metric, 1)}
		if p.Channel != "" {
			out = append(out, add(day, metric+"."+p.Channel, 1))
		}
		return out, nil

	case events.JobsDLQ:
		var p events.JobDeadLetter
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		out := []Change{add(dayOf(p.FailedAt, fallback), "jobs_dead", 1)}
		if p.Kind != "" {
			out = append(out, add(dayOf(p.FailedAt, fallback), "jobs_dead."+p.Kind, 1))
		}
		return out, nil
	}
	return nil, nil
}

func decode(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func dayOf(t time.Time, fallback string) string {
	if t.IsZero() {
		return fallback
	}
	return t.In(KST).Format(time.DateOnly)
}

func dateOr(s, fallback string) string {
	if len(s) >= 10 {
		if _, err := time.Parse(time.DateOnly, s[:10]); err == nil {
			return s[:10]
		}
	}
	return fallback
}
