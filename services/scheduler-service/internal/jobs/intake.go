package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/mspharm/libs/consumer"
	"github.com/md-rashed-zaman/mspharm/libs/events"
	"github.com/md-rashed-zaman/mspharm/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

// Topics feed the scheduler.
var Topics = []string{events.PayrollApproved}

type Enqueuer interface {
	Enqueue(ctx context.Context, p Plan) (bool, error)
}

// Intake turns consumed events into jobs. Malformed payloads are logged and
// dropped so they do not block the partition.
func Intake(q Enqueuer, clock clockwork.Clock, logger *slog.Logger) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		eventType := kafkax.ExtractEventMeta(msg).EventType
		switch eventType {
		case events.PayrollApproved:
			var p events.PayrollApprovedPayload
			if err := json.Unmarshal(msg.Value, &p); err != nil || p.PayrollID == "" {
				logger.Error("invalid payroll approval", "err", err)
				return nil
			}
			if p.EmployeeEmail == "" {
				logger.Info("payslip skipped, employee has no email", "payroll_id", p.PayrollID, "employee_id", p.EmployeeID)
				return nil
			}
			_, err := q.Enqueue(ctx, Plan{
				Kind:      KindPayslip,
				DedupeKey: PayslipKey(p.PayrollID),
				RunAt:     clock.Now(),
				Payload:   p,
			})
			return err
		default:
			logger.Debug("ignored event", "event_type", eventType)
			return nil
		}
	}
}
