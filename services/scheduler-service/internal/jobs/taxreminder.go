package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/events"
)

// TaxReminderPayload covers the payroll month whose withholding is due.
type TaxReminderPayload struct {
	Month     string `json:"month"`
	Deadline  string `json:"deadline"`
	Recipient string `json:"recipient"`
}

// Plan is a job to enqueue.
type Plan struct {
	Kind      string
	DedupeKey string
	RunAt     time.Time
	Payload   any
}

// NextTaxReminder plans the next reminder at 09:00 KST on day of the month.
// The reminder in month M covers payroll month M-1, whose withholding is
// due on the 10th of M.
func NextTaxReminder(now time.Time, day int, recipient string) Plan {
	if day < 1 || day > 28 {
		day = 5
	}
	now = now.In(KST)
	runAt := time.Date(now.Year(), now.Month(), day, 9, 0, 0, 0, KST)
	if !now.Before(runAt) {
		runAt = runAt.AddDate(0, 1, 0)
	}
	covered := runAt.AddDate(0, -1, 0).Format("2006-01")
	deadline := time.Date(runAt.Year(), runAt.Month(), 10, 0, 0, 0, 0, KST)
	return Plan{
		Kind:      KindTaxReminder,
		DedupeKey: "tax-reminder:" + covered,
		RunAt:     runAt,
		Payload: TaxReminderPayload{
			Month:     covered,
			Deadline:  deadline.Format("2006-01-02"),
			Recipient: recipient,
		},
	}
}

func TaxReminder(_ context.Context, job Job) (events.NotificationRequest, error) {
	var p TaxReminderPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return events.NotificationRequest{}, fmt.Errorf("%w: decode reminder: %v", ErrPermanent, err)
	}
	if strings.TrimSpace(p.Recipient) == "" {
		return events.NotificationRequest{}, fmt.Errorf("%w: reminder has no recipient", ErrPermanent)
	}
	return events.NotificationRequest{
		Channel:   "email",
		Recipient: p.Recipient,
		Subject:   fmt.Sprintf("[명성약국] %s 원천세 신고 안내", p.Month),
		Body: fmt.Sprintf("%s 귀속 급여의 원천세 신고 기한은 %s입니다.\n"+
			"급여 승인 상태를 확인한 뒤 관리자 화면에서 급여대장을 전송해주세요.\n", p.Month, p.Deadline),
		Reference: "tax-reminder:" + p.Month,
	}, nil
}
