package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/events"
	"github.com/md-rashed-zaman/mspharm/libs/money"
)

var KST = time.FixedZone("KST", 9*60*60)

// Payslip mails an approved payroll to the employee.
func Payslip(_ context.Context, job Job) (events.NotificationRequest, error) {
	var p events.PayrollApprovedPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return events.NotificationRequest{}, fmt.Errorf("%w: decode payroll: %v", ErrPermanent, err)
	}
	if strings.TrimSpace(p.EmployeeEmail) == "" {
		return events.NotificationRequest{}, fmt.Errorf("%w: employee %s has no email", ErrPermanent, p.EmployeeID)
	}
	month := p.PayPeriodStart
	if len(month) >= 7 {
		month = month[:7]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s님, %s 급여명세서입니다.\n\n", p.EmployeeName, month)
	fmt.Fprintf(&b, "지급 기간: %s ~ %s\n", p.PayPeriodStart, p.PayPeriodEnd)
	fmt.Fprintf(&b, "지급일: %s\n", p.PaymentDate)
	fmt.Fprintf(&b, "지급 총액: %s원\n", money.Won(p.GrossPay))
	fmt.Fprintf(&b, "공제 총액: %s원\n", money.Won(p.TotalDeduction))
	fmt.Fprintf(&b, "실수령액: %s원\n", money.Won(p.NetPay))
	return events.NotificationRequest{
		Channel:   "email",
		Recipient: p.EmployeeEmail,
		Subject:   fmt.Sprintf("[명성약국] %s 급여명세서", month),
		Body:      b.String(),
		Reference: "payroll:" + p.PayrollID,
	}, nil
}

// PayslipKey dedupes one payslip per payroll.
func PayslipKey(payrollID string) string { return "payslip:" + payrollID }
