package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/mspharm/libs/events"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Minute, Backoff(1))
	assert.Equal(t, 4*time.Minute, Backoff(2))
	assert.Equal(t, 32*time.Minute, Backoff(5))
	assert.Equal(t, time.Hour, Backoff(6))
	assert.Equal(t, time.Hour, Backoff(40))
	assert.Equal(t, 2*time.Minute, Backoff(0))
}

func TestDecide(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	job := Job{ID: 1, RunAt: now.Add(-time.Minute)}

	out := Decide(job, nil, now, 5)
	assert.Equal(t, Outcome{Status: StatusDone, Attempts: 1, RunAt: job.RunAt}, out)

	out = Decide(job, errors.New("smtp down"), now, 5)
	assert.Equal(t, StatusPending, out.Status)
	assert.Equal(t, now.Add(2*time.Minute), out.RunAt)
	assert.Equal(t, "smtp down", out.Error)

	job.Attempts = 4
	out = Decide(job, errors.New("smtp down"), now, 5)
	assert.Equal(t, StatusDead, out.Status)
	assert.Equal(t, 5, out.Attempts)

	job.Attempts = 0
	out = Decide(job, ErrPermanent, now, 5)
	assert.Equal(t, StatusDead, out.Status)
}

func payrollJob(t *testing.T, p events.PayrollApprovedPayload) Job {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return Job{ID: 7, Kind: KindPayslip, DedupeKey: PayslipKey(p.PayrollID), Payload: raw}
}

func TestPayslip(t *testing.T) {
	job := payrollJob(t, events.PayrollApprovedPayload{
		PayrollID: "p1", EmployeeID: "e1", EmployeeName: "김약사", EmployeeEmail: "kim@example.com",
		PayPeriodStart: "2026-09-01", PayPeriodEnd: "2026-09-30", PaymentDate: "2026-10-10",
		GrossPay: 3_000_000, TotalDeduction: 321_450, NetPay: 2_678_550,
	})
	msg, err := Payslip(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "email", msg.Channel)
	assert.Equal(t, "kim@example.com", msg.Recipient)
	assert.Equal(t, "[명성약국] 2026-09 급여명세서", msg.Subject)
	assert.Contains(t, msg.Body, "실수령액: 2,678,550원")
	assert.Equal(t, "payroll:p1", msg.Reference)

	_, err = Payslip(context.Background(), payrollJob(t, events.PayrollApprovedPayload{PayrollID: "p2"}))
	assert.ErrorIs(t, err, ErrPermanent)

	_, err = Payslip(context.Background(), Job{Payload: json.RawMessage(`[`)})
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestNextTaxReminder(t *testing.T) {
	before := time.Date(2026, 10, 3, 12, 0, 0, 0, KST)
	p := NextTaxReminder(before, 5, "boss@example.com")
	assert.Equal(t, KindTaxReminder, p.Kind)
	assert.Equal(t, "tax-reminder:2026-09", p.DedupeKey)
	assert.True(t, p.RunAt.Equal(time.Date(2026, 10, 5, 9, 0, 0, 0, KST)))
	assert.Equal(t, TaxReminderPayload{Month: "2026-09", Deadline: "2026-10-10", Recipient: "boss@example.com"}, p.Payload)

	after := time.Date(2026, 12, 5, 9, 0, 0, 0, KST)
	p = NextTaxReminder(after, 5, "boss@example.com")
	assert.Equal(t, "tax-reminder:2026-12", p.DedupeKey)
	assert.True(t, p.RunAt.Equal(time.Date(2027, 1, 5, 9, 0, 0, 0, KST)))

	p = NextTaxReminder(before, 31, "x")
	assert.True(t, p.RunAt.Equal(time.Date(2026, 10, 5, 9, 0, 0, 0, KST)))
}

func TestTaxReminder(t *testing.T) {
	raw, _ := json.Marshal(TaxReminderPayload{Month: "2026-09", Deadline: "2026-10-10", Recipient: "boss@example.com"})
	msg, err := TaxReminder(context.Background(), Job{Payload: raw})
	require.NoError(t, err)
	assert.Equal(t, "[명성약국] 2026-09 원천세 신고 안내", msg.Subject)
	assert.Contains(t, msg.Body, "2026-10-10")

	raw, _ = json.Marshal(TaxReminderPayload{Month: "2026-09"})
	_, err = TaxReminder(context.Background(), Job{Payload: raw})
	assert.ErrorIs(t, err, ErrPermanent)
}

// memQueue applies Decide over an in-memory table the way the SQL does.
type memQueue struct {
	jobs    []Job
	plans   []Plan
	sent    []events.NotificationRequest
	dead    []events.JobDeadLetter
	nextID  int64
	enqErr  error
	seenKey map[string]bool
}

func (q *memQueue) Enqueue(_ context.Context, p Plan) (bool, error) {
	if q.enqErr != nil {
		return false, q.enqErr
	}
	if q.seenKey == nil {
		q.seenKey = map[string]bool{}
	}
	if q.seenKey[p.DedupeKey] {
		return false, nil
	}
	q.seenKey[p.DedupeKey] = true
	q.plans = append(q.plans, p)
	raw, _ := json.Marshal(p.Payload)
	q.nextID++
	q.jobs = append(q.jobs, Job{ID: q.nextID, Kind: p.Kind, DedupeKey: p.DedupeKey, Payload: raw, RunAt: p.RunAt, Status: StatusPending})
	return true, nil
}

func (q *memQueue) RunDue(ctx context.Context, now time.Time, limit, maxAttempts int, handle Handle) (Result, error) {
	var res Result
	for i := range q.jobs {
		j := &q.jobs[i]
		if j.Status != StatusPending || j.RunAt.After(now) || res.Done+res.Retried+res.Dead >= limit {
			continue
		}
		msg, err := handle(ctx, *j)
		out := Decide(*j, err, now, maxAttempts)
		switch out.Status {
		case StatusDone:
			q.sent = append(q.sent, msg)
			res.Done++
		case StatusDead:
			q.dead = append(q.dead, DeadLetter(*j, out, now))
			res.Dead++
		default:
			res.Retried++
		}
		j.Status, j.Attempts, j.RunAt, j.LastError = out.Status, out.Attempts, out.RunAt, out.Error
	}
	return res, nil
}

func TestWorkerTickDeliversAndDeadLetters(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 6, 10, 0, 0, 0, KST))
	q := &memQueue{}
	w := NewWorker(q, clock, quiet(), WorkerConfig{MaxAttempts: 2})

	_, err := q.Enqueue(context.Background(), Plan{Kind: KindPayslip, DedupeKey: "payslip:ok", RunAt: clock.Now(), Payload: events.PayrollApprovedPayload{
		PayrollID: "ok", EmployeeName: "김약사", EmployeeEmail: "kim@example.com", PayPeriodStart: "2026-09-01",
	}})
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), Plan{Kind: "mystery", DedupeKey: "m", RunAt: clock.Now(), Payload: map[string]string{}})
	require.NoError(t, err)

	require.NoError(t, w.Tick(context.Background()))
	require.Len(t, q.sent, 1)
	assert.Equal(t, "kim@example.com", q.sent[0].Recipient)
	require.Len(t, q.dead, 1)
	assert.Equal(t, "mystery", q.dead[0].Kind)
	assert.Contains(t, q.dead[0].Error, "unknown kind")
	assert.Empty(t, q.plans[2:], "no reminder without a recipient")
}

func TestWorkerRetriesThenGivesUp(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 6, 10, 0, 0, 0, KST))
	q := &memQueue{}
	w := NewWorker(q, clock, quiet(), WorkerConfig{MaxAttempts: 2})
	calls := 0
	w.runners["flaky"] = RunnerFunc(func(context.Context, Job) (events.NotificationRequest, error) {
		calls++
		return events.NotificationRequest{}, errors.New("temporary")
	})
	_, _ = q.Enqueue(context.Background(), Plan{Kind: "flaky", DedupeKey: "f", RunAt: clock.Now(), Payload: 1})

	require.NoError(t, w.Tick(context.Background()))
	assert.Equal(t, 1, calls)
	assert.Equal(t, StatusPending, q.jobs[0].Status)

	require.NoError(t, w.Tick(context.Background()))
	assert.Equal(t, 1, calls, "not due until the backoff passes")

	clock.Advance(Backoff(1))
	require.NoError(t, w.Tick(context.Background()))
	assert.Equal(t, 2, calls)
	assert.Equal(t, StatusDead, q.jobs[0].Status)
	require.Len(t, q.dead, 1)
	assert.Equal(t, 2, q.dead[0].Attempts)
}

func TestWorkerPlansTaxReminderOnce(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 4, 10, 0, 0, 0, KST))
	q := &memQueue{}
	w := NewWorker(q, clock, quiet(), WorkerConfig{TaxRecipient: "boss@example.com", TaxReminderDay: 5})

	require.NoError(t, w.Tick(context.Background()))
	require.NoError(t, w.Tick(context.Background()))
	require.Len(t, q.plans, 1)
	assert.Empty(t, q.sent)

	clock.Advance(24 * time.Hour)
	require.NoError(t, w.Tick(context.Background()))
	require.Len(t, q.sent, 1)
	assert.Equal(t, "boss@example.com", q.sent[0].Recipient)
	assert.Len(t, q.plans, 2, "next month is planned once this one passed")
}

func TestWorkerTickPropagatesPlanError(t *testing.T) {
	q := &memQueue{enqErr: errors.New("db gone")}
	w := NewWorker(q, clockwork.NewFakeClock(), quiet(), WorkerConfig{TaxRecipient: "boss@example.com"})
	assert.ErrorContains(t, w.Tick(context.Background()), "db gone")
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	w := NewWorker(&memQueue{}, clock, quiet(), WorkerConfig{Interval: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)
	cancel()
	<-done
}

func TestIntake(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 6, 10, 0, 0, 0, time.UTC))
	q := &memQueue{}
	handle := Intake(q, clock, quiet())

	payload, _ := json.Marshal(events.PayrollApprovedPayload{PayrollID: "p1", EmployeeEmail: "kim@example.com"})
	msg := kafka.Message{Topic: events.PayrollApproved, Value: payload}
	require.NoError(t, handle(context.Background(), msg))
	require.NoError(t, handle(context.Background(), msg))
	require.Len(t, q.plans, 1)
	assert.Equal(t, PayslipKey("p1"), q.plans[0].DedupeKey)
	assert.True(t, q.plans[0].RunAt.Equal(clock.Now()))

	noEmail, _ := json.Marshal(events.PayrollApprovedPayload{PayrollID: "p2"})
	require.NoError(t, handle(context.Background(), kafka.Message{Topic: events.PayrollApproved, Value: noEmail}))
	require.NoError(t, handle(context.Background(), kafka.Message{Topic: events.PayrollApproved, Value: []byte("{")}))
	require.NoError(t, handle(context.Background(), kafka.Message{Topic: events.LeaveApproved, Value: payload}))
	assert.Len(t, q.plans, 1)
}
