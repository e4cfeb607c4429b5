package purchase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var seoul = time.FixedZone("Asia/Seoul", 9*60*60)

func TestSince(t *testing.T) {
	now := time.Date(2026, 1, 20, 10, 0, 0, 0, seoul)
	cases := map[string]time.Time{
		"thisMonth":   time.Date(2026, 1, 1, 0, 0, 0, 0, seoul),
		"lastMonth":   time.Date(2025, 12, 1, 0, 0, 0, 0, seoul),
		"last3Months": time.Date(2025, 10, 1, 0, 0, 0, 0, seoul),
		"thisYear":    time.Date(2026, 1, 1, 0, 0, 0, 0, seoul),
	}
	for period, want := range cases {
		got, err := Since(period, now, seoul)
		require.NoError(t, err, period)
		assert.True(t, want.Equal(got), "%s: got %v want %v", period, got, want)
	}
	got, err := Since("all", now, seoul)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = Since("lastWeek", now, seoul)
	assert.ErrorIs(t, err, ErrBadPeriod)
}

func TestSummarize(t *testing.T) {
	at := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 12, 0, 0, 0, seoul) }
	rep := Summarize([]Entry{
		{EmployeeName: "김약사", Status: "pending", TotalAmount: 10_000, RequestDate: at(2026, 2, 3)},
		{EmployeeName: "김약사", Status: "approved", TotalAmount: 5_000, RequestDate: at(2026, 1, 9)},
		{EmployeeName: "", Status: "rejected", TotalAmount: 40_000, RequestDate: at(2025, 12, 31)},
		{EmployeeName: "이직원", Status: "cancelled", TotalAmount: 1_000, RequestDate: at(2026, 2, 14)},
	}, seoul)

	assert.Equal(t, 4, rep.TotalRequests)
	assert.EqualValues(t, 56_000, rep.TotalAmount)
	assert.Equal(t, 1, rep.PendingRequests)
	assert.Equal(t, 1, rep.ApprovedRequests)
	assert.Equal(t, 1, rep.CancelledRequests)
	assert.Equal(t, 1, rep.RejectedRequests)

	require.Len(t, rep.MonthlyStats, 3)
	assert.Equal(t, "2026년 2월", rep.MonthlyStats[0].Month)
	assert.Equal(t, 2, rep.MonthlyStats[0].Requests)
	assert.Equal(t, "2025년 12월", rep.MonthlyStats[2].Month)

	require.Len(t, rep.EmployeeStats, 3)
	assert.Equal(t, UnknownEmployee, rep.EmployeeStats[0].EmployeeName)
	assert.Equal(t, EmployeeStat{EmployeeName: "김약사", Requests: 2, Amount: 15_000}, rep.EmployeeStats[1])
}

func TestSummarizeKeepsLatestTwelveMonths(t *testing.T) {
	var entries []Entry
	for i := 0; i < 15; i++ {
		entries = append(entries, Entry{Status: "approved", TotalAmount: 1, RequestDate: time.Date(2025, time.Month(1+i), 5, 0, 0, 0, 0, seoul)})
	}
	rep := Summarize(entries, seoul)
	require.Len(t, rep.MonthlyStats, 12)
	assert.Equal(t, "2026년 3월", rep.MonthlyStats[0].Month)
	assert.Equal(t, "2025년 4월", rep.MonthlyStats[11].Month)
}
