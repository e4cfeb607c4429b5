// Package worktime holds the calendar arithmetic for attendance: KST dates,
// worked/overtime/night hours, and month ranges.
package worktime

import (
	"errors"
	"math"
	"time"
)

// KST is Asia/Seoul. Korea observes no daylight saving, so a fixed zone is
// exact and needs no tzdata.
var KST = time.FixedZone("Asia/Seoul", 9*60*60)

const (
	DateLayout      = "2006-01-02"
	MonthLayout     = "2006-01"
	RegularDayHours = 8
	nightStartHour  = 22
	nightEndHour    = 6
)

var ErrBadMonth = errors.New("month must be YYYY-MM")

// Hours is the split of one shift.
type Hours struct {
	Work     float64 `json:"work_hours"`
	Overtime float64 `json:"overtime_hours"`
	Night    float64 `json:"night_hours"`
}

func Round2(v float64) float64 { return math.Round(v*100) / 100 }

// Compute splits the shift [in, out) into worked, overtime beyond eight
// hours, and hours overlapping 22:00-06:00 KST.
func Compute(in, out time.Time) Hours {
	if !out.After(in) {
		return Hours{}
	}
	work := Round2(out.Sub(in).Hours())
	return Hours{
		Work:     work,
		Overtime: Round2(math.Max(0, work-RegularDayHours)),
		Night:    Round2(NightHours(in, out)),
	}
}

// NightHours sums the overlap of [in, out) with every 22:00-06:00 window.
func NightHours(in, out time.Time) float64 {
	in, out = in.In(KST), out.In(KST)
	day := time.Date(in.Year(), in.Month(), in.Day(), 0, 0, 0, 0, KST).AddDate(0, 0, -1)
	var total time.Duration
	for !day.After(out) {
		start := day.Add(nightStartHour * time.Hour)
		end := day.AddDate(0, 0, 1).Add(nightEndHour * time.Hour)
		total += overlap(in, out, start, end)
		day = day.AddDate(0, 0, 1)
	}
	return total.Hours()
}

func overlap(aStart, aEnd, bStart, bEnd time.Time) time.Duration {
	start := aStart
	if bStart.After(start) {
		start = bStart
	}
	end := aEnd
	if bEnd.Before(end) {
		end = bEnd
	}
	if end.After(start) {
		return end.Sub(start)
	}
	return 0
}

func IsWeekend(t time.Time) bool {
	wd := t.In(KST).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Date formats t as a KST calendar date.
func Date(t time.Time) string {
	return t.In(KST).Format(DateLayout)
}

func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, KST)
}

// MonthRange returns the first and last calendar day of a YYYY-MM month.
func MonthRange(month string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(MonthLayout, month, KST)
	if err != nil {
		return time.Time{}, time.Time{}, ErrBadMonth
	}
	return start, start.AddDate(0, 1, -1), nil
}

// Dates lists every calendar day from start to end inclusive.
func Dates(start, end time.Time) []time.Time {
	var out []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}
