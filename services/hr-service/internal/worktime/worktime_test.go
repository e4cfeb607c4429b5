package worktime

import (
	"testing"
	"time"
)

func kst(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, KST)
}

func TestComputeDayShift(t *testing.T) {
	got := Compute(kst(2026, 3, 2, 9, 0), kst(2026, 3, 2, 19, 30))
	if got.Work != 10.5 || got.Overtime != 2.5 || got.Night != 0 {
		t.Fatalf("unexpected hours: %+v", got)
	}
}

func TestComputeAcrossMidnight(t *testing.T) {
	got := Compute(kst(2026, 3, 2, 20, 0), kst(2026, 3, 3, 7, 0))
	if got.Work != 11 || got.Overtime != 3 || got.Night != 8 {
		t.Fatalf("unexpected hours: %+v", got)
	}
}

func TestNightHoursEarlyMorning(t *testing.T) {
	if got := NightHours(kst(2026, 3, 2, 4, 30), kst(2026, 3, 2, 9, 0)); got != 1.5 {
		t.Fatalf("NightHours = %v, want 1.5", got)
	}
	// A UTC timestamp is interpreted on the KST clock.
	in := kst(2026, 3, 2, 21, 0).UTC()
	out := kst(2026, 3, 2, 23, 0).UTC()
	if got := NightHours(in, out); got != 1 {
		t.Fatalf("NightHours(UTC) = %v, want 1", got)
	}
}

func TestComputeRejectsReversedShift(t *testing.T) {
	if got := Compute(kst(2026, 3, 2, 18, 0), kst(2026, 3, 2, 9, 0)); got != (Hours{}) {
		t.Fatalf("expected zero hours, got %+v", got)
	}
}

func TestIsWeekend(t *testing.T) {
	if !IsWeekend(kst(2026, 3, 7, 10, 0)) || !IsWeekend(kst(2026, 3, 8, 10, 0)) {
		t.Fatalf("Saturday and Sunday must be weekend")
	}
	if IsWeekend(kst(2026, 3, 9, 10, 0)) {
		t.Fatalf("Monday is not weekend")
	}
}

func TestMonthRange(t *testing.T) {
	start, end, err := MonthRange("2026-02")
	if err != nil {
		t.Fatalf("MonthRange failed: %v", err)
	}
	if Date(start) != "2026-02-01" || Date(end) != "2026-02-28" {
		t.Fatalf("unexpected range %s..%s", Date(start), Date(end))
	}
	if _, _, err := MonthRange("2026-2"); err != ErrBadMonth {
		t.Fatalf("expected ErrBadMonth, got %v", err)
	}
}

func TestDates(t *testing.T) {
	start, _ := ParseDate("2026-03-30")
	end, _ := ParseDate("2026-04-02")
	got := Dates(start, end)
	if len(got) != 4 || Date(got[3]) != "2026-04-02" {
		t.Fatalf("unexpected dates: %v", got)
	}
}
