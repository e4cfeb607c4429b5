package leave

import (
	"testing"
	"time"
)

func date(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func TestAnnualDays(t *testing.T) {
	cases := []struct {
		hire string
		year int
		want int
	}{
		{hire: "2026-07-01", year: 2026, want: 6},
		{hire: "2026-01-02", year: 2026, want: 11},
		{hire: "2025-01-01", year: 2026, want: 15},
		{hire: "2023-01-01", year: 2026, want: 16},
		{hire: "2022-01-01", year: 2026, want: 17},
		{hire: "2020-01-01", year: 2026, want: 18},
		{hire: "1990-01-01", year: 2026, want: 25},
		{hire: "2027-03-01", year: 2026, want: 0},
	}
	for _, tc := range cases {
		if got := AnnualDays(date(tc.hire), tc.year); got != tc.want {
			t.Fatalf("AnnualDays(%s, %d) = %d, want %d", tc.hire, tc.year, got, tc.want)
		}
	}
}

func TestOverlaps(t *testing.T) {
	if !Overlaps(date("2026-03-02"), date("2026-03-04"), date("2026-03-04"), date("2026-03-06")) {
		t.Fatalf("ranges sharing an end day overlap")
	}
	if Overlaps(date("2026-03-02"), date("2026-03-03"), date("2026-03-04"), date("2026-03-06")) {
		t.Fatalf("adjacent ranges do not overlap")
	}
}
