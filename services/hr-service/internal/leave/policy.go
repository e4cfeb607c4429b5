// Package leave holds the annual-leave entitlement rules.
package leave

import "time"

const (
	CodeAnnual = "ANNUAL"

	maxFirstYearDays = 11
	baseAnnualDays   = 15
	maxAnnualDays    = 25
)

// AnnualDays is the annual leave granted for year given a hire date: one day
// per full month in the first year, then 15 days plus one per two further
// years of service, capped at 25.
func AnnualDays(hireDate time.Time, year int) int {
	yearEnd := time.Date(year, time.December, 31, 0, 0, 0, 0, hireDate.Location())
	hire := time.Date(hireDate.Year(), hireDate.Month(), hireDate.Day(), 0, 0, 0, 0, hireDate.Location())
	days := int(yearEnd.Sub(hire).Hours() / 24)
	if days < 0 {
		return 0
	}
	years := days / 365
	if years < 1 {
		return min(maxFirstYearDays, days/30)
	}
	return min(maxAnnualDays, baseAnnualDays+(years-1)/2)
}

// Overlaps reports whether two inclusive date ranges share a day.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !bStart.After(aEnd)
}
