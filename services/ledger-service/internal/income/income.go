// Package income models one day of the pharmacy cash drawer and the
// statistics computed over a run of days.
package income

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/events"
)

const DateLayout = "2006-01-02"

// KST is Asia/Seoul; the shop closes its drawer on Korean calendar days.
var KST = time.FixedZone("Asia/Seoul", 9*60*60)

var ErrBadDate = errors.New("date must be YYYY-MM-DD")

// Day is one drawer count. Income fields are cas5, cas1, gif, car1 and
// car2; person is cash paid out; pos is the register total.
type Day struct {
	Date   string `json:"date"`
	Cas5   int64  `json:"cas5"`
	Cas1   int64  `json:"cas1"`
	Gif    int64  `json:"gif"`
	Car1   int64  `json:"car1"`
	Car2   int64  `json:"car2"`
	Person int64  `json:"person"`
	Pos    int64  `json:"pos"`
}

func (d Day) Income() int64 { return d.Cas5 + d.Cas1 + d.Gif + d.Car1 + d.Car2 }

func (d Day) Net() int64 { return d.Income() - d.Person }

func (d Day) Diff() int64 { return d.Net() - d.Pos }

// SavedEvent is the payload published after a day is written.
func (d Day) SavedEvent() events.DailyIncomeSavedPayload {
	return events.DailyIncomeSavedPayload{Date: d.Date, Income: d.Income(), Net: d.Net(), Pos: d.Pos, Diff: d.Diff()}
}

// Record is a day plus whether it was ever saved.
type Record struct {
	Day
	Exists bool `json:"exists"`
}

// Store persists days. Range bounds are inclusive YYYY-MM-DD strings and an
// empty bound is open.
type Store interface {
	Get(ctx context.Context, date string) (Day, bool, error)
	Save(ctx context.Context, day Day) (Day, error)
	Range(ctx context.Context, from, to string) ([]Day, error)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, KST)
	if err != nil {
		return time.Time{}, ErrBadDate
	}
	return t, nil
}

// Amount is a dated figure such as the best or worst day.
type Amount struct {
	Date   string `json:"date"`
	Amount int64  `json:"amount"`
}

type DailyData struct {
	Date    string `json:"date"`
	Income  int64  `json:"income"`
	Expense int64  `json:"expense"`
	Net     int64  `json:"net"`
	Pos     int64  `json:"pos"`
	Diff    int64  `json:"diff"`
}

// FieldTotals sums every raw drawer field.
type FieldTotals struct {
	Cas5   int64 `json:"cas5"`
	Cas1   int64 `json:"cas1"`
	Gif    int64 `json:"gif"`
	Car1   int64 `json:"car1"`
	Car2   int64 `json:"car2"`
	Person int64 `json:"person"`
	Pos    int64 `json:"pos"`
}

type Stats struct {
	TotalDays    int         `json:"totalDays"`
	TotalIncome  int64       `json:"totalIncome"`
	TotalExpense int64       `json:"totalExpense"`
	TotalNet     int64       `json:"totalNet"`
	TotalPos     int64       `json:"totalPos"`
	TotalDiff    int64       `json:"totalDiff"`
	AvgIncome    float64     `json:"avgIncome"`
	AvgExpense   float64     `json:"avgExpense"`
	AvgNet       float64     `json:"avgNet"`
	AvgDiff      float64     `json:"avgDiff"`
	Fields       FieldTotals `json:"fieldTotals"`
	MaxIncome    Amount      `json:"maxIncome"`
	MinIncome    Amount      `json:"minIncome"`
	DailyData    []DailyData `json:"dailyData"`
}

// CalculateStats aggregates days in date order. Days without a date are
// ignored and the minimum only considers days that took money.
func CalculateStats(days []Day) Stats {
	sorted := make([]Day, 0, len(days))
	for _, d := range days {
		if d.Date != "" {
			sorted = append(sorted, d)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	s := Stats{DailyData: make([]DailyData, 0, len(sorted))}
	var minSet bool
	for _, d := range sorted {
		income := d.Income()
		s.DailyData = append(s.DailyData, DailyData{
			Date: d.Date, Income: income, Expense: d.Person, Net: d.Net(), Pos: d.Pos, Diff: d.Diff(),
		})
		s.TotalIncome += income
		s.TotalExpense += d.Person
		s.TotalNet += d.Net()
		s.TotalPos += d.Pos
		s.TotalDiff += d.Diff()

		s.Fields.Cas5 += d.Cas5
		s.Fields.Cas1 += d.Cas1
		s.Fields.Gif += d.Gif
		s.Fields.Car1 += d.Car1
		s.Fields.Car2 += d.Car2
		s.Fields.Person += d.Person
		s.Fields.Pos += d.Pos

		if income > s.MaxIncome.Amount {
			s.MaxIncome = Amount{Date: d.Date, Amount: income}
		}
		if income > 0 && (!minSet || income < s.MinIncome.Amount) {
			s.MinIncome = Amount{Date: d.Date, Amount: income}
			minSet = true
		}
	}
	s.TotalDays = len(s.DailyData)
	if s.TotalDays > 0 {
		n := float64(s.TotalDays)
		s.AvgIncome = round2(float64(s.TotalIncome) / n)
		s.AvgExpense = round2(float64(s.TotalExpense) / n)
		s.AvgNet = round2(float64(s.TotalNet) / n)
		s.AvgDiff = round2(float64(s.TotalDiff) / n)
	}
	return s
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// Period is an inclusive date window. Empty bounds mean all time.
type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// MonthPeriod spans the calendar month of a YYYY-MM string.
func MonthPeriod(yearMonth string) (Period, error) {
	start, err := time.ParseInLocation("2006-01", yearMonth, KST)
	if err != nil {
		return Period{}, err
	}
	return Period{Start: start.Format(DateLayout), End: start.AddDate(0, 1, -1).Format(DateLayout)}, nil
}

// MaxRecentDays bounds a recent window to ten years of drawer history.
const MaxRecentDays = 3650

// RecentPeriod covers the last days calendar days ending on today, at most
// MaxRecentDays.
func RecentPeriod(today time.Time, days int) Period {
	days = min(max(days, 1), MaxRecentDays)
	today = today.In(KST)
	return Period{
		Start: today.AddDate(0, 0, -(days - 1)).Format(DateLayout),
		End:   today.Format(DateLayout),
	}
}
