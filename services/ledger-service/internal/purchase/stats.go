// Package purchase summarises employee purchase requests for the owner's
// report.
package purchase

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

const UnknownEmployee = "알 수 없음"

var ErrBadPeriod = errors.New("unknown period")

// Entry is the part of a request the report needs.
type Entry struct {
	EmployeeID   string
	EmployeeName string
	Status       string
	TotalAmount  int64
	RequestDate  time.Time
}

// Since maps a period name to its first instant in loc. "all" and the empty
// string return the zero time.
func Since(period string, now time.Time, loc *time.Location) (time.Time, error) {
	now = now.In(loc)
	month := func(offset int) time.Time {
		return time.Date(now.Year(), now.Month()+time.Month(offset), 1, 0, 0, 0, 0, loc)
	}
	switch period {
	case "", "all":
		return time.Time{}, nil
	case "thisMonth":
		return month(0), nil
	case "lastMonth":
		return month(-1), nil
	case "last3Months":
		return month(-3), nil
	case "thisYear":
		return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, loc), nil
	}
	return time.Time{}, ErrBadPeriod
}

type MonthStat struct {
	Month    string `json:"month"`
	Requests int    `json:"requests"`
	Amount   int64  `json:"amount"`
	key      string
}

type EmployeeStat struct {
	EmployeeName string `json:"employeeName"`
	Requests     int    `json:"requests"`
	Amount       int64  `json:"amount"`
}

type Report struct {
	TotalRequests     int            `json:"totalRequests"`
	TotalAmount       int64          `json:"totalAmount"`
	PendingRequests   int            `json:"pendingRequests"`
	ApprovedRequests  int            `json:"approvedRequests"`
	CompletedRequests int            `json:"completedRequests"`
	CancelledRequests int            `json:"cancelledRequests"`
	RejectedRequests  int            `json:"rejectedRequests"`
	MonthlyStats      []MonthStat    `json:"monthlyStats"`
	EmployeeStats     []EmployeeStat `json:"employeeStats"`
}

const maxMonths = 12

// Summarize counts by status, groups by calendar month (latest twelve,
// newest first) and by employee name (largest spend first).
func Summarize(entries []Entry, loc *time.Location) Report {
	rep := Report{MonthlyStats: []MonthStat{}, EmployeeStats: []EmployeeStat{}}
	months := map[string]*MonthStat{}
	people := map[string]*EmployeeStat{}
	for _, e := range entries {
		rep.TotalRequests++
		rep.TotalAmount += e.TotalAmount
		switch e.Status {
		case "pending":
			rep.PendingRequests++
		case "approved":
			rep.ApprovedRequests++
		case "completed":
			rep.CompletedRequests++
		case "cancelled":
			rep.CancelledRequests++
		case "rejected":
			rep.RejectedRequests++
		}

		d := e.RequestDate.In(loc)
		key := d.Format("2006-01")
		m, ok := months[key]
		if !ok {
			m = &MonthStat{Month: fmt.Sprintf("%d년 %d월", d.Year(), int(d.Month())), key: key}
			months[key] = m
		}
		m.Requests++
		m.Amount += e.TotalAmount

		name := e.EmployeeName
		if name == "" {
			name = UnknownEmployee
		}
		p, ok := people[name]
		if !ok {
			p = &EmployeeStat{EmployeeName: name}
			people[name] = p
		}
		p.Requests++
		p.Amount += e.TotalAmount
	}

	for _, m := range months {
		rep.MonthlyStats = append(rep.MonthlyStats, *m)
	}
	sort.Slice(rep.MonthlyStats, func(i, j int) bool { return rep.MonthlyStats[i].key > rep.MonthlyStats[j].key })
	if len(rep.MonthlyStats) > maxMonths {
		rep.MonthlyStats = rep.MonthlyStats[:maxMonths]
	}

	for _, p := range people {
		rep.EmployeeStats = append(rep.EmployeeStats, *p)
	}
	sort.Slice(rep.EmployeeStats, func(i, j int) bool {
		a, b := rep.EmployeeStats[i], rep.EmployeeStats[j]
		if a.Amount != b.Amount {
			return a.Amount > b.Amount
		}
		return a.EmployeeName < b.EmployeeName
	})
	return rep
}
