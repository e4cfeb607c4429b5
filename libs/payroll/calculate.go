package payroll

import (
	"context"
	"errors"
	"math"
)

const (
	SalaryTypeGross = "gross"
	SalaryTypeNet   = "net"

	DefaultOvertimeRate  = 1.5
	DefaultNightRate     = 1.5
	DefaultHolidayRate   = 2.0
	DefaultMealAllowance = 200000

	MinimumWageWarning = "⚠️ 최저임금 미달"
)

var ErrNoSalary = errors.New("no salary information for employee")

// Salary is the contract in force for a pay period.
type Salary struct {
	BaseSalary         int64
	HourlyRate         float64
	OvertimeRate       float64
	NightShiftRate     float64
	HolidayRate        float64
	MealAllowance      int64
	CarAllowance       int64
	ChildcareAllowance int64
	FixedOvertimePay   int64
}

// SalaryFromEmployee builds a contract from the employee row when no
// salaries history exists. ok is false when neither figure is set.
func SalaryFromEmployee(baseSalary, hourlyRate int64, monthlyHours int64) (Salary, bool) {
	if baseSalary <= 0 && hourlyRate <= 0 {
		return Salary{}, false
	}
	s := Salary{
		BaseSalary:     baseSalary,
		HourlyRate:     float64(hourlyRate),
		OvertimeRate:   DefaultOvertimeRate,
		NightShiftRate: DefaultNightRate,
		HolidayRate:    DefaultHolidayRate,
		MealAllowance:  DefaultMealAllowance,
	}
	if s.BaseSalary <= 0 {
		s.BaseSalary = hourlyRate * monthlyHours
	}
	if s.HourlyRate <= 0 {
		s.HourlyRate = float64(baseSalary) / float64(monthlyHours)
	}
	return s, true
}

// AttendanceDay is one present day in the period.
type AttendanceDay struct {
	WorkHours     float64
	OvertimeHours float64
	NightHours    float64
	IsHoliday     bool
}

type WorkSummary struct {
	Days          int     `json:"total_work_days"`
	Hours         float64 `json:"total_work_hours"`
	OvertimeHours float64 `json:"total_overtime_hours"`
	NightHours    float64 `json:"total_night_hours"`
	HolidayHours  float64 `json:"holiday_work_hours"`
}

func Summarize(days []AttendanceDay) WorkSummary {
	var s WorkSummary
	for _, d := range days {
		s.Days++
		s.Hours += d.WorkHours
		s.OvertimeHours += d.OvertimeHours
		s.NightHours += d.NightHours
		if d.IsHoliday {
			s.HolidayHours += d.WorkHours
		}
	}
	return s
}

type Input struct {
	SalaryType       string
	Dependents       int
	Salary           Salary
	Work             WorkSummary
	Bonus            int64
	SpecialAllowance int64
}

type Result struct {
	SalaryType         string      `json:"salary_type"`
	PartTime           bool        `json:"is_part_time"`
	HourlyRate         float64     `json:"hourly_rate"`
	BasePay            int64       `json:"base_pay"`
	OvertimePay        int64       `json:"overtime_pay"`
	NightShiftPay      int64       `json:"night_shift_pay"`
	HolidayPay         int64       `json:"holiday_pay"`
	WeeklyHolidayPay   int64       `json:"weekly_holiday_pay"`
	FixedOvertimePay   int64       `json:"fixed_overtime_pay"`
	Bonus              int64       `json:"bonus"`
	MealAllowance      int64       `json:"meal_allowance"`
	CarAllowance       int64       `json:"car_allowance"`
	ChildcareAllowance int64       `json:"childcare_allowance"`
	TotalNonTaxable    int64       `json:"total_non_taxable"`
	GrossPay           int64       `json:"gross_pay"`
	TaxableIncome      int64       `json:"taxable_income"`
	NetTarget          *int64      `json:"net_target"`
	GrossCalculated    *int64      `json:"gross_calculated"`
	Deductions         Deductions  `json:"deductions"`
	NetPay             int64       `json:"net_pay"`
	Work               WorkSummary `json:"work"`
	Dependents         int         `json:"dependent_count"`
	MinimumWageOK      bool        `json:"minimum_wage_check"`
	Warning            string      `json:"warning,omitempty"`
}

func rateOr(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}

// Calculate settles one employee's pay for a period.
func (c Calculator) Calculate(ctx context.Context, in Input) (Result, error) {
	s := in.Salary
	w := in.Work
	monthlyHours := float64(c.Rates.MinimumWage.MonthlyHours)

	hourly := s.HourlyRate
	if hourly <= 0 && s.BaseSalary > 0 {
		hourly = float64(s.BaseSalary) / monthlyHours
	}
	partTime := s.BaseSalary == 0 && hourly > 0

	basePay := s.BaseSalary
	if partTime {
		basePay = won(w.Hours * hourly)
	}

	overtime := won(w.OvertimeHours * hourly * rateOr(s.OvertimeRate, DefaultOvertimeRate))
	night := won(w.NightHours * hourly * rateOr(s.NightShiftRate, DefaultNightRate))
	holiday := won(w.HolidayHours * hourly * rateOr(s.HolidayRate, DefaultHolidayRate))

	var weekly int64
	if partTime && w.Days > 0 {
		weeks := math.Ceil(float64(w.Days) / 7)
		if w.Hours/weeks >= 15 {
			weekly = won(w.Hours / float64(w.Days) * hourly * weeks)
		}
	}

	fixedOT := in.SpecialAllowance
	if fixedOT <= 0 {
		fixedOT = s.FixedOvertimePay
	}

	nonTaxable := s.MealAllowance + s.CarAllowance + s.ChildcareAllowance
	separate := s.CarAllowance + s.ChildcareAllowance
	additions := separate + overtime + night + holiday + weekly + in.Bonus + fixedOT
	dependents := ClampDependents(in.Dependents)

	res := Result{
		SalaryType:         in.SalaryType,
		PartTime:           partTime,
		HourlyRate:         math.Round(hourly*100) / 100,
		BasePay:            basePay,
		OvertimePay:        overtime,
		NightShiftPay:      night,
		HolidayPay:         holiday,
		WeeklyHolidayPay:   weekly,
		FixedOvertimePay:   fixedOT,
		Bonus:              in.Bonus,
		MealAllowance:      s.MealAllowance,
		CarAllowance:       s.CarAllowance,
		ChildcareAllowance: s.ChildcareAllowance,
		TotalNonTaxable:    nonTaxable,
		Work:               w,
		Dependents:         dependents,
	}

	if in.SalaryType == SalaryTypeNet {
		if basePay <= 0 {
			return Result{}, ErrInvalidNetTarget
		}
		ntg, err := c.NetToGross(ctx, basePay, nonTaxable, dependents)
		if err != nil {
			return Result{}, err
		}
		target, gross := basePay, ntg.Gross
		res.NetTarget = &target
		res.GrossCalculated = &gross
		res.GrossPay = ntg.Gross + additions
	} else {
		res.SalaryType = SalaryTypeGross
		res.GrossPay = basePay + additions
	}

	res.TaxableIncome = res.GrossPay - nonTaxable
	if res.TaxableIncome < 0 {
		res.TaxableIncome = 0
	}
	d, err := c.Deductions(ctx, res.TaxableIncome, dependents)
	if err != nil {
		return Result{}, err
	}
	res.Deductions = d
	res.NetPay = res.GrossPay - d.Total
	res.MinimumWageOK = c.MeetsMinimumWage(basePay, w.Hours)
	if !res.MinimumWageOK {
		res.Warning = MinimumWageWarning
	}
	return res, nil
}
