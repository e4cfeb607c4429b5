package payroll

import (
	"context"
	"math"
)

type Deductions struct {
	NationalPension     int64 `json:"national_pension"`
	HealthInsurance     int64 `json:"health_insurance"`
	LongTermCare        int64 `json:"long_term_care"`
	EmploymentInsurance int64 `json:"employment_insurance"`
	IncomeTax           int64 `json:"income_tax"`
	LocalIncomeTax      int64 `json:"local_income_tax"`
	Total               int64 `json:"total_deductions"`
}

// Calculator computes deductions against one rate set and tax table.
type Calculator struct {
	Rates Rates
	Table TaxTable
}

func won(v float64) int64 { return int64(math.Round(v)) }

func (c Calculator) Pension(taxable int64) int64 {
	p := c.Rates.NationalPension
	base := taxable
	if base < p.MinBase {
		base = p.MinBase
	}
	if base > p.MaxBase {
		base = p.MaxBase
	}
	if taxable <= 0 {
		return 0
	}
	return won(float64(base) * p.Rate)
}

func (c Calculator) Deductions(ctx context.Context, taxable int64, dependents int) (Deductions, error) {
	if taxable < 0 {
		taxable = 0
	}
	tax, err := IncomeTax(ctx, c.Table, c.Rates.IncomeTax, taxable, dependents)
	if err != nil {
		return Deductions{}, err
	}
	health := won(float64(taxable) * c.Rates.HealthInsuranceRate)
	d := Deductions{
		NationalPension:     c.Pension(taxable),
		HealthInsurance:     health,
		LongTermCare:        won(float64(health) * c.Rates.LongTermCareRate),
		EmploymentInsurance: won(float64(taxable) * c.Rates.EmploymentInsuranceRate),
		IncomeTax:           tax,
		LocalIncomeTax:      won(float64(tax) * c.Rates.LocalIncomeTaxRate),
	}
	d.Total = d.NationalPension + d.HealthInsurance + d.LongTermCare + d.EmploymentInsurance + d.IncomeTax + d.LocalIncomeTax
	return d, nil
}

// MeetsMinimumWage checks base pay per hour worked, assuming a full month
// when no hours were recorded.
func (c Calculator) MeetsMinimumWage(basePay int64, hours float64) bool {
	if hours <= 0 {
		hours = float64(c.Rates.MinimumWage.MonthlyHours)
	}
	return float64(basePay)/hours >= float64(c.Rates.MinimumWage.Hourly)
}
