package payroll

import (
	"context"
	"errors"
	"math"
)

const (
	netToGrossMaxIterations = 200
	netToGrossTolerance     = 100
)

var ErrInvalidNetTarget = errors.New("net target must be positive")

type NetToGrossResult struct {
	Gross      int64      `json:"gross_pay_calculated"`
	Taxable    int64      `json:"taxable_calculated"`
	NonTaxable int64      `json:"total_non_taxable"`
	Deductions Deductions `json:"deductions"`
	Net        int64      `json:"net_pay_result"`
	Iterations int        `json:"iterations"`
	Difference int64      `json:"difference"`
	Converged  bool       `json:"converged"`
}

// NetToGross searches for the gross pay whose take-home matches netTarget.
// When the search does not settle within tolerance the closest attempt wins.
func (c Calculator) NetToGross(ctx context.Context, netTarget, nonTaxable int64, dependents int) (NetToGrossResult, error) {
	if netTarget <= 0 {
		return NetToGrossResult{}, ErrInvalidNetTarget
	}
	gross := float64(netTarget) * 1.3
	var best NetToGrossResult
	bestDiff := int64(math.MaxInt64)

	for i := 1; i <= netToGrossMaxIterations; i++ {
		g := won(gross)
		taxable := g - nonTaxable
		if taxable < 0 {
			taxable = 0
		}
		d, err := c.Deductions(ctx, taxable, dependents)
		if err != nil {
			return NetToGrossResult{}, err
		}
		net := g - d.Total
		diff := net - netTarget
		abs := diff
		if abs < 0 {
			abs = -abs
		}
		if abs < bestDiff {
			bestDiff = abs
			best = NetToGrossResult{
				Gross: g, Taxable: taxable, NonTaxable: nonTaxable,
				Deductions: d, Net: net, Iterations: i, Difference: diff,
			}
		}
		if abs <= netToGrossTolerance {
			best.Converged = true
			best.Iterations = i
			return best, nil
		}

		step := math.Max(10, float64(abs)*0.5)
		if net < netTarget {
			gross += step
		} else {
			gross -= step
		}
		if gross < float64(netTarget) {
			gross = float64(netTarget) * 1.1
		}
	}
	best.Iterations = netToGrossMaxIterations
	return best, nil
}
