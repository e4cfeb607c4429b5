package payroll

import (
	"context"
	"errors"
	"math"
	"sort"
)

const (
	MinDependents = 1
	MaxDependents = 11
)

// TaxTable looks up the simplified withholding table for incomes below the
// table ceiling. found is false when income is under the first row.
type TaxTable interface {
	Lookup(ctx context.Context, income int64, dependents int) (tax int64, found bool, err error)
}

// Bracket is one row of the table for one dependent count.
type Bracket struct {
	From       int64
	To         int64
	Dependents int
	Tax        int64
}

// MemoryTable serves a bracket slice; used by tests and pharmctl.
type MemoryTable struct {
	rows map[int][]Bracket
}

func NewMemoryTable(rows []Bracket) *MemoryTable {
	t := &MemoryTable{rows: map[int][]Bracket{}}
	for _, r := range rows {
		t.rows[r.Dependents] = append(t.rows[r.Dependents], r)
	}
	for d := range t.rows {
		sort.Slice(t.rows[d], func(i, j int) bool { return t.rows[d][i].From < t.rows[d][j].From })
	}
	return t
}

func (t *MemoryTable) Lookup(_ context.Context, income int64, dependents int) (int64, bool, error) {
	rows := t.rows[dependents]
	i := sort.Search(len(rows), func(i int) bool { return rows[i].To > income })
	if i == len(rows) || rows[i].From > income {
		return 0, false, nil
	}
	return rows[i].Tax, true, nil
}

var ErrNegativeIncome = errors.New("taxable income must not be negative")

func ClampDependents(n int) int {
	if n < MinDependents {
		return MinDependents
	}
	if n > MaxDependents {
		return MaxDependents
	}
	return n
}

// IncomeTax returns the monthly withholding for taxable income.
func IncomeTax(ctx context.Context, table TaxTable, rates IncomeTaxRates, taxable int64, dependents int) (int64, error) {
	if taxable < 0 {
		return 0, ErrNegativeIncome
	}
	dependents = ClampDependents(dependents)

	if taxable < rates.TableCeiling {
		tax, _, err := table.Lookup(ctx, taxable, dependents)
		return tax, err
	}

	base, _, err := table.Lookup(ctx, rates.TableCeiling-1, dependents)
	if err != nil {
		return 0, err
	}
	for _, b := range rates.Bands {
		if taxable < b.From || (b.To > 0 && taxable >= b.To) {
			continue
		}
		excess := float64(taxable-b.From) * b.Factor * b.Rate
		return int64(math.Round(float64(base+b.Fixed) + excess)), nil
	}
	return base, nil
}
