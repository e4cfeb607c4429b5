package payroll

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// steppedTable charges 10,000 won per full million for one dependent and
// half of that for two.
func steppedTable() *MemoryTable {
	var rows []Bracket
	for i := int64(0); i < 10; i++ {
		rows = append(rows,
			Bracket{From: i * 1_000_000, To: (i + 1) * 1_000_000, Dependents: 1, Tax: i * 10_000},
			Bracket{From: i * 1_000_000, To: (i + 1) * 1_000_000, Dependents: 2, Tax: i * 5_000},
		)
	}
	return NewMemoryTable(rows)
}

func newCalc() Calculator {
	return Calculator{Rates: MustDefaultRates(), Table: steppedTable()}
}

func TestDefaultRates(t *testing.T) {
	r := MustDefaultRates()
	if r.Year != 2026 || r.NationalPension.Rate != 0.0475 || r.HealthInsuranceRate != 0.03595 {
		t.Fatalf("unexpected rates: %+v", r)
	}
	if r.MinimumWage.Hourly != 10320 || r.MinimumWage.Monthly != 2156880 || r.MinimumWage.MonthlyHours != 209 {
		t.Fatalf("unexpected minimum wage: %+v", r.MinimumWage)
	}
	if len(r.IncomeTax.Bands) != 6 {
		t.Fatalf("expected 6 bands, got %d", len(r.IncomeTax.Bands))
	}
}

func TestLoadRatesRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.yaml")
	if err := os.WriteFile(path, []byte("year: 2026\nhealth_insurance_rate: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRates(path); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := LoadRates(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestPensionClampsBase(t *testing.T) {
	c := newCalc()
	cases := map[int64]int64{
		0:          0,
		300_000:    19_000,
		2_000_000:  95_000,
		10_000_000: 302_575,
	}
	for taxable, want := range cases {
		if got := c.Pension(taxable); got != want {
			t.Fatalf("Pension(%d) = %d, want %d", taxable, got, want)
		}
	}
}

func TestDeductions(t *testing.T) {
	got, err := newCalc().Deductions(context.Background(), 2_000_000, 1)
	if err != nil {
		t.Fatalf("Deductions failed: %v", err)
	}
	want := Deductions{
		NationalPension:     95_000,
		HealthInsurance:     71_900,
		LongTermCare:        9_448,
		EmploymentInsurance: 18_000,
		IncomeTax:           20_000,
		LocalIncomeTax:      2_000,
		Total:               216_348,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("deductions mismatch (-want +got):\n%s", diff)
	}
}

func TestIncomeTaxAboveTable(t *testing.T) {
	c := newCalc()
	ctx := context.Background()
	cases := []struct {
		taxable int64
		want    int64
	}{
		{taxable: 9_500_000, want: 90_000},
		{taxable: 12_000_000, want: 801_000},
		{taxable: 50_000_000, want: 15_584_600},
		{taxable: 100_000_000, want: 36_974_600},
	}
	for _, tc := range cases {
		got, err := IncomeTax(ctx, c.Table, c.Rates.IncomeTax, tc.taxable, 1)
		if err != nil {
			t.Fatalf("IncomeTax(%d) failed: %v", tc.taxable, err)
		}
		if got != tc.want {
			t.Fatalf("IncomeTax(%d) = %d, want %d", tc.taxable, got, tc.want)
		}
	}
}

func TestIncomeTaxDependentsAndFloor(t *testing.T) {
	ctx := context.Background()
	rates := MustDefaultRates().IncomeTax
	table := NewMemoryTable([]Bracket{{From: 1_060_000, To: 1_065_000, Dependents: 1, Tax: 1_040}})
	if got, _ := IncomeTax(ctx, table, rates, 500_000, 1); got != 0 {
		t.Fatalf("below first row should be 0, got %d", got)
	}
	if got, _ := IncomeTax(ctx, table, rates, 1_062_000, 0); got != 1_040 {
		t.Fatalf("dependents below 1 should clamp to 1, got %d", got)
	}
	if got, _ := IncomeTax(ctx, steppedTable(), rates, 3_500_000, 2); got != 15_000 {
		t.Fatalf("two dependents: got %d", got)
	}
	if _, err := IncomeTax(ctx, table, rates, -1, 1); err == nil {
		t.Fatalf("negative income must fail")
	}
}

func TestNetToGrossConverges(t *testing.T) {
	c := newCalc()
	for _, target := range []int64{2_500_000, 2_200_000, 4_100_000} {
		res, err := c.NetToGross(context.Background(), target, 200_000, 1)
		if err != nil {
			t.Fatalf("NetToGross(%d) failed: %v", target, err)
		}
		if !res.Converged {
			t.Fatalf("NetToGross(%d) did not converge: %+v", target, res)
		}
		if d := res.Net - target; d > 100 || d < -100 {
			t.Fatalf("NetToGross(%d) net=%d outside tolerance", target, res.Net)
		}
		if res.Gross-res.Deductions.Total != res.Net || res.Taxable != res.Gross-200_000 {
			t.Fatalf("inconsistent result: %+v", res)
		}
	}
}

func TestNetToGrossFallsBackToBestAttempt(t *testing.T) {
	// Tax falling by 500,000 won at 2,000,000 makes take-home jump past
	// the target, so no gross can hit it.
	table := NewMemoryTable([]Bracket{
		{From: 0, To: 2_000_000, Dependents: 1, Tax: 500_000},
		{From: 2_000_000, To: 10_000_000, Dependents: 1, Tax: 0},
	})
	c := Calculator{Rates: MustDefaultRates(), Table: table}
	res, err := c.NetToGross(context.Background(), 1_800_000, 200_000, 1)
	if err != nil {
		t.Fatalf("NetToGross failed: %v", err)
	}
	if res.Converged || res.Iterations != 200 {
		t.Fatalf("expected exhausted search, got %+v", res)
	}
	if res.Gross == 0 || res.Difference == 0 {
		t.Fatalf("expected best attempt to be reported, got %+v", res)
	}
	if _, err := c.NetToGross(context.Background(), 0, 0, 1); err != ErrInvalidNetTarget {
		t.Fatalf("expected ErrInvalidNetTarget, got %v", err)
	}
}

func TestCalculateFullTimeGross(t *testing.T) {
	c := newCalc()
	res, err := c.Calculate(context.Background(), Input{
		SalaryType: SalaryTypeGross,
		Dependents: 1,
		Salary:     Salary{BaseSalary: 2_500_000, MealAllowance: 200_000},
		Work:       WorkSummary{Days: 20, Hours: 160, OvertimeHours: 4},
	})
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if res.PartTime {
		t.Fatalf("salaried employee flagged part-time")
	}
	if res.OvertimePay != 71_770 {
		t.Fatalf("overtime pay = %d", res.OvertimePay)
	}
	if res.GrossPay != 2_571_770 || res.TaxableIncome != 2_371_770 {
		t.Fatalf("gross=%d taxable=%d", res.GrossPay, res.TaxableIncome)
	}
	want, _ := c.Deductions(context.Background(), 2_371_770, 1)
	if diff := cmp.Diff(want, res.Deductions); diff != "" {
		t.Fatalf("deductions mismatch (-want +got):\n%s", diff)
	}
	if res.NetPay != res.GrossPay-want.Total || !res.MinimumWageOK || res.Warning != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCalculatePartTimeWeeklyHolidayPay(t *testing.T) {
	c := newCalc()
	res, err := c.Calculate(context.Background(), Input{
		Salary: Salary{HourlyRate: 11_000},
		Work:   WorkSummary{Days: 10, Hours: 60},
	})
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if !res.PartTime || res.BasePay != 660_000 || res.WeeklyHolidayPay != 132_000 {
		t.Fatalf("unexpected part-time pay: %+v", res)
	}
	if res.GrossPay != 792_000 {
		t.Fatalf("gross = %d", res.GrossPay)
	}

	short, _ := c.Calculate(context.Background(), Input{
		Salary: Salary{HourlyRate: 11_000},
		Work:   WorkSummary{Days: 10, Hours: 20},
	})
	if short.WeeklyHolidayPay != 0 {
		t.Fatalf("under 15h/week must not earn weekly holiday pay, got %d", short.WeeklyHolidayPay)
	}
}

func TestCalculateMinimumWageWarning(t *testing.T) {
	res, err := newCalc().Calculate(context.Background(), Input{
		Salary: Salary{HourlyRate: 10_000},
		Work:   WorkSummary{Days: 5, Hours: 40},
	})
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if res.MinimumWageOK || res.Warning != MinimumWageWarning {
		t.Fatalf("expected minimum wage warning, got %+v", res)
	}
}

func TestCalculateNetContract(t *testing.T) {
	res, err := newCalc().Calculate(context.Background(), Input{
		SalaryType: SalaryTypeNet,
		Dependents: 1,
		Salary:     Salary{BaseSalary: 2_500_000, MealAllowance: 200_000},
	})
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if res.NetTarget == nil || *res.NetTarget != 2_500_000 || res.GrossCalculated == nil {
		t.Fatalf("net contract fields missing: %+v", res)
	}
	if d := res.NetPay - 2_500_000; d > 100 || d < -100 {
		t.Fatalf("net pay %d not within tolerance of target", res.NetPay)
	}
}

func TestSalaryFromEmployee(t *testing.T) {
	s, ok := SalaryFromEmployee(0, 10_000, 209)
	if !ok || s.BaseSalary != 2_090_000 || s.HourlyRate != 10_000 || s.MealAllowance != DefaultMealAllowance {
		t.Fatalf("unexpected salary: %+v", s)
	}
	if _, ok := SalaryFromEmployee(0, 0, 209); ok {
		t.Fatalf("expected no salary")
	}
}

func TestSummarize(t *testing.T) {
	got := Summarize([]AttendanceDay{
		{WorkHours: 8, NightHours: 1},
		{WorkHours: 10, OvertimeHours: 2, IsHoliday: true},
	})
	want := WorkSummary{Days: 2, Hours: 18, OvertimeHours: 2, NightHours: 1, HolidayHours: 10}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestReadBracketsCSV(t *testing.T) {
	src := "income_from,income_to,d1,d2,d3,d4,d5,d6,d7,d8,d9,d10,d11\n" +
		"770,775,\"1,060\",-,-,-,-,-,-,-,-,-,-\n" +
		"9980,10000,1500000,1400000,1300000,1200000,1100000,1000000,900000,800000,700000,600000,500000\n" +
		"10000,10000,0,0,0,0,0,0,0,0,0,0,0\n"

	rows, err := ReadBracketsCSV(strings.NewReader(src), 10_000_000)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 22 {
		t.Fatalf("expected 22 rows, got %d", len(rows))
	}
	first := rows[0]
	if first.From != 770_000 || first.To != 775_000 || first.Dependents != 1 || first.Tax != 1060 {
		t.Fatalf("unexpected first row %+v", first)
	}
	if rows[1].Tax != 0 {
		t.Fatalf("dash should read as zero, got %d", rows[1].Tax)
	}
	table := NewMemoryTable(rows)
	tax, found, _ := table.Lookup(context.Background(), 9_990_000, 11)
	if !found || tax != 500000 {
		t.Fatalf("lookup = %d %v", tax, found)
	}
}

func TestReadBracketsCSVRejectsShortRow(t *testing.T) {
	src := "770,775,1060,0,0,0,0,0,0,0,0,0,0\n775,780,1100\n"
	if _, err := ReadBracketsCSV(strings.NewReader(src), 10_000_000); !errors.Is(err, ErrBadTaxCSV) {
		t.Fatalf("expected ErrBadTaxCSV, got %v", err)
	}
}
