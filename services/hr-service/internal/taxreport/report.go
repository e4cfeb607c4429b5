// Package taxreport builds the monthly withholding ledger (급여대장) from
// approved payroll.
package taxreport

import (
	"bytes"
	"encoding/csv"
	"strconv"
)

// MaskedResidentNumber is printed in place of resident registration numbers,
// which are never stored.
const MaskedResidentNumber = "******-*******"

// Line is one payroll row as the ledger needs it.
type Line struct {
	EmployeeName        string
	GrossPay            int64
	MealAllowance       int64
	CarAllowance        int64
	ChildcareAllowance  int64
	NationalPension     int64
	HealthInsurance     int64
	LongTermCare        int64
	EmploymentInsurance int64
	IncomeTax           int64
	LocalIncomeTax      int64
}

type Row struct {
	Name                string `json:"name"`
	ResidentNumber      string `json:"resident_number"`
	GrossPay            int64  `json:"gross_pay"`
	NonTaxable          int64  `json:"non_taxable"`
	TaxableIncome       int64  `json:"taxable_income"`
	NationalPension     int64  `json:"national_pension"`
	HealthInsurance     int64  `json:"health_insurance"`
	LongTermCare        int64  `json:"long_term_care"`
	EmploymentInsurance int64  `json:"employment_insurance"`
	IncomeTax           int64  `json:"income_tax"`
	LocalTax            int64  `json:"local_tax"`
}

type Totals struct {
	GrossPay            int64 `json:"gross_pay"`
	NonTaxable          int64 `json:"non_taxable"`
	TaxableIncome       int64 `json:"taxable_income"`
	NationalPension     int64 `json:"national_pension"`
	HealthInsurance     int64 `json:"health_insurance"`
	LongTermCare        int64 `json:"long_term_care"`
	EmploymentInsurance int64 `json:"employment_insurance"`
	IncomeTax           int64 `json:"income_tax"`
	LocalTax            int64 `json:"local_tax"`
}

type Report struct {
	Month         string `json:"month"`
	EmployeeCount int    `json:"employee_count"`
	Employees     []Row  `json:"employees"`
	Totals        Totals `json:"totals"`
}

func Build(month string, lines []Line) Report {
	rep := Report{Month: month, Employees: make([]Row, 0, len(lines))}
	for _, l := range lines {
		name := l.EmployeeName
		if name == "" {
			name = "알 수 없음"
		}
		nonTaxable := l.MealAllowance + l.CarAllowance + l.ChildcareAllowance
		row := Row{
			Name:                name,
			ResidentNumber:      MaskedResidentNumber,
			GrossPay:            l.GrossPay,
			NonTaxable:          nonTaxable,
			TaxableIncome:       l.GrossPay - nonTaxable,
			NationalPension:     l.NationalPension,
			HealthInsurance:     l.HealthInsurance,
			LongTermCare:        l.LongTermCare,
			EmploymentInsurance: l.EmploymentInsurance,
			IncomeTax:           l.IncomeTax,
			LocalTax:            l.LocalIncomeTax,
		}
		rep.Employees = append(rep.Employees, row)

		t := &rep.Totals
		t.GrossPay += row.GrossPay
		t.NonTaxable += row.NonTaxable
		t.TaxableIncome += row.TaxableIncome
		t.NationalPension += row.NationalPension
		t.HealthInsurance += row.HealthInsurance
		t.LongTermCare += row.LongTermCare
		t.EmploymentInsurance += row.EmploymentInsurance
		t.IncomeTax += row.IncomeTax
		t.LocalTax += row.LocalTax
	}
	rep.EmployeeCount = len(rep.Employees)
	return rep
}

var header = []string{
	"성명", "주민등록번호", "총지급액", "비과세", "과세소득",
	"국민연금", "건강보험", "장기요양", "고용보험", "소득세", "지방소득세",
}

// CSV renders the report with a UTF-8 byte order mark so spreadsheet tools
// pick the right encoding.
func CSV(rep Report) []byte {
	var buf bytes.Buffer
	buf.WriteString("\xEF\xBB\xBF")
	w := csv.NewWriter(&buf)
	_ = w.Write(header)
	for _, r := range rep.Employees {
		_ = w.Write([]string{
			r.Name, r.ResidentNumber, itoa(r.GrossPay), itoa(r.NonTaxable), itoa(r.TaxableIncome),
			itoa(r.NationalPension), itoa(r.HealthInsurance), itoa(r.LongTermCare),
			itoa(r.EmploymentInsurance), itoa(r.IncomeTax), itoa(r.LocalTax),
		})
	}
	t := rep.Totals
	_ = w.Write([]string{
		"합계", "", itoa(t.GrossPay), itoa(t.NonTaxable), itoa(t.TaxableIncome),
		itoa(t.NationalPension), itoa(t.HealthInsurance), itoa(t.LongTermCare),
		itoa(t.EmploymentInsurance), itoa(t.IncomeTax), itoa(t.LocalTax),
	})
	w.Flush()
	return buf.Bytes()
}

func Filename(month string) string {
	return "급여대장_" + month + ".csv"
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
