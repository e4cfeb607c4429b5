package main

import (
	"encoding/json"
	"errors"

	"github.com/md-rashed-zaman/mspharm/libs/payroll"
	"github.com/spf13/cobra"
)

type calcFlags struct {
	Gross      int64
	Net        int64
	NonTaxable int64
	Dependents int
	TaxTable   string
	Rates      string
}

type calcResult struct {
	Mode       string                    `json:"mode"`
	Gross      int64                     `json:"gross_pay"`
	Taxable    int64                     `json:"taxable"`
	NonTaxable int64                     `json:"non_taxable"`
	Dependents int                       `json:"dependents"`
	Deductions payroll.Deductions        `json:"deductions"`
	Net        int64                     `json:"net_pay"`
	Search     *payroll.NetToGrossResult `json:"search,omitempty"`
}

func (f calcFlags) calculator() (payroll.Calculator, error) {
	rates, err := payroll.LoadRates(f.Rates)
	if err != nil {
		return payroll.Calculator{}, err
	}
	var rows []payroll.Bracket
	if f.TaxTable != "" {
		if rows, err = readBrackets(f.TaxTable, rates.IncomeTax.TableCeiling); err != nil {
			return payroll.Calculator{}, err
		}
	}
	return payroll.Calculator{Rates: rates, Table: payroll.NewMemoryTable(rows)}, nil
}

func newPayrollCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payroll",
		Short: "Offline payroll tools",
	}
	var f calcFlags
	calc := &cobra.Command{
		Use:   "calc",
		Short: "Compute 2026 deductions from a gross pay, or the gross pay for a net target",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (f.Gross > 0) == (f.Net > 0) {
				return errors.New("pass exactly one of --gross or --net")
			}
			if f.NonTaxable < 0 {
				return errors.New("--non-taxable cannot be negative")
			}
			pc, err := f.calculator()
			if err != nil {
				return err
			}
			deps := payroll.ClampDependents(f.Dependents)
			res := calcResult{NonTaxable: f.NonTaxable, Dependents: deps}

			if f.Gross > 0 {
				res.Mode = "gross"
				res.Gross = f.Gross
				res.Taxable = max(f.Gross-f.NonTaxable, 0)
				if res.Deductions, err = pc.Deductions(cmd.Context(), res.Taxable, deps); err != nil {
					return err
				}
				res.Net = res.Gross - res.Deductions.Total
			} else {
				n2g, err := pc.NetToGross(cmd.Context(), f.Net, f.NonTaxable, deps)
				if err != nil {
					return err
				}
				res.Mode = "net"
				res.Gross, res.Taxable, res.Deductions, res.Net = n2g.Gross, n2g.Taxable, n2g.Deductions, n2g.Net
				res.Search = &n2g
			}
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	calc.Flags().Int64Var(&f.Gross, "gross", 0, "monthly gross pay in won")
	calc.Flags().Int64Var(&f.Net, "net", 0, "target take-home pay in won")
	calc.Flags().Int64Var(&f.NonTaxable, "non-taxable", 0, "non-taxable allowances in won")
	calc.Flags().IntVar(&f.Dependents, "dependents", 1, "dependents including the employee (1-11)")
	calc.Flags().StringVar(&f.TaxTable, "tax-table", "", "withholding table CSV; without it only the bands above the ceiling apply")
	calc.Flags().StringVar(&f.Rates, "rates", "", "rates YAML overriding the built-in 2026 table")
	cmd.AddCommand(calc)
	return cmd
}
