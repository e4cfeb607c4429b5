package main

import (
	"fmt"
	"os"

	"github.com/md-rashed-zaman/mspharm/libs/payroll"
	"github.com/spf13/cobra"
)

func newTaxTableCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tax-table",
		Short: "Manage the withholding tax table",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <csv>",
		Short: "Replace income_tax_brackets_2026 with the rows of a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := readBrackets(args[0], payroll.MustDefaultRates().IncomeTax.TableCeiling)
			if err != nil {
				return err
			}
			pool, err := a.pool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := payroll.ReplaceBrackets(cmd.Context(), pool, rows); err != nil {
				return fmt.Errorf("load tax table: %w", err)
			}
			fmt.Fprintf(a.out, "loaded %d brackets\n", len(rows))
			return nil
		},
	})
	return cmd
}

func readBrackets(path string, ceiling int64) ([]payroll.Bracket, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return payroll.ReadBracketsCSV(f, ceiling)
}
