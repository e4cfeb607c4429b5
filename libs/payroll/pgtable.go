package payroll

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/db"
)

// PgTaxTable reads income_tax_brackets_2026.
type PgTaxTable struct {
	pool *db.Pool
}

func NewPgTaxTable(pool *db.Pool) *PgTaxTable {
	return &PgTaxTable{pool: pool}
}

func (t *PgTaxTable) Lookup(ctx context.Context, income int64, dependents int) (int64, bool, error) {
	var tax int64
	err := t.pool.QueryRow(ctx, `
		SELECT tax_amount FROM income_tax_brackets_2026
		WHERE dependent_count = $1 AND income_from <= $2 AND income_to > $2
		LIMIT 1
	`, ClampDependents(dependents), income).Scan(&tax)
	if db.IsNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup income tax: %w", err)
	}
	return tax, true, nil
}

// ReplaceBrackets swaps the whole table in one transaction.
func ReplaceBrackets(ctx context.Context, pool *db.Pool, rows []Bracket) error {
	return pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM income_tax_brackets_2026`); err != nil {
			return err
		}
		src := make([][]any, 0, len(rows))
		for _, r := range rows {
			src = append(src, []any{r.From, r.To, r.Dependents, r.Tax})
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"income_tax_brackets_2026"},
			[]string{"income_from", "income_to", "dependent_count", "tax_amount"},
			pgx.CopyFromRows(src))
		return err
	})
}

var ErrBadTaxCSV = errors.New("malformed tax table csv")

// ReadBracketsCSV parses the published withholding table: income_from and
// income_to in thousand won followed by the tax for 1..11 dependents. Rows at
// or above ceiling are dropped, as are header lines.
func ReadBracketsCSV(r io.Reader, ceiling int64) ([]Bracket, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []Bracket
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrBadTaxCSV, line, err)
		}
		if len(rec) < 2+MaxDependents {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("%w: line %d: want %d columns, got %d", ErrBadTaxCSV, line, 2+MaxDependents, len(rec))
		}
		from, err := csvAmount(rec[0])
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("%w: line %d: %v", ErrBadTaxCSV, line, err)
		}
		to, err := csvAmount(rec[1])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrBadTaxCSV, line, err)
		}
		from, to = from*1000, to*1000
		if from >= ceiling {
			continue
		}
		for d := 1; d <= MaxDependents; d++ {
			tax, err := csvAmount(rec[1+d])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrBadTaxCSV, line, err)
			}
			out = append(out, Bracket{From: from, To: to, Dependents: d, Tax: tax})
		}
	}
	return out, nil
}

func csvAmount(s string) (int64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" || s == "-" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
