package payroll

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed rates_2026.yaml
var defaultRates []byte

type PensionRates struct {
	Rate    float64 `yaml:"rate"`
	MinBase int64   `yaml:"min_base"`
	MaxBase int64   `yaml:"max_base"`
}

type MinimumWage struct {
	Hourly       int64 `yaml:"hourly"`
	Monthly      int64 `yaml:"monthly"`
	MonthlyHours int64 `yaml:"monthly_hours"`
}

// TaxBand is one progressive band above the simplified table ceiling.
// To == 0 means unbounded.
type TaxBand struct {
	From   int64   `yaml:"from"`
	To     int64   `yaml:"to"`
	Fixed  int64   `yaml:"fixed"`
	Factor float64 `yaml:"factor"`
	Rate   float64 `yaml:"rate"`
}

type IncomeTaxRates struct {
	TableCeiling int64     `yaml:"table_ceiling"`
	Bands        []TaxBand `yaml:"bands"`
}

type Rates struct {
	Year                    int            `yaml:"year"`
	NationalPension         PensionRates   `yaml:"national_pension"`
	HealthInsuranceRate     float64        `yaml:"health_insurance_rate"`
	LongTermCareRate        float64        `yaml:"long_term_care_rate"`
	EmploymentInsuranceRate float64        `yaml:"employment_insurance_rate"`
	LocalIncomeTaxRate      float64        `yaml:"local_income_tax_rate"`
	MinimumWage             MinimumWage    `yaml:"minimum_wage"`
	IncomeTax               IncomeTaxRates `yaml:"income_tax"`
}

// LoadRates parses path, or the embedded 2026 table when path is empty.
func LoadRates(path string) (Rates, error) {
	raw := defaultRates
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Rates{}, fmt.Errorf("read payroll rates: %w", err)
		}
		raw = b
	}
	var r Rates
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return Rates{}, fmt.Errorf("parse payroll rates: %w", err)
	}
	if err := r.validate(); err != nil {
		return Rates{}, err
	}
	return r, nil
}

// MustDefaultRates is for tests and the offline calculator.
func MustDefaultRates() Rates {
	r, err := LoadRates("")
	if err != nil {
		panic(err)
	}
	return r
}

func (r Rates) validate() error {
	switch {
	case r.NationalPension.Rate <= 0 || r.HealthInsuranceRate <= 0 || r.EmploymentInsuranceRate <= 0:
		return fmt.Errorf("payroll rates: insurance rates must be positive")
	case r.NationalPension.MaxBase < r.NationalPension.MinBase:
		return fmt.Errorf("payroll rates: pension max_base below min_base")
	case r.MinimumWage.MonthlyHours <= 0:
		return fmt.Errorf("payroll rates: minimum_wage.monthly_hours must be positive")
	case r.IncomeTax.TableCeiling <= 0 || len(r.IncomeTax.Bands) == 0:
		return fmt.Errorf("payroll rates: income_tax bands missing")
	}
	return nil
}
