// Command pharmctl is the operator CLI: migrations, the Notion import, tax
// table loading, employee seeding and an offline payroll calculator.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/runtime"
	"github.com/spf13/cobra"
	"go-simpler.org/env"
)

type Config struct {
	DatabaseURL          string  `env:"DATABASE_URL"`
	NotionToken          string  `env:"NOTION_TOKEN"`
	NotionCustomerDB     string  `env:"NOTION_CUSTOMER_DB"`
	NotionConsultationDB string  `env:"NOTION_CONSULTATION_DB"`
	NotionRate           float64 `env:"NOTION_RATE" default:"3"`
	NotionAttempts       int     `env:"NOTION_ATTEMPTS" default:"3"`
	SupabaseURL          string  `env:"SUPABASE_URL"`
	SupabaseServiceKey   string  `env:"SUPABASE_SERVICE_ROLE_KEY"`
	ImageMaxBytes        int64   `env:"IMAGE_MAX_BYTES" default:"10485760"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := runtime.LoadDotEnv(); err != nil {
		return cfg, err
	}
	if err := env.Load(&cfg, nil); err != nil {
		return cfg, fmt.Errorf("load environment: %w", err)
	}
	return cfg, nil
}

// app carries what every command shares.
type app struct {
	cfg    Config
	out    io.Writer
	logger *slog.Logger
}

func (a *app) pool(ctx context.Context) (*db.Pool, error) {
	if a.cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return db.Open(ctx, a.cfg.DatabaseURL)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "pharmctl",
		Short:         "Operator tooling for the pharmacy back office",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCmd(a),
		newNotionCmd(a),
		newTaxTableCmd(a),
		newEmployeeCmd(a),
		newPayrollCmd(a),
	)
	return root
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctx, stop := runtime.SignalContext()
	defer stop()

	a := &app{cfg: cfg, out: os.Stdout, logger: runtime.NewLogger("pharmctl")}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
