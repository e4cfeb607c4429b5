package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/notion"
	"github.com/md-rashed-zaman/mspharm/libs/outbox"
	objstore "github.com/md-rashed-zaman/mspharm/libs/storage"
	"github.com/md-rashed-zaman/mspharm/tools/pharmctl/internal/importer"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

func hashPIN(pin string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	return string(b), err
}

func (a *app) importer(ctx context.Context, dryRun bool, concurrency int) (*importer.Importer, func(), error) {
	client, err := notion.New(notion.Config{
		Token:         a.cfg.NotionToken,
		RatePerSecond: a.cfg.NotionRate,
		Attempts:      a.cfg.NotionAttempts,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("notion: %w", err)
	}
	pool, err := a.pool(ctx)
	if err != nil {
		return nil, nil, err
	}

	var store objstore.Store
	if dryRun || a.cfg.SupabaseURL == "" {
		store = objstore.NewMemory()
	} else if store, err = objstore.NewSupabase(objstore.Config{URL: a.cfg.SupabaseURL, ServiceKey: a.cfg.SupabaseServiceKey}); err != nil {
		pool.Close()
		return nil, nil, err
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	fetch := func(ctx context.Context, url string) ([]byte, string, error) {
		return objstore.Fetch(ctx, httpClient, url, a.cfg.ImageMaxBytes)
	}
	im := importer.New(client, importer.NewPgSink(pool, outbox.NewRepository()), store, fetch, importer.Config{
		CustomerDB:     a.cfg.NotionCustomerDB,
		ConsultationDB: a.cfg.NotionConsultationDB,
		Concurrency:    concurrency,
		DryRun:         dryRun,
		HashPIN:        hashPIN,
	}, a.logger.With("component", "importer"))
	return im, pool.Close, nil
}

func newNotionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notion",
		Short: "Move legacy Notion data into Postgres",
	}

	var (
		dryRun      bool
		concurrency int
	)
	importCmd := &cobra.Command{
		Use:       "import customers|consultations",
		Short:     "Import a Notion database; rows already present are skipped",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"customers", "consultations"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] != "customers" && args[0] != "consultations" {
				return fmt.Errorf("unknown database %q", args[0])
			}
			im, closeFn, err := a.importer(cmd.Context(), dryRun, concurrency)
			if err != nil {
				return err
			}
			defer closeFn()

			started := time.Now()
			var rep *importer.Report
			if args[0] == "customers" {
				rep, err = im.Customers(cmd.Context())
			} else {
				rep, err = im.Consultations(cmd.Context())
			}
			if rep != nil {
				rep.Print(a.out)
			}
			if dryRun {
				fmt.Fprintln(a.out, "dry run: nothing was written")
			}
			fmt.Fprintf(a.out, "took %s\n", time.Since(started).Round(time.Second))
			return err
		},
	}
	importCmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and report without writing")
	importCmd.Flags().IntVar(&concurrency, "concurrency", 4, "rows processed in parallel")

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare Notion and Postgres row counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			im, closeFn, err := a.importer(cmd.Context(), true, 1)
			if err != nil {
				return err
			}
			defer closeFn()
			v, err := im.Verify(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "customers: notion=%d postgres=%d\n", v.NotionCustomers, v.DBCustomers)
			fmt.Fprintf(a.out, "consultations: notion=%d postgres=%d\n", v.NotionConsultations, v.DBConsultations)
			for _, id := range v.Missing {
				fmt.Fprintf(a.out, "  missing %s\n", id)
			}
			if !v.Complete() {
				return fmt.Errorf("%d consultations missing", len(v.Missing))
			}
			fmt.Fprintln(a.out, "migration complete")
			return nil
		},
	}

	cmd.AddCommand(importCmd, verifyCmd)
	return cmd
}
