package main

import (
	"fmt"

	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/migrations"
	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect database migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, err := a.pool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.Migrate(cmd.Context(), pool, migrations.FS, a.logger); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "migrations applied")
			return nil
		},
	}, &cobra.Command{
		Use:   "status",
		Short: "Show the applied and latest migration versions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, err := a.pool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			current, latest, err := db.MigrationStatus(cmd.Context(), pool, migrations.FS)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "current=%d latest=%d pending=%d\n", current, latest, latest-current)
			return nil
		},
	})
	return cmd
}
