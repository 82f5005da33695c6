package main

import (
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/billsync/internal/db/migrations"
	"github.com/dmitrymomot/billsync/pkg/pg"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		pool, err := pg.Connect(cmd.Context(), cfg.PG)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := pg.Migrate(cmd.Context(), pool, cfg.PG, migrations.FS, log); err != nil {
			return err
		}
		log.Info("migrations applied")
		return nil
	},
}
