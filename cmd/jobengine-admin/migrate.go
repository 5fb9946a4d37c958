package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/target/assessment-jobs/internal/bootstrap"
	"github.com/target/assessment-jobs/internal/migrate"
)

func newMigrateCmd(app *adminApp) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), app.timeout)
			defer cancel()

			db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: cfg.Postgres, Logger: app.logger})
			if err != nil {
				return fmt.Errorf("connect db: %w", err)
			}
			defer func() {
				if closeErr := db.Close(); closeErr != nil {
					app.logger.Warn("db close failed", "error", closeErr)
				}
			}()

			if dryRun {
				pending, err := migrate.Pending(ctx, db)
				if err != nil {
					return fmt.Errorf("list pending migrations: %w", err)
				}
				return printPending(app.out, pending)
			}

			app.logger.Info("running database migrations")
			if err := bootstrap.RunMigrations(ctx, db, app.logger); err != nil {
				return err
			}
			app.logger.Info("migrations completed successfully")
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list pending migrations without applying them")
	return cmd
}
