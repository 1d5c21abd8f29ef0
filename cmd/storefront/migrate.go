package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sailfish-mobile/storefront/internal/app/runtime"
	"github.com/sailfish-mobile/storefront/internal/config"
	"github.com/sailfish-mobile/storefront/internal/platform/migrations"
)

var migrateDown bool

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply (or with --down, revert) the database schema",
		Long: `Apply the embedded schema migrations to the configured database.

Examples:
  storefront migrate
  storefront migrate --down
  storefront migrate version`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, cfg, err := openConfiguredDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if migrateDown {
				if err := migrations.Rollback(cmd.Context(), db, cfg.Database.Driver); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema reverted")
				return nil
			}
			if err := migrations.Apply(cmd.Context(), db, cfg.Database.Driver); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
	cmd.Flags().BoolVar(&migrateDown, "down", false, "revert every applied migration")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, cfg, err := openConfiguredDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			version, dirty, err := migrations.Version(cmd.Context(), db, cfg.Database.Driver)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %v)\n", version, dirty)
			return nil
		},
	})
	return cmd
}

func openConfiguredDatabase(ctx context.Context) (*sql.DB, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Database.UsesSQL() {
		return nil, nil, errors.New("migrations need a SQL database driver")
	}
	db, err := runtime.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return db, cfg, nil
}
