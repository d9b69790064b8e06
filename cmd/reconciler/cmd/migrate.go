package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"payment-reconciliation-engine/cmd/reconciler/config"
	"payment-reconciliation-engine/internal/store"
	"payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the Postgres schema",
	Long: `Migrate creates the obligations, payments and reconciliation_reports
tables. It requires store.driver=postgres and is safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if appConfig.Store.Driver != config.DriverPostgres {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "store.driver", appConfig.Store.Driver, nil).
				WithSuggestion("Set RECONCILER_STORE_DRIVER=postgres and RECONCILER_STORE_DATABASE_URL")
		}

		ctx := commandContext(cmd)
		pg, err := store.NewPostgresStore(ctx, appConfig.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()

		if err := logger.TimedOperation("migrate", logger.GetGlobalLogger(), func() error {
			return pg.RunMigrations(ctx)
		}); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
