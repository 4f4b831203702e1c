package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teemow/callslot/internal/config"
)

func newMigrateCmd() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending database migrations and print the resulting schema version.

serve migrates on startup as well; this command lets a deployment run
migrations as a separate step.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFrom(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("database-url") {
				cfg.Storage.DSN = databaseURL
			}
			return runMigrate(cmd.Context(), cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", "", "SQLite file path or postgres:// URL. Can also use DATABASE_URL env var.")
	return cmd
}

func runMigrate(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn must be set")
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "closing database: %v\n", err)
		}
	}()

	v, err := db.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
	return nil
}
