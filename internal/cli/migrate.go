package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vietddude/blockimport/internal/infra/storage/postgres"
)

var resetSchema bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded database migrations",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&resetSchema, "reset", false, "roll back every migration before applying")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is not configured")
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	if resetSchema {
		slog.Warn("Rolling back all migrations")
		if err := db.Reset(ctx); err != nil {
			return err
		}
	}
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	version, err := db.MigrationVersion(ctx)
	if err != nil {
		return err
	}
	slog.Info("Database migrated", "version", version)
	return nil
}
