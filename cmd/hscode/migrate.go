package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/hscode-copilot/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the SQLite schema that holds sessions, finalized
products and verification calls.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "show the current schema version without applying changes")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	statusOnly, _ := cmd.Flags().GetBool("status")
	dbPath := cfg.Database.Path

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close database", "error", closeErr)
		}
	}()

	current, err := store.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	if statusOnly {
		slog.Info("Database migration status",
			"database", dbPath,
			"current_version", current,
			"latest_version", storage.ExpectedSchemaVersion,
			"pending", current < storage.ExpectedSchemaVersion)
		return nil
	}

	slog.Info("Running database migrations", "database", dbPath, "from_version", current)
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	slog.Info("Database migrations completed", "version", storage.ExpectedSchemaVersion)
	return nil
}
