package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hireloop/mailroom/config"
	"github.com/hireloop/mailroom/db"
	"github.com/hireloop/mailroom/imports"
	"github.com/hireloop/mailroom/logger"
)

// loadConfig loads configuration, honoring the --config flag when given.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openDatabase opens the configured database and applies migrations.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return database, nil
}

// buildStores constructs the run and item stores over an open database.
func buildStores(database *sql.DB) (*imports.RunStore, *imports.ItemStore) {
	return imports.NewRunStore(database), imports.NewItemStore(database)
}
