package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg.DB)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()

		if err := store.Migrate(cfg.DB.MigrationsPath); err != nil {
			return err
		}
		logger.Info("migrations applied", "db", cfg.DB.Path, "source", cfg.DB.MigrationsPath)
		return nil
	},
}
