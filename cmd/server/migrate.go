package main

import (
	"github.com/spf13/cobra"

	"signalflow/backend/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := repository.NewPostgresStore(pool).Migrate(ctx); err != nil {
			return err
		}
		logger.Info("Schema applied", "database", cfg.DB.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
