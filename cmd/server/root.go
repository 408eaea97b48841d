package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"signalflow/backend/internal/config"
	"signalflow/backend/internal/logging"
)

var (
	configFile string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "signalflow",
	Short: "Signal-driven workflow orchestration backend",
	Long: `signalflow ingests business signals, deduplicates them, routes them to
tenant workflows and tracks everything those workflows produce.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Path to .env file")
}

func loadConfig() (*config.Config, *logging.Logger, error) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	}
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"store", cfg.Store.Driver,
		"okta_domain", cfg.Auth.OktaDomain,
		"config_file", viper.ConfigFileUsed(),
	)
	return cfg, logger, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
