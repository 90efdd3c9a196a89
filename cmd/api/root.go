package main

import (
	"context"

	"lv-papertrade/internal/config"
	"lv-papertrade/internal/db"
	"lv-papertrade/internal/ledger"
	"lv-papertrade/internal/logging"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "papertrade",
	Short: "Single-account BTC paper trading service",
	Long: `papertrade simulates spot BTC trading against a live index price.

One account holds a cash balance and an asset balance. Orders are opened
and closed at the current price and settled against that account.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
			return errors.Wrapf(err, "load %s", envFile)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.AddCommand(serveCmd, migrateCmd, auditCmd)
}

func loadConfig() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}
	log, err := logging.New(logging.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   true,
		JSON:       cfg.LogJSON,
	})
	if err != nil {
		return cfg, nil, errors.Wrap(err, "init logging")
	}
	return cfg, log, nil
}

// openLedger connects the configured ledger backend and brings its schema
// up to date.
func openLedger(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (ledger.Store, error) {
	switch cfg.LedgerDriver {
	case config.LedgerDriverSQLite:
		store, err := ledger.OpenSQLite(ctx, cfg.DBDSN, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		pool, err := db.NewPool(ctx, cfg.DBDSN)
		if err != nil {
			return nil, errors.Wrap(err, "connect postgres")
		}
		applied, err := db.Migrate(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		for _, name := range applied {
			log.WithField("migration", name).Info("migration applied")
		}
		return ledger.NewPostgresStore(pool, log), nil
	}
}
