package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"dompet/internal/backend"
	"dompet/internal/cli"
	"dompet/internal/config"
	"dompet/internal/core"
	"dompet/internal/ledger"
	"dompet/internal/log"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	configFile string
	dbPath     string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "dompetctl",
		Short:         "Maintenance tool for the dompet ledger",
		Long:          "Run migrations, seed default categories and reconcile payment method balances.",
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "TOML config file (overrides "+config.FileEnv+")")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides SQLITE_DB_PATH)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log engine activity to stderr")

	root.AddCommand(
		newMigrateCmd(opts),
		newSeedCmd(opts),
		newReconcileCmd(opts),
		newBalancesCmd(opts),
	)
	return root
}

// loadConfig resolves settings the same way the server does, then applies
// the command line overrides.
func (o *options) loadConfig() (*config.Config, error) {
	cli.LoadEnvFile()
	if o.configFile != "" {
		if err := os.Setenv(config.FileEnv, o.configFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.DataBackend = string(backend.SQLiteBackend)
	if o.dbPath != "" {
		cfg.SQLiteDBPath = o.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *options) logger(stderr io.Writer) *log.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelInfo
	}
	return log.New(log.Config{
		Level:     level,
		Component: "dompetctl",
		Handler:   slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}),
	})
}

// openService opens the store and wraps it in a ledger service. The returned
// close function releases the store.
func (o *options) openService(cmd *cobra.Command) (*ledger.Service, func(), error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := o.logger(cmd.ErrOrStderr())
	res, err := backend.Open(commandContext(cmd), backend.Config{Type: backend.SQLiteBackend, SQLiteDBPath: cfg.SQLiteDBPath}, logger)
	if err != nil {
		return nil, nil, err
	}
	svc := ledger.NewService(res.Store, cli.LedgerConfig(cfg, logger, nil))
	return svc, func() { _ = res.Close() }, nil
}

var errNoUser = errors.New("--user is required")

func userFlag(cmd *cobra.Command) (core.UserID, error) {
	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		return "", errNoUser
	}
	return core.UserID(user), nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
