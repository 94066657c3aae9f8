// Package cli provides common CLI initialization utilities.
// This package consolidates repeated initialization patterns across
// cmd/dompet, cmd/dompet-worker, and cmd/dompetctl.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dompet/internal/backend"
	"dompet/internal/config"
	"dompet/internal/journal"
	"dompet/internal/journal/sheets"
	"dompet/internal/ledger"
	"dompet/internal/log"
)

// SetupLogger initializes structured logging at level and makes it the
// default slog logger.
func SetupLogger(level string) *log.Logger {
	logger := log.New(log.Config{Level: log.ParseLevel(level), Component: log.ComponentApp})
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadConfig loads and validates configuration.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoadConfig loads configuration and sets up the default logger from it.
// It exits the process when the configuration is invalid.
func MustLoadConfig() (*config.Config, *log.Logger) {
	LoadEnvFile()
	cfg, err := LoadConfig()
	if err != nil {
		logger := SetupLogger("info")
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg, SetupLogger(cfg.LogLevel)
}

// MustOpenStore opens the configured store or exits the process.
func MustOpenStore(ctx context.Context, logger *log.Logger, cfg *config.Config) *backend.Result {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.Open(ctx, bcfg, logger)
	if err != nil {
		logger.Error("Failed to open store", log.FieldError, err, "backend", bcfg.Type)
		os.Exit(1)
	}
	return res
}

// LedgerConfig maps process settings onto the ledger service.
func LedgerConfig(cfg *config.Config, logger *log.Logger, pub ledger.Publisher) ledger.Config {
	lcfg := ledger.DefaultConfig()
	lcfg.LockTimeout = cfg.LockTimeout
	lcfg.Logger = logger
	if pub != nil {
		lcfg.Publisher = pub
	}
	return lcfg
}

// OpenJournal returns the Sheets journal when a spreadsheet is configured,
// and nil otherwise.
func OpenJournal(ctx context.Context, logger *log.Logger, cfg *config.Config) (journal.Writer, error) {
	if !cfg.JournalEnabled() {
		return nil, nil
	}
	client, err := sheets.New(ctx, sheets.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleJournalSheet,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := client.EnsureHeader(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that is cancelled on a shutdown signal or when stop is
// called, and a channel that is closed once cleanup has finished.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (ctx context.Context, stop context.CancelFunc, done <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(finished)
	}()

	return ctx, cancel, finished
}

// WaitForShutdown blocks until the context is cancelled and cleanup ran.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
