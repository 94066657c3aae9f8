package main

import (
	"context"
	"errors"
	"os"
	"time"

	"dompet/internal/amqp"
	"dompet/internal/cli"
	"dompet/internal/ledger"
	"dompet/internal/log"
	"dompet/internal/worker"
)

func main() {
	cfg, logger := cli.MustLoadConfig()
	logger.Info("Starting dompet-worker")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}
	if cfg.DataBackend == "memory" {
		logger.Warn("Worker uses a private memory store; it cannot see the API's data")
	}

	store := cli.MustOpenStore(context.Background(), logger, cfg)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}

	journal, err := cli.OpenJournal(context.Background(), logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets journal", log.FieldError, err)
		os.Exit(1)
	}
	if journal != nil {
		logger.Info("Google Sheets journal enabled",
			"spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleJournalSheet)
	} else {
		logger.Info("Google Sheets journal disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	// Reconciles made by the worker are published too, so they reach the journal.
	svc := ledger.NewService(store.Store, cli.LedgerConfig(cfg, logger, amqpClient))
	auditor := worker.NewAuditWorker(svc, worker.Config{
		Autofix: cfg.AuditAutofix,
		Journal: journal,
		Logger:  logger,
	})

	ctx, stop, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		_ = amqpClient.Close()
		if err := store.Close(); err != nil {
			logger.Error("Store close error", log.FieldError, err)
		}
	})

	go auditor.Run(ctx, cfg.AuditInterval)

	go func() {
		if err := amqpClient.Consume(ctx, auditor.HandleChange); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", log.FieldError, err)
			stop()
		}
	}()

	logger.Info("Worker running", "autofix", cfg.AuditAutofix, "audit_interval", cfg.AuditInterval.String())
	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
