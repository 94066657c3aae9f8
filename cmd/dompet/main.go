package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"dompet/internal/amqp"
	"dompet/internal/cli"
	apphttp "dompet/internal/http"
	"dompet/internal/ledger"
	"dompet/internal/log"
)

func main() {
	// Amounts go over the wire as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	cfg, logger := cli.MustLoadConfig()
	store := cli.MustOpenStore(context.Background(), logger, cfg)

	// Events are optional for the API: without a broker writes still commit.
	var (
		publisher  ledger.Publisher
		amqpClient *amqp.Client
	)
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", log.FieldError, err)
		} else {
			amqpClient, publisher = client, client
			logger.Info("Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	svc := ledger.NewService(store.Store, cli.LedgerConfig(cfg, logger, publisher))

	hcfg := apphttp.DefaultConfig()
	hcfg.Addr = ":" + cfg.Port
	hcfg.Logger = logger
	hcfg.Ready = store.Ready
	srv := apphttp.NewServer(svc, hcfg)

	ctx, stop, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if amqpClient != nil {
			_ = amqpClient.Close()
		}
		if err := store.Close(); err != nil {
			logger.Error("Store close error", log.FieldError, err)
		}
	})

	logger.Info("Starting dompet server", "port", cfg.Port, "backend", cfg.DataBackend,
		"events", amqpClient != nil, "lock_timeout", cfg.LockTimeout.String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		stop()
		<-done
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
