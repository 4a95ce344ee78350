package main

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sync/errgroup"

	"envelopes/internal/amqp"
	"envelopes/internal/cache"
	"envelopes/internal/cli"
	"envelopes/internal/config"
	"envelopes/internal/log"
	"envelopes/internal/sheets"
	"envelopes/internal/sheets/google"
	"envelopes/internal/sheets/memory"
	"envelopes/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	logger.Info("Starting ledger-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the ledger worker")
		os.Exit(1)
	}

	exporter, err := newExporter(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize exporter", "error", err)
		os.Exit(1)
	}
	exportWorker := worker.NewExportWorker(exporter, logger)

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}

	caches := cache.NewManager(logger)
	caches.Register(exportWorker.Seen())
	caches.StartCleanup(cfg.CacheCleanupInterval)

	base, stop := context.WithCancel(context.Background())
	defer stop()
	ctx, done := cli.GracefulShutdown(base, logger, cfg.ShutdownTimeout, func(context.Context) {
		caches.Stop()
		if err := client.Close(); err != nil {
			logger.Error("AMQP close error", "error", err)
		}
	})

	var g errgroup.Group
	g.Go(func() error {
		defer stop()
		logger.Info("Consuming ledger events", "queue", cfg.AMQPQueue)
		err := client.Consume(ctx, exportWorker.HandleEvent)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	cli.WaitForShutdown(ctx, done)
	if err := g.Wait(); err != nil {
		logger.Error("Message consumption failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}

// newExporter picks Google Sheets when a spreadsheet is configured and an
// in-memory journal otherwise.
func newExporter(cfg *config.Config, logger *log.Logger) (sheets.LedgerExporter, error) {
	if !cfg.SheetsEnabled() {
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided, exporting to memory")
		return memory.New(), nil
	}
	client, err := google.New(context.Background(), google.Options{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleLedgerSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Google Sheets exporter initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	return client, nil
}
