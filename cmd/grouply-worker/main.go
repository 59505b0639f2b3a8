package main

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"grouply/internal/amqp"
	"grouply/internal/cli"
	"grouply/internal/config"
	"grouply/internal/export/google"
	"grouply/internal/log"
	"grouply/internal/metrics"
	"grouply/internal/services"
	"grouply/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig(log.ComponentWorker, (*config.Config).ValidateExport)
	logger.Info("Starting grouply-worker")

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	result := cli.OpenBackend(ctx, logger, cfg, false)
	defer func() {
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	}()
	ledger := services.NewLedgerService(result.Store, services.WithLogger(logger))

	exporter, err := google.NewFromEnv(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleSheetName)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets exporter", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets exporter initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	consumer, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer consumer.Close()

	m := metrics.New(prometheus.NewRegistry())
	w := worker.NewExportWorker(ledger, consumer, exporter, m, logger, cfg.ExportBatchSize).
		WithReconcileInterval(cfg.ExportInterval)

	if err := w.Run(ctx); err != nil {
		logger.Error("Export worker failed", log.FieldError, err)
	}
	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped")
}
