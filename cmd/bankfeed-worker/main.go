package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bankfeed/internal/amqp"
	"bankfeed/internal/budget"
	"bankfeed/internal/config"
	"bankfeed/internal/core"
	"bankfeed/internal/log"
	"bankfeed/internal/sheets"
	"bankfeed/internal/sheets/google"
	"bankfeed/internal/sheets/memory"
	"bankfeed/internal/storage"
	"bankfeed/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.New(log.Config{})
	log.SetDefault(logger)
	workerLogger := logger.WithComponent(log.ComponentWorker)

	workerLogger.Info("starting bankfeed-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		workerLogger.Error("configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	archive, err := storage.NewArchive(cfg.SQLiteDBPath)
	if err != nil {
		workerLogger.Error("failed to open snapshot archive", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer archive.Close()

	budgetStore, err := budget.Load(cfg.BudgetPath(), core.BaseCategories)
	if err != nil {
		workerLogger.Error("failed to load budget", log.FieldError, err)
		os.Exit(1)
	}

	var writer sheets.SummaryWriter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := google.New(context.Background(), cfg.GoogleSpreadsheetID, cfg.GoogleSheetName)
		if err != nil {
			workerLogger.Error("failed to initialize Google Sheets client", log.FieldError, err)
			os.Exit(1)
		}
		writer = client
		workerLogger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		writer = memory.New()
		workerLogger.Info("Google Sheets disabled - exporting to memory only")
	}

	exportWorker := worker.NewExportWorker(archive, budgetStore, writer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pick up any refresh whose announcement was lost while the worker was
	// down.
	workerLogger.Info("performing startup export check")
	if err := exportWorker.StartupExportCheck(ctx); err != nil {
		workerLogger.Error("startup export check failed", log.FieldError, err)
	}

	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			workerLogger.Error("failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer amqpClient.Close()

		go func() {
			handler := func(msg *amqp.LedgerExportMessage) error {
				return exportWorker.HandleExportMessage(ctx, msg)
			}
			if err := amqpClient.ConsumeLedgerExport(ctx, handler); err != nil {
				if !errors.Is(err, context.Canceled) {
					workerLogger.Error("message consumption failed", log.FieldError, err)
				}
				cancel()
			}
		}()
		workerLogger.Info("consuming export announcements", "queue", cfg.AMQPQueue)
	} else {
		workerLogger.Info("no AMQP_URL provided - relying on startup export checks only")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		workerLogger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		workerLogger.Info("context cancelled")
	}

	cancel()
	// Give the in-flight export a moment to finish.
	time.Sleep(2 * time.Second)
	workerLogger.Info("worker shutdown complete")
}
