package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bankfeed/internal/amqp"
	"bankfeed/internal/budget"
	"bankfeed/internal/config"
	"bankfeed/internal/core"
	apphttp "bankfeed/internal/http"
	"bankfeed/internal/ingest"
	"bankfeed/internal/ledger"
	"bankfeed/internal/log"
	"bankfeed/internal/provider"
	"bankfeed/internal/rules"
	"bankfeed/internal/services"
	"bankfeed/internal/storage"
	"bankfeed/internal/tokens"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.New(log.Config{})
	log.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	client, err := provider.NewHTTPClient(cfg.ProviderEnv, cfg.ProviderClientID, cfg.ProviderSecret)
	if err != nil {
		logger.Error("failed to initialize provider client", log.FieldError, err)
		os.Exit(1)
	}

	start, err := core.ParseDate(cfg.StartDate)
	if err != nil {
		logger.Error("invalid ledger start date", log.FieldError, err)
		os.Exit(1)
	}
	end, err := core.ParseDate(cfg.EndDate)
	if err != nil {
		logger.Error("invalid ledger end date", log.FieldError, err)
		os.Exit(1)
	}

	fetcher := ingest.New(client, ingest.Config{
		Range:        provider.DateRange{Start: start, End: end},
		MaxAttempts:  cfg.FetchMaxAttempts,
		RetryDelay:   cfg.FetchRetryDelay,
		BalanceField: cfg.BalanceField,
	}, logger)

	ruleStore, err := rules.NewStore(cfg.RulesPath())
	if err != nil {
		logger.Error("failed to load categorization rules", log.FieldError, err)
		os.Exit(1)
	}
	budgetStore, err := budget.Load(cfg.BudgetPath(), core.BaseCategories)
	if err != nil {
		logger.Error("failed to load budget", log.FieldError, err)
		os.Exit(1)
	}
	tokenStore, err := tokens.NewStore(cfg.TokensPath())
	if err != nil {
		logger.Error("failed to load credential store", log.FieldError, err)
		os.Exit(1)
	}

	archive, err := storage.NewArchive(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("failed to open snapshot archive", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer archive.Close()

	// The export announcement channel is optional; without it refreshes
	// still archive, and the worker picks them up on its next startup.
	var publisher services.ExportPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		publisher = amqpClient
		logger.Info("export announcements enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("export announcements disabled - no AMQP_URL provided")
	}

	holder := ledger.NewHolder()
	svc := services.NewRefreshService(services.RefreshServiceOptions{
		Fetcher:   fetcher,
		Client:    client,
		Rules:     ruleStore,
		Budget:    budgetStore,
		Tokens:    tokenStore,
		Holder:    holder,
		Archive:   archive,
		Publisher: publisher,
		Timeout:   cfg.RefreshTimeout,
		Logger:    logger,
	})

	if err := svc.RestoreFromArchive(context.Background()); err != nil {
		// Serving an empty ledger until the first refresh beats not starting.
		logger.Error("failed to restore archived snapshot", log.FieldError, err)
	}

	srv := apphttp.NewServer(":"+cfg.Port, svc, holder, logger)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 3 * time.Minute // refreshes run inside the request
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", log.FieldError, err)
		}
		cancel()
	}()

	logger.Info("starting bankfeed server", "port", cfg.Port, "provider_env", cfg.ProviderEnv)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("server stopped gracefully")
}
