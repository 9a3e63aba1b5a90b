package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"flowledger/internal/amqp"
	"flowledger/internal/balance"
	"flowledger/internal/config"
	"flowledger/internal/log"
	"flowledger/internal/notify"
	"flowledger/internal/services"
	"flowledger/internal/storage"
	"flowledger/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()

	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Component: log.ComponentWorker,
		Output:    os.Stdout,
	})
	log.SetDefault(logger)

	logger.Info("Starting ledger-worker")

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	balances := balance.New(repo, repo, repo,
		balance.WithFrontSize(cfg.BalanceCacheSize),
		balance.WithDefaultCurrency(cfg.Currency()))

	// Intents are published to the broker when one is configured, otherwise logged.
	var delivery notify.Sink = notify.LogSink{Logger: logger.Logger}
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, logging notification intents instead", log.FieldError, err)
		} else {
			defer amqpClient.Close()
			delivery = amqpClient
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("AMQP disabled - notification intents will be logged")
	}

	queue := notify.NewQueue(cfg.NotifyQueueSize)
	engine := services.NewEngine(repo, balances, queue, services.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = log.NewContext(ctx, logger)

	dispatcher := worker.NewDispatcher(queue, delivery)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(ctx)
	}()

	scheduler := worker.NewScheduler(worker.SchedulerConfig{
		Interval:     cfg.SweepInterval,
		RunOnStartup: cfg.SweepOnStartup,
	}, worker.EngineStages(engine)...)

	if err := scheduler.Start(ctx); err != nil {
		logger.Error("Failed to start sweep scheduler", log.FieldError, err)
		os.Exit(1)
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down ledger-worker...")
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("Sweep scheduler did not stop in time", log.FieldError, err)
	}
	cancel()

	select {
	case <-dispatchDone:
		stats := dispatcher.Stats()
		logger.Info("Ledger-worker shutdown complete",
			"intents_delivered", stats.Delivered,
			"intents_failed", stats.Failed)
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout reached")
	}
}
