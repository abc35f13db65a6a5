package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cardbridge-reconciler/internal/api"
	"github.com/cardbridge-reconciler/internal/config"
	"github.com/cardbridge-reconciler/internal/data/mongo"
	"github.com/cardbridge-reconciler/internal/data/postgres"
	"github.com/cardbridge-reconciler/internal/ledgerposter"
	"github.com/cardbridge-reconciler/internal/logger"
	"github.com/cardbridge-reconciler/internal/platform/locking"
	"github.com/cardbridge-reconciler/internal/platform/messaging/producers"
	"github.com/cardbridge-reconciler/internal/platform/persistence"
	"github.com/cardbridge-reconciler/internal/provider"
	"github.com/cardbridge-reconciler/internal/reconciler"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("reconciler")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting Card Reconciler",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

	// Initialize databases with app context
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	redisDB, err := persistence.NewRedisDB(appCtx, log, &cfg.Redis)
	if err != nil {
		log.Error("Failed to initialize Redis", "error", err)
		os.Exit(1)
	}

	// Initialize Kafka anomaly producer. May be nil if no anomaly topic is
	// configured; consumers of the publisher are nil-safe.
	anomalyProducer, err := producers.NewAnomalyProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize anomaly Kafka producer", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	txnRepo := postgres.NewTransactionRepository(log, postgresDB)
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	auditRepo := mongo.NewAuditRepository(log, mongoDB.Database())

	// Initialize the provider client
	providerClient, err := provider.NewClient(log, &cfg.Provider)
	if err != nil {
		log.Error("Failed to initialize provider client", "error", err)
		os.Exit(1)
	}

	if !providerClient.TestConnection(appCtx) {
		log.Warn("Provider connectivity probe failed at startup, continuing anyway")
	}

	// Initialize the per-transaction lease
	txnLocker := locking.NewTxnLocker(log, redisDB.Client(), cfg.Redis.LeaseDuration)

	// Initialize services
	syncService, err := reconciler.NewSyncService(log, providerClient, txnRepo, cfg.WorkerPool.Size)
	if err != nil {
		log.Error("Failed to initialize sync service", "error", err)
		os.Exit(1)
	}

	correctiveService := reconciler.NewCorrectiveService(
		log,
		providerClient,
		postgresDB,
		txnRepo,
		outboxRepo,
		auditRepo,
		txnLocker,
		anomalyProducer,
	)

	// Initialize the ledger poster and its outbox poller
	ledgerPoster := ledgerposter.NewHTTPPoster(log, &cfg.Ledger)
	ledgerPoller := reconciler.NewLedgerPoller(&cfg.Outbox, outboxRepo, ledgerPoster, anomalyProducer, log)

	// Initialize REST server
	server := api.NewServer(log, cfg, syncService, correctiveService, providerClient, txnRepo, auditRepo)
	log.Info("REST server initialized")

	// Create error channel for server errors
	errChan := make(chan error, 1)

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	// Start the outbox poller in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting ledger outbox poller",
			"interval", cfg.Outbox.PollingInterval.String(),
			"batch_size", cfg.Outbox.BatchSize,
		)
		ledgerPoller.Start(appCtx)
	}()

	// Start server in goroutine
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Shutdown HTTP server
	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	// Drain the sync worker pool
	syncService.Shutdown()

	// Wait for the poller to finish
	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("Background services stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	// Close the anomaly producer
	if anomalyProducer != nil {
		if err = anomalyProducer.Close(); err != nil {
			log.Error("Error closing anomaly Kafka producer", "error", err)
		}
	}

	// Shutdown postgres connection pool
	postgresDB.Close()

	if err = redisDB.Close(); err != nil {
		log.Error("Error closing Redis connection", "error", err)
	}

	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serverErr != nil {
		log.Error("Card Reconciler shutdown with errors", "error", serverErr)
	} else {
		log.Info("Card Reconciler shutdown completed successfully")
	}
}
