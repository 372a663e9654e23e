package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/genstudio-credit-ledger/internal/api"
	"github.com/genstudio-credit-ledger/internal/config"
	"github.com/genstudio-credit-ledger/internal/data/mongo"
	"github.com/genstudio-credit-ledger/internal/data/postgres"
	"github.com/genstudio-credit-ledger/internal/events"
	"github.com/genstudio-credit-ledger/internal/ledger"
	"github.com/genstudio-credit-ledger/internal/locks"
	"github.com/genstudio-credit-ledger/internal/logger"
	"github.com/genstudio-credit-ledger/internal/orchestrator"
	"github.com/genstudio-credit-ledger/internal/platform/messaging/producers"
	"github.com/genstudio-credit-ledger/internal/platform/persistence"
	"github.com/genstudio-credit-ledger/internal/platform/provider"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("credit_api")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting Credit API",
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

	// Initialize Kafka producer for the credit event stream
	eventProducer, err := producers.NewCreditEventProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize credit event Kafka producer", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	accountRepo := postgres.NewAccountRepository(log, postgresDB)
	transactionRepo := postgres.NewTransactionRepository(log, postgresDB)
	lockRepo := postgres.NewLockRepository(log, postgresDB)
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	jobRepo := mongo.NewJobRepository(log, mongoDB.Database())

	// Initialize services
	ledgerService := ledger.NewService(postgresDB, accountRepo, transactionRepo, outboxRepo, log)
	lockManager := locks.NewManager(lockRepo, cfg.Jobs.LockTTL, log)
	providerClient := provider.NewClient(cfg.Provider)

	jobOrchestrator, err := orchestrator.New(
		ledgerService,
		lockManager,
		jobRepo,
		providerClient,
		cfg.WorkerPool.Size,
		cfg.Jobs,
		cfg.Provider,
		log,
	)
	if err != nil {
		log.Error("Failed to initialize job orchestrator", "error", err)
		os.Exit(1)
	}

	// Initialize the outbox poller that drains credit events to Kafka
	eventPoller := events.NewPoller(&cfg.Outbox, outboxRepo, eventProducer, log)

	// Initialize REST server
	server := api.NewServer(log, cfg, ledgerService, lockManager, jobOrchestrator)
	log.Info("REST server initialized")

	// Create error channel for server errors
	errChan := make(chan error, 1)

	var wg sync.WaitGroup

	// Start outbox poller in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		eventPoller.Start(appCtx)
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
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Shutdown HTTP server first so no new jobs come in
	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	// Stop the poller pool; abandoned polls are settled by the reconciler
	jobOrchestrator.Shutdown()

	// Wait for the event poller to finish its current batch
	wg.Wait()

	if err = eventProducer.Close(); err != nil {
		log.Error("Error closing Kafka producer", "error", err)
	}

	// Shutdown postgres connection pool
	postgresDB.Close()

	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
	}
	if err != nil {
		log.Error("Server shutdown completed with errors")
	} else {
		log.Info("Server shutdown completed successfully")
	}
}
