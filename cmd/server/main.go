/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the commission engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment), apply flag overrides
  2. Build the zap logger
  3. Load the rate schedule (RATES_FILE or defaults)
  4. Initialize the store (SQLite, or memory with -db=memory)
  5. Build the distributor with Prometheus metrics
  6. Configure HTTP router, start the batch scheduler if enabled
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS (override environment):
  -port       HTTP server port (PORT, default: 8080)
  -db         SQLite database path (DB_PATH, default: commission.db)
              Use ":memory:" for an in-memory SQLite database, or
              "memory" for the non-SQL in-memory store
  -rates      Rate schedule JSON file (RATES_FILE)
  -log-level  debug, info, warn, error (LOG_LEVEL)
  -batch      Enable the scheduled batch (BATCH_ENABLED)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler, waiting for a running batch
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/estatecrm/commission-engine/api"
	"github.com/estatecrm/commission-engine/commission"
	memstore "github.com/estatecrm/commission-engine/commission/store"
	"github.com/estatecrm/commission-engine/config"
	"github.com/estatecrm/commission-engine/factory"
	"github.com/estatecrm/commission-engine/logging"
	"github.com/estatecrm/commission-engine/metrics"
	"github.com/estatecrm/commission-engine/store/sqlite"
)

// store is what main needs from either backend.
type store interface {
	commission.TxStore
	api.Resetter
}

func main() {
	cfg := config.Load()

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	ratesFile := flag.String("rates", cfg.RatesFile, "Rate schedule JSON file")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level")
	batch := flag.Bool("batch", cfg.Batch.Enabled, "Enable scheduled batch distribution")
	flag.Parse()

	logger, err := logging.New(*logLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	opts := options{port: *port, dbPath: *dbPath, ratesFile: *ratesFile, batch: *batch}
	if err := run(cfg, opts, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

type options struct {
	port      int
	dbPath    string
	ratesFile string
	batch     bool
}

// run owns every resource so deferred cleanup happens before main exits.
func run(cfg config.Config, opts options, logger *zap.Logger) error {
	schedule, err := factory.LoadRateSchedule(opts.ratesFile)
	if err != nil {
		return fmt.Errorf("load rate schedule %q: %w", opts.ratesFile, err)
	}

	// Initialize store
	var st store
	if opts.dbPath == "memory" {
		st = memstore.NewMemory()
	} else {
		db, err := sqlite.New(opts.dbPath)
		if err != nil {
			return fmt.Errorf("initialize database %q: %w", opts.dbPath, err)
		}
		defer db.Close()
		st = db
	}

	m := metrics.New()
	engine := commission.NewDistributor(st, schedule,
		commission.WithLogger(logger),
		commission.WithRecorder(m),
	)

	handler := api.NewHandler(st, engine, logger)
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		Metrics:     m.Handler(),
		Resetter:    st,
	})

	scheduler := api.NewBatchScheduler(engine, cfg.Batch.Schedule, cfg.Batch.Workers, logger)
	scheduler.Enabled = opts.batch
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", opts.port),
			zap.String("db", opts.dbPath),
			zap.String("threshold", schedule.Threshold.String()),
			zap.Bool("batch", opts.batch))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}
