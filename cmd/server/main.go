/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the entitlement engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env files, environment, flags)
  2. Initialize SQLite store and seed the embedded rate tables
  3. Wrap the store with retries and the rule lookup
  4. Connect Redis caches when REDIS_URL is set
  5. Start the event dispatcher
  6. Build the auditor, travel calculator and HTTP router
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port        HTTP server port (default: 8080, env ENGINE_PORT)
  -db          SQLite database path (default: entitlements.db, env ENGINE_DB)
               Use ":memory:" for in-memory database
  -seed        Load embedded rate tables at startup (default: true, env ENGINE_SEED)
  -redis       Redis URL for caches (env REDIS_URL, empty disables)
  -log-level   debug | info | warn | error (env LOG_LEVEL)
  -log-format  json | text (env LOG_FORMAT)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Drain queued analytics events
  4. Close Redis and database connections
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/entitlements.db"

  # Run in memory with Redis caches
  REDIS_URL=redis://localhost:6379/0 ./server -db=":memory:"

SEE ALSO:
  - config/config.go: Configuration sources and precedence
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/garrison-ledger/entitlement-engine/api"
	"github.com/garrison-ledger/entitlement-engine/config"
	"github.com/garrison-ledger/entitlement-engine/events"
	"github.com/garrison-ledger/entitlement-engine/factory"
	"github.com/garrison-ledger/entitlement-engine/generic"
	"github.com/garrison-ledger/entitlement-engine/metrics"
	"github.com/garrison-ledger/entitlement-engine/payaudit"
	rediscache "github.com/garrison-ledger/entitlement-engine/store/redis"
	"github.com/garrison-ledger/entitlement-engine/store/sqlite"
	"github.com/garrison-ledger/entitlement-engine/travel"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)
	ctx := context.Background()

	// Initialize store
	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Seed {
		records, err := factory.DefaultRateTables()
		if err != nil {
			return err
		}
		if err := db.SaveRates(ctx, records); err != nil {
			return err
		}
		logger.Info("rate tables seeded", "records", len(records))
	}

	collector := metrics.New(logger)

	retrying := generic.NewRetryingStore(db)
	retrying.Logger = logger
	lookup := generic.NewLookup(retrying)
	lookup.Logger = logger
	lookup.Observer = collector

	// Analytics events
	dispatcher := events.NewAsync(db, logger)
	dispatcher.Drops = collector
	dispatcher.Start()
	defer dispatcher.Stop()

	// Optional Redis caches
	var builder payaudit.SnapshotBuilder = payaudit.NewBuilder(lookup)
	var tiers payaudit.TierResolver = db

	redisClient, err := rediscache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn("redis unavailable, running without caches", "error", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		builder = &payaudit.CachedBuilder{
			Next:   builder,
			Cache:  rediscache.NewSnapshotCache(redisClient, cfg.SnapshotTTL),
			Logger: logger,
		}
		tiers = rediscache.NewTierCache(redisClient, db, 0, logger)
		logger.Info("redis caches enabled")
	}

	auditor := payaudit.NewAuditor(builder, tiers, logger)
	auditor.History = db
	auditor.Sink = db
	auditor.Events = dispatcher
	auditor.Observer = collector

	calculator := travel.NewCalculator(lookup, logger)
	calculator.Events = dispatcher
	calculator.Observer = collector

	// Initialize handler
	handler := api.NewHandler(auditor, calculator, lookup, logger)
	handler.Checks["sqlite"] = db
	if redisClient != nil {
		handler.Checks["redis"] = api.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORSOrigins,
		Metrics:        collector.Handler(),
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr(), "db", cfg.DBPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}
