/*
main.go - Application entry point

PURPOSE:
  Starts the household ledger server: loads configuration, opens the
  store, starts the due-processing runner and serves the HTTP API.

STARTUP SEQUENCE:
  1. Parse command-line flags, load config (file + LEDGER_* env)
  2. Open the store selected by database.driver (sqlite, postgres, memory)
  3. Connect Redis when redis.addr is set (batch lock for process-due)
  4. Create handler, runner and router
  5. Start server and runner with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Config file (yaml/json/toml); optional
  -port    Overrides server.port
  -db      Overrides database.path (sqlite); ":memory:" for in-memory

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the due runner (waits for an in-flight pass)
  2. Stop accepting new connections
  3. Wait for active requests to complete (server.shutdown_timeout)
  4. Close Redis and database connections

EXAMPLES:
  # SQLite file database
  ./server -db="./data/ledger.db"

  # Postgres with a Redis batch lock
  LEDGER_DATABASE_DRIVER=postgres \
  LEDGER_DATABASE_DSN="postgres://ledger@localhost/ledger?sslmode=disable" \
  LEDGER_REDIS_ADDR=localhost:6379 ./server

  # Throwaway in-memory store, runner every 5 minutes
  LEDGER_DATABASE_DRIVER=memory LEDGER_SCHEDULER_INTERVAL=5m ./server

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/household-ledger/api"
	"github.com/warp/household-ledger/config"
	"github.com/warp/household-ledger/finance"
	"github.com/warp/household-ledger/logger"
	"github.com/warp/household-ledger/recurring"
	"github.com/warp/household-ledger/store/memory"
	"github.com/warp/household-ledger/store/postgres"
	"github.com/warp/household-ledger/store/redislock"
	"github.com/warp/household-ledger/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "Config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides server.port)")
	dbPath := flag.String("db", "", "SQLite database path (overrides database.path)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	log := logger.New(cfg.Log.Level)
	ctx := logger.WithContext(context.Background(), log)

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	// Initialize store
	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeLogged(log, "store", closeStore)
	log.Info().Str("driver", cfg.Database.Driver).Msg("store ready")

	scheduler := recurring.New(store)

	runner := api.NewDueRunner(scheduler, log.With().Str("component", "due-runner").Logger())
	runner.Enabled = cfg.Scheduler.Enabled
	runner.Interval = cfg.Scheduler.Interval
	runner.LockTTL = cfg.Scheduler.LockTTL

	if cfg.Redis.Addr != "" {
		rdb, err := redislock.Connect(ctx, redislock.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer closeLogged(log, "redis", rdb.Close)
		runner.Locker = redislock.New(rdb)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis batch lock enabled")
	}

	handler := api.NewHandler(store, scheduler)
	handler.Runner = runner

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
		AccessLog:      true,
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msgf("API available at http://localhost:%d/api", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	runner.Start()

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down server")
	case err := <-serverErr:
		runner.Stop()
		return err
	}

	runner.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}

// openStore returns the configured store and its close function.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (finance.TxStore, func() error, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		st, err := postgres.Open(postgres.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return st, st.Close, nil

	case config.DriverMemory:
		return memory.New(), func() error { return nil }, nil

	default:
		st, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	}
}

// closeLogged runs closeFn and logs its error.
func closeLogged(log zerolog.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		log.Warn().Err(err).Str("resource", what).Msg("close failed")
	}
}
