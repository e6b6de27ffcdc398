// Package main runs the settlement daemon: state store, execution
// engine, governance surface and the node submission gateway, with
// Prometheus metrics on the side.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"clearline/internal/admin"
	"clearline/internal/configstore"
	"clearline/internal/domain"
	"clearline/internal/engine"
	"clearline/internal/gateway"
	"clearline/internal/observability"
	"clearline/internal/storage"
	"clearline/internal/storage/memory"
	"clearline/internal/storage/migrations"
	"clearline/internal/storage/pebbledb"
	pgstore "clearline/internal/storage/postgres"
	"clearline/internal/validation"
)

func main() {
	loadEnvFile()

	// Parse flags (env vars as defaults)
	dataDir := flag.String("data-dir", envOr("CLEARLINE_DATA_DIR", "data"), "State store directory")
	useMemory := flag.Bool("use-memory", false, "Use in-memory state instead of Pebble")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL DSN for the execution journal (optional)")
	engineAddr := flag.String("engine-address", os.Getenv("CLEARLINE_ENGINE_ADDRESS"), "Engine identity address (base58)")
	chainID := flag.Uint64("chain-id", 1, "Chain id bound into signing hashes")
	controller := flag.String("controller", os.Getenv("CLEARLINE_CONTROLLER"), "Initial controller address (base58, first run only)")
	listenAddr := flag.String("listen-addr", ":8480", "Gateway listen address")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")

	flag.Parse()

	logger := log.New(os.Stdout, "[settled] ", log.LstdFlags|log.Lshortfile)

	if *engineAddr == "" {
		logger.Fatal("--engine-address is required")
	}
	engineAddress, err := domain.ParseAddress(*engineAddr)
	if err != nil {
		logger.Fatalf("Invalid engine address: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv, cleanup, err := openState(*dataDir, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to open state store: %v", err)
	}
	defer cleanup()

	cfg, err := configstore.Load(ctx, kv)
	if err != nil {
		logger.Fatalf("Failed to load config store: %v", err)
	}
	logger.Printf("Config store loaded with %d entries", cfg.TotalEntries())

	var journal storage.JournalStore
	if *postgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatalf("Failed to connect to postgres: %v", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			logger.Fatalf("Failed to run migrations: %v", err)
		}
		journal = pgstore.NewBundleJournalStore(pool)
		logger.Println("Execution journal enabled")
	}

	governance := admin.New(kv, cfg)
	if *controller != "" {
		addr, err := domain.ParseAddress(*controller)
		if err != nil {
			logger.Fatalf("Invalid controller address: %v", err)
		}
		err = governance.Init(ctx, addr)
		if err != nil && !errors.Is(err, admin.ErrControllerSet) {
			logger.Fatalf("Failed to set controller: %v", err)
		}
	}
	if _, err := governance.Controller(ctx); errors.Is(err, storage.ErrNotFound) {
		logger.Fatal("No controller set. Pass --controller on first run")
	}

	eng, err := engine.New(engine.Options{
		State:     kv,
		Config:    cfg,
		Validator: validation.NewValidator(validation.Domain{Engine: engineAddress, ChainID: *chainID}, nil),
		Journal:   journal,
	})
	if err != nil {
		logger.Fatalf("Failed to create engine: %v", err)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		logger.Printf("Metrics listening on %s", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("Metrics server error: %v", err)
		}
	}()

	srv := &http.Server{
		Addr:    *listenAddr,
		Handler: gateway.NewServer(eng, governance, kv, gateway.DefaultConfig()).Handler(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("Shutdown error: %v", err)
		}
		cancel()
	}()

	logger.Printf("Gateway listening on %s (chain %d, engine %s)", *listenAddr, *chainID, engineAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("Gateway error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// openState opens the persistent state store, or an in-memory one for
// local runs.
func openState(dir string, useMemory bool) (storage.KV, func(), error) {
	if useMemory {
		kv := memory.NewKV()
		return kv, func() { kv.Close() }, nil
	}
	kv, err := pebbledb.Open(dir)
	if err != nil {
		return nil, nil, err
	}
	return kv, func() {
		if err := kv.Close(); err != nil {
			log.Printf("[settled] failed to close state store: %v", err)
		}
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"`)
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
