// Package main runs the coined-posts dashboard backend: the HTTP API, the
// WebSocket live feed and the timed cache refresh loop, over a selectable
// storage backend.
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

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"coinboard/internal/cache"
	"coinboard/internal/coinapi"
	"coinboard/internal/config"
	"coinboard/internal/httpapi"
	"coinboard/internal/live"
	"coinboard/internal/search"
	"coinboard/internal/storage"
	chstore "coinboard/internal/storage/clickhouse"
	"coinboard/internal/storage/memory"
	"coinboard/internal/storage/migrations"
	pgstore "coinboard/internal/storage/postgres"
	redisstore "coinboard/internal/storage/redis"
)

func main() {
	// Load .env if present; real environment variables win.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("COINBOARD_CONFIG"), "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("create stores failed", zap.Error(err))
	}
	defer cleanup()

	client := coinapi.NewClient(cfg.Upstream.BaseURL,
		coinapi.WithTimeout(cfg.UpstreamTimeout()),
		coinapi.WithMaxRetries(cfg.Upstream.MaxRetries),
		coinapi.WithAPIKey(cfg.Upstream.APIKey),
	)

	manager := cache.NewManager(cache.Options{
		Source:          client,
		Snapshots:       stores.snapshots,
		History:         stores.statsHistory,
		Log:             log.Named("cache"),
		CacheValidity:   cfg.CacheValidity(),
		RefreshInterval: cfg.RefreshInterval(),
		BatchSize:       cfg.Cache.BatchSize,
		MaxAttempts:     cfg.Cache.MaxAttempts,
		MinViable:       cfg.Cache.MinViable,
		FallbackFloor:   cfg.Cache.FallbackFloor,
		PageSize:        cfg.Cache.PageSize,
	})

	searchSvc := search.NewService(search.Options{
		Source:        client,
		History:       stores.searchHistory,
		Log:           log.Named("search"),
		QueryTTL:      cfg.QueryTTL(),
		UniverseTTL:   cfg.UniverseTTL(),
		UniverseLimit: cfg.Search.UniverseLimit,
	})

	hub := live.NewHub(manager, log.Named("live"), nil)
	hub.Start()

	api := httpapi.New(httpapi.Options{
		Cache:  manager,
		Search: searchSvc,
		Live:   hub,
		Log:    log.Named("http"),
	})

	// Warm the working set before accepting traffic. A degraded upstream is
	// not fatal here, the refresh loop keeps retrying.
	primeCtx, primeCancel := context.WithTimeout(ctx, 30*time.Second)
	if _, err := manager.AllCoins(primeCtx); err != nil {
		log.Warn("initial cache fill failed", zap.Error(err))
	}
	primeCancel()

	manager.StartAutoRefresh()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("http server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}

	manager.StopAutoRefresh()
	hub.Close()
	log.Info("shutdown complete")
}

// appStores bundles the storage implementations the service needs.
type appStores struct {
	snapshots     storage.SnapshotStore
	searchHistory storage.SearchHistoryStore
	statsHistory  storage.StatsHistoryStore
}

// createStores builds the storage layer for the configured backend and
// returns a cleanup that closes all connections.
func createStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*appStores, func(), error) {
	stores := &appStores{}
	var closers []func()

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Storage.Backend {
	case "memory":
		stores.snapshots = memory.NewSnapshotStore()
		stores.searchHistory = memory.NewSearchHistoryStore()

	case "redis":
		client, err := redisstore.NewClient(ctx, redisstore.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		closers = append(closers, func() { client.Close() })

		stores.snapshots = redisstore.NewSnapshotStore(client, cfg.CacheValidity())
		stores.searchHistory = redisstore.NewSearchHistoryStore(client)

	case "postgres":
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}

		stores.snapshots = pgstore.NewSnapshotStore(pool)
		stores.searchHistory = pgstore.NewSearchHistoryStore(pool)

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	// Stats history goes to ClickHouse when configured, otherwise it stays
	// in memory; the trend history tolerates starting empty after a restart.
	if cfg.Storage.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickHouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		closers = append(closers, func() { conn.Close() })

		stores.statsHistory = chstore.NewStatsHistoryStore(conn)
		log.Info("stats history backed by clickhouse")
	} else {
		stores.statsHistory = memory.NewStatsHistoryStore()
	}

	log.Info("storage ready", zap.String("backend", cfg.Storage.Backend))
	return stores, cleanup, nil
}

// buildLogger constructs the service logger from config.
func buildLogger(level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}
