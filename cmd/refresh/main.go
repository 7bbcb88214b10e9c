// Package main forces one fetch-merge cycle against the upstream API and
// persists the resulting snapshot, so a later server start begins warm.
// With the memory backend it doubles as an upstream connectivity check.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
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
	"coinboard/internal/domain"
	"coinboard/internal/storage"
	chstore "coinboard/internal/storage/clickhouse"
	"coinboard/internal/storage/memory"
	"coinboard/internal/storage/migrations"
	pgstore "coinboard/internal/storage/postgres"
	redisstore "coinboard/internal/storage/redis"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("COINBOARD_CONFIG"), "Path to YAML config file")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall deadline for the refresh cycle")
	top := flag.Int("top", 10, "Number of coins to print in the summary table")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Diagnostics go to stderr so the summary on stdout stays parseable.
	log, err := buildLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, aborting", zap.String("signal", sig.String()))
		cancel()
	}()

	snapshots, statsHistory, cleanup, err := createStores(ctx, cfg, log)
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
		Source:        client,
		Snapshots:     snapshots,
		History:       statsHistory,
		Log:           log.Named("cache"),
		CacheValidity: cfg.CacheValidity(),
		BatchSize:     cfg.Cache.BatchSize,
		MaxAttempts:   cfg.Cache.MaxAttempts,
		MinViable:     cfg.Cache.MinViable,
		FallbackFloor: cfg.Cache.FallbackFloor,
		PageSize:      cfg.Cache.PageSize,
	})

	runCtx, runCancel := context.WithTimeout(ctx, *timeout)
	defer runCancel()

	start := time.Now()
	if err := manager.Refresh(runCtx); err != nil {
		log.Fatal("refresh failed", zap.Error(err))
	}
	log.Info("refresh complete", zap.Duration("took", time.Since(start)))

	stats, err := manager.Stats(runCtx)
	if err != nil {
		log.Fatal("read stats failed", zap.Error(err))
	}
	trending, err := manager.Trending(runCtx, *top)
	if err != nil {
		log.Fatal("read trending failed", zap.Error(err))
	}

	if *outputJSON {
		out, _ := json.MarshalIndent(struct {
			Cache cache.Info         `json:"cache"`
			Stats domain.MarketStats `json:"stats"`
		}{manager.Info(), stats}, "", "  ")
		fmt.Println(string(out))
		return
	}

	info := manager.Info()
	fmt.Printf("\n=== Refresh Summary ===\n")
	fmt.Printf("Coins:             %d\n", info.TotalCoins)
	fmt.Printf("Total market cap:  %.0f\n", stats.TotalMarketCap)
	fmt.Printf("Total 24h volume:  %.0f\n", stats.TotalVolume24h)
	fmt.Printf("Updated at:        %s\n", time.UnixMilli(info.LastUpdated).Format(time.RFC3339))

	if len(trending) > 0 {
		fmt.Printf("\n%-4s %-8s %-24s %12s %9s %14s\n", "#", "SYMBOL", "NAME", "PRICE", "24H", "MARKET CAP")
		for i, c := range trending {
			fmt.Printf("%-4d %-8s %-24s %12.6f %+8.2f%% %14.0f\n",
				i+1, truncate(c.Symbol, 8), truncate(c.Name, 24), c.Price, c.Change24h, c.MarketCap)
		}
	}
}

// createStores builds the snapshot and stats-history stores for the
// configured backend. Search history is not needed here.
func createStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.SnapshotStore, storage.StatsHistoryStore, func(), error) {
	var (
		snapshots storage.SnapshotStore
		closers   []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Storage.Backend {
	case "memory":
		snapshots = memory.NewSnapshotStore()

	case "redis":
		client, err := redisstore.NewClient(ctx, redisstore.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		closers = append(closers, func() { client.Close() })
		snapshots = redisstore.NewSnapshotStore(client, cfg.CacheValidity())

	case "postgres":
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		snapshots = pgstore.NewSnapshotStore(pool)

	default:
		return nil, nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	var statsHistory storage.StatsHistoryStore = memory.NewStatsHistoryStore()
	if cfg.Storage.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickHouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		closers = append(closers, func() { conn.Close() })
		statsHistory = chstore.NewStatsHistoryStore(conn)
	}

	log.Info("storage ready", zap.String("backend", cfg.Storage.Backend))
	return snapshots, statsHistory, cleanup, nil
}

// buildLogger constructs a console logger writing to stderr.
func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
