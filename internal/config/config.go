// Package config loads service configuration from a YAML file with
// environment-variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all service settings. Values absent from the file keep
// their defaults; COINBOARD_* environment variables override the file.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Upstream struct {
		BaseURL    string `yaml:"base_url"`
		APIKey     string `yaml:"api_key"`
		TimeoutSec int    `yaml:"timeout_sec"`
		MaxRetries int    `yaml:"max_retries"`
	} `yaml:"upstream"`

	Cache struct {
		ValiditySec        int `yaml:"validity_sec"`
		RefreshIntervalSec int `yaml:"refresh_interval_sec"`
		BatchSize          int `yaml:"batch_size"`
		MaxAttempts        int `yaml:"max_attempts"`
		MinViable          int `yaml:"min_viable"`
		FallbackFloor      int `yaml:"fallback_floor"`
		PageSize           int `yaml:"page_size"`
	} `yaml:"cache"`

	Search struct {
		QueryTTLSec    int `yaml:"query_ttl_sec"`
		UniverseTTLSec int `yaml:"universe_ttl_sec"`
		UniverseLimit  int `yaml:"universe_limit"`
	} `yaml:"search"`

	Storage struct {
		// Backend selects where snapshots and search history persist:
		// memory, redis or postgres.
		Backend       string `yaml:"backend"`
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
		PostgresDSN   string `yaml:"postgres_dsn"`
		// ClickHouseDSN is optional; when set, stats history goes to
		// ClickHouse instead of the selected backend.
		ClickHouseDSN string `yaml:"clickhouse_dsn"`
	} `yaml:"storage"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Default returns the configuration used when no file or overrides are
// present. The upstream base URL has no sensible default and must be set.
func Default() Config {
	var c Config
	c.Server.Addr = ":8080"
	c.Upstream.TimeoutSec = 10
	c.Upstream.MaxRetries = 3
	c.Cache.ValiditySec = 30
	c.Cache.RefreshIntervalSec = 60
	c.Cache.BatchSize = 100
	c.Cache.MaxAttempts = 3
	c.Cache.MinViable = 100
	c.Cache.FallbackFloor = 50
	c.Cache.PageSize = 10
	c.Search.QueryTTLSec = 30
	c.Search.UniverseTTLSec = 8
	c.Search.UniverseLimit = 200
	c.Storage.Backend = "memory"
	c.Logging.Level = "info"
	c.Logging.Format = "json"
	return c
}

// Load reads the file at path, applies environment overrides and validates.
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// overrideWithEnv applies COINBOARD_* environment variables. Only
// deployment-specific strings are overridable; tunables live in the file.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("COINBOARD_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("COINBOARD_UPSTREAM_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("COINBOARD_UPSTREAM_API_KEY"); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := os.Getenv("COINBOARD_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("COINBOARD_REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := os.Getenv("COINBOARD_REDIS_PASSWORD"); v != "" {
		cfg.Storage.RedisPassword = v
	}
	if v := os.Getenv("COINBOARD_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("COINBOARD_CLICKHOUSE_DSN"); v != "" {
		cfg.Storage.ClickHouseDSN = v
	}
	if v := os.Getenv("COINBOARD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if !strings.HasPrefix(c.Upstream.BaseURL, "http://") && !strings.HasPrefix(c.Upstream.BaseURL, "https://") {
		return fmt.Errorf("upstream.base_url must be an http(s) URL: %s", c.Upstream.BaseURL)
	}

	for name, v := range map[string]int{
		"cache.validity_sec":         c.Cache.ValiditySec,
		"cache.refresh_interval_sec": c.Cache.RefreshIntervalSec,
		"cache.batch_size":           c.Cache.BatchSize,
		"cache.max_attempts":         c.Cache.MaxAttempts,
		"cache.min_viable":           c.Cache.MinViable,
		"cache.page_size":            c.Cache.PageSize,
		"search.query_ttl_sec":       c.Search.QueryTTLSec,
		"search.universe_ttl_sec":    c.Search.UniverseTTLSec,
		"search.universe_limit":      c.Search.UniverseLimit,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Cache.FallbackFloor < 0 {
		return fmt.Errorf("cache.fallback_floor must not be negative")
	}

	switch c.Storage.Backend {
	case "memory":
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("storage.redis_addr is required for the redis backend")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q (want memory, redis or postgres)", c.Storage.Backend)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}

	return nil
}

// UpstreamTimeout returns the upstream request timeout.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSec) * time.Second
}

// CacheValidity returns the snapshot validity window.
func (c *Config) CacheValidity() time.Duration {
	return time.Duration(c.Cache.ValiditySec) * time.Second
}

// RefreshInterval returns the auto-refresh cadence.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Cache.RefreshIntervalSec) * time.Second
}

// QueryTTL returns the search query cache validity window.
func (c *Config) QueryTTL() time.Duration {
	return time.Duration(c.Search.QueryTTLSec) * time.Second
}

// UniverseTTL returns the search snapshot validity window.
func (c *Config) UniverseTTL() time.Duration {
	return time.Duration(c.Search.UniverseTTLSec) * time.Second
}
