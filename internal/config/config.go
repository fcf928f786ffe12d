// Package config loads and validates runtime settings for the router.
//
// Settings come from environment variables, optionally seeded from a .env
// file in the working directory. The routing policy itself — providers,
// profiles, scorer weights — is NOT configured here: it lives in the JSON
// document at CONFIG_PATH and is managed through the admin API.
//
// Naming convention: env vars use UPPER_SNAKE_CASE. Every variable has a
// working default, so the router starts with an empty environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level runtime configuration container.
type Config struct {
	// Host is the interface the HTTP server binds to. Default: 127.0.0.1.
	Host string

	// Port is the TCP port the HTTP server listens on. Default: 3000.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	// ConfigPath is the routing policy document the state store loads at boot
	// and rewrites on every admin update. Default: config.json.
	ConfigPath string

	// Cache selects the response cache backend.
	Cache CacheConfig

	// Redis holds the connection URL for the Redis-backed response cache.
	// Required only when the cache backend is "redis".
	Redis RedisConfig

	// UpstreamTimeout is the per-provider HTTP timeout. Default: 120s.
	UpstreamTimeout time.Duration

	// SessionSweepInterval is how often expired session pins are swept from
	// memory. 0 disables the background sweeper (pins still expire lazily on
	// read). Default: 5m.
	SessionSweepInterval time.Duration

	// CORSOrigins is the list of allowed CORS origins, parsed from a
	// comma-separated CORS_ORIGINS value.
	// Use ["*"] to allow any origin (default). Set to specific origins in prod.
	CORSOrigins []string

	// ClickHouseDSN enables the ClickHouse analytics sink when non-empty.
	// Request logs are then mirrored to ClickHouse in batches.
	ClickHouseDSN string
}

// CacheConfig selects the response cache backend.
type CacheConfig struct {
	// Backend selects where cached responses live:
	//   "file"  — content-addressed files under the directory named in the
	//             routing policy. No external deps. Default.
	//   "redis" — Redis-backed cache (requires REDIS_URL). Shared across
	//             replicas.
	Backend string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// Load reads configuration from environment variables and (optionally) from
// a .env file in the current working directory.
//
// REDIS_URL is only required when CACHE_BACKEND=redis.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.AutomaticEnv()

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("HOST", "127.0.0.1")
	v.SetDefault("PORT", 3000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CONFIG_PATH", "config.json")
	v.SetDefault("CACHE_BACKEND", "file")
	v.SetDefault("UPSTREAM_TIMEOUT", "120s")
	v.SetDefault("SESSION_SWEEP_INTERVAL", "5m")
	v.SetDefault("CORS_ORIGINS", "*")

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		Host:       v.GetString("HOST"),
		Port:       v.GetInt("PORT"),
		LogLevel:   strings.ToLower(v.GetString("LOG_LEVEL")),
		ConfigPath: v.GetString("CONFIG_PATH"),

		Cache: CacheConfig{Backend: strings.ToLower(v.GetString("CACHE_BACKEND"))},
		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		UpstreamTimeout:      v.GetDuration("UPSTREAM_TIMEOUT"),
		SessionSweepInterval: v.GetDuration("SESSION_SWEEP_INTERVAL"),

		CORSOrigins:   splitCSV(v.GetString("CORS_ORIGINS")),
		ClickHouseDSN: v.GetString("CLICKHOUSE_DSN"),
	}

	// ── Validation ────────────────────────────────────────────────────────────
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Addr returns the host:port string the HTTP server binds to.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: PORT must be in 1..65535, got %d", c.Port)
	}

	if c.ConfigPath == "" {
		return fmt.Errorf("config: CONFIG_PATH must not be empty")
	}

	// Validate cache backend value.
	switch c.Cache.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf(
			"config: invalid CACHE_BACKEND %q; must be one of: file, redis",
			c.Cache.Backend,
		)
	}

	// Redis URL is required when the backend is "redis".
	if c.Cache.Backend == "redis" && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when CACHE_BACKEND=redis; " +
				"set CACHE_BACKEND=file to use the built-in file cache",
		)
	}

	// Validate log level.
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("config: UPSTREAM_TIMEOUT must be a positive duration")
	}
	if c.SessionSweepInterval < 0 {
		return fmt.Errorf("config: SESSION_SWEEP_INTERVAL must be ≥ 0 (0 disables the sweeper)")
	}

	return nil
}

// splitCSV splits a comma-separated value into trimmed, non-empty items.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
