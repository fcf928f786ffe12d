package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nulpointcorp/llm-router/internal/analytics"
	"github.com/nulpointcorp/llm-router/internal/cache"
	"github.com/nulpointcorp/llm-router/internal/metrics"
	"github.com/nulpointcorp/llm-router/internal/proxy"
	"github.com/nulpointcorp/llm-router/internal/state"
)

// initInfra establishes optional external connections.
// Redis is only required when CACHE_BACKEND=redis.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Cache.Backend == "redis" {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	return nil
}

// initState loads the routing policy document and starts the session sweeper.
// A missing file falls back to the built-in default policy; a corrupt one is
// surfaced by the store as a warning, not a startup error.
func (a *App) initState(_ context.Context) error {
	a.store = state.New(a.cfg.ConfigPath, a.log)

	cfg := a.store.Config()
	a.log.Info("routing policy loaded",
		slog.String("path", a.cfg.ConfigPath),
		slog.Int("providers", len(cfg.Providers)),
		slog.Int("profiles", len(cfg.Profiles)),
		slog.String("active_profile", cfg.ActiveProfile),
	)

	if a.cfg.SessionSweepInterval > 0 {
		a.store.StartSweeper(a.baseCtx, a.cfg.SessionSweepInterval)
	}

	return nil
}

// initServices creates the Prometheus metrics registry and the analytics
// sink. The sink always runs — without a ClickHouse DSN it only mirrors
// request logs as structured log lines.
func (a *App) initServices(ctx context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	if a.cfg.ClickHouseDSN != "" {
		a.log.Info("connecting to clickhouse", slog.String("dsn", redactURL(a.cfg.ClickHouseDSN)))
	}
	sink, err := analytics.New(ctx, a.cfg.ClickHouseDSN, a.log)
	if err != nil {
		return fmt.Errorf("analytics: %w", err)
	}
	a.sink = sink
	if a.cfg.ClickHouseDSN != "" {
		a.log.Info("clickhouse connected")
	}

	return nil
}

// initGateway wires together the Gateway with all configured subsystems.
func (a *App) initGateway(_ context.Context) error {
	// ── Determine cache backend ───────────────────────────────────────────────
	var newCache cache.Factory
	switch a.cfg.Cache.Backend {
	case "redis":
		newCache = cache.RedisFactory(a.rdb)
		a.log.Info("cache backend: redis")
	default:
		newCache = cache.FileFactory()
		a.log.Info("cache backend: file")
	}

	// ── Build the gateway ─────────────────────────────────────────────────────
	gw := proxy.NewGatewayWithOptions(a.store, proxy.GatewayOptions{
		Logger:          a.log,
		UpstreamTimeout: a.cfg.UpstreamTimeout,
		Cache:           newCache,
		Metrics:         a.prom,
		Analytics:       a.sink,
	})

	// CORS.
	gw.SetCORSOrigins(a.cfg.CORSOrigins)

	// ── Management routes ─────────────────────────────────────────────────────
	a.mgmt = &proxy.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}

	a.gw = gw

	return nil
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			// Find the scheme end ("://") and keep only scheme + "***" + @host.
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
