// Package metrics provides a Prometheus metrics registry for the router.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// router_inflight_requests
	inFlight prometheus.Gauge

	// router_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// router_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// router_complexity_tier_total{tier}
	tierTotal *prometheus.CounterVec

	// router_scorer_overrides_total{override}
	overridesTotal *prometheus.CounterVec

	// router_agentic_requests_total
	agenticTotal prometheus.Counter

	// router_upstream_attempts_total{provider,outcome}
	upstreamAttempts *prometheus.CounterVec

	// router_upstream_attempt_duration_seconds{provider,outcome}
	upstreamDuration *prometheus.HistogramVec

	// router_failover_events_total{from,to}
	failoverEvents *prometheus.CounterVec

	// router_failover_exhausted_total
	failoverExhausted prometheus.Counter

	// router_unroutable_requests_total
	unroutableTotal prometheus.Counter

	// cache_hits_total / cache_misses_total
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	// router_cache_operations_total{op,result}
	cacheOps *prometheus.CounterVec

	// router_session_pins_total
	sessionPins prometheus.Counter

	// router_active_sessions
	activeSessions prometheus.Gauge

	// router_tokens_total{provider,direction}
	tokensTotal *prometheus.CounterVec

	// router_cost_usd_total{provider}
	costTotal *prometheus.CounterVec

	// router_build_info{version}
	buildInfo *prometheus.GaugeVec

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "router_inflight_requests",
			Help: "Current number of in-flight HTTP requests handled by the router",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_http_requests_total",
				Help: "Total number of HTTP requests handled by the router",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "router_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds (end-to-end, includes cache + upstream)",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"route"},
		),

		tierTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_complexity_tier_total",
				Help: "Scored requests by complexity tier",
			},
			[]string{"tier"},
		),

		overridesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_scorer_overrides_total",
				Help: "Scorer tier overrides by kind",
			},
			[]string{"override"},
		),

		agenticTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "router_agentic_requests_total",
			Help: "Requests routed in agentic mode",
		}),

		upstreamAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_upstream_attempts_total",
				Help: "Total upstream provider attempts (includes failovers)",
			},
			[]string{"provider", "outcome"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "router_upstream_attempt_duration_seconds",
				Help:    "Upstream provider attempt duration in seconds",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"provider", "outcome"},
		),

		failoverEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_failover_events_total",
				Help: "Failover events between candidate providers",
			},
			[]string{"from", "to"},
		),

		failoverExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "router_failover_exhausted_total",
			Help: "Requests that exhausted every candidate without success",
		}),

		unroutableTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "router_unroutable_requests_total",
			Help: "Requests no enabled provider could serve",
		}),

		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total cache hits",
		}),

		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total cache misses",
		}),

		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_cache_operations_total",
				Help: "Cache operations by type and result",
			},
			[]string{"op", "result"},
		),

		sessionPins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "router_session_pins_total",
			Help: "Requests served via a pinned session",
		}),

		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "router_active_sessions",
			Help: "Live session pins",
		}),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_tokens_total",
				Help: "Token usage totals derived from upstream usage fields",
			},
			[]string{"provider", "direction"},
		),

		costTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_cost_usd_total",
				Help: "Estimated spend in USD derived from configured model prices",
			},
			[]string{"provider"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "router_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.tierTotal,
		r.overridesTotal,
		r.agenticTotal,
		r.upstreamAttempts,
		r.upstreamDuration,
		r.failoverEvents,
		r.failoverExhausted,
		r.unroutableTotal,
		r.cacheHits,
		r.cacheMisses,
		r.cacheOps,
		r.sessionPins,
		r.activeSessions,
		r.tokensTotal,
		r.costTotal,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records end-to-end HTTP metrics.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration) {
	r.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

func (r *Registry) RecordTier(tier string) {
	r.tierTotal.WithLabelValues(tier).Inc()
}

func (r *Registry) RecordOverride(override string) {
	r.overridesTotal.WithLabelValues(override).Inc()
}

func (r *Registry) RecordAgentic() {
	r.agenticTotal.Inc()
}

// ObserveProviderAttempt records one upstream provider attempt.
func (r *Registry) ObserveProviderAttempt(provider, outcome string, dur time.Duration) {
	r.upstreamAttempts.WithLabelValues(provider, outcome).Inc()
	r.upstreamDuration.WithLabelValues(provider, outcome).Observe(dur.Seconds())
}

func (r *Registry) RecordFailover(from, to string) {
	r.failoverEvents.WithLabelValues(from, to).Inc()
}

func (r *Registry) RecordFailoverExhausted() {
	r.failoverExhausted.Inc()
}

func (r *Registry) RecordNoProvider() {
	r.unroutableTotal.Inc()
}

func (r *Registry) CacheGetHit() {
	r.cacheHits.Inc()
	r.cacheOps.WithLabelValues("get", "hit").Inc()
}

func (r *Registry) CacheGetMiss() {
	r.cacheMisses.Inc()
	r.cacheOps.WithLabelValues("get", "miss").Inc()
}

func (r *Registry) CacheGetBypass() {
	r.cacheOps.WithLabelValues("get", "bypass").Inc()
}

func (r *Registry) CacheSetOK() {
	r.cacheOps.WithLabelValues("set", "ok").Inc()
}

func (r *Registry) CacheSetError() {
	r.cacheOps.WithLabelValues("set", "error").Inc()
}

func (r *Registry) RecordSessionPin() {
	r.sessionPins.Inc()
}

func (r *Registry) SetActiveSessions(n int) {
	r.activeSessions.Set(float64(n))
}

// AddUsage publishes token and cost counters for one served request.
func (r *Registry) AddUsage(provider string, inputTokens, outputTokens uint64, cost float64) {
	if inputTokens > 0 {
		r.tokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		r.tokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
	if cost > 0 {
		r.costTotal.WithLabelValues(provider).Add(cost)
	}
}

func (r *Registry) SetBuildInfo(version string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
