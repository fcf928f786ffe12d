// Package proxy is the policy-driven request pipeline.
//
// The Gateway receives an incoming OpenAI-compatible chat completion,
// resolves a session pin, consults the response cache, scores prompt
// complexity, asks the routing table for candidate providers, and walks the
// candidates in order until one serves the request — translating the wire
// shape for providers that do not speak the OpenAI protocol.
//
// Key design constraints:
//   - Config is snapshotted once per request; no lock is held across
//     upstream I/O.
//   - Cache, metrics, and analytics are optional and nil-safe.
//   - Upstream response bodies pass through byte-for-byte (after shape
//     translation where required), so clients see exactly what the provider
//     produced.
package proxy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nulpointcorp/llm-router/internal/analytics"
	"github.com/nulpointcorp/llm-router/internal/cache"
	"github.com/nulpointcorp/llm-router/internal/metrics"
	"github.com/nulpointcorp/llm-router/internal/routing"
	"github.com/nulpointcorp/llm-router/internal/scorer"
	"github.com/nulpointcorp/llm-router/internal/state"
	"github.com/nulpointcorp/llm-router/pkg/apierr"
	"github.com/valyala/fasthttp"
)

const (
	xCacheHIT = "HIT"

	// routeChat is the metrics label for the completion endpoint.
	routeChat = "chat_completions"

	// cacheProvider is the provider name recorded on cache-hit logs.
	cacheProvider = "cache"

	// defaultUpstreamTimeout bounds a single provider attempt end to end.
	defaultUpstreamTimeout = 120 * time.Second
)

// GatewayOptions holds optional dependencies for a Gateway. All fields have
// working defaults and can be omitted.
type GatewayOptions struct {
	// Logger is the structured logger used for request events and failover
	// diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// UpstreamTimeout is the per-provider HTTP request timeout.
	// Default: 120s.
	UpstreamTimeout time.Duration

	// Cache builds the response cache from the live cache settings.
	// Default: the file-backed store.
	Cache cache.Factory

	// Metrics enables Prometheus metrics collection. When nil, metrics are
	// disabled.
	Metrics *metrics.Registry

	// Analytics receives a copy of every finalized request log. When nil,
	// the sink is disabled.
	Analytics *analytics.Sink
}

// Gateway is the request orchestrator — all dependencies are injected via the
// constructor so they can be replaced with doubles in unit tests.
type Gateway struct {
	state    *state.Store
	newCache cache.Factory
	client   *http.Client
	log      *slog.Logger
	metrics  *metrics.Registry
	sink     *analytics.Sink

	srvMu sync.Mutex
	srv   *fasthttp.Server

	// CORS allowed origins. Empty slice means deny all; ["*"] means allow all.
	corsOrigins []string
}

// SetCORSOrigins configures the allowed CORS origins for the gateway.
func (g *Gateway) SetCORSOrigins(origins []string) {
	g.corsOrigins = origins
}

// NewGateway creates a Gateway with default settings.
func NewGateway(st *state.Store) *Gateway {
	return NewGatewayWithOptions(st, GatewayOptions{})
}

// NewGatewayWithOptions creates a fully configured Gateway. Use this when you
// need to customise the logger, cache backend, or upstream timeout.
func NewGatewayWithOptions(st *state.Store, opts GatewayOptions) *Gateway {
	if st == nil {
		panic("gateway: state store must not be nil")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	timeout := opts.UpstreamTimeout
	if timeout <= 0 {
		timeout = defaultUpstreamTimeout
	}

	newCache := opts.Cache
	if newCache == nil {
		newCache = cache.FileFactory()
	}

	return &Gateway{
		state:    st,
		newCache: newCache,
		client:   &http.Client{Timeout: timeout},
		log:      log,
		metrics:  opts.Metrics,
		sink:     opts.Analytics,
	}
}

// ── Inbound wire shape ────────────────────────────────────────────────────────

var (
	errInvalidBody   = errors.New(apierr.MsgInvalidBody)
	errMissingFields = errors.New(apierr.MsgMissingFields)
)

// chatRequest is the decoded POST /v1/chat/completions body: the fixed model
// and messages fields plus an open bag of extra parameters that is preserved
// verbatim for upstream passthrough.
type chatRequest struct {
	Model    string
	Messages []json.RawMessage
	Extras   map[string]json.RawMessage
}

// parseChatRequest splits a request body into model, messages, and extras.
// model and messages are required; everything else stays untouched.
func parseChatRequest(body []byte) (*chatRequest, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, errInvalidBody
	}

	req := &chatRequest{}

	rawModel, ok := fields["model"]
	if !ok {
		return nil, errMissingFields
	}
	if err := json.Unmarshal(rawModel, &req.Model); err != nil {
		return nil, errMissingFields
	}

	rawMessages, ok := fields["messages"]
	if !ok {
		return nil, errMissingFields
	}
	if err := json.Unmarshal(rawMessages, &req.Messages); err != nil || req.Messages == nil {
		return nil, errMissingFields
	}

	delete(fields, "model")
	delete(fields, "messages")
	req.Extras = fields
	return req, nil
}

// ── Request pipeline ──────────────────────────────────────────────────────────

// dispatchChat is the core handler for POST /v1/chat/completions.
func (g *Gateway) dispatchChat(ctx *fasthttp.RequestCtx) {
	start := time.Now()

	if g.metrics != nil {
		g.metrics.IncInFlight()
	}
	defer func() {
		if g.metrics != nil {
			g.metrics.DecInFlight()
			g.metrics.ObserveHTTP(routeChat, ctx.Response.StatusCode(), time.Since(start))
		}
	}()

	reqID, _ := ctx.UserValue("request_id").(string)

	// 1. Parse request body.
	req, err := parseChatRequest(ctx.PostBody())
	if err != nil {
		apierr.WriteUnprocessable(ctx, err.Error())
		return
	}

	entry := state.NewRequestLog(req.Model)
	cfg := g.state.Config()

	// 2. Detect a router/<profile> model name selecting a per-request profile;
	// plain model ids route through the active profile.
	profileName, hasProfile := routing.ParseRouterModel(req.Model)
	if hasProfile {
		g.log.InfoContext(ctx, "profile_override",
			slog.String("request_id", reqID),
			slog.String("profile", profileName),
		)
	} else {
		profileName = cfg.ActiveProfile
	}

	// 3. Session pin — a conversation stays on the provider that first
	// served it.
	sessCfg := cfg.SessionSettings()
	var sessionID string
	if sessCfg.Enabled {
		sessionID = extractSessionID(&ctx.Request.Header, req)
		if sessionID != "" {
			entry.SessionID = &sessionID
		}
	}
	if sessionID != "" {
		if pin, ok := g.state.Session(sessionID, sessCfg.TTLSeconds); ok {
			if prov, found := cfg.Provider(pin.ProviderID); found && prov.Enabled {
				g.state.TouchSession(sessionID)
				entry.SessionPinned = ptr(true)
				entry.EffectiveModel = ptr(pin.ModelID)
				g.log.InfoContext(ctx, "session_pinned",
					slog.String("request_id", reqID),
					slog.String("session_id", sessionID),
					slog.String("provider", pin.ProviderID),
					slog.String("model", pin.ModelID),
				)

				if res := g.forwardToProvider(ctx, req, prov, pin.ModelID, &entry); res != nil {
					entry.Provider = &prov.Name
					entry.Status = state.StatusSuccess
					entry.StatusCode = ptr(res.status)
					entry.CacheStatus = ptr(state.CacheSkip)
					if g.metrics != nil {
						g.metrics.CacheGetBypass()
						g.metrics.RecordSessionPin()
					}
					g.recordUsage(prov.Name, &entry)
					g.finish(&entry, start)
					writeUpstream(ctx, res)
					return
				}

				// Pinned provider failed; fall through to normal routing.
				g.log.WarnContext(ctx, "session_pin_failed",
					slog.String("request_id", reqID),
					slog.String("session_id", sessionID),
					slog.String("provider", pin.ProviderID),
				)
			}
		}
	}

	// 4. Cache lookup before any upstream work.
	cacheCfg := cfg.CacheSettings()
	respCache := g.newCache(cacheCfg)
	cacheKey := cache.Key(req.Model, req.Messages, req.Extras)
	if body, ok := respCache.Get(ctx, cacheKey); ok {
		g.log.InfoContext(ctx, "cache_hit",
			slog.String("request_id", reqID),
			slog.String("model", req.Model),
			slog.String("key", cacheKey[:12]),
		)
		entry.Provider = ptr(cacheProvider)
		entry.Status = state.StatusSuccess
		entry.StatusCode = ptr(fasthttp.StatusOK)
		entry.CacheStatus = ptr(state.CacheHit)
		if g.metrics != nil {
			g.metrics.CacheGetHit()
		}
		g.finish(&entry, start)
		ctx.Response.Header.Set("X-Cache", xCacheHIT)
		writeUpstream(ctx, &upstreamResult{status: fasthttp.StatusOK, body: body})
		return
	}
	if g.metrics != nil && cacheCfg.Enabled {
		g.metrics.CacheGetMiss()
	}

	// 5. Tool detection happens before scoring so agentic routing sees it.
	toolsPresent := hasTools(req.Extras)

	// 6. Score prompt complexity.
	scorerCfg := cfg.ScorerSettings()
	var complexity *scorer.ComplexityTier
	agenticKeywords := 0
	if scorerCfg.Enabled {
		result := scorer.Score(req.Messages, scorerCfg)
		complexity = &result.Tier
		agenticKeywords = result.AgenticKeywordCount
		entry.ComplexityTier = ptr(result.Tier.String())
		entry.ComplexityScore = ptr(result.RawScore)
		if g.metrics != nil {
			g.metrics.RecordTier(result.Tier.String())
			if result.OverrideApplied != "" {
				g.metrics.RecordOverride(result.OverrideApplied)
			}
		}
		g.log.InfoContext(ctx, "complexity_scored",
			slog.String("request_id", reqID),
			slog.String("tier", result.Tier.String()),
			slog.Float64("score", result.RawScore),
			slog.Float64("confidence", result.Confidence),
			slog.Any("signals", result.Signals),
			slog.String("override", result.OverrideApplied),
		)
	}

	// 7. Agentic detection.
	isAgentic := toolsPresent || cfg.AgenticMode || agenticKeywords >= 2
	entry.AgenticMode = &isAgentic
	if isAgentic {
		if g.metrics != nil {
			g.metrics.RecordAgentic()
		}
		g.log.InfoContext(ctx, "agentic_mode",
			slog.String("request_id", reqID),
			slog.Bool("tools", toolsPresent),
			slog.Bool("config_force", cfg.AgenticMode),
			slog.Int("keyword_count", agenticKeywords),
		)
	}

	// 8. Resolve candidates and the effective model.
	candidates := routing.Candidates(&cfg, req.Model, complexity, profileName, isAgentic)
	effectiveModel := routing.ResolveModelID(&cfg, req.Model, complexity, profileName, isAgentic)
	if effectiveModel != req.Model {
		entry.EffectiveModel = &effectiveModel
		g.log.InfoContext(ctx, "model_mapped",
			slog.String("request_id", reqID),
			slog.String("requested", req.Model),
			slog.String("effective", effectiveModel),
			slog.Bool("agentic", isAgentic),
		)
	}
	if len(candidates) == 0 {
		entry.Status = state.StatusNoProvider
		entry.ErrorMessage = ptr(apierr.MsgNoProvider)
		if g.metrics != nil {
			g.metrics.RecordNoProvider()
		}
		g.finish(&entry, start)
		apierr.WriteNoProvider(ctx)
		return
	}

	// 9. Walk the candidates in routed order; first success wins.
	for i := range candidates {
		prov := &candidates[i]
		entry.ProvidersTried = append(entry.ProvidersTried, prov.Name)

		if i > 0 && g.metrics != nil {
			g.metrics.RecordFailover(candidates[i-1].Name, prov.Name)
		}

		res := g.forwardToProvider(ctx, req, prov, effectiveModel, &entry)
		if res == nil {
			continue
		}

		entry.Provider = &prov.Name
		entry.Status = state.StatusSuccess
		entry.StatusCode = ptr(res.status)
		entry.CacheStatus = ptr(state.CacheMiss)

		if err := respCache.Set(ctx, cacheKey, req.Model, res.body); err != nil {
			if g.metrics != nil {
				g.metrics.CacheSetError()
			}
		} else if g.metrics != nil && cacheCfg.Enabled {
			g.metrics.CacheSetOK()
		}

		if sessionID != "" {
			g.state.SetSession(sessionID, prov.ID, effectiveModel)
			if g.metrics != nil {
				g.metrics.SetActiveSessions(g.state.SessionCount())
			}
		}

		g.recordUsage(prov.Name, &entry)
		g.finish(&entry, start)
		writeUpstream(ctx, res)
		return
	}

	// 10. Every candidate failed.
	entry.Status = state.StatusError
	entry.ErrorMessage = ptr(apierr.MsgAllFailed)
	if g.metrics != nil {
		g.metrics.RecordFailoverExhausted()
	}
	g.finish(&entry, start)
	g.log.ErrorContext(ctx, "all_providers_failed",
		slog.String("request_id", reqID),
		slog.String("model", req.Model),
		slog.Any("tried", entry.ProvidersTried),
	)
	apierr.WriteAllFailed(ctx)
}

// finish stamps the duration, appends the entry to the request log, and
// forwards a copy to the analytics sink.
func (g *Gateway) finish(entry *state.RequestLog, start time.Time) {
	entry.DurationMs = uint64(time.Since(start).Milliseconds())
	g.state.AddLog(*entry)
	if g.sink != nil {
		g.sink.Record(*entry)
	}
}

// recordUsage publishes token and cost counters for a served request.
func (g *Gateway) recordUsage(provider string, entry *state.RequestLog) {
	if g.metrics == nil {
		return
	}
	var in, out uint64
	if entry.InputTokens != nil {
		in = *entry.InputTokens
	}
	if entry.OutputTokens != nil {
		out = *entry.OutputTokens
	}
	var cost float64
	if entry.EstimatedCost != nil {
		cost = *entry.EstimatedCost
	}
	g.metrics.AddUsage(provider, in, out, cost)
}

// writeUpstream relays an upstream response to the client.
func writeUpstream(ctx *fasthttp.RequestCtx, res *upstreamResult) {
	ctx.SetStatusCode(res.status)
	ctx.SetContentType("application/json")
	ctx.SetBody(res.body)
}

// extractSessionID resolves the session identity for a request using a
// priority chain: the X-Session-Id header, then a conversation_id extra,
// then a fingerprint over the system prompt and the first user turn.
func extractSessionID(hdr *fasthttp.RequestHeader, req *chatRequest) string {
	if v := hdr.Peek("X-Session-Id"); len(v) > 0 {
		return string(v)
	}

	if raw, ok := req.Extras["conversation_id"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}

	// Fingerprint: system text plus the first user turn. Only string
	// contents participate; structured content parts are skipped.
	var parts strings.Builder
	for _, raw := range req.Messages {
		var msg struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Role != "system" && msg.Role != "user" {
			continue
		}
		var content string
		if err := json.Unmarshal(msg.Content, &content); err == nil {
			parts.WriteString(content)
		}
		if msg.Role == "user" {
			break
		}
	}
	if parts.Len() == 0 {
		return ""
	}
	sum := sha256.Sum256([]byte(parts.String()))
	return "fp:" + hex.EncodeToString(sum[:])
}

// hasTools reports whether the request carries a non-empty tools array.
func hasTools(extras map[string]json.RawMessage) bool {
	raw, ok := extras["tools"]
	if !ok {
		return false
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return false
	}
	return len(arr) > 0
}

// ptr returns a pointer to v, for the optional request-log fields.
func ptr[T any](v T) *T { return &v }
