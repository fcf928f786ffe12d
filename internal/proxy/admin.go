package proxy

import (
	"encoding/json"
	"log/slog"
	"math"
	"strings"

	"github.com/nulpointcorp/llm-router/internal/policy"
	"github.com/nulpointcorp/llm-router/internal/state"
	"github.com/nulpointcorp/llm-router/pkg/apierr"
	"github.com/valyala/fasthttp"
)

// modelCreatedAt is the fixed creation epoch reported for every model entry,
// matching what the OpenAI models endpoint returns for static models.
const modelCreatedAt = 1677610602

// ── GET /v1/models ────────────────────────────────────────────────────────────

type (
	modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created uint64 `json:"created"`
		OwnedBy string `json:"owned_by"`
	}

	modelListResponse struct {
		Object string       `json:"object"`
		Data   []modelEntry `json:"data"`
	}
)

// handleListModels lists the virtual router/<profile> models first, then one
// entry per provider model.
func (g *Gateway) handleListModels(ctx *fasthttp.RequestCtx) {
	cfg := g.state.Config()

	entries := make([]modelEntry, 0, len(cfg.Profiles)+len(cfg.Providers))
	for _, profile := range cfg.Profiles {
		entries = append(entries, modelEntry{
			ID:      "router/" + profile.Name,
			Object:  "model",
			Created: modelCreatedAt,
			OwnedBy: "claw-router",
		})
	}
	for _, prov := range cfg.Providers {
		for _, m := range prov.Models {
			entries = append(entries, modelEntry{
				ID:      m.ID,
				Object:  "model",
				Created: modelCreatedAt,
				OwnedBy: prov.Name,
			})
		}
	}

	writeJSON(ctx, modelListResponse{Object: "list", Data: entries})
}

// ── GET/POST /api/config ──────────────────────────────────────────────────────

func (g *Gateway) handleGetConfig(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, g.state.Config())
}

// handleUpdateConfig replaces the live config and persists it. The payload
// is not validated beyond being a structurally well-formed config; the
// router falls back at request time when mappings point nowhere.
func (g *Gateway) handleUpdateConfig(ctx *fasthttp.RequestCtx) {
	var cfg policy.Config
	if err := json.Unmarshal(ctx.PostBody(), &cfg); err != nil {
		apierr.WriteUnprocessable(ctx, apierr.MsgInvalidBody)
		return
	}

	if err := g.state.UpdateConfig(cfg); err != nil {
		g.log.ErrorContext(ctx, "config_save_failed",
			slog.String("error", err.Error()),
		)
		apierr.Write(ctx, fasthttp.StatusInternalServerError, "Failed to save config")
		return
	}

	g.log.InfoContext(ctx, "config_updated",
		slog.Int("providers", len(cfg.Providers)),
		slog.Int("profiles", len(cfg.Profiles)),
		slog.String("active_profile", cfg.ActiveProfile),
	)
	ctx.SetStatusCode(fasthttp.StatusOK)
}

// ── GET /api/logs ─────────────────────────────────────────────────────────────

const (
	defaultLogsLimit = 50
	maxLogsLimit     = 200
)

type logsResponse struct {
	Logs   []state.RequestLog `json:"logs"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// handleLogs returns request logs newest first. status filters by exact
// match, model and provider by substring; entries without a provider never
// match a provider filter.
func (g *Gateway) handleLogs(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()

	limit := defaultLogsLimit
	if args.Has("limit") {
		if v, err := args.GetUint("limit"); err == nil {
			limit = v
		}
	}
	if limit > maxLogsLimit {
		limit = maxLogsLimit
	}
	offset := 0
	if v, err := args.GetUint("offset"); err == nil {
		offset = v
	}

	status := string(args.Peek("status"))
	model := string(args.Peek("model"))
	provider := string(args.Peek("provider"))

	logs := g.state.Logs()
	filtered := make([]state.RequestLog, 0, len(logs))
	for i := len(logs) - 1; i >= 0; i-- {
		l := logs[i]
		if status != "" && l.Status != status {
			continue
		}
		if model != "" && !strings.Contains(l.Model, model) {
			continue
		}
		if provider != "" && (l.Provider == nil || !strings.Contains(*l.Provider, provider)) {
			continue
		}
		filtered = append(filtered, l)
	}

	page := make([]state.RequestLog, 0, limit)
	if offset < len(filtered) {
		for _, l := range filtered[offset:] {
			if len(page) == limit {
				break
			}
			page = append(page, l)
		}
	}

	writeJSON(ctx, logsResponse{
		Logs:   page,
		Total:  len(filtered),
		Limit:  limit,
		Offset: offset,
	})
}

// ── GET /api/stats ────────────────────────────────────────────────────────────

type (
	providerStats struct {
		Requests      int     `json:"requests"`
		Successful    int     `json:"successful"`
		Failed        int     `json:"failed"`
		TotalCost     float64 `json:"total_cost"`
		AvgDurationMs float64 `json:"avg_duration_ms"`
	}

	modelStats struct {
		Requests  int     `json:"requests"`
		TotalCost float64 `json:"total_cost"`
	}

	statsResponse struct {
		Requests           int                      `json:"requests"`
		Successful         int                      `json:"successful"`
		Failed             int                      `json:"failed"`
		TotalCost          float64                  `json:"total_cost"`
		AvgDurationMs      float64                  `json:"avg_duration_ms"`
		ActiveProfile      string                   `json:"active_profile"`
		Providers          map[string]providerStats `json:"providers"`
		Models             map[string]modelStats    `json:"models"`
		ComplexityTiers    map[string]int           `json:"complexity_tiers"`
		RecentRequests     []state.RequestLog       `json:"recent_requests"`
		AgenticCount       int                      `json:"agentic_count"`
		SessionPinnedCount int                      `json:"session_pinned_count"`
		ActiveSessions     int                      `json:"active_sessions"`
	}
)

// handleStats aggregates the request log into dashboard counters. Top-level
// failed counts only terminal errors; the per-provider breakdown counts
// every non-success outcome as failed.
func (g *Gateway) handleStats(ctx *fasthttp.RequestCtx) {
	logs := g.state.Logs()
	cfg := g.state.Config()

	out := statsResponse{
		Requests:        len(logs),
		ActiveProfile:   cfg.ActiveProfile,
		Providers:       make(map[string]providerStats),
		Models:          make(map[string]modelStats),
		ComplexityTiers: make(map[string]int),
		RecentRequests:  make([]state.RequestLog, 0, 10),
		ActiveSessions:  g.state.SessionCount(),
	}

	type providerAgg struct {
		requests   int
		successful int
		failed     int
		totalCost  float64
		totalDurMs float64
	}
	providers := make(map[string]*providerAgg)

	var totalCost, totalDurMs float64
	for _, l := range logs {
		totalDurMs += float64(l.DurationMs)
		if l.EstimatedCost != nil {
			totalCost += *l.EstimatedCost
		}
		switch l.Status {
		case state.StatusSuccess:
			out.Successful++
		case state.StatusError:
			out.Failed++
		}
		if l.AgenticMode != nil && *l.AgenticMode {
			out.AgenticCount++
		}
		if l.SessionPinned != nil && *l.SessionPinned {
			out.SessionPinnedCount++
		}

		name := "unknown"
		if l.Provider != nil {
			name = *l.Provider
		}
		agg := providers[name]
		if agg == nil {
			agg = &providerAgg{}
			providers[name] = agg
		}
		agg.requests++
		if l.Status == state.StatusSuccess {
			agg.successful++
		} else {
			agg.failed++
		}
		if l.EstimatedCost != nil {
			agg.totalCost += *l.EstimatedCost
		}
		agg.totalDurMs += float64(l.DurationMs)

		ms := out.Models[l.Model]
		ms.Requests++
		if l.EstimatedCost != nil {
			ms.TotalCost += *l.EstimatedCost
		}
		out.Models[l.Model] = ms

		if l.ComplexityTier != nil {
			out.ComplexityTiers[*l.ComplexityTier]++
		}
	}

	for name, agg := range providers {
		reqs := agg.requests
		if reqs < 1 {
			reqs = 1
		}
		out.Providers[name] = providerStats{
			Requests:      agg.requests,
			Successful:    agg.successful,
			Failed:        agg.failed,
			TotalCost:     agg.totalCost,
			AvgDurationMs: round2(agg.totalDurMs / float64(reqs)),
		}
	}

	out.TotalCost = round4(totalCost)
	if len(logs) > 0 {
		out.AvgDurationMs = round2(totalDurMs / float64(len(logs)))
	}

	for i := len(logs) - 1; i >= 0 && len(out.RecentRequests) < 10; i-- {
		out.RecentRequests = append(out.RecentRequests, logs[i])
	}

	writeJSON(ctx, out)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
