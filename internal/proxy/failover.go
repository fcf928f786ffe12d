package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nulpointcorp/llm-router/internal/adapter"
	"github.com/nulpointcorp/llm-router/internal/policy"
	"github.com/nulpointcorp/llm-router/internal/state"
	"github.com/valyala/fasthttp"
)

// anthropicVersion is the API version header sent with Anthropic requests.
const anthropicVersion = "2023-06-01"

// upstreamResult is a successful provider response after shape translation.
type upstreamResult struct {
	status int
	body   []byte
}

// forwardToProvider sends the request to a single provider and returns the
// translated response. A nil result means the attempt failed and the caller
// should move on to the next candidate; individual attempt failures are
// logged but never surfaced to the client.
//
// Token usage and estimated cost are recorded on entry as a side effect, so
// the caller finalizes the log with whatever this attempt learned.
func (g *Gateway) forwardToProvider(
	ctx *fasthttp.RequestCtx,
	req *chatRequest,
	prov *policy.Provider,
	effectiveModel string,
	entry *state.RequestLog,
) *upstreamResult {
	reqID, _ := ctx.UserValue("request_id").(string)
	isAnthropic := prov.Type == policy.KindAnthropic

	var apiKey string
	if prov.APIKey != nil {
		apiKey = *prov.APIKey
	}

	var (
		body []byte
		err  error
	)
	if isAnthropic {
		body, err = adapter.BuildAnthropicRequest(effectiveModel, req.Messages, req.Extras)
	} else {
		body, err = buildOpenAIBody(effectiveModel, req)
	}
	if err != nil {
		g.log.WarnContext(ctx, "upstream_body_build_failed",
			slog.String("request_id", reqID),
			slog.String("provider", prov.Name),
			slog.String("error", err.Error()),
		)
		return nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, prov.EndpointOrDefault(), bytes.NewReader(body))
	if err != nil {
		g.log.WarnContext(ctx, "upstream_request_failed",
			slog.String("request_id", reqID),
			slog.String("provider", prov.Name),
			slog.String("error", err.Error()),
		)
		return nil
	}

	copyForwardHeaders(httpReq.Header, &ctx.Request.Header)
	if isAnthropic {
		// Anthropic auth rides in x-api-key; the client's Authorization
		// header must not leak upstream.
		httpReq.Header.Del("Authorization")
		httpReq.Header.Set("x-api-key", apiKey)
		httpReq.Header.Set("anthropic-version", anthropicVersion)
	} else if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	upStart := time.Now()
	resp, err := g.client.Do(httpReq)
	dur := time.Since(upStart)
	if err != nil {
		if g.metrics != nil {
			g.metrics.ObserveProviderAttempt(prov.Name, "transport_error", dur)
		}
		g.log.WarnContext(ctx, "provider_error",
			slog.String("request_id", reqID),
			slog.String("provider", prov.Name),
			slog.String("error", err.Error()),
			slog.Int64("latency_ms", dur.Milliseconds()),
		)
		return nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if g.metrics != nil {
			g.metrics.ObserveProviderAttempt(prov.Name, "read_error", dur)
		}
		g.log.WarnContext(ctx, "provider_error",
			slog.String("request_id", reqID),
			slog.String("provider", prov.Name),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if g.metrics != nil {
			g.metrics.ObserveProviderAttempt(prov.Name, fmt.Sprintf("http_%d", resp.StatusCode), dur)
		}
		g.log.WarnContext(ctx, "provider_failed",
			slog.String("request_id", reqID),
			slog.String("provider", prov.Name),
			slog.Int("status", resp.StatusCode),
			slog.Int64("latency_ms", dur.Milliseconds()),
		)
		return nil
	}
	if g.metrics != nil {
		g.metrics.ObserveProviderAttempt(prov.Name, "success", dur)
	}

	final := respBody
	if isAnthropic {
		translated, usage, derr := adapter.DecodeAnthropicResponse(respBody)
		if derr != nil {
			// Unparseable response: pass the raw bytes through and leave
			// the token counts unset.
			g.log.WarnContext(ctx, "anthropic_decode_failed",
				slog.String("request_id", reqID),
				slog.String("provider", prov.Name),
				slog.String("error", derr.Error()),
			)
		} else {
			final = translated
			entry.InputTokens = ptr(usage.InputTokens)
			entry.OutputTokens = ptr(usage.OutputTokens)
		}
	} else if usage, ok := adapter.ExtractOpenAIUsage(respBody); ok {
		entry.InputTokens = ptr(usage.InputTokens)
		entry.OutputTokens = ptr(usage.OutputTokens)
	}

	// Cost needs both token counts and a configured price for the model.
	if entry.InputTokens != nil && entry.OutputTokens != nil {
		if m, ok := prov.Model(effectiveModel); ok {
			cost := float64(*entry.InputTokens)/1e6*m.InputCostPer1M +
				float64(*entry.OutputTokens)/1e6*m.OutputCostPer1M
			entry.EstimatedCost = &cost
		}
	}

	return &upstreamResult{status: resp.StatusCode, body: final}
}

// buildOpenAIBody assembles the upstream JSON body for OpenAI-compatible
// providers: the effective model, the original messages, and every extra
// field passed through verbatim.
func buildOpenAIBody(effectiveModel string, req *chatRequest) ([]byte, error) {
	body := make(map[string]json.RawMessage, len(req.Extras)+2)
	for k, v := range req.Extras {
		body[k] = v
	}

	model, err := json.Marshal(effectiveModel)
	if err != nil {
		return nil, err
	}
	body["model"] = model

	msgs, err := json.Marshal(req.Messages)
	if err != nil {
		return nil, err
	}
	body["messages"] = msgs

	return json.Marshal(body)
}

// copyForwardHeaders copies the client's headers onto the upstream request.
// Host and Content-Length never cross; net/http derives both itself.
func copyForwardHeaders(dst http.Header, src *fasthttp.RequestHeader) {
	src.VisitAll(func(k, v []byte) {
		switch string(k) {
		case fasthttp.HeaderHost, fasthttp.HeaderContentLength:
			return
		}
		dst.Add(string(k), string(v))
	})
}
