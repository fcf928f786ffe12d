package proxy

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nulpointcorp/llm-router/internal/policy"
	"github.com/nulpointcorp/llm-router/internal/state"
	"github.com/valyala/fasthttp"
)

// anthropicResponse is the canned upstream reply for Anthropic-kind tests.
const anthropicResponse = `{"id":"msg_01","type":"message","role":"assistant","model":"claude-test","content":[{"type":"text","text":"translated reply"}],"stop_reason":"end_turn","usage":{"input_tokens":12,"output_tokens":7}}`

// anthropicPolicy returns a single Anthropic-kind provider carrying
// claude-test, mapped for simple traffic.
func anthropicPolicy(url string) policy.Config {
	key := "sk-ant"
	return policy.Config{
		Providers: []policy.Provider{{
			ID:       "anthro",
			Name:     "Anthro",
			Type:     policy.KindAnthropic,
			APIKey:   &key,
			Endpoint: &url,
			Tier:     policy.TierCheap,
			Enabled:  true,
			Priority: 1,
			Models: []policy.Model{{
				ID:              "claude-test",
				Name:            "Claude Test",
				InputCostPer1M:  3.0,
				OutputCostPer1M: 15.0,
			}},
		}},
		Profiles: []policy.RoutingProfile{{
			Name:         "auto",
			AllowedTiers: []policy.Tier{policy.TierCheap},
			ModelMapping: map[string]policy.ModelMapping{
				"simple": {ModelID: "claude-test"},
			},
			AgenticModelMapping: map[string]policy.ModelMapping{},
		}},
		ActiveProfile: "auto",
	}
}

// --- buildOpenAIBody tests ----------------------------------------------------

func TestBuildOpenAIBody_ReplacesModelKeepsExtras(t *testing.T) {
	req := &chatRequest{
		Model: "orig-model",
		Messages: []json.RawMessage{
			json.RawMessage(`{"role":"user","content":"hi"}`),
		},
		Extras: map[string]json.RawMessage{
			"temperature": json.RawMessage(`0.2`),
			"stream":      json.RawMessage(`false`),
			"metadata":    json.RawMessage(`{"trace":"abc"}`),
		},
	}

	body, err := buildOpenAIBody("mapped-model", req)
	if err != nil {
		t.Fatal(err)
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}

	if string(out["model"]) != `"mapped-model"` {
		t.Errorf("expected mapped model, got %s", out["model"])
	}
	if string(out["temperature"]) != "0.2" {
		t.Errorf("expected temperature preserved, got %s", out["temperature"])
	}
	if string(out["stream"]) != "false" {
		t.Errorf("expected stream preserved, got %s", out["stream"])
	}
	if string(out["metadata"]) != `{"trace":"abc"}` {
		t.Errorf("expected metadata preserved, got %s", out["metadata"])
	}

	var msgs []json.RawMessage
	if err := json.Unmarshal(out["messages"], &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("expected 1 message, got %d", len(msgs))
	}
}

// --- copyForwardHeaders tests ---------------------------------------------------

func TestCopyForwardHeaders_SkipsHopHeaders(t *testing.T) {
	var src fasthttp.RequestHeader
	src.SetHost("origin.example")
	src.SetContentLength(42)
	src.Set("X-Custom", "yes")
	src.Set("Accept", "application/json")

	dst := make(http.Header)
	copyForwardHeaders(dst, &src)

	if dst.Get("X-Custom") != "yes" {
		t.Errorf("expected X-Custom copied, got %q", dst.Get("X-Custom"))
	}
	if dst.Get("Accept") != "application/json" {
		t.Errorf("expected Accept copied, got %q", dst.Get("Accept"))
	}
	if dst.Get("Host") != "" {
		t.Error("Host must not be copied")
	}
	if dst.Get("Content-Length") != "" {
		t.Error("Content-Length must not be copied")
	}
}

// --- upstream auth ----------------------------------------------------------------

func TestForwardToProvider_BearerReplacesClientAuth(t *testing.T) {
	cheap := newUpstream(t, 200, openAIResponse)
	prime := newUpstream(t, 200, openAIResponse)

	gw, _ := newTestGateway(t, testPolicy(cheap.srv.URL, prime.srv.URL))
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	req, err := http.NewRequest("POST", "http://test/v1/chat/completions",
		bytes.NewReader(chatBody("test-mini", "hi")))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer client-token")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := cheap.lastHeader().Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("expected configured key upstream, got %q", got)
	}
}

func TestForwardToProvider_ClientAuthPassthroughWithoutKey(t *testing.T) {
	cheap := newUpstream(t, 200, openAIResponse)
	prime := newUpstream(t, 200, openAIResponse)

	cfg := testPolicy(cheap.srv.URL, prime.srv.URL)
	cfg.Providers[0].APIKey = nil

	gw, _ := newTestGateway(t, cfg)
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	req, err := http.NewRequest("POST", "http://test/v1/chat/completions",
		bytes.NewReader(chatBody("test-mini", "hi")))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer sk-client")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := cheap.lastHeader().Get("Authorization"); got != "Bearer sk-client" {
		t.Errorf("expected client key forwarded when none configured, got %q", got)
	}
}

// --- Anthropic egress ---------------------------------------------------------------

func TestForwardToProvider_AnthropicRequestShape(t *testing.T) {
	anthro := newUpstream(t, 200, anthropicResponse)

	gw, _ := newTestGateway(t, anthropicPolicy(anthro.srv.URL))
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	body := []byte(`{"model":"claude-test","messages":[` +
		`{"role":"system","content":"be brief"},` +
		`{"role":"user","content":"hi"}],` +
		`"temperature":0.5}`)

	req, err := http.NewRequest("POST", "http://test/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer must-not-leak")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	hdr := anthro.lastHeader()
	if got := hdr.Get("x-api-key"); got != "sk-ant" {
		t.Errorf("expected x-api-key sk-ant, got %q", got)
	}
	if got := hdr.Get("anthropic-version"); got != "2023-06-01" {
		t.Errorf("expected anthropic-version 2023-06-01, got %q", got)
	}
	if got := hdr.Get("Authorization"); got != "" {
		t.Errorf("client Authorization must not reach Anthropic, got %q", got)
	}

	var sent struct {
		Model     string `json:"model"`
		System    string `json:"system"`
		MaxTokens int64  `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
		Temperature json.RawMessage `json:"temperature"`
	}
	if err := json.Unmarshal(anthro.lastBody(), &sent); err != nil {
		t.Fatal(err)
	}

	if sent.Model != "claude-test" {
		t.Errorf("expected model claude-test, got %s", sent.Model)
	}
	if sent.System != "be brief" {
		t.Errorf("expected system lifted to top level, got %q", sent.System)
	}
	if sent.MaxTokens != 4096 {
		t.Errorf("expected default max_tokens 4096, got %d", sent.MaxTokens)
	}
	if len(sent.Messages) != 1 || sent.Messages[0].Role != "user" {
		t.Fatalf("expected only the user turn in messages, got %+v", sent.Messages)
	}
	if len(sent.Messages[0].Content) != 1 || sent.Messages[0].Content[0].Text != "hi" {
		t.Errorf("expected text block hi, got %+v", sent.Messages[0].Content)
	}
	if string(sent.Temperature) != "0.5" {
		t.Errorf("expected temperature mapped, got %s", sent.Temperature)
	}
}

func TestForwardToProvider_AnthropicMaxTokensForwarded(t *testing.T) {
	anthro := newUpstream(t, 200, anthropicResponse)

	gw, _ := newTestGateway(t, anthropicPolicy(anthro.srv.URL))
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	body := []byte(`{"model":"claude-test","messages":[{"role":"user","content":"hi"}],"max_tokens":1234}`)
	resp := doPost(t, client, "/v1/chat/completions", body)
	readBody(t, resp)

	var sent struct {
		MaxTokens int64 `json:"max_tokens"`
	}
	if err := json.Unmarshal(anthro.lastBody(), &sent); err != nil {
		t.Fatal(err)
	}
	if sent.MaxTokens != 1234 {
		t.Errorf("expected max_tokens 1234, got %d", sent.MaxTokens)
	}
}

func TestForwardToProvider_AnthropicResponseTranslated(t *testing.T) {
	anthro := newUpstream(t, 200, anthropicResponse)

	gw, st := newTestGateway(t, anthropicPolicy(anthro.srv.URL))
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	resp := doPost(t, client, "/v1/chat/completions", chatBody("claude-test", "hi"))
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var out struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Choices []struct {
			Message struct {
				Role    string  `json:"role"`
				Content *string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     uint64 `json:"prompt_tokens"`
			CompletionTokens uint64 `json:"completion_tokens"`
			TotalTokens      uint64 `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("failed to parse translated response: %v", err)
	}

	if out.ID != "msg_01" {
		t.Errorf("expected upstream id preserved, got %s", out.ID)
	}
	if out.Object != "chat.completion" {
		t.Errorf("expected object chat.completion, got %s", out.Object)
	}
	if len(out.Choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(out.Choices))
	}
	if out.Choices[0].Message.Content == nil || *out.Choices[0].Message.Content != "translated reply" {
		t.Errorf("unexpected content: %v", out.Choices[0].Message.Content)
	}
	if out.Choices[0].FinishReason != "stop" {
		t.Errorf("expected finish_reason stop, got %s", out.Choices[0].FinishReason)
	}
	if out.Usage.PromptTokens != 12 || out.Usage.CompletionTokens != 7 || out.Usage.TotalTokens != 19 {
		t.Errorf("unexpected usage: %+v", out.Usage)
	}

	entry := lastLog(t, st)
	if entry.InputTokens == nil || *entry.InputTokens != 12 {
		t.Errorf("expected 12 input tokens, got %v", entry.InputTokens)
	}
	if entry.OutputTokens == nil || *entry.OutputTokens != 7 {
		t.Errorf("expected 7 output tokens, got %v", entry.OutputTokens)
	}
	// 12 in at $3/1M plus 7 out at $15/1M.
	if entry.EstimatedCost == nil || math.Abs(*entry.EstimatedCost-1.41e-4) > 1e-12 {
		t.Errorf("expected cost 1.41e-4, got %v", entry.EstimatedCost)
	}
}

func TestForwardToProvider_AnthropicMalformedResponsePassesThrough(t *testing.T) {
	anthro := newUpstream(t, 200, `not-json{`)

	gw, st := newTestGateway(t, anthropicPolicy(anthro.srv.URL))
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	resp := doPost(t, client, "/v1/chat/completions", chatBody("claude-test", "hi"))
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if string(body) != `not-json{` {
		t.Errorf("expected raw body passed through, got %q", body)
	}

	entry := lastLog(t, st)
	if entry.InputTokens != nil || entry.OutputTokens != nil {
		t.Error("token counts should stay unset for an unparseable response")
	}
}

// --- transport failures ---------------------------------------------------------------

func TestForwardToProvider_TransportErrorTriggersFailover(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	steady := newUpstream(t, 200, openAIResponse)

	gw, st := newTestGateway(t, failoverPolicy(deadURL, steady.srv.URL))
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	resp := doPost(t, client, "/v1/chat/completions", chatBody("test-mini", "hi"))
	readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after transport failover, got %d", resp.StatusCode)
	}
	if steady.callCount() != 1 {
		t.Errorf("expected steady to serve the request, calls=%d", steady.callCount())
	}

	entry := lastLog(t, st)
	if len(entry.ProvidersTried) != 2 ||
		entry.ProvidersTried[0] != "Flaky" || entry.ProvidersTried[1] != "Steady" {
		t.Errorf("expected providers_tried [Flaky Steady], got %v", entry.ProvidersTried)
	}
	if entry.Status != state.StatusSuccess {
		t.Errorf("expected success after failover, got %s", entry.Status)
	}
}
