package policy

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.ActiveProfile != "auto" {
		t.Errorf("expected active profile auto, got %s", cfg.ActiveProfile)
	}
	if len(cfg.Providers) != 3 {
		t.Fatalf("expected 3 providers, got %d", len(cfg.Providers))
	}

	tiers := map[string]Tier{}
	for _, p := range cfg.Providers {
		if !p.Enabled {
			t.Errorf("provider %s should be enabled", p.ID)
		}
		tiers[p.ID] = p.Tier
	}
	if tiers["openai"] != TierSubscription || tiers["anthropic"] != TierSubscription || tiers["deepseek"] != TierCheap {
		t.Errorf("unexpected default tiers: %v", tiers)
	}

	if len(cfg.Profiles) != 3 {
		t.Fatalf("expected 3 profiles, got %d", len(cfg.Profiles))
	}
	auto, ok := cfg.Profile("auto")
	if !ok {
		t.Fatal("expected auto profile")
	}
	if len(auto.AllowedTiers) != 4 {
		t.Errorf("auto profile should allow all tiers, got %v", auto.AllowedTiers)
	}
	if auto.ModelMapping["simple"].ModelID != "deepseek-chat" {
		t.Errorf("unexpected simple mapping: %+v", auto.ModelMapping["simple"])
	}
	if auto.ModelMapping["reasoning"].ModelID != "claude-3-opus" {
		t.Errorf("unexpected reasoning mapping: %+v", auto.ModelMapping["reasoning"])
	}

	eco, _ := cfg.Profile("eco")
	if len(eco.AllowedTiers) != 2 || eco.AllowedTiers[0] != TierFree || eco.AllowedTiers[1] != TierCheap {
		t.Errorf("unexpected eco tiers: %v", eco.AllowedTiers)
	}
}

func TestProviderModelLookup(t *testing.T) {
	cfg := Default()
	prov, ok := cfg.Provider("deepseek")
	if !ok {
		t.Fatal("expected deepseek provider")
	}

	m, ok := prov.Model("deepseek-chat")
	if !ok {
		t.Fatal("expected deepseek-chat in catalog")
	}
	if m.InputCostPer1M != 0.14 || m.OutputCostPer1M != 0.28 {
		t.Errorf("unexpected pricing: %+v", m)
	}

	if prov.HasModel("gpt-4-turbo") {
		t.Error("deepseek must not carry gpt-4-turbo")
	}
	if _, ok := cfg.Provider("nope"); ok {
		t.Error("expected miss for unknown provider id")
	}
	if _, ok := cfg.Profile("nope"); ok {
		t.Error("expected miss for unknown profile name")
	}
}

func TestEndpointOrDefault(t *testing.T) {
	empty := ""
	custom := "https://example.test/v1/chat/completions"
	tests := []struct {
		name     string
		endpoint *string
		want     string
	}{
		{"nil", nil, DefaultEndpoint},
		{"empty", &empty, DefaultEndpoint},
		{"set", &custom, custom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Provider{Endpoint: tt.endpoint}
			if got := p.EndpointOrDefault(); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestSettingsFallbacks(t *testing.T) {
	var cfg Config

	scorer := cfg.ScorerSettings()
	if !scorer.Enabled {
		t.Error("default scorer should be enabled")
	}
	if scorer.TierBoundaries.MediumUpper != 0.3 || scorer.MaxTokensForceComplex != 100_000 {
		t.Errorf("unexpected scorer defaults: %+v", scorer)
	}

	cache := cfg.CacheSettings()
	if cache.Enabled || cache.TTLSeconds != 3600 || cache.CacheDir != "cache" {
		t.Errorf("unexpected cache defaults: %+v", cache)
	}

	session := cfg.SessionSettings()
	if session.Enabled || session.TTLSeconds != 1800 {
		t.Errorf("unexpected session defaults: %+v", session)
	}

	// Explicit blocks win over defaults.
	cfg.Cache = &CacheConfig{Enabled: true, TTLSeconds: 60, CacheDir: "x"}
	if got := cfg.CacheSettings(); !got.Enabled || got.TTLSeconds != 60 {
		t.Errorf("expected explicit cache block, got %+v", got)
	}
}

// The JSON field names are the wire contract for config files and the admin
// API; renaming one is a breaking change.
func TestWireFieldNames(t *testing.T) {
	body, err := json.Marshal(Provider{Type: KindAnthropic, Tier: TierPayPerRequest})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"provider_type":"Anthropic"`, `"tier":"PayPerRequest"`, `"api_key":null`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("provider JSON missing %s: %s", want, body)
		}
	}

	body, err = json.Marshal(Model{ID: "m"})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"input_cost_per_1m"`, `"output_cost_per_1m"`, `"context_window"`, `"supports_function_calling"`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("model JSON missing %s: %s", want, body)
		}
	}

	body, err = json.Marshal(Config{})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"active_profile"`, `"agentic_mode"`, `"scorer":null`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("config JSON missing %s: %s", want, body)
		}
	}
}
