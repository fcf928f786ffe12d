// Package policy defines the routing configuration model: upstream providers
// with their model catalogs and pricing tiers, routing profiles with
// per-complexity model mappings, and the scorer, cache and session settings.
//
// The whole tree is plain JSON. It is loaded from disk at boot, replaced
// wholesale through the admin API, and read as an immutable snapshot by the
// request path. Snapshots must not be mutated.
package policy

type (
	// Tier classifies how a provider is paid for. Profiles allow-list tiers
	// and the router prefers them in the profile's declared order.
	Tier string

	// Kind selects the egress wire shape for a provider. Anthropic is the
	// only kind with its own shape; every other kind speaks the OpenAI form.
	Kind string
)

const (
	TierSubscription  Tier = "Subscription"
	TierCheap         Tier = "Cheap"
	TierFree          Tier = "Free"
	TierPayPerRequest Tier = "PayPerRequest"
)

const (
	KindOpenAI       Kind = "OpenAI"
	KindAnthropic    Kind = "Anthropic"
	KindGoogle       Kind = "Google"
	KindDeepSeek     Kind = "DeepSeek"
	KindXAI          Kind = "XAI"
	KindCustomOpenAI Kind = "CustomOpenAI"
)

// DefaultEndpoint is used when a provider has no endpoint configured.
const DefaultEndpoint = "https://api.openai.com/v1/chat/completions"

type (
	// Model is one entry in a provider's catalog. Costs are USD per million
	// tokens.
	Model struct {
		ID                      string  `json:"id"`
		Name                    string  `json:"name"`
		InputCostPer1M          float64 `json:"input_cost_per_1m"`
		OutputCostPer1M         float64 `json:"output_cost_per_1m"`
		ContextWindow           uint32  `json:"context_window"`
		SupportsVision          bool    `json:"supports_vision"`
		SupportsFunctionCalling bool    `json:"supports_function_calling"`
	}

	// Provider is one upstream endpoint. Priority breaks ties within a tier;
	// higher tries first.
	Provider struct {
		ID       string  `json:"id"`
		Name     string  `json:"name"`
		Type     Kind    `json:"provider_type"`
		APIKey   *string `json:"api_key"`
		Endpoint *string `json:"endpoint"`
		Tier     Tier    `json:"tier"`
		Enabled  bool    `json:"enabled"`
		Priority uint8   `json:"priority"`
		Models   []Model `json:"models"`
	}

	// ModelMapping redirects a complexity tier to a concrete model, and
	// optionally pins the provider that must serve it. Empty strings mean
	// "no redirect" and "no pin".
	ModelMapping struct {
		ModelID    string `json:"model_id"`
		ProviderID string `json:"provider_id"`
	}

	// RoutingProfile is a named routing policy. Mapping keys are the
	// lowercase complexity tier names (simple, medium, complex, reasoning).
	// AgenticModelMapping, when non-empty, replaces ModelMapping for
	// agentic requests.
	RoutingProfile struct {
		Name                string                  `json:"name"`
		Description         string                  `json:"description"`
		AllowedTiers        []Tier                  `json:"allowed_tiers"`
		ModelMapping        map[string]ModelMapping `json:"model_mapping"`
		AgenticModelMapping map[string]ModelMapping `json:"agentic_model_mapping"`
	}

	// Config is the full routing policy document.
	Config struct {
		Providers     []Provider       `json:"providers"`
		Profiles      []RoutingProfile `json:"profiles"`
		ActiveProfile string           `json:"active_profile"`
		Scorer        *ScorerConfig    `json:"scorer"`
		Cache         *CacheConfig     `json:"cache"`
		Session       *SessionConfig   `json:"session"`
		AgenticMode   bool             `json:"agentic_mode"`
	}
)

// Model returns the provider's catalog entry for the given model id.
func (p *Provider) Model(id string) (Model, bool) {
	for _, m := range p.Models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// HasModel reports whether the provider's catalog contains the model id.
func (p *Provider) HasModel(id string) bool {
	_, ok := p.Model(id)
	return ok
}

// EndpointOrDefault returns the configured endpoint, or DefaultEndpoint.
func (p *Provider) EndpointOrDefault() string {
	if p.Endpoint != nil && *p.Endpoint != "" {
		return *p.Endpoint
	}
	return DefaultEndpoint
}

// Provider returns the provider with the given id.
func (c *Config) Provider(id string) (*Provider, bool) {
	for i := range c.Providers {
		if c.Providers[i].ID == id {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

// Profile returns the profile with the given name.
func (c *Config) Profile(name string) (*RoutingProfile, bool) {
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			return &c.Profiles[i], true
		}
	}
	return nil, false
}

// ScorerSettings returns the scorer configuration, falling back to defaults
// when the document has none.
func (c *Config) ScorerSettings() ScorerConfig {
	if c.Scorer != nil {
		return *c.Scorer
	}
	return DefaultScorerConfig()
}

// CacheSettings returns the cache configuration, falling back to defaults
// when the document has none.
func (c *Config) CacheSettings() CacheConfig {
	if c.Cache != nil {
		return *c.Cache
	}
	return DefaultCacheConfig()
}

// SessionSettings returns the session configuration, falling back to
// defaults when the document has none.
func (c *Config) SessionSettings() SessionConfig {
	if c.Session != nil {
		return *c.Session
	}
	return DefaultSessionConfig()
}

// Default returns the configuration served before any config file exists:
// three well-known providers and the auto/eco/premium profiles.
func Default() Config {
	return Config{
		Providers: []Provider{
			{
				ID:       "openai",
				Name:     "OpenAI",
				Type:     KindOpenAI,
				Endpoint: strPtr("https://api.openai.com/v1/chat/completions"),
				Tier:     TierSubscription,
				Enabled:  true,
				Priority: 1,
				Models: []Model{{
					ID:                      "gpt-4-turbo",
					Name:                    "GPT-4 Turbo",
					InputCostPer1M:          10.0,
					OutputCostPer1M:         30.0,
					ContextWindow:           128000,
					SupportsVision:          true,
					SupportsFunctionCalling: true,
				}},
			},
			{
				ID:       "anthropic",
				Name:     "Anthropic",
				Type:     KindAnthropic,
				Endpoint: strPtr("https://api.anthropic.com/v1/messages"),
				Tier:     TierSubscription,
				Enabled:  true,
				Priority: 1,
				Models: []Model{{
					ID:                      "claude-3-opus",
					Name:                    "Claude 3 Opus",
					InputCostPer1M:          15.0,
					OutputCostPer1M:         75.0,
					ContextWindow:           200000,
					SupportsVision:          true,
					SupportsFunctionCalling: true,
				}},
			},
			{
				ID:       "deepseek",
				Name:     "DeepSeek",
				Type:     KindDeepSeek,
				Endpoint: strPtr("https://api.deepseek.com/chat/completions"),
				Tier:     TierCheap,
				Enabled:  true,
				Priority: 1,
				Models: []Model{{
					ID:                      "deepseek-chat",
					Name:                    "DeepSeek Chat",
					InputCostPer1M:          0.14,
					OutputCostPer1M:         0.28,
					ContextWindow:           128000,
					SupportsVision:          false,
					SupportsFunctionCalling: true,
				}},
			},
		},
		Profiles: []RoutingProfile{
			{
				Name:         "auto",
				Description:  "Balanced cost and quality",
				AllowedTiers: []Tier{TierSubscription, TierCheap, TierFree, TierPayPerRequest},
				ModelMapping: map[string]ModelMapping{
					"simple":    {ModelID: "deepseek-chat"},
					"medium":    {ModelID: "deepseek-chat"},
					"complex":   {ModelID: "gpt-4-turbo"},
					"reasoning": {ModelID: "claude-3-opus"},
				},
				AgenticModelMapping: map[string]ModelMapping{},
			},
			{
				Name:                "eco",
				Description:         "Focus on low cost",
				AllowedTiers:        []Tier{TierFree, TierCheap},
				ModelMapping:        map[string]ModelMapping{},
				AgenticModelMapping: map[string]ModelMapping{},
			},
			{
				Name:                "premium",
				Description:         "Focus on best quality",
				AllowedTiers:        []Tier{TierSubscription, TierPayPerRequest},
				ModelMapping:        map[string]ModelMapping{},
				AgenticModelMapping: map[string]ModelMapping{},
			},
		},
		ActiveProfile: "auto",
	}
}

func strPtr(s string) *string { return &s }
