package policy

type (
	// ScorerConfig tunes the complexity scorer. Weights multiply the raw
	// per-dimension scores; boundaries split the weighted sum into tiers.
	ScorerConfig struct {
		Enabled               bool            `json:"enabled"`
		Weights               ScorerWeights   `json:"weights"`
		TierBoundaries        TierBoundaries  `json:"tier_boundaries"`
		TokenThresholds       TokenThresholds `json:"token_thresholds"`
		ConfidenceSteepness   float64         `json:"confidence_steepness"`
		ConfidenceThreshold   float64         `json:"confidence_threshold"`
		MaxTokensForceComplex int             `json:"max_tokens_force_complex"`
	}

	// ScorerWeights holds one weight per scoring dimension. SimpleIndicators
	// is subtracted from the sum; all others add.
	ScorerWeights struct {
		TokenCount          float64 `json:"token_count"`
		CodePresence        float64 `json:"code_presence"`
		ReasoningMarkers    float64 `json:"reasoning_markers"`
		TechnicalTerms      float64 `json:"technical_terms"`
		CreativeMarkers     float64 `json:"creative_markers"`
		SimpleIndicators    float64 `json:"simple_indicators"`
		MultiStepPatterns   float64 `json:"multi_step_patterns"`
		QuestionComplexity  float64 `json:"question_complexity"`
		ImperativeVerbs     float64 `json:"imperative_verbs"`
		ConstraintCount     float64 `json:"constraint_count"`
		OutputFormat        float64 `json:"output_format"`
		ReferenceComplexity float64 `json:"reference_complexity"`
		NegationComplexity  float64 `json:"negation_complexity"`
		DomainSpecificity   float64 `json:"domain_specificity"`
		AgenticTask         float64 `json:"agentic_task"`
	}

	// TierBoundaries are upper bounds on the weighted score, checked in
	// order. Scores at or above ComplexUpper classify as Reasoning.
	TierBoundaries struct {
		SimpleUpper  float64 `json:"simple_upper"`
		MediumUpper  float64 `json:"medium_upper"`
		ComplexUpper float64 `json:"complex_upper"`
	}

	// TokenThresholds pick the token-count dimension's value: below
	// ShortUpper scores -1, above LongLower scores +1, otherwise 0.
	TokenThresholds struct {
		ShortUpper int `json:"short_upper"`
		LongLower  int `json:"long_lower"`
	}

	// CacheConfig controls the response cache. TTL is enforced at read
	// time against the entry's stored timestamp.
	CacheConfig struct {
		Enabled    bool   `json:"enabled"`
		TTLSeconds uint64 `json:"ttl_seconds"`
		CacheDir   string `json:"cache_dir"`
	}

	// SessionConfig controls session pinning. Entries older than the TTL
	// are treated as absent.
	SessionConfig struct {
		Enabled    bool   `json:"enabled"`
		TTLSeconds uint64 `json:"ttl_seconds"`
	}
)

// DefaultScorerConfig returns the scorer tuning used when the config
// document has no scorer block.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Enabled: true,
		Weights: ScorerWeights{
			TokenCount:          0.08,
			CodePresence:        0.15,
			ReasoningMarkers:    0.18,
			TechnicalTerms:      0.10,
			CreativeMarkers:     0.05,
			SimpleIndicators:    0.02,
			MultiStepPatterns:   0.12,
			QuestionComplexity:  0.05,
			ImperativeVerbs:     0.03,
			ConstraintCount:     0.04,
			OutputFormat:        0.03,
			ReferenceComplexity: 0.02,
			NegationComplexity:  0.01,
			DomainSpecificity:   0.02,
			AgenticTask:         0.04,
		},
		TierBoundaries: TierBoundaries{
			SimpleUpper:  0.0,
			MediumUpper:  0.3,
			ComplexUpper: 0.5,
		},
		TokenThresholds: TokenThresholds{
			ShortUpper: 500,
			LongLower:  3000,
		},
		ConfidenceSteepness:   12.0,
		ConfidenceThreshold:   0.7,
		MaxTokensForceComplex: 100_000,
	}
}

// DefaultCacheConfig returns the cache settings used when the config
// document has no cache block. The cache starts disabled.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:    false,
		TTLSeconds: 3600,
		CacheDir:   "cache",
	}
}

// DefaultSessionConfig returns the session settings used when the config
// document has no session block. Pinning starts disabled.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Enabled:    false,
		TTLSeconds: 1800,
	}
}
