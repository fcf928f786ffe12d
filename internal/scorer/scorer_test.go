package scorer

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/nulpointcorp/llm-router/internal/policy"
)

func userMessage(t *testing.T, content any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"role": "user", "content": content})
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	return raw
}

func scoreText(t *testing.T, text string) Result {
	t.Helper()
	return Score([]json.RawMessage{userMessage(t, text)}, policy.DefaultScorerConfig())
}

func hasSignal(signals []string, prefix string) bool {
	for _, s := range signals {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func TestSimpleQuery(t *testing.T) {
	result := scoreText(t, "What is Rust?")
	if result.Tier != Simple {
		t.Fatalf("tier = %v, want Simple", result.Tier)
	}
	if result.RawScore >= 0 {
		t.Fatalf("raw score = %v, want negative", result.RawScore)
	}
}

func TestCodeQuery(t *testing.T) {
	result := scoreText(t,
		"Write a function that implements a class with async/await "+
			"and uses import statements. Include a struct definition.")
	if result.RawScore <= 0 {
		t.Fatalf("raw score = %v, want positive", result.RawScore)
	}
	if result.Tier != Medium && result.Tier != Complex {
		t.Fatalf("tier = %v, want Medium or Complex", result.Tier)
	}
}

func TestReasoningOverride(t *testing.T) {
	result := scoreText(t,
		"Prove the theorem using mathematical induction. "+
			"Derive the proof step by step using formal logic.")
	if result.Tier != Reasoning {
		t.Fatalf("tier = %v, want Reasoning", result.Tier)
	}
	if result.OverrideApplied != "reasoning_markers_force" {
		t.Fatalf("override = %q, want reasoning_markers_force", result.OverrideApplied)
	}
}

func TestStructuredOutputOverride(t *testing.T) {
	// "what is" marks the text simple while "json" marks structured output,
	// which promotes Simple to Medium.
	result := scoreText(t, "What is json?")
	if result.Tier != Medium {
		t.Fatalf("tier = %v, want Medium", result.Tier)
	}
	if result.OverrideApplied != "structured_output_min_medium" {
		t.Fatalf("override = %q, want structured_output_min_medium", result.OverrideApplied)
	}
}

func TestTokenCountForceComplex(t *testing.T) {
	// Over 100k estimated tokens forces at least Complex.
	result := scoreText(t, strings.Repeat("word ", 80_100))
	if result.Tier != Complex {
		t.Fatalf("tier = %v, want Complex", result.Tier)
	}
	if result.OverrideApplied != "token_count_force_complex" {
		t.Fatalf("override = %q, want token_count_force_complex", result.OverrideApplied)
	}
}

func TestReasoningBeatsStructuredOutput(t *testing.T) {
	// The text carries both a structured-output hint and two reasoning
	// markers; the reasoning override decides the verdict.
	result := scoreText(t, "What is json? Prove the theorem.")
	if result.Tier != Reasoning {
		t.Fatalf("tier = %v, want Reasoning", result.Tier)
	}
	if result.OverrideApplied != "reasoning_markers_force" {
		t.Fatalf("override = %q, want reasoning_markers_force", result.OverrideApplied)
	}
}

func TestMultiStepDetection(t *testing.T) {
	result := scoreText(t,
		"First, set up the database schema, then create the API endpoints, "+
			"and deploy the microservice to kubernetes.")
	if !hasSignal(result.Signals, "multi_step") {
		t.Fatalf("signals = %v, want multi_step", result.Signals)
	}
	if result.RawScore <= 0 {
		t.Fatalf("raw score = %v, want positive", result.RawScore)
	}
}

func TestMultiStepPatterns(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"first compile it, then run it", true},
		{"FIRST do this THEN do that", true},
		{"proceed to step 3 of the guide", true},
		{"1. fetch 2. decode", true},
		{"just run the program", false},
		{"then again, maybe not", false},
	}
	for _, tt := range tests {
		if got := multiStepRE.MatchString(strings.ToLower(tt.text)); got != tt.want {
			t.Errorf("multiStepRE(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestQuestionComplexity(t *testing.T) {
	result := scoreText(t,
		"What is the algorithm? How does it optimize? "+
			"Why is it distributed? When should I use it? "+
			"Where does latency come from?")
	if !hasSignal(result.Signals, "questions:") {
		t.Fatalf("signals = %v, want questions:<n>", result.Signals)
	}
}

func TestAgenticTask(t *testing.T) {
	result := scoreText(t,
		"Read the file, edit the code, fix the bug, "+
			"deploy it, and make sure it works. After that, verify.")
	if !hasSignal(result.Signals, "agentic:") {
		t.Fatalf("signals = %v, want agentic:<n>", result.Signals)
	}
	if result.AgenticKeywordCount < 4 {
		t.Fatalf("agentic keyword count = %d, want >= 4", result.AgenticKeywordCount)
	}
}

func TestAgenticSignalLeadsList(t *testing.T) {
	result := scoreText(t, "fix the function")
	want := []string{"agentic:1", "code:1"}
	if len(result.Signals) != len(want) {
		t.Fatalf("signals = %v, want %v", result.Signals, want)
	}
	for i := range want {
		if result.Signals[i] != want[i] {
			t.Fatalf("signals = %v, want %v", result.Signals, want)
		}
	}
}

func TestDomainSpecific(t *testing.T) {
	result := scoreText(t,
		"Explain quantum computing and homomorphic encryption "+
			"for lattice-based cryptography.")
	if !hasSignal(result.Signals, "domain:") {
		t.Fatalf("signals = %v, want domain:<n>", result.Signals)
	}
}

func TestEmptyMessages(t *testing.T) {
	result := Score(nil, policy.DefaultScorerConfig())
	if result.Tier != Simple {
		t.Fatalf("tier = %v, want Simple", result.Tier)
	}
}

func TestKeywordMatchScale(t *testing.T) {
	keywords := []string{"alpha", "beta", "gamma", "delta"}
	tests := []struct {
		text string
		want float64
	}{
		{"nothing here", 0.0},
		{"alpha", 0.3},
		{"alpha beta", 0.6},
		{"alpha beta gamma", 1.0},
		{"alpha beta gamma delta", 1.0},
	}
	for _, tt := range tests {
		var signals []string
		if got := scoreKeywordMatch(tt.text, keywords, "kw", &signals); got != tt.want {
			t.Errorf("scoreKeywordMatch(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestAgenticScale(t *testing.T) {
	tests := []struct {
		text      string
		wantScore float64
		wantCount int
	}{
		{"nothing going on", 0.0, 0},
		{"npm", 0.2, 1},
		{"npm pip", 0.2, 2},
		{"npm pip compile", 0.6, 3},
		{"npm pip compile debug", 1.0, 4},
	}
	for _, tt := range tests {
		var signals []string
		score, count := scoreAgenticTask(tt.text, &signals)
		if score != tt.wantScore || count != tt.wantCount {
			t.Errorf("scoreAgenticTask(%q) = (%v, %d), want (%v, %d)",
				tt.text, score, count, tt.wantScore, tt.wantCount)
		}
	}
}

func TestTokenCountScore(t *testing.T) {
	thresholds := policy.TokenThresholds{ShortUpper: 2, LongLower: 4}
	tests := []struct {
		text string
		want float64
	}{
		{"abcd", -1.0},             // 1 token
		{"abcdefgh", 0.0},          // 2 tokens
		{"abcdefghijkl", 0.0},      // 3 tokens
		{"abcdefghijklmnop", 0.0},  // 4 tokens
		{"abcdefghijklmnopqrst", 1.0}, // 5 tokens
	}
	for _, tt := range tests {
		if got := scoreTokenCount(tt.text, thresholds); got != tt.want {
			t.Errorf("scoreTokenCount(len %d) = %v, want %v", len(tt.text), got, tt.want)
		}
	}
}

func TestExtractTextStringContent(t *testing.T) {
	messages := []json.RawMessage{userMessage(t, "Hello World")}
	if got := extractText(messages); got != "hello world" {
		t.Fatalf("extractText = %q, want %q", got, "hello world")
	}
}

func TestExtractTextArrayContent(t *testing.T) {
	messages := []json.RawMessage{userMessage(t, []map[string]any{
		{"type": "text", "text": "Hello"},
		{"type": "image_url", "image_url": map[string]any{"url": "data:..."}},
	})}
	if got := extractText(messages); got != "hello" {
		t.Fatalf("extractText = %q, want %q", got, "hello")
	}
}

func TestExtractTextSkipsNonUser(t *testing.T) {
	messages := []json.RawMessage{
		json.RawMessage(`{"role": "system", "content": "You are helpful."}`),
		json.RawMessage(`{"role": "user", "content": "Hi there"}`),
		json.RawMessage(`{"role": "assistant", "content": "Hello!"}`),
	}
	if got := extractText(messages); got != "hi there" {
		t.Fatalf("extractText = %q, want %q", got, "hi there")
	}
}

func TestExtractTextIgnoresNullContent(t *testing.T) {
	messages := []json.RawMessage{
		json.RawMessage(`{"role": "user", "content": null}`),
		json.RawMessage(`{"role": "user", "content": "real"}`),
	}
	if got := extractText(messages); got != "real" {
		t.Fatalf("extractText = %q, want %q", got, "real")
	}
}

func TestConfidenceAwayFromBoundary(t *testing.T) {
	b := policy.DefaultScorerConfig().TierBoundaries
	// 0.15 sits halfway between the 0.0 and 0.3 boundaries.
	conf := calibrateConfidence(0.15, b, 12.0)
	if conf <= 0.5 || conf >= 1.0 {
		t.Fatalf("confidence = %v, want in (0.5, 1.0)", conf)
	}
}

func TestConfidenceAtBoundary(t *testing.T) {
	b := policy.DefaultScorerConfig().TierBoundaries
	conf := calibrateConfidence(0.3, b, 12.0)
	if math.Abs(conf-0.5) > 0.01 {
		t.Fatalf("confidence = %v, want ~0.5", conf)
	}
}

func TestComplexityTierNames(t *testing.T) {
	tests := []struct {
		tier ComplexityTier
		name string
		key  string
	}{
		{Simple, "Simple", "simple"},
		{Medium, "Medium", "medium"},
		{Complex, "Complex", "complex"},
		{Reasoning, "Reasoning", "reasoning"},
	}
	for _, tt := range tests {
		if tt.tier.String() != tt.name {
			t.Errorf("String() = %q, want %q", tt.tier.String(), tt.name)
		}
		if tt.tier.MappingKey() != tt.key {
			t.Errorf("MappingKey() = %q, want %q", tt.tier.MappingKey(), tt.key)
		}
	}
}

func BenchmarkScore(b *testing.B) {
	messages := []json.RawMessage{json.RawMessage(`{
		"role": "user",
		"content": "First, design a distributed database architecture, then implement the API in a function with async/await. Output the schema as json. Make sure latency stays under 10ms."
	}`)}
	cfg := policy.DefaultScorerConfig()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		Score(messages, cfg)
	}
}
