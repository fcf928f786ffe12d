// Package scorer classifies chat completion requests into complexity tiers.
//
// Fifteen dimensions are scored from the user-message text (keyword families,
// token count, multi-step and question patterns), combined into a weighted
// sum, and mapped to a tier through configurable boundaries. Three overrides
// can then bump the tier; the scorer also reports the raw agentic keyword
// count used by agentic-mode detection.
package scorer

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/nulpointcorp/llm-router/internal/policy"
)

// ComplexityTier is the scorer's verdict. It is distinct from policy.Tier,
// which classifies provider pricing.
type ComplexityTier int

const (
	Simple ComplexityTier = iota
	Medium
	Complex
	Reasoning
)

// String returns the display name used in logs and stats.
func (t ComplexityTier) String() string {
	switch t {
	case Simple:
		return "Simple"
	case Medium:
		return "Medium"
	case Complex:
		return "Complex"
	case Reasoning:
		return "Reasoning"
	default:
		return fmt.Sprintf("ComplexityTier(%d)", int(t))
	}
}

// MappingKey returns the lowercase key used in profile model mappings.
func (t ComplexityTier) MappingKey() string {
	switch t {
	case Simple:
		return "simple"
	case Medium:
		return "medium"
	case Complex:
		return "complex"
	default:
		return "reasoning"
	}
}

// Result is the full scoring outcome for one request.
type Result struct {
	Tier       ComplexityTier
	RawScore   float64
	Confidence float64
	// Signals lists the triggered dimensions, e.g. "code:2" or "multi_step".
	Signals []string
	// OverrideApplied names the tier override that fired, empty if none.
	OverrideApplied string
	// AgenticKeywordCount is the raw number of agentic keywords seen.
	AgenticKeywordCount int
}

// dimensions holds the per-dimension raw scores before weighting.
type dimensions struct {
	tokenCount          float64
	codePresence        float64
	reasoningMarkers    float64
	technicalTerms      float64
	creativeMarkers     float64
	simpleIndicators    float64
	multiStepPatterns   float64
	questionComplexity  float64
	imperativeVerbs     float64
	constraintCount     float64
	outputFormat        float64
	referenceComplexity float64
	negationComplexity  float64
	domainSpecificity   float64
	agenticTask         float64
}

// ─── Keyword lists ────────────────────────────────────────────────────────────
// Matching runs over lowercased user text with plain substring containment.

var codeKeywords = []string{
	"function", "class", "import", "const", "let", "var", "return",
	"async", "await", "def ", "print(", "console.log", "```",
	"pub fn", "impl ", "struct ", "enum ", "SELECT", "INSERT",
	"UPDATE", "DELETE", "CREATE TABLE",
}

var reasoningKeywords = []string{
	"prove", "theorem", "derive", "step by step", "chain of thought",
	"formally", "mathematical", "proof", "logically", "contradiction",
	"induction", "hypothesis", "therefore", "axiom", "lemma",
	"corollary", "deduce", "implies",
}

var technicalKeywords = []string{
	"algorithm", "optimize", "architecture", "distributed", "kubernetes",
	"microservice", "database", "infrastructure", "concurrent", "latency",
	"throughput", "scalable", "middleware", "authentication",
	"authorization", "encryption",
}

var creativeKeywords = []string{
	"story", "poem", "compose", "brainstorm", "creative", "imagine",
	"write a", "fiction", "narrative", "character", "plot", "metaphor",
}

var simpleKeywords = []string{
	"what is", "define", "translate", "hello", "yes or no",
	"capital of", "how old", "who is", "when was", "meaning of",
	"true or false",
}

var imperativeKeywords = []string{
	"build", "create", "implement", "design", "develop", "construct",
	"generate", "deploy", "configure", "set up", "refactor", "migrate",
	"integrate",
}

var constraintKeywords = []string{
	"under", "at most", "at least", "within", "no more than",
	"o(", "maximum", "minimum", "limit", "budget", "constraint",
}

var outputFormatKeywords = []string{
	"json", "yaml", "xml", "table", "csv", "markdown", "schema",
	"format as", "structured", "output as",
}

var referenceKeywords = []string{
	"above", "below", "previous", "following", "the docs", "the api",
	"the code", "earlier", "attached", "mentioned",
}

var negationKeywords = []string{
	"don't", "do not", "avoid", "never", "without", "except",
	"exclude", "no longer", "must not", "shouldn't",
}

var domainKeywords = []string{
	"quantum", "fpga", "vlsi", "risc-v", "asic", "photonics",
	"genomics", "proteomics", "topological", "homomorphic",
	"zero-knowledge", "lattice-based",
}

var agenticKeywords = []string{
	"read file", "read the file", "look at", "check the", "open the",
	"edit", "modify", "update the", "change the", "write to",
	"create file", "execute", "deploy", "install", "npm", "pip",
	"compile", "after that", "and also", "once done", "step 1",
	"step 2", "fix", "debug", "until it works", "keep trying",
	"iterate", "make sure", "verify", "confirm",
}

// multiStepRE detects sequenced instructions. Compiled once.
var multiStepRE = regexp.MustCompile(`(?i)(first\b.*\bthen\b|step\s+\d|1\.\s.*2\.\s)`)

// ─── Scoring ─────────────────────────────────────────────────────────────────

// Score classifies the request held in messages (raw OpenAI-shape message
// objects) under the given scorer configuration.
func Score(messages []json.RawMessage, cfg policy.ScorerConfig) Result {
	text := extractText(messages)
	estimatedTokens := estimateTokenCount(text)

	var signals []string

	// The agentic dimension is scored first so its signal leads the list.
	agenticScore, agenticCount := scoreAgenticTask(text, &signals)

	d := dimensions{}
	d.tokenCount = scoreTokenCount(text, cfg.TokenThresholds)
	d.codePresence = scoreKeywordMatch(text, codeKeywords, "code", &signals)
	d.reasoningMarkers = scoreKeywordMatch(text, reasoningKeywords, "reasoning", &signals)
	d.technicalTerms = scoreKeywordMatch(text, technicalKeywords, "technical", &signals)
	d.creativeMarkers = scoreKeywordMatch(text, creativeKeywords, "creative", &signals)
	d.simpleIndicators = scoreKeywordMatch(text, simpleKeywords, "simple", &signals)
	d.multiStepPatterns = scoreMultiStep(text, &signals)
	d.questionComplexity = scoreQuestionComplexity(text, &signals)
	d.imperativeVerbs = scoreKeywordMatch(text, imperativeKeywords, "imperative", &signals)
	d.constraintCount = scoreKeywordMatch(text, constraintKeywords, "constraint", &signals)
	d.outputFormat = scoreKeywordMatch(text, outputFormatKeywords, "output_format", &signals)
	d.referenceComplexity = scoreKeywordMatch(text, referenceKeywords, "reference", &signals)
	d.negationComplexity = scoreKeywordMatch(text, negationKeywords, "negation", &signals)
	d.domainSpecificity = scoreKeywordMatch(text, domainKeywords, "domain", &signals)
	d.agenticTask = agenticScore

	rawScore := weightedScore(d, cfg.Weights)
	tier := classifyTier(rawScore, cfg.TierBoundaries)
	confidence := calibrateConfidence(rawScore, cfg.TierBoundaries, cfg.ConfidenceSteepness)

	// Overrides, in order. A later override replaces an earlier one.
	override := ""
	if estimatedTokens > cfg.MaxTokensForceComplex && tier < Complex {
		tier = Complex
		override = "token_count_force_complex"
	}
	if d.outputFormat > 0 && tier == Simple {
		tier = Medium
		override = "structured_output_min_medium"
	}
	// A reasoning-marker score of 0.6 corresponds to two keyword hits.
	if d.reasoningMarkers >= 0.6 {
		tier = Reasoning
		override = "reasoning_markers_force"
	}

	return Result{
		Tier:                tier,
		RawScore:            rawScore,
		Confidence:          confidence,
		Signals:             signals,
		OverrideApplied:     override,
		AgenticKeywordCount: agenticCount,
	}
}

// extractText collects user-message text. String contents are taken whole;
// array contents contribute their "text"-typed parts. Everything else is
// ignored. The result is joined with newlines and lowercased.
func extractText(messages []json.RawMessage) string {
	var parts []string

	for _, raw := range messages {
		var msg struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Role != "user" {
			continue
		}

		switch firstByte(msg.Content) {
		case '"':
			var s string
			if err := json.Unmarshal(msg.Content, &s); err == nil {
				parts = append(parts, s)
			}
		case '[':
			var items []json.RawMessage
			if err := json.Unmarshal(msg.Content, &items); err != nil {
				continue
			}
			for _, itemRaw := range items {
				var item struct {
					Type string  `json:"type"`
					Text *string `json:"text"`
				}
				if err := json.Unmarshal(itemRaw, &item); err != nil {
					continue
				}
				if item.Type == "text" && item.Text != nil {
					parts = append(parts, *item.Text)
				}
			}
		}
	}

	return strings.ToLower(strings.Join(parts, "\n"))
}

// firstByte returns the first non-whitespace byte of raw, or 0.
func firstByte(raw []byte) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}

// estimateTokenCount approximates tokens as one per four bytes of text.
func estimateTokenCount(text string) int {
	return len(text) / 4
}

func scoreTokenCount(text string, thresholds policy.TokenThresholds) float64 {
	tokens := estimateTokenCount(text)
	switch {
	case tokens < thresholds.ShortUpper:
		return -1.0
	case tokens > thresholds.LongLower:
		return 1.0
	default:
		return 0.0
	}
}

// scoreKeywordMatch counts matched keywords and maps the count to a score:
// 0 scores 0.0, 1 scores 0.3, 2 scores 0.6, 3 or more score 1.0.
func scoreKeywordMatch(text string, keywords []string, signalName string, signals *[]string) float64 {
	count := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			count++
		}
	}
	if count > 0 {
		*signals = append(*signals, fmt.Sprintf("%s:%d", signalName, count))
	}
	switch count {
	case 0:
		return 0.0
	case 1:
		return 0.3
	case 2:
		return 0.6
	default:
		return 1.0
	}
}

func scoreMultiStep(text string, signals *[]string) float64 {
	if multiStepRE.MatchString(text) {
		*signals = append(*signals, "multi_step")
		return 0.5
	}
	return 0.0
}

// scoreQuestionComplexity fires when the text asks more than three questions.
func scoreQuestionComplexity(text string, signals *[]string) float64 {
	count := strings.Count(text, "?")
	if count > 3 {
		*signals = append(*signals, fmt.Sprintf("questions:%d", count))
		return 0.5
	}
	return 0.0
}

// scoreAgenticTask maps the agentic keyword count onto a coarser scale than
// the other keyword dimensions: 0 scores 0.0, 1-2 score 0.2, 3 scores 0.6,
// 4 or more score 1.0. Returns the score and the raw count.
func scoreAgenticTask(text string, signals *[]string) (float64, int) {
	count := 0
	for _, kw := range agenticKeywords {
		if strings.Contains(text, kw) {
			count++
		}
	}
	var score float64
	switch {
	case count == 0:
		score = 0.0
	case count <= 2:
		score = 0.2
	case count == 3:
		score = 0.6
	default:
		score = 1.0
	}
	if count > 0 {
		*signals = append(*signals, fmt.Sprintf("agentic:%d", count))
	}
	return score, count
}

// weightedScore sums the weighted dimensions. simpleIndicators counts
// against complexity and is subtracted.
func weightedScore(d dimensions, w policy.ScorerWeights) float64 {
	return d.tokenCount*w.TokenCount +
		d.codePresence*w.CodePresence +
		d.reasoningMarkers*w.ReasoningMarkers +
		d.technicalTerms*w.TechnicalTerms +
		d.creativeMarkers*w.CreativeMarkers -
		d.simpleIndicators*w.SimpleIndicators +
		d.multiStepPatterns*w.MultiStepPatterns +
		d.questionComplexity*w.QuestionComplexity +
		d.imperativeVerbs*w.ImperativeVerbs +
		d.constraintCount*w.ConstraintCount +
		d.outputFormat*w.OutputFormat +
		d.referenceComplexity*w.ReferenceComplexity +
		d.negationComplexity*w.NegationComplexity +
		d.domainSpecificity*w.DomainSpecificity +
		d.agenticTask*w.AgenticTask
}

func classifyTier(score float64, b policy.TierBoundaries) ComplexityTier {
	switch {
	case score < b.SimpleUpper:
		return Simple
	case score < b.MediumUpper:
		return Medium
	case score < b.ComplexUpper:
		return Complex
	default:
		return Reasoning
	}
}

// calibrateConfidence maps distance from the nearest tier boundary through a
// sigmoid. Scores on a boundary give 0.5; far from every boundary approaches
// 1.0.
func calibrateConfidence(score float64, b policy.TierBoundaries, steepness float64) float64 {
	minDistance := math.MaxFloat64
	for _, boundary := range []float64{b.SimpleUpper, b.MediumUpper, b.ComplexUpper} {
		if d := math.Abs(score - boundary); d < minDistance {
			minDistance = d
		}
	}
	return 1.0 / (1.0 + math.Exp(-steepness*minDistance))
}
