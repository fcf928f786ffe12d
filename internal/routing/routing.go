// Package routing resolves a chat request to an effective model and an
// ordered list of candidate providers.
//
// Resolution combines three inputs: the routing profile (explicit via a
// "router/<profile>" model id, otherwise the active profile), the scored
// complexity tier, and whether the request is agentic. Profiles may redirect
// the model per complexity tier and may pin the provider that serves it.
package routing

import (
	"math"
	"sort"
	"strings"

	"github.com/nulpointcorp/llm-router/internal/policy"
	"github.com/nulpointcorp/llm-router/internal/scorer"
)

const routerModelPrefix = "router/"

// ParseRouterModel splits a "router/<profile>" model id. The second return
// is false when the id carries no profile selector.
func ParseRouterModel(modelID string) (string, bool) {
	if profile, ok := strings.CutPrefix(modelID, routerModelPrefix); ok {
		return profile, true
	}
	return "", false
}

// Candidates returns the providers eligible to serve the request, most
// preferred first. profileName is looked up in the config; an unknown name
// falls back to the first profile, and an empty profile list yields no
// candidates. A nil complexity skips all complexity-based narrowing.
func Candidates(cfg *policy.Config, modelID string, complexity *scorer.ComplexityTier, profileName string, useAgentic bool) []policy.Provider {
	profile, ok := lookupProfile(cfg, profileName)
	if !ok {
		return nil
	}

	mapping := mappingSource(profile, useAgentic)

	// 1. The profile may redirect the requested model for the scored tier.
	effectiveModel := modelID
	if complexity != nil {
		if m, ok := mapping[complexity.MappingKey()]; ok && m.ModelID != "" {
			effectiveModel = m.ModelID
		}
	}

	// 2. Narrow the profile's tiers by the complexity verdict.
	tiers := effectiveTiers(profile, complexity)

	// 3. The mapping may pin the provider that must serve the tier; a pin
	//    replaces tier filtering entirely.
	pinned := ""
	if complexity != nil {
		if m, ok := mapping[complexity.MappingKey()]; ok && m.ProviderID != "" {
			pinned = m.ProviderID
		}
	}

	candidates := collect(cfg.Providers, effectiveModel, tiers, pinned)

	// 4. A redirect to a model no provider carries falls back to the
	//    original model id under plain tier filtering.
	if len(candidates) == 0 && effectiveModel != modelID {
		candidates = collect(cfg.Providers, modelID, tiers, "")
	}

	// 5. Order: tier preference, then input cost, then priority.
	sortCandidates(candidates, effectiveModel, tiers)
	return candidates
}

// ResolveModelID returns the model id the request will actually carry
// upstream: the profile's mapped model for the scored tier, or the requested
// id unchanged. Unlike Candidates, an unknown profile name does not fall
// back to the first profile.
func ResolveModelID(cfg *policy.Config, modelID string, complexity *scorer.ComplexityTier, profileName string, useAgentic bool) string {
	profile, ok := cfg.Profile(profileName)
	if !ok || complexity == nil {
		return modelID
	}
	mapping := mappingSource(*profile, useAgentic)
	if m, ok := mapping[complexity.MappingKey()]; ok && m.ModelID != "" {
		return m.ModelID
	}
	return modelID
}

// tiersForComplexity maps a complexity verdict to the provider tiers
// eligible to serve it, most preferred first.
func tiersForComplexity(c scorer.ComplexityTier) []policy.Tier {
	switch c {
	case scorer.Simple:
		return []policy.Tier{policy.TierFree, policy.TierCheap}
	case scorer.Medium:
		return []policy.Tier{policy.TierCheap, policy.TierFree, policy.TierPayPerRequest}
	case scorer.Complex:
		return []policy.Tier{policy.TierSubscription, policy.TierCheap, policy.TierPayPerRequest}
	default:
		return []policy.Tier{policy.TierSubscription, policy.TierPayPerRequest}
	}
}

func lookupProfile(cfg *policy.Config, name string) (policy.RoutingProfile, bool) {
	if p, ok := cfg.Profile(name); ok {
		return *p, true
	}
	if len(cfg.Profiles) > 0 {
		return cfg.Profiles[0], true
	}
	return policy.RoutingProfile{}, false
}

func mappingSource(profile policy.RoutingProfile, useAgentic bool) map[string]policy.ModelMapping {
	if useAgentic && len(profile.AgenticModelMapping) > 0 {
		return profile.AgenticModelMapping
	}
	return profile.ModelMapping
}

// effectiveTiers intersects the profile's allowed tiers with the tiers
// eligible for the complexity verdict, preserving the profile's order. An
// empty intersection keeps the full profile list so a narrow profile still
// routes somewhere.
func effectiveTiers(profile policy.RoutingProfile, complexity *scorer.ComplexityTier) []policy.Tier {
	if complexity == nil {
		return profile.AllowedTiers
	}
	eligible := tiersForComplexity(*complexity)
	var intersection []policy.Tier
	for _, t := range profile.AllowedTiers {
		if containsTier(eligible, t) {
			intersection = append(intersection, t)
		}
	}
	if len(intersection) == 0 {
		return profile.AllowedTiers
	}
	return intersection
}

func collect(providers []policy.Provider, modelID string, tiers []policy.Tier, pinned string) []policy.Provider {
	var out []policy.Provider
	for _, p := range providers {
		if !p.Enabled || !p.HasModel(modelID) {
			continue
		}
		if pinned != "" {
			if p.ID != pinned {
				continue
			}
		} else if !containsTier(tiers, p.Tier) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func sortCandidates(candidates []policy.Provider, modelID string, tiers []policy.Tier) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := &candidates[i], &candidates[j]

		ai, bi := tierIndex(tiers, a.Tier), tierIndex(tiers, b.Tier)
		if ai != bi {
			return ai < bi
		}

		ac, bc := inputCost(a, modelID), inputCost(b, modelID)
		if ac != bc {
			return ac < bc
		}

		return a.Priority > b.Priority
	})
}

func tierIndex(tiers []policy.Tier, t policy.Tier) int {
	for i, tt := range tiers {
		if tt == t {
			return i
		}
	}
	return math.MaxInt
}

// inputCost looks up the model's input cost on the provider. Providers that
// lack the model sort last.
func inputCost(p *policy.Provider, modelID string) float64 {
	if m, ok := p.Model(modelID); ok {
		return m.InputCostPer1M
	}
	return math.MaxFloat64
}

func containsTier(tiers []policy.Tier, t policy.Tier) bool {
	for _, tt := range tiers {
		if tt == t {
			return true
		}
	}
	return false
}
