// Package router implements the Routing Engine: provider selection
// from classification + health + budget, confidence-gated escalation,
// and fallback walk. Adapted from a WeightedRouter shape, replacing
// weighted-random selection with a deterministic tiered policy.
package router

import (
	"sort"

	"github.com/dawsonblock/ds-router/internal/budget"
	"github.com/dawsonblock/ds-router/internal/health"
	"github.com/dawsonblock/ds-router/internal/types"
)

// Thresholds are the admin-tunable routing knobs, captured as an
// immutable snapshot per request so a concurrent reload never mutates
// a request already in flight.
type Thresholds struct {
	ConfThreshold    float64
	SupportThreshold float64
	MaxCoTTokens     int
	ForcedOverride   string // provider name, or "" for none
}

// DefaultThresholds returns conservative defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{ConfThreshold: 0.6, SupportThreshold: 0.5, MaxCoTTokens: 2000}
}

// fallbackOrder is the fixed tier escalation order.
var fallbackOrder = []types.Tier{types.TierFast, types.TierReasoning, types.TierAdvanced, types.TierLocal}

// Candidate is one eligible provider as seen by the router.
type Candidate struct {
	Descriptor types.ProviderDescriptor
	Health     types.ProviderHealth
}

// Engine selects providers from a live descriptor table, the Health
// Tracker, and the Budget Tracker.
type Engine struct {
	health *health.Tracker
	budget *budget.Tracker
}

// New constructs an Engine.
func New(h *health.Tracker, b *budget.Tracker) *Engine {
	return &Engine{health: h, budget: b}
}

// primaryTier implements step 2 of the selection policy.
func primaryTier(c types.Classification) types.Tier {
	switch c.Complexity {
	case types.ComplexityHard:
		return types.TierReasoning
	case types.ComplexityComplex:
		return types.TierReasoning
	default:
		return types.TierFast
	}
}

// Select applies the tier-selection policy in order: a forced override,
// classification-driven tier choice, eligibility filtering, and
// tie-break. It returns the provider to call first, the reason, and the
// list of candidates that were tried (skipped) before it.
func (e *Engine) Select(
	descriptors map[string]types.ProviderDescriptor,
	classification types.Classification,
	thresholds Thresholds,
	groundingRequired bool,
	supportScore float64,
	reservationTokens int64,
	reservationCostMicro int64,
) (chosen string, reason types.RoutingReason, tried []string, eligibleAdvanced bool, reservationID string) {
	if thresholds.ForcedOverride != "" {
		if d, ok := descriptors[thresholds.ForcedOverride]; ok {
			if ok, resID := e.reserveDispatch(d, reservationTokens, reservationCostMicro); ok {
				return d.Name, types.ReasonForcedOverride, nil, false, resID
			}
		}
	}

	tier := primaryTier(classification)
	startReason := types.ReasonSimpleQuery
	if tier != types.TierFast {
		startReason = types.ReasonComplexQuery
	}

	if groundingRequired && supportScore < thresholds.SupportThreshold && tier == types.TierFast {
		tier = types.TierReasoning
		startReason = types.ReasonComplexQuery
	}

	order := tierWalkOrder(tier)
	circuitSkipped := false
	for i, t := range order {
		cands := byTier(descriptors, t)
		sortCandidates(cands, e.health)
		for _, d := range cands {
			ok, resID := e.reserveDispatch(d, reservationTokens, reservationCostMicro)
			if !ok {
				if e.health.Snapshot(d.Name).State == types.CircuitOpen {
					circuitSkipped = true
				}
				tried = append(tried, d.Name)
				continue
			}
			reason := startReason
			if i > 0 {
				if circuitSkipped {
					reason = types.ReasonCircuitOpenFallback
				} else {
					reason = types.ReasonDegradedFallback
				}
			}
			return d.Name, reason, tried, tierHasEligible(descriptors, e, types.TierAdvanced, reservationTokens, reservationCostMicro), resID
		}
	}

	return "", types.ReasonBudgetFallback, tried, false, ""
}

// reserveDispatch gates and claims the resources a real, about-to-happen
// call to d needs: it consumes the breaker's Allow() (driving the
// open->half-open cooldown transition and gating the single in-flight
// probe) and, if granted, a budget reservation. If the budget later
// denies, the health probe slot Allow() granted is released via Abort
// so a transient budget squeeze never stalls a breaker in half-open
// forever. Callers that only want to know whether a call would succeed,
// without dispatching one, must use Snapshot/CanReserve instead.
func (e *Engine) reserveDispatch(d types.ProviderDescriptor, tokens, costMicro int64) (ok bool, reservationID string) {
	if !e.health.Allow(d.Name) {
		return false, ""
	}
	if d.Tier == types.TierLocal {
		return true, "" // local tier has cost=0 and is never budget-gated
	}
	res := e.budget.Reserve(tokens, costMicro)
	if !res.Granted {
		e.health.Abort(d.Name)
		return false, ""
	}
	return true, res.ID
}

// probablyEligible reports whether d looks dispatchable right now,
// without actually claiming anything: a non-consuming read used only to
// answer "does a fallback exist", never to gate a real call.
func probablyEligible(e *Engine, d types.ProviderDescriptor, tokens, costMicro int64) bool {
	if e.health.Snapshot(d.Name).State == types.CircuitOpen {
		return false
	}
	if d.Tier == types.TierLocal {
		return true
	}
	return e.budget.CanReserve(tokens, costMicro)
}

func tierHasEligible(descriptors map[string]types.ProviderDescriptor, e *Engine, tier types.Tier, tokens, costMicro int64) bool {
	for _, d := range byTier(descriptors, tier) {
		if probablyEligible(e, d, tokens, costMicro) {
			return true
		}
	}
	return false
}

// tierWalkOrder returns fallbackOrder rotated to start at the primary
// tier, preserving the fixed fallback order thereafter.
func tierWalkOrder(primary types.Tier) []types.Tier {
	idx := 0
	for i, t := range fallbackOrder {
		if t == primary {
			idx = i
			break
		}
	}
	out := make([]types.Tier, 0, len(fallbackOrder))
	out = append(out, fallbackOrder[idx:]...)
	out = append(out, fallbackOrder[:idx]...)
	return out
}

func byTier(descriptors map[string]types.ProviderDescriptor, tier types.Tier) []types.ProviderDescriptor {
	out := make([]types.ProviderDescriptor, 0)
	for _, d := range descriptors {
		if d.Tier == tier {
			out = append(out, d)
		}
	}
	return out
}

// sortCandidates orders candidates by lower p95 latency, then lower
// cost per 1k output, then lexicographic name.
func sortCandidates(cands []types.ProviderDescriptor, h *health.Tracker) {
	sort.Slice(cands, func(i, j int) bool {
		hi, hj := h.Snapshot(cands[i].Name), h.Snapshot(cands[j].Name)
		if hi.P95LatencyMs != hj.P95LatencyMs {
			return hi.P95LatencyMs < hj.P95LatencyMs
		}
		if cands[i].CostPer1kOutput != cands[j].CostPer1kOutput {
			return cands[i].CostPer1kOutput < cands[j].CostPer1kOutput
		}
		return cands[i].Name < cands[j].Name
	})
}

// ShouldEscalate implements step 4: confidence below conf_threshold
// (strict <) on a non-advanced tier with advanced eligible escalates,
// at most once per request — the caller enforces the "once" part via a
// request-scoped flag.
func ShouldEscalate(confidence float64, chosenTier types.Tier, advancedEligible bool, thresholds Thresholds) bool {
	if chosenTier == types.TierAdvanced {
		return false
	}
	if !advancedEligible {
		return false
	}
	return confidence < thresholds.ConfThreshold
}

// CoTBudget implements step 6: the confidence-modulated CoT token
// budget for the reasoning tier.
func CoTBudget(classification types.Classification, confidencePrior float64, maxCoTTokens int) int {
	f := cotEstimate(classification, confidencePrior)
	if f < maxCoTTokens {
		return f
	}
	return maxCoTTokens
}

func cotEstimate(c types.Classification, confidencePrior float64) int {
	base := 256
	if c.Complexity == types.ComplexityHard {
		base = 1024
	} else if c.Complexity == types.ComplexityComplex {
		base = 512
	}
	// Lower prior confidence warrants more room to reason.
	if confidencePrior < 0.5 {
		base = base * 2
	}
	return base
}
