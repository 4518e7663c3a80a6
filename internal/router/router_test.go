package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dawsonblock/ds-router/internal/budget"
	"github.com/dawsonblock/ds-router/internal/circuitbreaker"
	"github.com/dawsonblock/ds-router/internal/health"
	"github.com/dawsonblock/ds-router/internal/types"
)

func newEngine(t *testing.T, tokensCap, creditsCapMicro int64, mode types.BudgetMode) *Engine {
	t.Helper()
	h := health.New(circuitbreaker.DefaultConfig(), zap.NewNop())
	bc := budget.DefaultConfig()
	bc.TokensCap = tokensCap
	bc.CreditsCapMicro = creditsCapMicro
	bc.Mode = mode
	b := budget.New(bc, zap.NewNop())
	return New(h, b)
}

func descriptors() map[string]types.ProviderDescriptor {
	return map[string]types.ProviderDescriptor{
		"fast-1": {Name: "fast-1", Tier: types.TierFast, CostPer1kOutput: 0.001},
		"reason-1": {Name: "reason-1", Tier: types.TierReasoning, CostPer1kOutput: 0.01},
		"adv-1": {Name: "adv-1", Tier: types.TierAdvanced, CostPer1kOutput: 0.05},
		"local-cpu": {Name: "local-cpu", Tier: types.TierLocal},
	}
}

func TestSelectSimpleGoesToFastTier(t *testing.T) {
	e := newEngine(t, 1_000_000, 1_000_000, types.BudgetModeHard)
	chosen, reason, _, _, resID := e.Select(descriptors(), types.Classification{Complexity: types.ComplexitySimple}, DefaultThresholds(), false, 0, 100, 100)
	assert.Equal(t, "fast-1", chosen)
	assert.Equal(t, types.ReasonSimpleQuery, reason)
	assert.NotEmpty(t, resID)
}

func TestSelectHardGoesToReasoningTier(t *testing.T) {
	e := newEngine(t, 1_000_000, 1_000_000, types.BudgetModeHard)
	chosen, reason, _, _, _ := e.Select(descriptors(), types.Classification{Complexity: types.ComplexityHard}, DefaultThresholds(), false, 0, 100, 100)
	assert.Equal(t, "reason-1", chosen)
	assert.Equal(t, types.ReasonComplexQuery, reason)
}

func TestSelectFallsBackWhenBudgetExhausted(t *testing.T) {
	e := newEngine(t, 10, 10, types.BudgetModeHard)
	// Exhaust the tiny budget first.
	e.budget.Commit("", 10, 10)
	chosen, reason, tried, _, resID := e.Select(descriptors(), types.Classification{Complexity: types.ComplexitySimple}, DefaultThresholds(), false, 0, 100, 100)
	assert.Equal(t, "local-cpu", chosen)
	assert.Equal(t, types.ReasonDegradedFallback, reason)
	assert.Contains(t, tried, "fast-1")
	assert.Contains(t, tried, "reason-1")
	assert.Contains(t, tried, "adv-1")
	assert.Empty(t, resID, "local tier never holds a budget reservation")
}

func TestSelectFallsBackWhenCircuitOpen(t *testing.T) {
	e := newEngine(t, 1_000_000, 1_000_000, types.BudgetModeHard)
	e.health.Register("fast-1")
	for i := 0; i < 10; i++ {
		e.health.RecordFailure("fast-1")
	}
	require.Equal(t, types.CircuitOpen, e.health.Snapshot("fast-1").State)

	chosen, reason, tried, _, _ := e.Select(descriptors(), types.Classification{Complexity: types.ComplexitySimple}, DefaultThresholds(), false, 0, 100, 100)
	assert.Equal(t, "reason-1", chosen)
	assert.Equal(t, types.ReasonCircuitOpenFallback, reason)
	assert.Contains(t, tried, "fast-1")
}

func TestSelectHonoursForcedOverride(t *testing.T) {
	e := newEngine(t, 1_000_000, 1_000_000, types.BudgetModeHard)
	th := DefaultThresholds()
	th.ForcedOverride = "adv-1"
	chosen, reason, _, _, resID := e.Select(descriptors(), types.Classification{Complexity: types.ComplexitySimple}, th, false, 0, 100, 100)
	assert.Equal(t, "adv-1", chosen)
	assert.Equal(t, types.ReasonForcedOverride, reason)
	assert.NotEmpty(t, resID)
}

func TestSelectBiasesToReasoningWhenGroundingUnsupported(t *testing.T) {
	e := newEngine(t, 1_000_000, 1_000_000, types.BudgetModeHard)
	chosen, reason, _, _, _ := e.Select(descriptors(), types.Classification{Complexity: types.ComplexitySimple}, DefaultThresholds(), true, 0.1, 100, 100)
	assert.Equal(t, "reason-1", chosen)
	assert.Equal(t, types.ReasonComplexQuery, reason)
}

func TestSelectTransitionsOpenBreakerThroughHalfOpenAfterCooldown(t *testing.T) {
	cfg := circuitbreaker.DefaultConfig()
	cfg.CooldownMs = 0 // cooldown already elapsed
	h := health.New(cfg, zap.NewNop())
	b := budget.New(budget.DefaultConfig(), zap.NewNop())
	e := New(h, b)

	h.Register("fast-1")
	for i := 0; i < 10; i++ {
		h.RecordFailure("fast-1")
	}
	require.Equal(t, types.CircuitOpen, h.Snapshot("fast-1").State)

	chosen, _, _, _, _ := e.Select(descriptors(), types.Classification{Complexity: types.ComplexitySimple}, DefaultThresholds(), false, 0, 100, 100)
	assert.Equal(t, "fast-1", chosen, "Select must drive the open->half-open probe transition, not just read state")
	assert.Equal(t, types.CircuitHalfOpen, h.Snapshot("fast-1").State)
}

func TestShouldEscalateStrictLessThan(t *testing.T) {
	th := DefaultThresholds()
	th.ConfThreshold = 0.6
	assert.True(t, ShouldEscalate(0.59, types.TierReasoning, true, th))
	assert.False(t, ShouldEscalate(0.6, types.TierReasoning, true, th))
	assert.False(t, ShouldEscalate(0.59, types.TierAdvanced, true, th))
	assert.False(t, ShouldEscalate(0.59, types.TierReasoning, false, th))
}

func TestCoTBudgetCapsAtMax(t *testing.T) {
	c := types.Classification{Complexity: types.ComplexityHard}
	assert.Equal(t, 100, CoTBudget(c, 0.9, 100))
	assert.Greater(t, CoTBudget(c, 0.9, 10_000), 0)
}

func TestCoTBudgetGrowsWithLowerConfidence(t *testing.T) {
	c := types.Classification{Complexity: types.ComplexityComplex}
	low := CoTBudget(c, 0.2, 10_000)
	high := CoTBudget(c, 0.9, 10_000)
	assert.Greater(t, low, high)
}

func TestTierWalkOrderRotatesFromPrimary(t *testing.T) {
	order := tierWalkOrder(types.TierReasoning)
	assert.Equal(t, []types.Tier{types.TierReasoning, types.TierAdvanced, types.TierLocal, types.TierFast}, order)
}

func TestSortCandidatesTieBreaksByNameWhenCostsEqual(t *testing.T) {
	h := health.New(circuitbreaker.DefaultConfig(), zap.NewNop())
	cands := []types.ProviderDescriptor{
		{Name: "b", CostPer1kOutput: 0.01},
		{Name: "a", CostPer1kOutput: 0.01},
	}
	sortCandidates(cands, h)
	assert.Equal(t, "a", cands[0].Name)
}
