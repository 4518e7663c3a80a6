package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dawsonblock/ds-router/internal/types"
)

func TestHeuristicEstimatorPenalizesRefusal(t *testing.T) {
	est := HeuristicEstimator{Prior: 0.8}
	clean := est.Estimate("The result is 42.", types.FinishStop)
	refusal := est.Estimate("I cannot help with that request.", types.FinishStop)
	assert.Greater(t, clean, refusal)
}

func TestHeuristicEstimatorZeroOnFiltered(t *testing.T) {
	est := HeuristicEstimator{}
	assert.Equal(t, 0.0, est.Estimate("anything", types.FinishFiltered))
}

func TestHeuristicEstimatorBounded(t *testing.T) {
	est := HeuristicEstimator{Prior: 0.9}
	score := est.Estimate("I'm not sure, it might be possible that I think this is wrong.", types.FinishLength)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestCostMicroRoundsUp(t *testing.T) {
	desc := types.ProviderDescriptor{CostPer1kPrompt: 0.001, CostPer1kOutput: 0.002}
	usage := types.TokenUsage{Prompt: 1, Output: 1}
	cost := CostMicro(usage, desc)
	assert.Equal(t, int64(1), cost)
}

func TestCostMicroZeroForFreeProvider(t *testing.T) {
	desc := types.ProviderDescriptor{}
	usage := types.TokenUsage{Prompt: 1000, Output: 1000}
	assert.Equal(t, int64(0), CostMicro(usage, desc))
}
