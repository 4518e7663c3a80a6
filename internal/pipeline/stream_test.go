package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dawsonblock/ds-router/internal/budget"
	"github.com/dawsonblock/ds-router/internal/circuitbreaker"
	"github.com/dawsonblock/ds-router/internal/health"
	"github.com/dawsonblock/ds-router/internal/provider"
	"github.com/dawsonblock/ds-router/internal/router"
	"github.com/dawsonblock/ds-router/internal/types"
)

// streamingProvider emits each part as its own TextDelta chunk before
// the final outcome, unlike scriptedProvider's single-delta shape, so
// tests can exercise streamOnce's incremental checkpointing.
type streamingProvider struct {
	name       string
	tier       types.Tier
	parts      []string
	finishText string
	finish     types.FinishReason
	confidence float64
}

func (p *streamingProvider) Name() string { return p.name }
func (p *streamingProvider) Tier() types.Tier { return p.tier }
func (p *streamingProvider) Descriptor() types.ProviderDescriptor {
	return types.ProviderDescriptor{Name: p.name, Tier: p.tier, MaxOutputTokens: 256}
}
func (p *streamingProvider) Stream(ctx context.Context, req provider.ChatRequest, limits types.Limits) (<-chan types.StreamChunk, error) {
	ch := make(chan types.StreamChunk, len(p.parts)+1)
	go func() {
		defer close(ch)
		for _, part := range p.parts {
			select {
			case <-ctx.Done():
				return
			case ch <- types.StreamChunk{TextDelta: part}:
			}
		}
		select {
		case <-ctx.Done():
		case ch <- types.StreamChunk{
			IsFinal: true,
			Outcome: &types.GenerationOutcome{
				Text:         p.finishText,
				FinishReason: p.finish,
				Confidence:   p.confidence,
				Tokens:       types.TokenUsage{Prompt: 5, Output: 5},
				Provider:     p.name,
			},
		}:
		}
	}()
	return ch, nil
}

func newStreamTestOrchestrator(t *testing.T, providers map[string]provider.Provider, prefixBytes int) (*Orchestrator, Providers) {
	t.Helper()
	h := health.New(circuitbreaker.DefaultConfig(), zap.NewNop())
	bc := budget.DefaultConfig()
	bc.TokensCap = 1_000_000
	bc.CreditsCapMicro = 1_000_000_000
	b := budget.New(bc, zap.NewNop())
	eng := router.New(h, b)

	descs := make(map[string]types.ProviderDescriptor)
	for name, p := range providers {
		descs[name] = p.Descriptor()
	}

	orch := New(Config{Health: h, Budget: b, Routing: eng, SafetyPrefixBytes: prefixBytes})
	return orch, Providers{Descriptors: descs, Instances: providers}
}

func drainEvents(t *testing.T, ch <-chan StreamEvent) (deltas []string, final Result) {
	t.Helper()
	for ev := range ch {
		if ev.Final != nil {
			final = *ev.Final
			continue
		}
		deltas = append(deltas, ev.TextDelta)
	}
	return deltas, final
}

func TestRunStreamEmitsIncrementalChunks(t *testing.T) {
	fast := &streamingProvider{name: "fast-1", tier: types.TierFast, parts: []string{"Hello ", "World "}, finishText: "Hello World ", finish: types.FinishStop, confidence: 0.9}
	orch, providers := newStreamTestOrchestrator(t, map[string]provider.Provider{"fast-1": fast}, 4)

	req := types.Request{ID: "s1", Prompt: "hi there"}
	deltas, final := drainEvents(t, orch.RunStream(context.Background(), req, providers, router.DefaultThresholds()))

	require.GreaterOrEqual(t, len(deltas), 2, "a small safety prefix should yield more than one delta for a multi-part stream")
	assert.Equal(t, "Hello World ", concat(deltas))
	assert.False(t, final.Blocked)
	assert.False(t, final.Corrected)
	assert.Equal(t, "Hello World ", final.Text)
}

func TestRunStreamEscalatesOnMidStreamBlock(t *testing.T) {
	fast := &streamingProvider{name: "fast-1", tier: types.TierFast, parts: []string{"i will kill you right now"}, finishText: "i will kill you right now", finish: types.FinishStop, confidence: 0.9}
	advanced := &streamingProvider{name: "adv-1", tier: types.TierAdvanced, parts: []string{"a safe, helpful answer"}, finishText: "a safe, helpful answer", finish: types.FinishStop, confidence: 0.95}
	orch, providers := newStreamTestOrchestrator(t, map[string]provider.Provider{"fast-1": fast, "adv-1": advanced}, 4)

	req := types.Request{ID: "s2", Prompt: "hi there"}
	_, final := drainEvents(t, orch.RunStream(context.Background(), req, providers, router.DefaultThresholds()))

	assert.False(t, final.Blocked, "a toxic prefix on the first tier must trigger escalation, not a direct refusal")
	assert.Equal(t, "a safe, helpful answer", final.Text)
}

func TestRunStreamCorrectsTailRedactedAfterStreaming(t *testing.T) {
	fast := &streamingProvider{name: "fast-1", tier: types.TierFast, parts: []string{"Hello friend, you are an idiot"}, finishText: "Hello friend, you are an idiot", finish: types.FinishStop, confidence: 0.9}
	orch, providers := newStreamTestOrchestrator(t, map[string]provider.Provider{"fast-1": fast}, 4)

	req := types.Request{ID: "s3", Prompt: "hi there"}
	deltas, final := drainEvents(t, orch.RunStream(context.Background(), req, providers, router.DefaultThresholds()))

	require.NotEmpty(t, deltas, "mild violations must still stream the prefix, only the final pass corrects it")
	assert.False(t, final.Blocked)
	assert.True(t, final.Corrected)
	assert.NotContains(t, final.Text, "idiot")
}

func concat(parts []string) string {
	out := ""
	for _, p := range parts {
		out += p
	}
	return out
}
