// Package local implements the mandatory terminal CPU fallback provider:
// the last-resort tier the router escalates to when every remote tier
// is exhausted or circuit-broken. It performs no network I/O.
package local

import (
	"context"
	"strings"
	"time"

	"github.com/dawsonblock/ds-router/internal/provider"
	"github.com/dawsonblock/ds-router/internal/types"
)

// Config configures the local fallback's canned-response behavior.
type Config struct {
	Name            string
	MaxOutputTokens int
	// ResponseFunc produces deterministic local output for a prompt; if
	// nil, a fixed canned-completion template is used. Tests and
	// operators may substitute a small embedded model here without
	// changing the Provider contract.
	ResponseFunc func(prompt string) string
}

// Provider is the CPU-bound, network-free terminal fallback.
type Provider struct {
	cfg Config
}

// New constructs a local Provider.
func New(cfg Config) *Provider {
	if cfg.Name == "" {
		cfg.Name = "local-cpu"
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = 256
	}
	return &Provider{cfg: cfg}
}

func (p *Provider) Name() string     { return p.cfg.Name }
func (p *Provider) Tier() types.Tier { return types.TierLocal }

func (p *Provider) Descriptor() types.ProviderDescriptor {
	return types.ProviderDescriptor{
		Name:              p.cfg.Name,
		Tier:              types.TierLocal,
		CostPer1kPrompt:   0,
		CostPer1kOutput:   0,
		MaxOutputTokens:   p.cfg.MaxOutputTokens,
		SupportsStreaming: true,
	}
}

// Stream implements provider.Provider. It never performs network I/O:
// it generates synchronously and returns a closed channel holding the
// whole text as one delta chunk followed by the final chunk.
func (p *Provider) Stream(ctx context.Context, req provider.ChatRequest, limits types.Limits) (<-chan types.StreamChunk, error) {
	ch := make(chan types.StreamChunk, 2)

	start := time.Now()
	prompt := lastUserContent(req.Messages)

	select {
	case <-ctx.Done():
		ch <- types.StreamChunk{IsFinal: true, Outcome: &types.GenerationOutcome{
			Provider: p.cfg.Name, FinishReason: types.FinishCancelled,
			Err: types.NewError(types.ErrCancelled, "cancelled before local generation"),
		}}
		close(ch)
		return ch, nil
	default:
	}

	text := p.generate(prompt)
	usage := types.TokenUsage{Prompt: len(prompt) / 4, Output: len(text) / 4}

	ch <- types.StreamChunk{TextDelta: text, PartialTokensOutput: usage.Output}
	ch <- types.StreamChunk{
		IsFinal: true,
		Outcome: &types.GenerationOutcome{
			Text:         text,
			FinishReason: types.FinishStop,
			Tokens:       usage,
			LatencyMs:    float64(time.Since(start).Milliseconds()),
			Provider:     p.cfg.Name,
			Confidence:   0.5, // tier-specific prior for a backend with no self-score
			CostMicro:    0,
		},
	}
	close(ch)
	return ch, nil
}

func (p *Provider) generate(prompt string) string {
	if p.cfg.ResponseFunc != nil {
		return p.cfg.ResponseFunc(prompt)
	}
	return "I'm running in a degraded local mode and can only offer a brief response: " + trimTo(prompt, 120)
}

func lastUserContent(msgs []types.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func trimTo(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
