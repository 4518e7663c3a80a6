// Package provider defines the uniform Provider capability over
// heterogeneous backends, adapted from a generic llm.Provider interface
// shape and narrowed to the router's four tiers.
package provider

import (
	"context"
	"time"

	"github.com/dawsonblock/ds-router/internal/types"
)

// ChatRequest is what the Provider Adapter needs to generate a response.
type ChatRequest struct {
	RequestID string
	Messages  []types.Message
	MaxCoTTokens int
}

// Provider is the uniform generation capability implemented by every
// tier. Streaming and unary responses are unified behind Stream; a
// unary caller simply drains the channel to its single final chunk.
type Provider interface {
	// Name returns the provider's unique name, used as a routing key.
	Name() string
	// Tier returns the provider's capability tier.
	Tier() types.Tier
	// Descriptor returns the provider's static, reloadable shape.
	Descriptor() types.ProviderDescriptor
	// Stream generates a response to req, honoring limits and ctx
	// cancellation. It always returns a channel; for a non-streaming
	// caller the channel carries exactly one final chunk.
	Stream(ctx context.Context, req ChatRequest, limits types.Limits) (<-chan types.StreamChunk, error)
}

// ConfidenceEstimator estimates a [0,1] confidence score for generated
// text when a backend has no self-reported score. This is a
// tier-specific configurable estimator rather than one fixed formula.
type ConfidenceEstimator interface {
	Estimate(text string, finishReason types.FinishReason) float64
}

// HeuristicEstimator is the default structural-cue estimator: it biases
// on length, the presence of hedging/refusal language, and whether the
// generation terminated cleanly.
type HeuristicEstimator struct {
	Prior float64
}

var refusalMarkers = []string{"i cannot", "i can't", "i'm not able to", "as an ai"}
var hedgingMarkers = []string{"i'm not sure", "it's possible that", "i think", "might be"}

// Estimate implements ConfidenceEstimator.
func (h HeuristicEstimator) Estimate(text string, finishReason types.FinishReason) float64 {
	score := h.Prior
	if score == 0 {
		score = 0.75
	}
	if finishReason == types.FinishLength {
		score -= 0.15
	}
	if finishReason == types.FinishFiltered || finishReason == types.FinishError {
		return 0
	}
	lower := containsAnyFold(text, refusalMarkers)
	if lower {
		score -= 0.4
	}
	if containsAnyFold(text, hedgingMarkers) {
		score -= 0.15
	}
	if len(text) < 20 {
		score -= 0.1
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

func containsAnyFold(text string, markers []string) bool {
	lower := toLower(text)
	for _, m := range markers {
		if indexOf(lower, m) >= 0 {
			return true
		}
	}
	return false
}

// toLower/indexOf avoid importing strings twice across the package; kept
// tiny and local since this is the only place they're used.
func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func indexOf(haystack, needle string) int {
	n, m := len(haystack), len(needle)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if haystack[i:i+m] == needle {
			return i
		}
	}
	return -1
}

// CostMicro computes cost from token usage and the provider's per-1k
// rates, rounded up to the micro-unit.
func CostMicro(usage types.TokenUsage, desc types.ProviderDescriptor) int64 {
	promptMicro := usage.Prompt * int(desc.CostPer1kPrompt*1000)
	outputMicro := usage.Output * int(desc.CostPer1kOutput*1000)
	total := (promptMicro + outputMicro + 999) / 1000
	if total < 0 {
		total = 0
	}
	return int64(total)
}

// Deadline converts an int64-millisecond limit into a context deadline,
// defaulting to a generous ceiling when unset.
func Deadline(ctx context.Context, ms int64) (context.Context, context.CancelFunc) {
	if ms <= 0 {
		ms = 30_000
	}
	return context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
}
