// Package transport provides a minimal net/http front door over the
// Pipeline Orchestrator and the admin Surface: JSON wire shapes, a
// unary chat endpoint, an SSE streaming endpoint, and admin JSON
// endpoints. It deliberately introduces no router/framework library —
// wiring this behind chi/gin/etc. is left to the operator — so its
// routing rests on net/http's ServeMux alone.
//
// Grounded on api/handlers/chat.go's decode-validate-dispatch-respond
// handler shape, api/handlers/common.go's JSON envelope/error-mapping
// helpers, and the SSE framing api/handlers/chat.go's HandleStream uses
// (Content-Type: text/event-stream, "data: ...\n\n" frames, a
// "[DONE]"-equivalent terminator, http.Flusher, JSON-escaped error
// payloads).
package transport

import (
	"time"

	"github.com/dawsonblock/ds-router/internal/types"
)

// ChatRequest is the wire shape of a unary or streaming chat call.
type ChatRequest struct {
	Tenant            string `json:"tenant,omitempty"`
	Prompt            string `json:"prompt"`
	Session           string `json:"session,omitempty"`
	GroundingRequired bool   `json:"grounding_required,omitempty"`
	ModelFamilyHint   string `json:"model_family_hint,omitempty"`
	TimeoutMs         int64  `json:"timeout_ms,omitempty"`
}

// ChatResponse is the wire shape of a completed unary chat call.
type ChatResponse struct {
	RequestID    string             `json:"request_id"`
	Text         string             `json:"text,omitempty"`
	FinishReason types.FinishReason `json:"finish_reason"`
	Cached       bool               `json:"cached"`
	Blocked      bool               `json:"blocked"`
	RefusalText  string             `json:"refusal_text,omitempty"`
	Provider     string             `json:"provider,omitempty"`
	Reason       types.RoutingReason `json:"reason,omitempty"`
	LatencyMs    float64            `json:"latency_ms"`
}

// Envelope is the canonical response wrapper, success or error.
type Envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// ErrorInfo is the canonical error shape inside an Envelope.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// StreamFrame is one SSE "data:" payload sent during HandleStream.
// Event names follow the sequence: stream_start, then either a single
// cached_response (which ends the stream), or zero or more chunk frames
// followed by one of stream_complete, correction, or error. correction carries the
// fully-redacted text of a response whose prefix had already been sent
// as chunk deltas before a final safety pass redacted it; the client
// must replace what it has rendered with TextDelta, not append it.
type StreamFrame struct {
	Event        string             `json:"event"`
	TextDelta    string             `json:"text_delta,omitempty"`
	FinishReason types.FinishReason `json:"finish_reason,omitempty"`
	Cached       bool               `json:"cached,omitempty"`
	RefusalText  string             `json:"refusal_text,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// AdminThresholdsRequest is the wire shape of a set_thresholds admin call.
type AdminThresholdsRequest struct {
	ConfThreshold    float64 `json:"conf_threshold"`
	SupportThreshold float64 `json:"support_threshold"`
	MaxCoTTokens     int     `json:"max_cot_tokens"`
	ForcedOverride   string  `json:"forced_override"`
}

// AdminReloadProvidersRequest is the wire shape of a reload_providers
// admin call.
type AdminReloadProvidersRequest struct {
	Providers map[string]types.ProviderDescriptor `json:"providers"`
}

func requestToDomain(id string, in ChatRequest, receivedAt time.Time, stream bool) types.Request {
	req := types.Request{
		ID:              id,
		Tenant:          in.Tenant,
		Prompt:          in.Prompt,
		Session:         in.Session,
		ModelFamilyHint: in.ModelFamilyHint,
		ReceivedAt:      receivedAt,
		Flags: types.Flags{
			GroundingRequired: in.GroundingRequired,
			Stream:            stream,
		},
	}
	if in.TimeoutMs > 0 {
		req.Deadline = receivedAt.Add(time.Duration(in.TimeoutMs) * time.Millisecond)
	}
	return req
}
