package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dawsonblock/ds-router/internal/pipeline"
	"github.com/dawsonblock/ds-router/internal/router"
	"github.com/dawsonblock/ds-router/internal/types"
)

// ProvidersSource returns the current live provider snapshot, typically
// admin.Surface.Providers bound to the wired provider instances.
type ProvidersSource func() pipeline.Providers

// ThresholdsSource returns the current live thresholds, typically
// admin.Surface.GetThresholds.
type ThresholdsSource func() router.Thresholds

// ChatHandler serves the unary and streaming chat endpoints.
type ChatHandler struct {
	orchestrator *pipeline.Orchestrator
	providers    ProvidersSource
	thresholds   ThresholdsSource
	logger       *zap.Logger
}

// NewChatHandler constructs a ChatHandler.
func NewChatHandler(orchestrator *pipeline.Orchestrator, providers ProvidersSource, thresholds ThresholdsSource, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{orchestrator: orchestrator, providers: providers, thresholds: thresholds, logger: logger}
}

// HandleCompletion serves POST /v1/chat/completions: one request in,
// one JSON response out.
func (h *ChatHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	if !validateContentType(w, r, h.logger) {
		return
	}

	var in ChatRequest
	if err := decodeJSONBody(w, r, &in, h.logger); err != nil {
		return
	}
	if verr := h.validate(&in); verr != nil {
		writeError(w, verr, h.logger)
		return
	}

	requestID := uuid.NewString()
	req := requestToDomain(requestID, in, time.Now(), false)

	ctx := r.Context()
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	result := h.orchestrator.Run(ctx, req, h.providers(), h.thresholds())

	writeSuccess(w, requestID, toChatResponse(requestID, result))
}

// HandleStream serves POST /v1/chat/completions/stream over SSE,
// forwarding one chunk frame per RunStream delta as it clears the
// buffered safety-prefix checkpoint. The event sequence is
// stream_start, then either a single cached_response that ends the
// stream, or zero or more chunk frames followed by exactly one of
// stream_complete, correction (a late PostGuard pass redacted text
// already streamed), or error.
func (h *ChatHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if !validateContentType(w, r, h.logger) {
		return
	}

	var in ChatRequest
	if err := decodeJSONBody(w, r, &in, h.logger); err != nil {
		return
	}
	if verr := h.validate(&in); verr != nil {
		writeError(w, verr, h.logger)
		return
	}

	requestID := uuid.NewString()
	req := requestToDomain(requestID, in, time.Now(), true)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, types.NewError(types.ErrInternal, "streaming not supported"), h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	writeFrame(w, flusher, StreamFrame{Event: "stream_start"})

	ctx := r.Context()
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	for event := range h.orchestrator.RunStream(ctx, req, h.providers(), h.thresholds()) {
		if event.Final == nil {
			writeFrame(w, flusher, StreamFrame{Event: "chunk", TextDelta: event.TextDelta})
			continue
		}
		result := *event.Final
		switch {
		case result.Blocked:
			writeFrame(w, flusher, StreamFrame{Event: "error", RefusalText: result.RefusalText, FinishReason: result.FinishReason})
		case result.Cached:
			writeFrame(w, flusher, StreamFrame{Event: "cached_response", TextDelta: result.Text, Cached: true, FinishReason: result.FinishReason})
		case result.Corrected:
			writeFrame(w, flusher, StreamFrame{Event: "correction", TextDelta: result.Text, FinishReason: result.FinishReason})
		default:
			writeFrame(w, flusher, StreamFrame{Event: "stream_complete", FinishReason: result.FinishReason})
		}
	}
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, frame StreamFrame) {
	payload, _ := json.Marshal(frame)
	_, _ = w.Write([]byte("event: " + frame.Event + "\ndata: "))
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n\n"))
	flusher.Flush()
}

func (h *ChatHandler) validate(in *ChatRequest) *types.Error {
	if in.Prompt == "" {
		return types.NewError(types.ErrValidation, "prompt is required")
	}
	return nil
}

func toChatResponse(requestID string, result pipeline.Result) ChatResponse {
	return ChatResponse{
		RequestID:    requestID,
		Text:         result.Text,
		FinishReason: result.FinishReason,
		Cached:       result.Cached,
		Blocked:      result.Blocked,
		RefusalText:  result.RefusalText,
		Provider:     result.Audit.Routing.Chosen,
		Reason:       result.Audit.Routing.Reason,
		LatencyMs:    result.Audit.LatencyMs,
	}
}
