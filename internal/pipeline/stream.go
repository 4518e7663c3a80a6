package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/dawsonblock/ds-router/internal/fingerprint"
	"github.com/dawsonblock/ds-router/internal/guard"
	"github.com/dawsonblock/ds-router/internal/provider"
	"github.com/dawsonblock/ds-router/internal/router"
	"github.com/dawsonblock/ds-router/internal/types"
)

// RunStream executes the request lifecycle as an incremental stream: it
// emits a StreamEvent each time the buffered text reaches the safety
// prefix size and clears PostGuard, plus one for any unsent tail,
// instead of Run's all-or-nothing draining.
// The returned channel is closed after the single Final event. Grounded
// on Run's lifecycle (PreGuard -> fingerprint/classify -> cache ->
// route -> generate -> PostGuard -> audit), restructured so PostGuard
// runs against a growing prefix rather than the complete text.
func (o *Orchestrator) RunStream(ctx context.Context, req types.Request, providers Providers, thresholds router.Thresholds) <-chan StreamEvent {
	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		o.runStream(ctx, req, providers, thresholds, out)
	}()
	return out
}

func (o *Orchestrator) runStream(ctx context.Context, req types.Request, providers Providers, thresholds router.Thresholds, out chan<- StreamEvent) {
	start := time.Now()

	preRes, preErr := o.preGuard.Check(req.Prompt)
	if preErr != nil || preRes.Action == types.ActionBlock {
		safeMetrics(o.metrics).ObserveBlocked("pre_guard")
		result := o.finishBlocked(req, preRes, start)
		out <- StreamEvent{Final: &result}
		return
	}
	effectivePrompt := req.Prompt
	if preRes.Action == types.ActionSanitize {
		effectivePrompt = preRes.SanitizedPrompt
	}

	fp := fingerprint.Fingerprint(effectivePrompt, req.Flags, req.ModelFamilyHint)
	classification := fingerprint.Classify(effectivePrompt, req.Flags, o.lHard, o.lComplex)

	if lookup, err := o.cache.Lookup(ctx, fp, req.Flags.GroundingRequired); err == nil && lookup.Hit {
		audit := o.buildAudit(req, fp, classification, types.RoutingDecision{}, preRes.Action, types.ActionPass, types.TokenUsage{}, 0, time.Since(start), types.FinishStop, true)
		o.logAudit(audit)
		result := Result{Text: lookup.Text, FinishReason: types.FinishStop, Cached: true, Audit: audit}
		out <- StreamEvent{Final: &result}
		return
	}

	estTokens := int64(classification.EstPromptTokens)
	chosen, reason, tried, _, reservationID := o.routing.Select(providers.Descriptors, classification, thresholds, req.Flags.GroundingRequired, 1.0, estTokens, 0)
	decision := types.RoutingDecision{Chosen: chosen, Reason: reason, CandidatesTried: tried, Classification: classification}
	if chosen == "" {
		outcome := types.GenerationOutcome{FinishReason: types.FinishError, Err: types.NewError(types.ErrCircuitOpenAll, "no eligible provider")}
		elapsed := time.Since(start)
		audit := o.buildAudit(req, fp, classification, decision, preRes.Action, "", outcome.Tokens, outcome.CostMicro, elapsed, outcome.FinishReason, false)
		o.logAudit(audit)
		result := Result{FinishReason: outcome.FinishReason, Audit: audit}
		out <- StreamEvent{Final: &result}
		return
	}

	outcome, blocked, recoverable, corrected, text := o.streamOnce(ctx, req, effectivePrompt, providers, chosen, reservationID, req.Flags.GroundingRequired, out)

	if blocked && recoverable {
		safeMetrics(o.metrics).ObserveEscalation(providers.Descriptors[chosen].Tier)
		advName, advReservationID, ok := o.reserveOnTier(providers, types.TierAdvanced, estTokens)
		if ok {
			decision = types.RoutingDecision{Chosen: advName, Reason: types.ReasonLowConfidenceEscalation, Classification: classification, ConfidenceBefore: outcome.Confidence}
			outcome, blocked, recoverable, corrected, text = o.streamOnce(ctx, req, effectivePrompt, providers, advName, advReservationID, req.Flags.GroundingRequired, out)
			decision.ConfidenceAfter = outcome.Confidence
		}
	}

	safeMetrics(o.metrics).ObserveConfidence(providers.Descriptors[decision.Chosen].Tier, outcome.Confidence)
	safeMetrics(o.metrics).ObserveRequest(decision.Chosen, decision.Reason, outcome.FinishReason)

	if blocked {
		safeMetrics(o.metrics).ObserveBlocked("post_guard")
		elapsed := time.Since(start)
		audit := o.buildAudit(req, fp, classification, decision, preRes.Action, types.ActionBlock, outcome.Tokens, outcome.CostMicro, elapsed, types.FinishFiltered, false)
		o.logAudit(audit)
		result := Result{Blocked: true, RefusalText: guard.CannedRefusal, FinishReason: types.FinishFiltered, Audit: audit}
		out <- StreamEvent{Final: &result}
		return
	}

	if outcome.FinishReason == types.FinishStop {
		_ = o.cache.Store(ctx, fp, outcome)
	}

	elapsed := time.Since(start)
	postAction := types.ActionPass
	if corrected {
		postAction = types.ActionRedact
	}
	audit := o.buildAudit(req, fp, classification, decision, preRes.Action, postAction, outcome.Tokens, outcome.CostMicro, elapsed, outcome.FinishReason, false)
	o.logAudit(audit)
	safeMetrics(o.metrics).ObserveLatencyMs(decision.Chosen, elapsed.Seconds()*1000)

	result := Result{Text: text, FinishReason: outcome.FinishReason, Corrected: corrected, Audit: audit}
	out <- StreamEvent{Final: &result}
}

// dispatchStream opens a provider stream for the already-reserved
// dispatch to name, resolving reservationID on any failure before the
// stream starts (mirroring invoke's pre-dispatch failure handling).
func (o *Orchestrator) dispatchStream(ctx context.Context, req types.Request, prompt string, providers Providers, name string, reservationID string) (<-chan types.StreamChunk, error) {
	p, ok := providers.Instances[name]
	if !ok {
		o.budget.Release(reservationID)
		o.health.RecordFailure(name)
		return nil, types.NewError(types.ErrInternal, "provider not wired: "+name)
	}
	desc := providers.Descriptors[name]
	chatReq := provider.ChatRequest{RequestID: req.ID, Messages: []types.Message{{Role: types.RoleUser, Content: prompt}}}
	limits := types.Limits{MaxOutputTokens: desc.MaxOutputTokens}

	ch, err := p.Stream(ctx, chatReq, limits)
	if err != nil {
		o.budget.Release(reservationID)
		o.health.RecordFailure(name)
		return nil, types.NewError(types.ErrProviderTransient, err.Error())
	}
	return ch, nil
}

// resolveStream resolves reservationID and updates name's breaker from
// the completed outcome, mirroring invoke's post-dispatch bookkeeping.
func (o *Orchestrator) resolveStream(name, reservationID string, latency time.Duration, out types.GenerationOutcome) {
	if out.FinishReason == types.FinishError || out.Err != nil {
		o.budget.Release(reservationID)
		o.health.RecordFailure(name)
		return
	}
	o.health.RecordSuccess(name, latency)
	o.budget.Commit(reservationID, int64(out.Tokens.Prompt+out.Tokens.Output), out.CostMicro)
}

// drain exhausts ch so a provider's pump goroutine never blocks forever
// writing to a channel nobody is reading after a cancel().
func drain(ch <-chan types.StreamChunk) {
	for range ch {
	}
}

// streamOnce dispatches to name and forwards its output as StreamEvent
// deltas, holding back the first safetyPrefixBytes of text (and every
// further safetyPrefixBytes after that) for a PostGuard checkpoint
// before it is released to the caller. A checkpoint that blocks cancels
// the in-flight call; recoverable reports whether that block landed
// before any text had been emitted, in which case the caller may retry
// once on a higher tier instead of surfacing the refusal directly.
//
// Once the stream ends, a final grounding-aware PostGuard pass runs
// over the complete text. A Redact verdict there does not unwind what
// was already streamed as deltas — it cannot, the client already has
// those bytes — instead corrected reports true and text carries the
// fully redacted version for the caller to surface as the
// authoritative Result, distinct from the raw deltas already sent.
func (o *Orchestrator) streamOnce(ctx context.Context, req types.Request, prompt string, providers Providers, name string, reservationID string, groundingRequired bool, out chan<- StreamEvent) (outcome types.GenerationOutcome, blocked bool, recoverable bool, corrected bool, text string) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := o.dispatchStream(streamCtx, req, prompt, providers, name, reservationID)
	if err != nil {
		return types.GenerationOutcome{Provider: name, FinishReason: types.FinishError, Err: err}, false, false, false, ""
	}

	threshold := o.safetyPrefixBytes
	if threshold <= 0 {
		threshold = 1
	}

	start := time.Now()
	var full strings.Builder
	var buf strings.Builder
	var emitted strings.Builder
	var finalOutcome types.GenerationOutcome

	for chunk := range ch {
		if chunk.IsFinal && chunk.Outcome != nil {
			finalOutcome = *chunk.Outcome
			continue
		}
		full.WriteString(chunk.TextDelta)
		buf.WriteString(chunk.TextDelta)

		if buf.Len() < threshold {
			continue
		}

		checkRes := o.postGuard.Check(full.String(), types.PostGuardContext{})
		if checkRes.Action == types.ActionBlock {
			cancel()
			drain(ch)
			latency := time.Since(start)
			finalOutcome.Provider = name
			finalOutcome.FinishReason = types.FinishFiltered
			o.resolveStream(name, reservationID, latency, finalOutcome)
			return finalOutcome, true, emitted.Len() == 0, false, emitted.String()
		}

		pending := buf.String()
		out <- StreamEvent{TextDelta: pending}
		emitted.WriteString(pending)
		buf.Reset()
	}

	completeText := finalOutcome.Text
	if completeText == "" {
		completeText = full.String()
	}
	latency := time.Since(start)
	finalOutcome.Text = completeText
	finalOutcome.LatencyMs = latency.Seconds() * 1000
	finalOutcome.Provider = name

	finalRes := o.postGuard.Check(completeText, types.PostGuardContext{GroundingRequired: groundingRequired, SupportScore: 1.0})
	if finalRes.Action == types.ActionBlock {
		finalOutcome.FinishReason = types.FinishFiltered
		o.resolveStream(name, reservationID, latency, finalOutcome)
		return finalOutcome, true, emitted.Len() == 0, false, emitted.String()
	}

	o.resolveStream(name, reservationID, latency, finalOutcome)

	if finalRes.Action == types.ActionRedact {
		return finalOutcome, false, false, true, finalRes.RedactedText
	}

	// A provider that returns its whole answer on the final outcome
	// rather than as incremental deltas (or whose last partial buffer
	// never crossed threshold) leaves a tail that was never streamed;
	// flush it now so text always reflects everything the client saw.
	if emitted.Len() < len(completeText) {
		tail := completeText[emitted.Len():]
		out <- StreamEvent{TextDelta: tail}
		emitted.WriteString(tail)
	}

	return finalOutcome, false, false, false, emitted.String()
}
