// Package pipeline wires Fingerprint, PreGuard, the Routing Engine, the
// Budget and Health Trackers, a Provider Adapter, PostGuard, the cache,
// and the audit sink into the single request lifecycle the external
// transport calls. Grounded on a chat-handler's request lifecycle shape
// (intake -> dispatch -> collect -> record) and a buffered-channel
// stream shape for draining a provider's output before the
// post-generation safety pass.
package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dawsonblock/ds-router/internal/budget"
	"github.com/dawsonblock/ds-router/internal/cache"
	"github.com/dawsonblock/ds-router/internal/fingerprint"
	"github.com/dawsonblock/ds-router/internal/guard"
	"github.com/dawsonblock/ds-router/internal/health"
	"github.com/dawsonblock/ds-router/internal/provider"
	"github.com/dawsonblock/ds-router/internal/router"
	"github.com/dawsonblock/ds-router/internal/types"
)

// AuditSink receives one record per completed request.
type AuditSink interface {
	Log(types.AuditRecord) error
}

// MetricsRecorder receives counter/histogram observations as the
// pipeline progresses. Implemented by internal/metrics.Collector; a nil
// recorder is valid and simply records nothing.
type MetricsRecorder interface {
	ObserveRequest(provider string, reason types.RoutingReason, finish types.FinishReason)
	ObserveConfidence(tier types.Tier, confidence float64)
	ObserveEscalation(fromTier types.Tier)
	ObserveBlocked(stage string)
	ObserveLatencyMs(provider string, ms float64)
	ObserveBudgetUtilization(fracTokens, fracCredits float64)
}

// Providers is the live, reloadable descriptor + instance table the
// Routing Engine and the adapter consume, captured as an immutable
// snapshot at the start of every request so an in-flight admin reload
// never mutates a request already underway.
type Providers struct {
	Descriptors map[string]types.ProviderDescriptor
	Instances   map[string]provider.Provider
}

// Orchestrator runs the full request lifecycle.
type Orchestrator struct {
	logger *zap.Logger

	preGuard  *guard.PreGuard
	postGuard *guard.PostGuard
	health    *health.Tracker
	budget    *budget.Tracker
	routing   *router.Engine
	cache     cache.Cache
	audit     AuditSink
	metrics   MetricsRecorder

	lHard, lComplex   int
	safetyPrefixBytes int
}

// Config bundles the Orchestrator's collaborators.
type Config struct {
	Logger    *zap.Logger
	PreGuard  *guard.PreGuard
	PostGuard *guard.PostGuard
	Health    *health.Tracker
	Budget    *budget.Tracker
	Routing   *router.Engine
	Cache     cache.Cache
	Audit     AuditSink
	Metrics   MetricsRecorder
	LHard     int
	LComplex  int

	// SafetyPrefixBytes configures RunStream's checkpointing cadence:
	// how many bytes of generated text it buffers before the first
	// PostGuard checkpoint, and the interval between the periodic
	// re-checks that follow. Zero checkpoints as soon as any text
	// exists.
	SafetyPrefixBytes int
}

// New constructs an Orchestrator from cfg, defaulting any collaborator
// left nil to a conservative in-process implementation so the pipeline
// never panics on a partially-wired Config in tests.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PreGuard == nil {
		cfg.PreGuard = guard.NewPreGuard(guard.DefaultPreGuardConfig(), cfg.Logger)
	}
	if cfg.PostGuard == nil {
		cfg.PostGuard = guard.NewPostGuard(guard.DefaultPostGuardConfig(), cfg.Logger)
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemoryCache()
	}
	return &Orchestrator{
		logger:    cfg.Logger.With(zap.String("component", "pipeline")),
		preGuard:  cfg.PreGuard,
		postGuard: cfg.PostGuard,
		health:    cfg.Health,
		budget:    cfg.Budget,
		routing:   cfg.Routing,
		cache:     cfg.Cache,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		lHard:     cfg.LHard,
		lComplex:  cfg.LComplex,

		safetyPrefixBytes: cfg.SafetyPrefixBytes,
	}
}

// Result is what the transport layer renders to the client.
type Result struct {
	Text         string
	FinishReason types.FinishReason
	Cached       bool
	Blocked      bool
	RefusalText  string
	// Corrected marks a streamed Result whose Text was redacted by a
	// final PostGuard pass after some of the pre-redaction text had
	// already been streamed to the client as deltas: Text here is the
	// authoritative corrected version, not an additional delta to
	// append.
	Corrected bool
	Audit     types.AuditRecord
}

// StreamEvent is one unit the transport forwards to a streaming client.
type StreamEvent struct {
	TextDelta string
	Final     *Result
}

// Run executes the full, non-streaming request lifecycle.
func (o *Orchestrator) Run(ctx context.Context, req types.Request, providers Providers, thresholds router.Thresholds) Result {
	start := time.Now()

	preRes, err := o.preGuard.Check(req.Prompt)
	if err != nil || preRes.Action == types.ActionBlock {
		safeMetrics(o.metrics).ObserveBlocked("pre_guard")
		return o.finishBlocked(req, preRes, start)
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
		return Result{Text: lookup.Text, FinishReason: types.FinishStop, Cached: true, Audit: audit}
	}

	decision, outcome, postRes := o.generate(ctx, req, effectivePrompt, classification, providers, thresholds)
	elapsed := time.Since(start)

	if postRes.Action == types.ActionBlock {
		safeMetrics(o.metrics).ObserveBlocked("post_guard")
		audit := o.buildAudit(req, fp, classification, decision, preRes.Action, postRes.Action, outcome.Tokens, outcome.CostMicro, elapsed, types.FinishFiltered, false)
		o.logAudit(audit)
		return Result{Blocked: true, RefusalText: guard.CannedRefusal, FinishReason: types.FinishFiltered, Audit: audit}
	}

	finalText := outcome.Text
	if postRes.Action == types.ActionRedact {
		finalText = postRes.RedactedText
	}

	if outcome.FinishReason == types.FinishStop {
		_ = o.cache.Store(ctx, fp, outcome)
	}

	audit := o.buildAudit(req, fp, classification, decision, preRes.Action, postRes.Action, outcome.Tokens, outcome.CostMicro, elapsed, outcome.FinishReason, false)
	o.logAudit(audit)
	safeMetrics(o.metrics).ObserveLatencyMs(decision.Chosen, elapsed.Seconds()*1000)

	return Result{Text: finalText, FinishReason: outcome.FinishReason, Audit: audit}
}

// generate performs routing, the provider call (draining the stream
// synchronously), budget commit, and health update, applying at most
// one confidence-gated escalation per request.
func (o *Orchestrator) generate(ctx context.Context, req types.Request, prompt string, classification types.Classification, providers Providers, thresholds router.Thresholds) (types.RoutingDecision, types.GenerationOutcome, types.PostGuardResult) {
	estTokens := int64(classification.EstPromptTokens)
	decision, outcome := o.callOnce(ctx, req, prompt, classification, providers, thresholds, estTokens)

	if decision.Chosen != "" {
		desc := providers.Descriptors[decision.Chosen]
		if router.ShouldEscalate(outcome.Confidence, desc.Tier, o.advancedEligible(providers, thresholds, estTokens), thresholds) {
			safeMetrics(o.metrics).ObserveEscalation(desc.Tier)
			advDecision, advOutcome := o.callTier(ctx, req, prompt, classification, providers, thresholds, types.TierAdvanced, estTokens)
			if advDecision.Chosen != "" {
				advDecision.Reason = types.ReasonLowConfidenceEscalation
				advDecision.ConfidenceBefore = outcome.Confidence
				advDecision.ConfidenceAfter = advOutcome.Confidence
				decision, outcome = advDecision, advOutcome
			}
		}
	}

	safeMetrics(o.metrics).ObserveConfidence(providers.Descriptors[decision.Chosen].Tier, outcome.Confidence)
	safeMetrics(o.metrics).ObserveRequest(decision.Chosen, decision.Reason, outcome.FinishReason)

	postCtx := types.PostGuardContext{GroundingRequired: req.Flags.GroundingRequired, SupportScore: 1.0}
	postRes := o.postGuard.Check(outcome.Text, postCtx)

	return decision, outcome, postRes
}

// advancedEligible answers "does an advanced-tier fallback exist",
// without dispatching or claiming anything — it must stay on
// non-consuming reads (Snapshot/CanReserve) so merely asking the
// question never ties up a breaker's single half-open probe or a
// budget reservation nothing will ever commit or release.
func (o *Orchestrator) advancedEligible(providers Providers, thresholds router.Thresholds, estTokens int64) bool {
	for name, d := range providers.Descriptors {
		if d.Tier != types.TierAdvanced {
			continue
		}
		if o.health.Snapshot(name).State == types.CircuitOpen {
			continue
		}
		if o.budget.CanReserve(estTokens, 0) {
			return true
		}
	}
	return false
}

// callOnce selects a provider via the full routing policy and invokes it.
func (o *Orchestrator) callOnce(ctx context.Context, req types.Request, prompt string, classification types.Classification, providers Providers, thresholds router.Thresholds, estTokens int64) (types.RoutingDecision, types.GenerationOutcome) {
	chosen, reason, tried, _, reservationID := o.routing.Select(providers.Descriptors, classification, thresholds, req.Flags.GroundingRequired, 1.0, estTokens, 0)
	decision := types.RoutingDecision{Chosen: chosen, Reason: reason, CandidatesTried: tried, Classification: classification}
	if chosen == "" {
		return decision, types.GenerationOutcome{FinishReason: types.FinishError, Err: types.NewError(types.ErrCircuitOpenAll, "no eligible provider")}
	}
	return decision, o.invoke(ctx, req, prompt, providers, chosen, reservationID)
}

// callTier forces selection within a single tier, used for escalation.
func (o *Orchestrator) callTier(ctx context.Context, req types.Request, prompt string, classification types.Classification, providers Providers, thresholds router.Thresholds, tier types.Tier, estTokens int64) (types.RoutingDecision, types.GenerationOutcome) {
	name, reservationID, ok := o.reserveOnTier(providers, tier, estTokens)
	if !ok {
		return types.RoutingDecision{}, types.GenerationOutcome{FinishReason: types.FinishError}
	}
	decision := types.RoutingDecision{Chosen: name, Classification: classification}
	return decision, o.invoke(ctx, req, prompt, providers, name, reservationID)
}

// reserveOnTier finds the first provider of tier that passes a real
// dispatch gate: it consumes the breaker's Allow() (driving the
// cooldown->half-open transition) and a budget reservation, releasing
// the health probe via Abort if the budget then denies so a losing
// candidate never leaves a breaker stranded in half-open. Shared by
// callTier and RunStream's mid-stream escalation path.
func (o *Orchestrator) reserveOnTier(providers Providers, tier types.Tier, estTokens int64) (name string, reservationID string, ok bool) {
	for n, d := range providers.Descriptors {
		if d.Tier != tier {
			continue
		}
		if !o.health.Allow(n) {
			continue
		}
		res := o.budget.Reserve(estTokens, 0)
		if !res.Granted {
			o.health.Abort(n)
			continue
		}
		return n, res.ID, true
	}
	return "", "", false
}

// invoke dispatches the already-selected, already-reserved call to
// name. reservationID is the pending budget hold Select/callTier
// claimed for this dispatch ("" for the local tier, which is never
// budget-gated); invoke always resolves it, via Release on any failure
// path or Commit on success, and always records the outcome against
// name's breaker so the Allow() that gated this dispatch never leaves a
// half-open probe unresolved.
func (o *Orchestrator) invoke(ctx context.Context, req types.Request, prompt string, providers Providers, name string, reservationID string) types.GenerationOutcome {
	p, ok := providers.Instances[name]
	if !ok {
		o.budget.Release(reservationID)
		o.health.RecordFailure(name)
		return types.GenerationOutcome{Provider: name, FinishReason: types.FinishError, Err: types.NewError(types.ErrInternal, "provider not wired: "+name)}
	}
	desc := providers.Descriptors[name]
	chatReq := provider.ChatRequest{RequestID: req.ID, Messages: []types.Message{{Role: types.RoleUser, Content: prompt}}}
	limits := types.Limits{MaxOutputTokens: desc.MaxOutputTokens}

	start := time.Now()
	ch, err := p.Stream(ctx, chatReq, limits)
	if err != nil {
		o.budget.Release(reservationID)
		o.health.RecordFailure(name)
		return types.GenerationOutcome{Provider: name, FinishReason: types.FinishError, Err: types.NewError(types.ErrProviderTransient, err.Error())}
	}

	var out types.GenerationOutcome
	var sb strings.Builder
	for chunk := range ch {
		sb.WriteString(chunk.TextDelta)
		if chunk.IsFinal && chunk.Outcome != nil {
			out = *chunk.Outcome
		}
	}
	latency := time.Since(start)
	if out.Text == "" {
		out.Text = sb.String()
	}
	out.LatencyMs = latency.Seconds() * 1000
	out.Provider = name

	if out.FinishReason == types.FinishError || out.Err != nil {
		o.budget.Release(reservationID)
		o.health.RecordFailure(name)
	} else {
		o.health.RecordSuccess(name, latency)
		o.budget.Commit(reservationID, int64(out.Tokens.Prompt+out.Tokens.Output), out.CostMicro)
	}
	return out
}

func (o *Orchestrator) finishBlocked(req types.Request, preRes types.PreGuardResult, start time.Time) Result {
	classification := types.Classification{}
	audit := o.buildAudit(req, "", classification, types.RoutingDecision{}, preRes.Action, "", types.TokenUsage{}, 0, time.Since(start), types.FinishFiltered, false)
	o.logAudit(audit)
	return Result{Blocked: true, RefusalText: guard.RefusalMessage(preRes.Detections), FinishReason: types.FinishFiltered, Audit: audit}
}

func (o *Orchestrator) buildAudit(req types.Request, fp string, classification types.Classification, decision types.RoutingDecision, preAction, postAction types.GuardAction, tokens types.TokenUsage, costMicro int64, elapsed time.Duration, finish types.FinishReason, cached bool) types.AuditRecord {
	return types.AuditRecord{
		RequestID:       req.ID,
		Fingerprint:     fp,
		Classification:  classification,
		Routing:         decision,
		PreGuardAction:  preAction,
		PostGuardAction: postAction,
		Tokens:          tokens,
		CostMicro:       costMicro,
		LatencyMs:       elapsed.Seconds() * 1000,
		FinishReason:    finish,
		Cached:          cached,
		Timestamp:       time.Now(),
	}
}

func (o *Orchestrator) logAudit(rec types.AuditRecord) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Log(rec); err != nil {
		o.logger.Warn("failed to persist audit record", zap.String("request_id", rec.RequestID), zap.Error(err))
	}
}

type nopMetrics struct{}

func (nopMetrics) ObserveRequest(string, types.RoutingReason, types.FinishReason) {}
func (nopMetrics) ObserveConfidence(types.Tier, float64)                         {}
func (nopMetrics) ObserveEscalation(types.Tier)                                  {}
func (nopMetrics) ObserveBlocked(string)                                         {}
func (nopMetrics) ObserveLatencyMs(string, float64)                              {}
func (nopMetrics) ObserveBudgetUtilization(float64, float64)                     {}

// safeMetrics returns m, or a no-op recorder if m is nil, so every call
// site can invoke it unconditionally.
func safeMetrics(m MetricsRecorder) MetricsRecorder {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
