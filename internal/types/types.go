// Package types holds the core data model shared across the router core.
// It has no dependency on any other ds-router package, so any package may
// import it without risk of an import cycle.
package types

import "time"

// Tier is a class of provider capability.
type Tier string

const (
	TierFast      Tier = "fast"
	TierReasoning Tier = "reasoning"
	TierAdvanced  Tier = "advanced"
	TierLocal     Tier = "local"
)

// Complexity is the classifier's coarse estimate of a prompt's difficulty.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityComplex Complexity = "complex"
	ComplexityHard    Complexity = "hard"
)

// RiskClass is a coarse PreGuard-adjacent risk tag attached by the classifier.
type RiskClass string

const (
	RiskBenign           RiskClass = "benign"
	RiskPIISuspected     RiskClass = "pii_suspected"
	RiskInjectionSuspected RiskClass = "injection_suspected"
)

// Role is the role of a chat message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Flags are the per-request toggles from the client.
type Flags struct {
	GroundingRequired bool `json:"grounding_required"`
	Stream            bool `json:"stream"`
}

// Request is the immutable-after-ingress unit of work handled by the
// Pipeline Orchestrator.
type Request struct {
	ID          string            `json:"id"`
	Tenant      string            `json:"tenant,omitempty"`
	Prompt      string            `json:"prompt"`
	Attachments []string          `json:"attachments,omitempty"`
	Session     string            `json:"session,omitempty"`
	Flags       Flags             `json:"flags"`
	Deadline    time.Time         `json:"deadline,omitempty"`
	ReceivedAt  time.Time         `json:"received_at"`
	ModelFamilyHint string        `json:"model_family_hint,omitempty"`
}

// Classification is the classifier's verdict for a single prompt.
type Classification struct {
	Complexity      Complexity `json:"complexity"`
	EstPromptTokens int        `json:"est_prompt_tokens"`
	NeedsReasoning  bool       `json:"needs_reasoning"`
	RiskClass       RiskClass  `json:"risk_class"`
}

// ProviderDescriptor is the static, reloadable shape of a provider.
type ProviderDescriptor struct {
	Name              string   `json:"name"`
	Tier              Tier     `json:"tier"`
	CostPer1kPrompt   float64  `json:"cost_per_1k_prompt"`
	CostPer1kOutput   float64  `json:"cost_per_1k_output"`
	MaxOutputTokens   int      `json:"max_output_tokens"`
	SupportsStreaming bool     `json:"supports_streaming"`
	Capabilities      []string `json:"capabilities,omitempty"`
}

// CircuitState is the breaker state of a provider.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// ProviderHealth is the mutable reliability snapshot for one provider.
// Mutated only by the Health Tracker; readers receive a copy.
type ProviderHealth struct {
	State              CircuitState `json:"state"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	FailuresWindow     int          `json:"failures_window"`
	SuccessesWindow    int          `json:"successes_window"`
	LastFailureAt      time.Time    `json:"last_failure_at,omitempty"`
	LastSuccessAt      time.Time    `json:"last_success_at,omitempty"`
	P50LatencyMs       float64      `json:"p50_latency_ms"`
	P95LatencyMs       float64      `json:"p95_latency_ms"`
	OpenedAt           time.Time    `json:"opened_at,omitempty"`
}

// BudgetMode is the enforcement strictness of the Budget Tracker.
type BudgetMode string

const (
	BudgetModeHard BudgetMode = "hard"
	BudgetModeWarn BudgetMode = "warn"
)

// BudgetState is the daily counter snapshot enforced by the Budget Tracker.
type BudgetState struct {
	DayKey          string     `json:"day_key" gorm:"primaryKey;size:16"`
	TokensUsed      int64      `json:"tokens_used"`
	CreditsUsedMicro int64     `json:"credits_used_micro"`
	TokensCap       int64      `json:"tokens_cap" gorm:"-"`
	CreditsCapMicro int64      `json:"credits_cap_micro" gorm:"-"`
	Mode            BudgetMode `json:"mode" gorm:"size:8"`
	ResetAt         time.Time  `json:"reset_at"`
}

// TableName pins the GORM table name for BudgetState.
func (BudgetState) TableName() string { return "ds_router_budget_state" }

// RoutingReason names why a particular provider was chosen.
type RoutingReason string

const (
	ReasonSimpleQuery           RoutingReason = "simple_query"
	ReasonComplexQuery          RoutingReason = "complex_query"
	ReasonLowConfidenceEscalation RoutingReason = "low_confidence_escalation"
	ReasonDegradedFallback      RoutingReason = "degraded_fallback"
	ReasonBudgetFallback        RoutingReason = "budget_fallback"
	ReasonCircuitOpenFallback   RoutingReason = "circuit_open_fallback"
	ReasonForcedOverride        RoutingReason = "forced_override"
)

// RoutingDecision records the routing engine's verdict for one request.
type RoutingDecision struct {
	Chosen           string          `json:"chosen"`
	Reason           RoutingReason   `json:"reason"`
	CandidatesTried  []string        `json:"candidates_tried"`
	Classification   Classification  `json:"classification"`
	ConfidenceBefore float64         `json:"confidence_before"`
	ConfidenceAfter  float64         `json:"confidence_after"`
}

// FinishReason is the terminal state of a generation attempt.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishFiltered  FinishReason = "filtered"
	FinishError     FinishReason = "error"
	FinishCancelled FinishReason = "cancelled"
)

// TokenUsage is the prompt/output token split of a generation.
type TokenUsage struct {
	Prompt int `json:"prompt"`
	Output int `json:"output"`
}

// GenerationOutcome is the result of one provider call.
type GenerationOutcome struct {
	Text        string       `json:"text"`
	FinishReason FinishReason `json:"finish_reason"`
	Tokens      TokenUsage   `json:"tokens"`
	LatencyMs   float64      `json:"latency_ms"`
	Provider    string       `json:"provider"`
	Confidence  float64      `json:"confidence"`
	CostMicro   int64        `json:"cost_micro"`
	Err         *Error       `json:"error,omitempty"`
}

// GuardAction is an action taken by PreGuard or PostGuard.
type GuardAction string

const (
	ActionAllow   GuardAction = "allow"
	ActionSanitize GuardAction = "sanitize"
	ActionBlock   GuardAction = "block"
	ActionPass    GuardAction = "pass"
	ActionRedact  GuardAction = "redact"
)

// Detection is a single PreGuard finding.
type Detection struct {
	Category string `json:"category"`
	Span     string `json:"span,omitempty"`
}

// PreGuardResult is PreGuard's verdict for one prompt.
type PreGuardResult struct {
	Action          GuardAction `json:"action"`
	SanitizedPrompt string      `json:"sanitized_prompt"`
	Detections      []Detection `json:"detections"`
}

// CitationsOK is a three-valued verdict for grounding checks.
type CitationsOK string

const (
	CitationsTrue  CitationsOK = "true"
	CitationsFalse CitationsOK = "false"
	CitationsNA    CitationsOK = "n/a"
)

// PostGuardResult is PostGuard's verdict for one generated text.
type PostGuardResult struct {
	Action       GuardAction `json:"action"`
	RedactedText string      `json:"redacted_text,omitempty"`
	Violations   []string    `json:"violations"`
	Toxicity     float64     `json:"toxicity"`
	CitationsOK  CitationsOK `json:"citations_ok"`
}

// PostGuardContext carries the information PostGuard needs beyond the text.
type PostGuardContext struct {
	GroundingRequired bool
	SupportScore      float64
}

// AuditRecord is the immutable, append-only record of one request.
type AuditRecord struct {
	RequestID       string          `json:"request_id"`
	Fingerprint     string          `json:"fingerprint"`
	Classification  Classification  `json:"classification"`
	Routing         RoutingDecision `json:"routing"`
	PreGuardAction  GuardAction     `json:"pre_guard_action"`
	PostGuardAction GuardAction     `json:"post_guard_action"`
	Tokens          TokenUsage      `json:"tokens"`
	CostMicro       int64           `json:"cost_micro"`
	LatencyMs       float64         `json:"latency_ms"`
	FinishReason    FinishReason    `json:"finish_reason"`
	Cached          bool            `json:"cached"`
	Timestamp       time.Time       `json:"timestamp"`
}

// StreamChunk is one element of a provider's lazy output sequence.
type StreamChunk struct {
	TextDelta       string  `json:"text_delta"`
	IsFinal         bool    `json:"is_final"`
	PartialTokensOutput int `json:"partial_tokens_output"`
	Outcome         *GenerationOutcome `json:"outcome,omitempty"`
}

// Limits bounds a single provider call.
type Limits struct {
	MaxOutputTokens int
	DeadlineMs      int64
}
