package guard

import (
	"regexp"

	"go.uber.org/zap"

	"github.com/dawsonblock/ds-router/internal/types"
)

// toxicMarker pairs a blocked-content category with its regex, adapted
// from a ContentFilter blocked-pattern table shape.
type toxicMarker struct {
	category string
	pattern  *regexp.Regexp
	weight   float64
}

var toxicMarkers = []toxicMarker{
	{"SLUR", regexp.MustCompile(`(?i)\b(idiot|moron|stupid)\b`), 0.3},
	{"THREAT", regexp.MustCompile(`(?i)\b(i will kill|i'll kill|i will hurt)\b`), 0.9},
	{"HATE", regexp.MustCompile(`(?i)\b(hate speech|racial slur)\b`), 0.8},
}

var citationPattern = regexp.MustCompile(`(?i)\[\d+\]|\(source:|https?://`)

// PostGuardConfig tunes PostGuard's behavior. Zero value is usable.
type PostGuardConfig struct {
	// ToxicityBlockThreshold is the toxicity score at or above which the
	// action is block rather than redact.
	ToxicityBlockThreshold float64
	SafeReplacement        string
}

// DefaultPostGuardConfig returns PostGuard's default configuration,
// with a canned safe-replacement string in place of a localized one.
func DefaultPostGuardConfig() PostGuardConfig {
	return PostGuardConfig{
		ToxicityBlockThreshold: 0.7,
		SafeReplacement:        "[response withheld by safety filter]",
	}
}

// PostGuard verifies generated output before it is surfaced to the
// client. It is deterministic for the same (text, context).
type PostGuard struct {
	cfg    PostGuardConfig
	logger *zap.Logger
}

// NewPostGuard constructs a PostGuard with the given configuration.
func NewPostGuard(cfg PostGuardConfig, logger *zap.Logger) *PostGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ToxicityBlockThreshold == 0 {
		cfg.ToxicityBlockThreshold = 0.7
	}
	if cfg.SafeReplacement == "" {
		cfg.SafeReplacement = "[response withheld by safety filter]"
	}
	return &PostGuard{cfg: cfg, logger: logger.With(zap.String("component", "post_guard"))}
}

// Check runs PostGuard on finalText with the given context. On internal
// failure it fails closed with action=block: a filter error must never
// silently pass through unverified output.
func (g *PostGuard) Check(finalText string, ctx types.PostGuardContext) (res types.PostGuardResult) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("post_guard panic recovered, failing closed", zap.Any("panic", r))
			res = types.PostGuardResult{Action: types.ActionBlock, Toxicity: 1.0, CitationsOK: types.CitationsFalse}
		}
	}()

	toxicity, violations := scoreToxicity(finalText)

	citationsOK := types.CitationsNA
	if ctx.GroundingRequired {
		if citationPattern.MatchString(finalText) && ctx.SupportScore >= 0.5 {
			citationsOK = types.CitationsTrue
		} else {
			citationsOK = types.CitationsFalse
		}
	}

	if ctx.GroundingRequired && citationsOK != types.CitationsTrue {
		return types.PostGuardResult{
			Action:      types.ActionBlock,
			Violations:  append(violations, "grounding_required_but_uncited"),
			Toxicity:    toxicity,
			CitationsOK: citationsOK,
		}
	}

	if toxicity >= g.cfg.ToxicityBlockThreshold {
		return types.PostGuardResult{
			Action:      types.ActionBlock,
			Violations:  violations,
			Toxicity:    toxicity,
			CitationsOK: citationsOK,
		}
	}

	if len(violations) > 0 {
		redacted := redactViolations(finalText)
		return types.PostGuardResult{
			Action:       types.ActionRedact,
			RedactedText: redacted,
			Violations:   violations,
			Toxicity:     toxicity,
			CitationsOK:  citationsOK,
		}
	}

	return types.PostGuardResult{
		Action:      types.ActionPass,
		Violations:  violations,
		Toxicity:    toxicity,
		CitationsOK: citationsOK,
	}
}

func scoreToxicity(text string) (float64, []string) {
	var violations []string
	var max float64
	for _, m := range toxicMarkers {
		if m.pattern.MatchString(text) {
			violations = append(violations, m.category)
			if m.weight > max {
				max = m.weight
			}
		}
	}
	return max, violations
}

func redactViolations(text string) string {
	out := text
	for _, m := range toxicMarkers {
		out = m.pattern.ReplaceAllStringFunc(out, func(string) string { return "[redacted]" })
	}
	return out
}

// CannedRefusal is the generic safe-completion message surfaced when
// PostGuard blocks the last-resort provider's output.
const CannedRefusal = "I can't provide that response."
