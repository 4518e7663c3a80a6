// Package guard implements the safety sandwich: PreGuard sanitizes and
// gates requests before any provider call, PostGuard verifies generated
// output before it is surfaced to the client.
package guard

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/dawsonblock/ds-router/internal/types"
)

// piiPattern pairs a detection category with the regex that finds it and
// the stable placeholder token used to redact it. Patterns are adapted
// from a PII detector shape but redact to a fixed placeholder token
// rather than partial masking, per the sanitize contract's "stable
// placeholder tokens" requirement.
type piiPattern struct {
	category    string
	pattern     *regexp.Regexp
	placeholder string
}

var piiPatterns = []piiPattern{
	{"EMAIL", regexp.MustCompile(`[\w.+-]+@[\w-]+\.[a-z]{2,}`), "<REDACTED:EMAIL>"},
	{"PHONE", regexp.MustCompile(`\b\d{3}[- .]?\d{3}[- .]?\d{4}\b`), "<REDACTED:PHONE>"},
	{"CREDIT_CARD", regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`), "<REDACTED:CREDIT_CARD>"},
	{"GOVERNMENT_ID", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "<REDACTED:GOVERNMENT_ID>"},
}

// injectionPattern pairs a detection category with the regex that finds
// it, adapted from an injection-detector pattern table.
type injectionPattern struct {
	category string
	pattern  *regexp.Regexp
}

var injectionPatterns = []injectionPattern{
	{"IGNORE_INSTRUCTIONS", regexp.MustCompile(`(?i)\bignore (all )?(previous|prior|above) instructions\b`)},
	{"DISREGARD_SYSTEM", regexp.MustCompile(`(?i)\bdisregard (the )?(system|above) (prompt|instructions)\b`)},
	{"REVEAL_SYSTEM_PROMPT", regexp.MustCompile(`(?i)\breveal (the )?system prompt\b`)},
	{"ROLE_OVERRIDE", regexp.MustCompile(`(?i)\byou are now\b`)},
	{"OVERRIDE_DIRECTIVE", regexp.MustCompile(`(?i)\bnew instructions?:\s*override\b`)},
	{"SYSTEM_TAG_INJECTION", regexp.MustCompile(`(?i)<\s*system\s*>`)},
	{"INST_TAG_INJECTION", regexp.MustCompile(`(?i)\[\s*inst\s*\]`)},
}

var disallowedPatterns = []injectionPattern{
	{"SELF_HARM_INSTRUCTIONS", regexp.MustCompile(`(?i)\bhow to (make|build) (a )?(bomb|weapon)\b`)},
}

// PreGuardConfig tunes PreGuard's behavior. Zero value is usable.
type PreGuardConfig struct {
	// BlockOnInjection, when true (the default), blocks requests that
	// match any injection pattern rather than sanitizing them — prompt
	// injection is adversarial by nature, unlike PII which is
	// incidental, so the default action differs per category.
	BlockOnInjection bool
}

// DefaultPreGuardConfig returns PreGuard's default configuration.
func DefaultPreGuardConfig() PreGuardConfig {
	return PreGuardConfig{BlockOnInjection: true}
}

// PreGuard sanitizes and gates a request before any provider call. It
// never calls providers or the network.
type PreGuard struct {
	cfg    PreGuardConfig
	logger *zap.Logger
}

// NewPreGuard constructs a PreGuard with the given configuration.
func NewPreGuard(cfg PreGuardConfig, logger *zap.Logger) *PreGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PreGuard{cfg: cfg, logger: logger.With(zap.String("component", "pre_guard"))}
}

// Check runs PreGuard on prompt and returns the verdict. It never
// panics: on any internal failure it fails closed with action=block,
// never silently passing through unsanitized input.
func (g *PreGuard) Check(prompt string) (res types.PreGuardResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("pre_guard panic recovered, failing closed", zap.Any("panic", r))
			res = types.PreGuardResult{Action: types.ActionBlock, SanitizedPrompt: ""}
		}
	}()

	var detections []types.Detection
	for _, ip := range disallowedPatterns {
		if ip.pattern.MatchString(prompt) {
			detections = append(detections, types.Detection{Category: ip.category})
		}
	}
	if len(detections) > 0 {
		return types.PreGuardResult{Action: types.ActionBlock, Detections: detections}, nil
	}

	for _, ip := range injectionPatterns {
		if ip.pattern.MatchString(prompt) {
			detections = append(detections, types.Detection{Category: ip.category})
		}
	}
	if len(detections) > 0 && g.cfg.BlockOnInjection {
		return types.PreGuardResult{Action: types.ActionBlock, Detections: detections}, nil
	}

	sanitized := prompt
	var piiDetections []types.Detection
	for _, pp := range piiPatterns {
		matches := pp.pattern.FindAllString(sanitized, -1)
		for _, m := range matches {
			piiDetections = append(piiDetections, types.Detection{Category: pp.category, Span: m})
		}
		sanitized = pp.pattern.ReplaceAllString(sanitized, pp.placeholder)
	}

	allDetections := append(detections, piiDetections...)
	if len(allDetections) == 0 {
		return types.PreGuardResult{Action: types.ActionAllow, SanitizedPrompt: prompt, Detections: allDetections}, nil
	}

	return types.PreGuardResult{
		Action:          types.ActionSanitize,
		SanitizedPrompt: IsolateWithDelimiters(sanitized),
		Detections:      allDetections,
	}, nil
}

// untrustedDelimiter brackets user-originated text so a provider that
// honors role/delimiter conventions can distinguish it from the
// surrounding system instructions, as defense-in-depth beyond pattern
// blocking.
const untrustedDelimiter = "§untrusted-input§"

// IsolateWithDelimiters wraps text in a fixed delimiter pair marking it
// as untrusted user content, distinct from any system-authored text it
// is later concatenated with.
func IsolateWithDelimiters(text string) string {
	return fmt.Sprintf("%s\n%s\n%s", untrustedDelimiter, text, untrustedDelimiter)
}

// IsolateWithRole prefixes text with an explicit role label, for
// providers whose wire format has no native delimiter convention.
func IsolateWithRole(role, text string) string {
	return fmt.Sprintf("[%s]: %s", role, text)
}

// RefusalMessage is the canned response returned when PreGuard blocks a
// request, surfaced by the Pipeline Orchestrator instead of a provider
// call.
func RefusalMessage(detections []types.Detection) string {
	cats := make([]string, 0, len(detections))
	for _, d := range detections {
		cats = append(cats, d.Category)
	}
	return fmt.Sprintf("This request cannot be processed (blocked: %s).", strings.Join(cats, ", "))
}
