// Package fingerprint implements the pure, deterministic fingerprint and
// classification functions of the router's ingress stage (no I/O, no
// provider calls — every function here is total and side-effect free).
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/dawsonblock/ds-router/internal/tokencount"
	"github.com/dawsonblock/ds-router/internal/types"
)

// Normalize lower-cases, trims trailing whitespace, and collapses runs of
// whitespace. It does not alter semantic content beyond that, per the
// normalization rule in the fingerprint contract.
func Normalize(prompt string) string {
	s := strings.ToLower(strings.TrimRight(prompt, " \t\r\n"))
	return whitespaceRun.ReplaceAllString(s, " ")
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Fingerprint computes a stable hash over the normalized prompt, the
// request flags, and an optional model family hint. Same input always
// yields the same fingerprint, across process restarts.
func Fingerprint(prompt string, flags types.Flags, modelFamilyHint string) string {
	h := sha256.New()
	h.Write([]byte(Normalize(prompt)))
	h.Write([]byte{'|'})
	if flags.GroundingRequired {
		h.Write([]byte{'g'})
	}
	if flags.Stream {
		h.Write([]byte{'s'})
	}
	h.Write([]byte{'|'})
	h.Write([]byte(modelFamilyHint))
	return hex.EncodeToString(h.Sum(nil))
}

// Length thresholds used by Classify, in estimated tokens. These are the
// defaults; callers pass their own values as Classify's lHard/lComplex.
const (
	DefaultLHard    = 800
	DefaultLComplex = 250
)

// hardMarkers match formal-reasoning structure: proofs, derivations,
// Big-O optimization requests, multi-step math.
var hardMarkers = []*regexp.Regexp{
	regexp.MustCompile(`\bprove\b`),
	regexp.MustCompile(`\bproof\b`),
	regexp.MustCompile(`\bderiv(e|ation)\b`),
	regexp.MustCompile(`\bbig-?o\b`),
	regexp.MustCompile(`\boptimi[sz]e .* (performance|complexity|runtime)\b`),
	regexp.MustCompile(`\bstep[- ]by[- ]step\b.*\b(math|equation|solve)\b`),
	regexp.MustCompile(`\bdebug(ging)?\b.*\b(constraint|invariant|assert)\b`),
}

// complexMarkers match non-trivial code generation or long-form requests.
var complexMarkers = []*regexp.Regexp{
	regexp.MustCompile(`\bwrite (a |an )?(function|program|script|class)\b`),
	regexp.MustCompile(`\bimplement\b`),
	regexp.MustCompile(`\brefactor\b`),
	regexp.MustCompile(`\bexplain .* in detail\b`),
	regexp.MustCompile(`\bstep (one|1)[:.]`),
	regexp.MustCompile(`\bfirst,.*then,.*finally\b`),
}

// piiMarkers are low-confidence hints only; the authoritative PII verdict
// comes from PreGuard. Classify must never contradict that verdict.
var piiMarkers = []*regexp.Regexp{
	regexp.MustCompile(`[\w.+-]+@[\w-]+\.[a-z]{2,}`),
	regexp.MustCompile(`\b\d{3}[- .]?\d{3}[- .]?\d{4}\b`),
	regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`),
}

var injectionMarkers = []*regexp.Regexp{
	regexp.MustCompile(`\bignore (all )?previous instructions\b`),
	regexp.MustCompile(`\bdisregard (the )?(system|above) (prompt|instructions)\b`),
	regexp.MustCompile(`\breveal the system prompt\b`),
	regexp.MustCompile(`\byou are now\b`),
	regexp.MustCompile(`\bact as\b.*\bwithout (restrictions|limitations)\b`),
}

var estimator = tokencount.NewEstimator()

// Classify is total, deterministic, and side-effect free. Ambiguous
// inputs bias toward complex rather than simple, to avoid under-serving.
func Classify(prompt string, flags types.Flags, lHard, lComplex int) types.Classification {
	if lHard <= 0 {
		lHard = DefaultLHard
	}
	if lComplex <= 0 {
		lComplex = DefaultLComplex
	}

	norm := Normalize(prompt)
	estTokens := estimator.Count(norm)

	risk := types.RiskBenign
	for _, re := range injectionMarkers {
		if re.MatchString(norm) {
			risk = types.RiskInjectionSuspected
			break
		}
	}
	if risk == types.RiskBenign {
		for _, re := range piiMarkers {
			if re.MatchString(norm) {
				risk = types.RiskPIISuspected
				break
			}
		}
	}

	complexity := types.ComplexitySimple
	needsReasoning := false

	hard := matchesAny(hardMarkers, norm) || estTokens > lHard
	complex := matchesAny(complexMarkers, norm) || estTokens >= lComplex

	switch {
	case hard:
		complexity = types.ComplexityHard
		needsReasoning = true
	case complex:
		complexity = types.ComplexityComplex
		needsReasoning = true
	default:
		complexity = types.ComplexitySimple
	}

	return types.Classification{
		Complexity:      complexity,
		EstPromptTokens: estTokens,
		NeedsReasoning:  needsReasoning,
		RiskClass:       risk,
	}
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
