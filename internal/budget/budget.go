// Package budget enforces daily token/credit ceilings with hard/warn
// modes, adapted from a TokenBudgetManager shape, narrowed from four
// rolling windows to a single daily window and given explicit
// reserve/commit/reset_day semantics.
package budget

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dawsonblock/ds-router/internal/types"
)

// Config parameterizes the Budget Tracker's daily_token_cap,
// daily_credit_cap_micro, and budget_mode fields.
type Config struct {
	TokensCap         int64
	CreditsCapMicro   int64
	Mode              types.BudgetMode
	OvershootAllowance int64 // tokens, applied against the tokens cap only
	Location          *time.Location
}

// DefaultConfig returns a generous hard-mode default.
func DefaultConfig() Config {
	return Config{
		TokensCap:          1_000_000,
		CreditsCapMicro:    1_000_000_000,
		Mode:               types.BudgetModeHard,
		OvershootAllowance: 0,
		Location:           time.UTC,
	}
}

// DenyReason names why a reservation was denied.
type DenyReason string

const (
	DenyTokensCap   DenyReason = "tokens_cap"
	DenyCreditsCap  DenyReason = "credits_cap"
)

// Reservation is the outcome of Reserve. A granted Reservation holds a
// pending claim against the daily caps, identified by ID, until the
// caller resolves it with Commit (the call happened) or Release (it
// didn't) — otherwise the claim would never be counted against a
// concurrent Reserve and both could be granted even though only one
// fits under the cap.
type Reservation struct {
	ID      string
	Granted bool
	Reason  DenyReason
}

type pendingReservation struct {
	tokens    int64
	costMicro int64
}

// Tracker serializes reserve/commit/reset_day against one daily counter
// set. All three operations are serialized with respect to each other
// via mu.
type Tracker struct {
	mu     sync.Mutex
	cfg    Config
	logger *zap.Logger

	dayKey           string
	tokensUsed       int64
	creditsUsedMicro int64
	overshot         bool
	resetAt          time.Time

	pending             map[string]pendingReservation
	pendingTokens       int64
	pendingCreditsMicro int64
}

// New constructs a Tracker for the current day.
func New(cfg Config, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	t := &Tracker{cfg: cfg, logger: logger, pending: make(map[string]pendingReservation)}
	t.rolloverIfNeeded(time.Now())
	return t
}

func dayKeyFor(now time.Time, loc *time.Location) string {
	return now.In(loc).Format("2006-01-02")
}

// rolloverIfNeeded must be called with mu held.
func (t *Tracker) rolloverIfNeeded(now time.Time) {
	key := dayKeyFor(now, t.cfg.Location)
	if key == t.dayKey {
		return
	}
	t.dayKey = key
	t.tokensUsed = 0
	t.creditsUsedMicro = 0
	t.overshot = false
	t.pending = make(map[string]pendingReservation)
	t.pendingTokens = 0
	t.pendingCreditsMicro = 0
	y, m, d := now.In(t.cfg.Location).Date()
	t.resetAt = time.Date(y, m, d, 0, 0, 0, 0, t.cfg.Location).AddDate(0, 0, 1)
}

// Reserve claims estimatedTokens/estimatedCostMicro against the daily
// caps, counting both already-committed usage and every other
// currently-pending reservation so two concurrent calls that would
// jointly exceed a cap cannot both be granted. In hard mode, a
// reservation after any overshoot always fails until the next day_key
// rollover. A granted reservation's claim stays pending until the
// caller calls Commit or Release on its ID.
func (t *Tracker) Reserve(estimatedTokens int64, estimatedCostMicro int64) Reservation {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverIfNeeded(time.Now())

	if t.cfg.Mode == types.BudgetModeHard && t.overshot {
		return Reservation{Granted: false, Reason: DenyTokensCap}
	}

	if t.cfg.TokensCap > 0 && t.tokensUsed+t.pendingTokens+estimatedTokens > t.cfg.TokensCap+t.cfg.OvershootAllowance {
		return Reservation{Granted: false, Reason: DenyTokensCap}
	}
	if t.cfg.CreditsCapMicro > 0 && t.creditsUsedMicro+t.pendingCreditsMicro+estimatedCostMicro > t.cfg.CreditsCapMicro {
		return Reservation{Granted: false, Reason: DenyCreditsCap}
	}

	id := uuid.NewString()
	t.pending[id] = pendingReservation{tokens: estimatedTokens, costMicro: estimatedCostMicro}
	t.pendingTokens += estimatedTokens
	t.pendingCreditsMicro += estimatedCostMicro
	return Reservation{ID: id, Granted: true}
}

// CanReserve reports whether a reservation of this size would currently
// be granted, without creating a pending hold. Used by eligibility
// checks that assess whether a fallback exists without themselves
// leading to a dispatched call, so they don't need a matching
// Commit/Release.
func (t *Tracker) CanReserve(estimatedTokens int64, estimatedCostMicro int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverIfNeeded(time.Now())

	if t.cfg.Mode == types.BudgetModeHard && t.overshot {
		return false
	}
	if t.cfg.TokensCap > 0 && t.tokensUsed+t.pendingTokens+estimatedTokens > t.cfg.TokensCap+t.cfg.OvershootAllowance {
		return false
	}
	if t.cfg.CreditsCapMicro > 0 && t.creditsUsedMicro+t.pendingCreditsMicro+estimatedCostMicro > t.cfg.CreditsCapMicro {
		return false
	}
	return true
}

// releaseLocked drops a pending reservation's hold. Must be called with
// mu held. A blank or unknown id is a no-op, so callers that never
// reserved (e.g. the local tier) can call Release/Commit unconditionally.
func (t *Tracker) releaseLocked(id string) {
	if id == "" {
		return
	}
	p, ok := t.pending[id]
	if !ok {
		return
	}
	delete(t.pending, id)
	t.pendingTokens -= p.tokens
	t.pendingCreditsMicro -= p.costMicro
}

// Release cancels a granted reservation that will never be committed,
// e.g. a fallback candidate that was reserved while probing eligibility
// but ultimately wasn't dispatched.
func (t *Tracker) Release(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseLocked(id)
}

// Commit records actual usage after a call completes, releasing the
// pending hold id was granted under, if any. id may be "" when there
// was no corresponding reservation (e.g. the local tier, or tests
// recording usage directly). Actual usage may exceed the prior
// reservation by up to OvershootAllowance (e.g. streaming output whose
// final length was unknown at reservation time).
func (t *Tracker) Commit(id string, actualTokens int64, actualCostMicro int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverIfNeeded(time.Now())
	t.releaseLocked(id)

	t.tokensUsed += actualTokens
	t.creditsUsedMicro += actualCostMicro

	if t.cfg.TokensCap > 0 && t.tokensUsed > t.cfg.TokensCap {
		t.overshot = true
		if t.cfg.Mode == types.BudgetModeWarn {
			t.logger.Warn("budget overshoot (warn mode, continuing)",
				zap.Int64("tokens_used", t.tokensUsed), zap.Int64("tokens_cap", t.cfg.TokensCap))
		}
	}
	if t.cfg.CreditsCapMicro > 0 && t.creditsUsedMicro > t.cfg.CreditsCapMicro {
		t.overshot = true
	}
}

// ResetDay clears counters for the current day_key. Calling it twice in
// a row has the same effect as calling it once.
func (t *Tracker) ResetDay() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.dayKey = dayKeyFor(now, t.cfg.Location)
	t.tokensUsed = 0
	t.creditsUsedMicro = 0
	t.overshot = false
	t.pending = make(map[string]pendingReservation)
	t.pendingTokens = 0
	t.pendingCreditsMicro = 0
	y, m, d := now.In(t.cfg.Location).Date()
	t.resetAt = time.Date(y, m, d, 0, 0, 0, 0, t.cfg.Location).AddDate(0, 0, 1)
}

// Snapshot returns the current Budget State.
func (t *Tracker) Snapshot() types.BudgetState {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverIfNeeded(time.Now())
	return types.BudgetState{
		DayKey:           t.dayKey,
		TokensUsed:       t.tokensUsed,
		CreditsUsedMicro: t.creditsUsedMicro,
		TokensCap:        t.cfg.TokensCap,
		CreditsCapMicro:  t.cfg.CreditsCapMicro,
		Mode:             t.cfg.Mode,
		ResetAt:          t.resetAt,
	}
}

// SetMode changes enforcement strictness without affecting counters.
func (t *Tracker) SetMode(mode types.BudgetMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg.Mode = mode
}
