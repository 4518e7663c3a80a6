// Package circuitbreaker implements the per-provider closed/open/half-open
// state machine gating provider traffic, adapted from a threshold/
// timeout breaker shape to an explicit
// F_open/R_open/W_ms/S_max/N_min/cooldown_ms parameterization.
package circuitbreaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dawsonblock/ds-router/internal/types"
)

// Config parameterizes one provider's breaker: its
// circuit.{F_open, R_open, W_ms, S_max, N_min, cooldown_ms} fields.
type Config struct {
	FOpen      int           // consecutive failures that trip the breaker
	ROpen      float64       // windowed error rate that trips the breaker
	WindowMs   int64         // rolling window duration
	SMax       int           // rolling window sample cap
	NMin       int           // minimum samples before R_open applies
	CooldownMs int64         // time spent open before probing
	OnStateChange func(from, to types.CircuitState)
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		FOpen:      5,
		ROpen:      0.5,
		WindowMs:   60_000,
		SMax:       100,
		NMin:       10,
		CooldownMs: 30_000,
	}
}

type sample struct {
	at      time.Time
	success bool
}

// Breaker is a single provider's circuit breaker. Safe for concurrent use;
// state transitions are serialized under mu, so no caller observes a
// state "between" states.
type Breaker struct {
	mu     sync.Mutex
	cfg    Config
	logger *zap.Logger

	state               types.CircuitState
	consecutiveFailures int
	samples             []sample
	lastFailureAt       time.Time
	lastSuccessAt       time.Time
	openedAt            time.Time
	halfOpenInFlight    bool

	latencies []float64 // bounded ring for p50/p95, newest last
}

const maxLatencySamples = 200

// New constructs a Breaker in the closed state.
func New(cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{cfg: cfg, logger: logger, state: types.CircuitClosed}
}

// Allow reports whether a call may proceed now, and reserves the single
// half-open probe slot if the breaker is transitioning out of open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case types.CircuitClosed:
		return true
	case types.CircuitOpen:
		if time.Since(b.openedAt) >= time.Duration(b.cfg.CooldownMs)*time.Millisecond {
			b.setState(types.CircuitHalfOpen)
			b.halfOpenInFlight = true
			return true
		}
		return false
	case types.CircuitHalfOpen:
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	default:
		return false
	}
}

// Abort releases an in-flight half-open probe slot without recording a
// success or failure, used when Allow granted the single probe but the
// call it gated was never actually dispatched (e.g. a budget check
// failed immediately after). Leaving halfOpenInFlight set in that case
// would strand the breaker in half-open forever, since only
// RecordSuccess/RecordFailure normally clear it.
func (b *Breaker) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == types.CircuitHalfOpen {
		b.halfOpenInFlight = false
	}
}

// RecordSuccess records a successful call with its latency.
func (b *Breaker) RecordSuccess(latencyMs float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.lastSuccessAt = now
	b.consecutiveFailures = 0
	b.pushSample(sample{at: now, success: true})
	b.pushLatency(latencyMs)

	if b.state == types.CircuitHalfOpen {
		b.halfOpenInFlight = false
		b.setState(types.CircuitClosed)
		b.samples = nil
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.lastFailureAt = now
	b.consecutiveFailures++
	b.pushSample(sample{at: now, success: false})

	if b.state == types.CircuitHalfOpen {
		b.halfOpenInFlight = false
		b.openedAt = now
		b.setState(types.CircuitOpen)
		return
	}

	if b.consecutiveFailures >= b.cfg.FOpen {
		b.openedAt = now
		b.setState(types.CircuitOpen)
		return
	}

	failures, total := b.windowCounts()
	if total >= b.cfg.NMin && float64(failures)/float64(total) >= b.cfg.ROpen {
		b.openedAt = now
		b.setState(types.CircuitOpen)
	}
}

func (b *Breaker) pushSample(s sample) {
	b.samples = append(b.samples, s)
	cutoff := time.Now().Add(-time.Duration(b.cfg.WindowMs) * time.Millisecond)
	i := 0
	for ; i < len(b.samples); i++ {
		if b.samples[i].at.After(cutoff) {
			break
		}
	}
	b.samples = b.samples[i:]
	if len(b.samples) > b.cfg.SMax {
		b.samples = b.samples[len(b.samples)-b.cfg.SMax:]
	}
}

func (b *Breaker) windowCounts() (failures, total int) {
	for _, s := range b.samples {
		total++
		if !s.success {
			failures++
		}
	}
	return
}

func (b *Breaker) pushLatency(ms float64) {
	b.latencies = append(b.latencies, ms)
	if len(b.latencies) > maxLatencySamples {
		b.latencies = b.latencies[len(b.latencies)-maxLatencySamples:]
	}
}

func (b *Breaker) setState(to types.CircuitState) {
	from := b.state
	b.state = to
	if from != to && b.cfg.OnStateChange != nil {
		cb := b.cfg.OnStateChange
		go cb(from, to)
	}
}

// Snapshot returns a consistent, atomically-read health view.
func (b *Breaker) Snapshot() types.ProviderHealth {
	b.mu.Lock()
	defer b.mu.Unlock()

	failures, total := b.windowCounts()
	p50, p95 := percentiles(b.latencies)

	h := types.ProviderHealth{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		FailuresWindow:      failures,
		SuccessesWindow:     total - failures,
		LastFailureAt:       b.lastFailureAt,
		LastSuccessAt:       b.lastSuccessAt,
		P50LatencyMs:        p50,
		P95LatencyMs:        p95,
	}
	if b.state == types.CircuitOpen || b.state == types.CircuitHalfOpen {
		h.OpenedAt = b.openedAt
	}
	return h
}

// RemainingCooldownMs returns how much cooldown remains for an open
// breaker, used to derive the circuit_open_all retry-after hint.
func (b *Breaker) RemainingCooldownMs() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != types.CircuitOpen {
		return 0
	}
	remaining := time.Duration(b.cfg.CooldownMs)*time.Millisecond - time.Since(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining.Milliseconds()
}

func percentiles(latencies []float64) (p50, p95 float64) {
	if len(latencies) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), latencies...)
	insertionSort(sorted)
	p50 = sorted[pIndex(len(sorted), 0.50)]
	p95 = sorted[pIndex(len(sorted), 0.95)]
	return
}

func pIndex(n int, p float64) int {
	idx := int(float64(n-1) * p)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return idx
}

func insertionSort(xs []float64) {
	for i := 1; i < len(xs); i++ {
		v := xs[i]
		j := i - 1
		for j >= 0 && xs[j] > v {
			xs[j+1] = xs[j]
			j--
		}
		xs[j+1] = v
	}
}
