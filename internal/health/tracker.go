// Package health maintains one circuit breaker per provider and exposes
// consistent-snapshot reads, grounded on a HealthChecker/ModelHealth
// pattern.
package health

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dawsonblock/ds-router/internal/circuitbreaker"
	"github.com/dawsonblock/ds-router/internal/types"
)

// Tracker owns one Breaker per provider name.
type Tracker struct {
	mu       sync.RWMutex
	breakers map[string]*circuitbreaker.Breaker
	cfg      circuitbreaker.Config
	logger   *zap.Logger
}

// New constructs an empty Tracker using cfg for every provider registered
// via Register.
func New(cfg circuitbreaker.Config, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{breakers: make(map[string]*circuitbreaker.Breaker), cfg: cfg, logger: logger}
}

// Register ensures a breaker exists for the given provider name.
func (t *Tracker) Register(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.breakers[provider]; !ok {
		t.breakers[provider] = circuitbreaker.New(t.cfg, t.logger.With(zap.String("provider", provider)))
	}
}

func (t *Tracker) breaker(provider string) *circuitbreaker.Breaker {
	t.mu.RLock()
	b, ok := t.breakers[provider]
	t.mu.RUnlock()
	if ok {
		return b
	}
	t.Register(provider)
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.breakers[provider]
}

// Allow reports whether provider may be called right now.
func (t *Tracker) Allow(provider string) bool {
	return t.breaker(provider).Allow()
}

// Abort releases an in-flight half-open probe slot that Allow granted
// but that was never dispatched, e.g. because a subsequent budget check
// failed before the call was made.
func (t *Tracker) Abort(provider string) {
	t.breaker(provider).Abort()
}

// RecordSuccess records a successful call to provider.
func (t *Tracker) RecordSuccess(provider string, latency time.Duration) {
	t.breaker(provider).RecordSuccess(float64(latency.Milliseconds()))
}

// RecordFailure records a failed call to provider.
func (t *Tracker) RecordFailure(provider string) {
	t.breaker(provider).RecordFailure()
}

// Snapshot returns a consistent health snapshot for provider.
func (t *Tracker) Snapshot(provider string) types.ProviderHealth {
	return t.breaker(provider).Snapshot()
}

// AllSnapshots returns a snapshot for every registered provider, used by
// the admin surface's get_health operation.
func (t *Tracker) AllSnapshots() map[string]types.ProviderHealth {
	t.mu.RLock()
	names := make([]string, 0, len(t.breakers))
	for name := range t.breakers {
		names = append(names, name)
	}
	t.mu.RUnlock()

	out := make(map[string]types.ProviderHealth, len(names))
	for _, name := range names {
		out[name] = t.Snapshot(name)
	}
	return out
}

// RemainingCooldownMs returns the shortest remaining cooldown across all
// open breakers, used to derive the circuit_open_all retry-after hint.
func (t *Tracker) RemainingCooldownMs() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var shortest int64 = -1
	for _, b := range t.breakers {
		r := b.RemainingCooldownMs()
		if r <= 0 {
			continue
		}
		if shortest == -1 || r < shortest {
			shortest = r
		}
	}
	if shortest == -1 {
		return 0
	}
	return shortest
}
