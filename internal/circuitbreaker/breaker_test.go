package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dawsonblock/ds-router/internal/types"
)

func TestBreakerStartsClosed(t *testing.T) {
	b := New(DefaultConfig(), nil)
	assert.True(t, b.Allow())
	assert.Equal(t, types.CircuitClosed, b.Snapshot().State)
}

func TestBreakerTripsOnConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FOpen = 3
	b := New(cfg, nil)
	for i := 0; i < 3; i++ {
		require.True(t, b.Allow())
		b.RecordFailure()
	}
	assert.Equal(t, types.CircuitOpen, b.Snapshot().State)
	assert.False(t, b.Allow())
}

func TestBreakerHalfOpenAdmitsOneProbe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FOpen = 1
	cfg.CooldownMs = 1
	b := New(cfg, nil)
	b.RecordFailure()
	require.Equal(t, types.CircuitOpen, b.Snapshot().State)

	time.Sleep(5 * time.Millisecond)
	first := b.Allow()
	second := b.Allow()
	assert.True(t, first)
	assert.False(t, second, "concurrent attempts during half-open probe must observe ineligibility")
}

func TestBreakerRecoversOnProbeSuccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FOpen = 1
	cfg.CooldownMs = 1
	b := New(cfg, nil)
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	require.True(t, b.Allow())
	b.RecordSuccess(10)
	assert.Equal(t, types.CircuitClosed, b.Snapshot().State)
}

func TestBreakerReopensOnProbeFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FOpen = 1
	cfg.CooldownMs = 1
	b := New(cfg, nil)
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	require.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, types.CircuitOpen, b.Snapshot().State)
}

func TestBreakerErrorRateTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FOpen = 1000 // disable consecutive-failure trip
	cfg.ROpen = 0.5
	cfg.NMin = 4
	b := New(cfg, nil)
	b.RecordSuccess(1)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, types.CircuitOpen, b.Snapshot().State)
}

func TestBreakerP95Monotone(t *testing.T) {
	b := New(DefaultConfig(), nil)
	b.RecordSuccess(10)
	first := b.Snapshot().P95LatencyMs
	b.RecordSuccess(1000)
	second := b.Snapshot().P95LatencyMs
	assert.GreaterOrEqual(t, second, first)
}
