package budget

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dawsonblock/ds-router/internal/types"
)

func newTestTracker() *Tracker {
	cfg := Config{TokensCap: 1000, CreditsCapMicro: 1_000_000, Mode: types.BudgetModeHard}
	return New(cfg, nil)
}

func TestReserveGrantsWithinCap(t *testing.T) {
	tr := newTestTracker()
	res := tr.Reserve(10, 100)
	assert.True(t, res.Granted)
	assert.NotEmpty(t, res.ID)
}

func TestReserveDeniesOverTokensCap(t *testing.T) {
	tr := newTestTracker()
	res := tr.Reserve(2000, 0)
	assert.False(t, res.Granted)
	assert.Equal(t, DenyTokensCap, res.Reason)
}

func TestHardModeOvershootBlocksFurtherReservations(t *testing.T) {
	tr := newTestTracker()
	res := tr.Reserve(990, 0)
	require.True(t, res.Granted)
	tr.Commit(res.ID, 1010, 0)
	// 1010/1000 used (overshoot); any further reservation must be denied.
	denied := tr.Reserve(1, 0)
	assert.False(t, denied.Granted, "reserving past the cap in hard mode must be denied")
}

func TestWarnModeContinuesAfterOvershoot(t *testing.T) {
	// The allowance leaves room past the cap; hard mode would still deny.
	cfg := Config{TokensCap: 100, OvershootAllowance: 100, Mode: types.BudgetModeWarn}
	tr := New(cfg, nil)
	res := tr.Reserve(90, 0)
	require.True(t, res.Granted)
	tr.Commit(res.ID, 150, 0) // overshoots the cap
	denied := tr.Reserve(10, 0)
	assert.True(t, denied.Granted, "warn mode must continue granting reservations after overshoot")
}

func TestResetDayIdempotent(t *testing.T) {
	tr := newTestTracker()
	tr.Commit("", 500, 0)
	tr.ResetDay()
	first := tr.Snapshot()
	tr.ResetDay()
	second := tr.Snapshot()
	assert.Equal(t, first.TokensUsed, second.TokensUsed)
	assert.Equal(t, int64(0), second.TokensUsed)
}

func TestCommitAccumulates(t *testing.T) {
	tr := newTestTracker()
	tr.Commit("", 10, 100)
	tr.Commit("", 20, 200)
	snap := tr.Snapshot()
	assert.Equal(t, int64(30), snap.TokensUsed)
	assert.Equal(t, int64(300), snap.CreditsUsedMicro)
}

func TestReleaseFreesPendingHold(t *testing.T) {
	tr := newTestTracker()
	tr.Commit("", 900, 0)

	res := tr.Reserve(60, 0)
	require.True(t, res.Granted)

	denied := tr.Reserve(60, 0)
	assert.False(t, denied.Granted, "a second reservation must be denied while the first is still pending")

	tr.Release(res.ID)
	granted := tr.Reserve(60, 0)
	assert.True(t, granted.Granted, "releasing the first reservation must free its held capacity")
}

func TestCommitReleasesItsOwnPendingHold(t *testing.T) {
	tr := newTestTracker()
	res := tr.Reserve(100, 0)
	require.True(t, res.Granted)

	tr.Commit(res.ID, 150, 0) // actual usage exceeded the original estimate
	snap := tr.Snapshot()
	assert.Equal(t, int64(150), snap.TokensUsed)

	// res's pending hold is gone, only the committed 150 remains counted.
	assert.True(t, tr.Reserve(800, 0).Granted)
}

// TestConcurrentReservesDoNotJointlyExceedCap guards against a race where
// two concurrent Reserve calls that individually fit under the cap are
// both granted even though, together, they don't: tokensUsed=900,
// cap=1000, two concurrent Reserve(60, 0) calls must not both succeed.
func TestConcurrentReservesDoNotJointlyExceedCap(t *testing.T) {
	tr := newTestTracker()
	tr.Commit("", 900, 0)

	const attempts = 2
	results := make([]bool, attempts)
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = tr.Reserve(60, 0).Granted
		}(i)
	}
	wg.Wait()

	granted := 0
	for _, g := range results {
		if g {
			granted++
		}
	}
	assert.LessOrEqual(t, granted, 1, "two reservations that would jointly exceed the cap must not both be granted")
}
