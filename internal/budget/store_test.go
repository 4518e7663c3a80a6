package budget

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dawsonblock/ds-router/internal/database"
	"github.com/dawsonblock/ds-router/internal/types"
)

func newTestStore(t *testing.T) *Store {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	pool, err := database.NewPoolManager(db, database.PoolConfig{MaxOpenConns: 5, MaxIdleConns: 2}, zap.NewNop())
	require.NoError(t, err)
	store, err := NewStore(pool)
	require.NoError(t, err)
	return store
}

func TestStoreLoadMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)
	state, err := store.Load("2026-01-01")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestStoreSaveAndLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	state := types.BudgetState{
		DayKey:           "2026-01-02",
		TokensUsed:       500,
		CreditsUsedMicro: 12345,
		Mode:             types.BudgetModeHard,
	}
	require.NoError(t, store.Save(context.Background(), state))

	loaded, err := store.Load("2026-01-02")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, state.TokensUsed, loaded.TokensUsed)
	assert.Equal(t, state.CreditsUsedMicro, loaded.CreditsUsedMicro)
}

func TestStoreSaveUpserts(t *testing.T) {
	store := newTestStore(t)
	dayKey := "2026-01-03"
	require.NoError(t, store.Save(context.Background(), types.BudgetState{DayKey: dayKey, TokensUsed: 10}))
	require.NoError(t, store.Save(context.Background(), types.BudgetState{DayKey: dayKey, TokensUsed: 20}))

	loaded, err := store.Load(dayKey)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, int64(20), loaded.TokensUsed)
}

func TestTrackerLoadIntoSeedsCounters(t *testing.T) {
	tr := newTestTracker()
	tr.LoadInto(&types.BudgetState{
		DayKey:           dayKeyFor(time.Now(), time.UTC),
		TokensUsed:       777,
		CreditsUsedMicro: 42,
	})
	snap := tr.Snapshot()
	assert.Equal(t, int64(777), snap.TokensUsed)
	assert.Equal(t, int64(42), snap.CreditsUsedMicro)
}

func TestTrackerLoadIntoNilIsNoop(t *testing.T) {
	tr := newTestTracker()
	before := tr.Snapshot()
	tr.LoadInto(nil)
	after := tr.Snapshot()
	assert.Equal(t, before.TokensUsed, after.TokensUsed)
}
