package budget

import (
	"context"

	"gorm.io/gorm"

	"github.com/dawsonblock/ds-router/internal/database"
	"github.com/dawsonblock/ds-router/internal/types"
)

// Store persists Budget State rows through a pooled connection,
// grounded on internal/database.PoolManager's GORM-pool pattern.
// Persistence is optional: the Tracker functions entirely in memory
// without a Store, and a Store only seeds/checkpoints its counters
// across process restarts.
type Store struct {
	pool *database.PoolManager
}

// NewStore wraps pool, auto-migrating the single Budget State table.
func NewStore(pool *database.PoolManager) (*Store, error) {
	if err := pool.DB().AutoMigrate(&types.BudgetState{}); err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Load reads the row for dayKey, returning (nil, nil) on cold start with
// no existing record for the day.
func (s *Store) Load(dayKey string) (*types.BudgetState, error) {
	var row types.BudgetState
	err := s.pool.DB().Where("day_key = ?", dayKey).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Save upserts the row for state.DayKey inside a transaction, making up
// to three attempts in total when an error is transient.
func (s *Store) Save(ctx context.Context, state types.BudgetState) error {
	return s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		return tx.Save(&state).Error
	})
}

// LoadInto seeds tracker t's in-memory counters from persisted state for
// dayKey, used on cold start.
func (t *Tracker) LoadInto(state *types.BudgetState) {
	if state == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dayKey = state.DayKey
	t.tokensUsed = state.TokensUsed
	t.creditsUsedMicro = state.CreditsUsedMicro
	t.resetAt = state.ResetAt
}
