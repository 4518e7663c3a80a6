package database

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestNewPoolManager(t *testing.T) {
	db := setupTestDB(t)
	logger := zap.NewNop()
	config := PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}

	manager, err := NewPoolManager(db, config, logger)
	require.NoError(t, err)
	defer manager.Close()

	assert.NotNil(t, manager)
	assert.Equal(t, config, manager.config)
}

func TestNewPoolManager_NilDB(t *testing.T) {
	_, err := NewPoolManager(nil, DefaultPoolConfig(), zap.NewNop())
	assert.Error(t, err)
}

func TestPoolManager_DB(t *testing.T) {
	db := setupTestDB(t)
	manager, err := NewPoolManager(db, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, zap.NewNop())
	require.NoError(t, err)
	defer manager.Close()

	assert.Equal(t, db, manager.DB())
}

func TestPoolManager_Ping(t *testing.T) {
	db := setupTestDB(t)
	manager, err := NewPoolManager(db, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, zap.NewNop())
	require.NoError(t, err)
	defer manager.Close()

	assert.NoError(t, manager.Ping(context.Background()))
}

func TestPoolManager_PingAfterClose(t *testing.T) {
	db := setupTestDB(t)
	manager, err := NewPoolManager(db, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, manager.Close())

	assert.Error(t, manager.Ping(context.Background()))
}

func TestPoolManager_GetStats(t *testing.T) {
	db := setupTestDB(t)
	manager, err := NewPoolManager(db, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, zap.NewNop())
	require.NoError(t, err)
	defer manager.Close()

	stats := manager.GetStats()
	assert.GreaterOrEqual(t, stats.MaxOpenConnections, 0)
	assert.GreaterOrEqual(t, stats.OpenConnections, 0)
}

func TestPoolManager_WithTransaction(t *testing.T) {
	db := setupTestDB(t)
	manager, err := NewPoolManager(db, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, zap.NewNop())
	require.NoError(t, err)
	defer manager.Close()

	ran := false
	err = manager.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		ran = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, ran)
}

func TestPoolManager_WithTransactionRollback(t *testing.T) {
	db := setupTestDB(t)
	manager, err := NewPoolManager(db, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, zap.NewNop())
	require.NoError(t, err)
	defer manager.Close()

	err = manager.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		return assert.AnError
	})
	assert.Error(t, err)
}

func TestPoolManager_WithTransactionRetryNonRetryable(t *testing.T) {
	db := setupTestDB(t)
	manager, err := NewPoolManager(db, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, zap.NewNop())
	require.NoError(t, err)
	defer manager.Close()

	attempts := 0
	err = manager.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		attempts++
		return assert.AnError
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts, "a non-retryable error should not be retried")
}

func TestPoolManager_Close(t *testing.T) {
	db := setupTestDB(t)
	manager, err := NewPoolManager(db, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, zap.NewNop())
	require.NoError(t, err)

	assert.NoError(t, manager.Close())
	assert.NoError(t, manager.Close(), "Close must be idempotent")
}

func TestPoolManager_HealthCheckLoop(t *testing.T) {
	db := setupTestDB(t)
	manager, err := NewPoolManager(db, PoolConfig{
		MaxOpenConns:        10,
		MaxIdleConns:        5,
		HealthCheckInterval: 20 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	assert.NoError(t, manager.Close())
}
