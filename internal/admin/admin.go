// Package admin implements the boundary control surface: atomic
// threshold/descriptor swaps and read-only snapshots, grounded on a
// HotReloadManager shape (mutex-guarded live pointer, validated partial
// updates, a change log) narrowed to the router's own admin operations.
package admin

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dawsonblock/ds-router/internal/budget"
	"github.com/dawsonblock/ds-router/internal/health"
	"github.com/dawsonblock/ds-router/internal/pipeline"
	"github.com/dawsonblock/ds-router/internal/provider"
	"github.com/dawsonblock/ds-router/internal/router"
	"github.com/dawsonblock/ds-router/internal/types"
)

// ThresholdChange records one set_router_thresholds call in the change log.
type ThresholdChange struct {
	Timestamp time.Time         `json:"timestamp"`
	Before    router.Thresholds `json:"before"`
	After     router.Thresholds `json:"after"`
}

// Surface owns the live, reloadable provider table and threshold
// snapshot, and applies admin operations to them atomically.
type Surface struct {
	mu sync.RWMutex

	thresholds  router.Thresholds
	descriptors map[string]types.ProviderDescriptor
	changeLog   []ThresholdChange

	health *health.Tracker
	budget *budget.Tracker
	logger *zap.Logger
}

// Config bundles Surface's collaborators.
type Config struct {
	InitialThresholds  router.Thresholds
	InitialDescriptors map[string]types.ProviderDescriptor
	Health             *health.Tracker
	Budget             *budget.Tracker
	Logger             *zap.Logger
}

// New constructs a Surface.
func New(cfg Config) *Surface {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	descs := make(map[string]types.ProviderDescriptor, len(cfg.InitialDescriptors))
	for k, v := range cfg.InitialDescriptors {
		descs[k] = v
	}
	return &Surface{
		thresholds:  cfg.InitialThresholds,
		descriptors: descs,
		health:      cfg.Health,
		budget:      cfg.Budget,
		logger:      cfg.Logger.With(zap.String("component", "admin")),
	}
}

// Snapshot is an immutable view an in-flight request captures once and
// carries end-to-end, so a concurrent reload never changes the
// thresholds or descriptor table a request is already using.
type Snapshot struct {
	Thresholds  router.Thresholds
	Descriptors map[string]types.ProviderDescriptor
}

// CaptureSnapshot returns the current thresholds and descriptor table,
// copied so the caller's view cannot be mutated by a later reload.
func (s *Surface) CaptureSnapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	descs := make(map[string]types.ProviderDescriptor, len(s.descriptors))
	for k, v := range s.descriptors {
		descs[k] = v
	}
	return Snapshot{Thresholds: s.thresholds, Descriptors: descs}
}

// SetThresholds atomically replaces the live threshold set.
func (s *Surface) SetThresholds(next router.Thresholds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.thresholds
	s.thresholds = next
	s.changeLog = append(s.changeLog, ThresholdChange{Timestamp: time.Now(), Before: before, After: next})
	s.logger.Info("router thresholds updated",
		zap.Float64("conf_threshold", next.ConfThreshold),
		zap.Float64("support_threshold", next.SupportThreshold),
		zap.Int("max_cot_tokens", next.MaxCoTTokens),
		zap.String("forced_override", next.ForcedOverride))
}

// GetThresholds returns the current thresholds.
func (s *Surface) GetThresholds() router.Thresholds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.thresholds
}

// SetForcedOverride pins routing to a single named provider, or clears
// the pin when name is "".
func (s *Surface) SetForcedOverride(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholds.ForcedOverride = name
	s.logger.Info("forced override changed", zap.String("provider", name))
}

// ReloadProviders atomically swaps the live descriptor table. Requests
// already in flight keep the snapshot they captured at ingress.
func (s *Surface) ReloadProviders(next map[string]types.ProviderDescriptor) error {
	if len(next) == 0 {
		return fmt.Errorf("admin: refusing to reload to an empty provider table")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	descs := make(map[string]types.ProviderDescriptor, len(next))
	for k, v := range next {
		descs[k] = v
	}
	s.descriptors = descs
	s.logger.Info("provider descriptors reloaded", zap.Int("count", len(descs)))
	return nil
}

// GetHealth returns a health snapshot for every registered provider.
func (s *Surface) GetHealth() map[string]types.ProviderHealth {
	if s.health == nil {
		return map[string]types.ProviderHealth{}
	}
	return s.health.AllSnapshots()
}

// GetBudget returns the current budget state.
func (s *Surface) GetBudget() types.BudgetState {
	if s.budget == nil {
		return types.BudgetState{}
	}
	return s.budget.Snapshot()
}

// ResetBudget clears the current day's counters, used as an emergency
// operator override independent of day_key rollover.
func (s *Surface) ResetBudget() {
	if s.budget == nil {
		return
	}
	s.budget.ResetDay()
	s.logger.Warn("budget counters reset by admin operator")
}

// SetBudgetMode changes hard/warn enforcement without resetting counters.
func (s *Surface) SetBudgetMode(mode types.BudgetMode) {
	if s.budget == nil {
		return
	}
	s.budget.SetMode(mode)
	s.logger.Info("budget enforcement mode changed", zap.String("mode", string(mode)))
}

// ChangeLog returns up to limit most-recent threshold changes (0 = all).
func (s *Surface) ChangeLog(limit int) []ThresholdChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.changeLog) {
		limit = len(s.changeLog)
	}
	start := len(s.changeLog) - limit
	out := make([]ThresholdChange, limit)
	copy(out, s.changeLog[start:])
	return out
}

// Providers combines the current descriptor table with a live instance
// table into the pipeline.Providers snapshot a request needs. instances
// should be the composition root's static provider.Provider map; only
// entries present in both maps are retained.
func (s *Surface) Providers(instances map[string]provider.Provider) pipeline.Providers {
	snap := s.CaptureSnapshot()
	insts := make(map[string]provider.Provider, len(snap.Descriptors))
	for name := range snap.Descriptors {
		if p, ok := instances[name]; ok {
			insts[name] = p
		}
	}
	return pipeline.Providers{Descriptors: snap.Descriptors, Instances: insts}
}
