// Package audit records one AuditRecord per completed request and
// exposes a query/count surface, grounded on an AuditLogger shape
// (Log/Query/Count over a filter, a ring-buffer-bounded memory logger).
package audit

import (
	"sync"
	"time"

	"github.com/dawsonblock/ds-router/internal/types"
)

// Filter narrows a Query/Count call.
type Filter struct {
	StartTime    *time.Time
	EndTime      *time.Time
	FinishReason []types.FinishReason
	Provider     []string
	Limit        int
	Offset       int
}

// Sink is the contract the Pipeline Orchestrator's AuditSink satisfies
// plus the read surface the admin/reporting layer needs.
type Sink interface {
	Log(rec types.AuditRecord) error
	Query(filter Filter) ([]types.AuditRecord, error)
	Count(filter Filter) (int, error)
}

// MemoryLog is a bounded in-process ring-buffer sink, used in tests and
// as the default when no durable sink is configured.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []types.AuditRecord
	maxSize int
}

// NewMemoryLog constructs a MemoryLog bounded to maxSize entries
// (defaults to 10000).
func NewMemoryLog(maxSize int) *MemoryLog {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryLog{maxSize: maxSize}
}

func (l *MemoryLog) Log(rec types.AuditRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) >= l.maxSize {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, rec)
	return nil
}

func (l *MemoryLog) Query(filter Filter) ([]types.AuditRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []types.AuditRecord
	for _, rec := range l.entries {
		if matches(rec, filter) {
			result = append(result, rec)
		}
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []types.AuditRecord{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (l *MemoryLog) Count(filter Filter) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	count := 0
	for _, rec := range l.entries {
		if matches(rec, filter) {
			count++
		}
	}
	return count, nil
}

func matches(rec types.AuditRecord, filter Filter) bool {
	if filter.StartTime != nil && rec.Timestamp.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && rec.Timestamp.After(*filter.EndTime) {
		return false
	}
	if len(filter.FinishReason) > 0 && !containsFinish(filter.FinishReason, rec.FinishReason) {
		return false
	}
	if len(filter.Provider) > 0 && !containsString(filter.Provider, rec.Routing.Chosen) {
		return false
	}
	return true
}

func containsFinish(list []types.FinishReason, v types.FinishReason) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
