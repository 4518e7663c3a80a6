package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/dawsonblock/ds-router/internal/types"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.requestsTotal)
	assert.NotNil(t, collector.requestDuration)
	assert.NotNil(t, collector.confidenceScore)
	assert.NotNil(t, collector.escalationsTotal)
	assert.NotNil(t, collector.blockedTotal)
}

func TestCollectorObserveRequest(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.ObserveRequest("fast-1", types.ReasonSimpleQuery, types.FinishStop)
	c.ObserveRequest("fast-1", types.ReasonSimpleQuery, types.FinishStop)

	count := testutil.CollectAndCount(c.requestsTotal)
	assert.Equal(t, 1, count, "two identical label sets collapse into a single series")
}

func TestCollectorObserveConfidence(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.ObserveConfidence(types.TierFast, 0.92)
	c.ObserveConfidence(types.TierReasoning, 0.4)

	assert.Equal(t, 2, testutil.CollectAndCount(c.confidenceScore))
}

func TestCollectorObserveEscalation(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.ObserveEscalation(types.TierReasoning)

	assert.Equal(t, 1, testutil.CollectAndCount(c.escalationsTotal))
}

func TestCollectorObserveBlocked(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.ObserveBlocked("pre_guard")
	c.ObserveBlocked("post_guard")

	assert.Equal(t, 2, testutil.CollectAndCount(c.blockedTotal))
}

func TestCollectorObserveLatencyMsFeedsBothHistograms(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.ObserveLatencyMs("adv-1", 420)

	assert.Equal(t, 1, testutil.CollectAndCount(c.requestDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(c.providerLatency))
}

func TestCollectorObserveProviderError(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.ObserveProviderError("fast-1")
	c.ObserveProviderError("fast-1")

	assert.Equal(t, 1, testutil.CollectAndCount(c.providerErrors))
}

func TestCollectorObserveBudgetUtilization(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.ObserveBudgetUtilization(0.6, 0.3)

	assert.Equal(t, float64(0.6), testutil.ToFloat64(c.budgetUtilTokens))
	assert.Equal(t, float64(0.3), testutil.ToFloat64(c.budgetUtilCredits))
}

func TestCollectorConcurrentRecording(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			c.ObserveRequest("fast-1", types.ReasonSimpleQuery, types.FinishStop)
			c.ObserveConfidence(types.TierFast, 0.8)
			c.ObserveLatencyMs("fast-1", 100)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Equal(t, 1, testutil.CollectAndCount(c.requestsTotal))
}
