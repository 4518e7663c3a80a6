// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/dawsonblock/ds-router/internal/types"
)

// Collector is the router's Prometheus metric set. All registration
// happens once at construction time; call sites only ever observe.
type Collector struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	confidenceScore   *prometheus.HistogramVec
	escalationsTotal  *prometheus.CounterVec
	blockedTotal      *prometheus.CounterVec
	providerErrors    *prometheus.CounterVec
	providerLatency   *prometheus.HistogramVec
	budgetUtilTokens  prometheus.Gauge
	budgetUtilCredits prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a Collector and registers its metrics under
// namespace against the default Prometheus registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of completed requests by provider, routing reason, and finish outcome",
		},
		[]string{"provider", "reason", "finish_reason"},
	)

	c.requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)

	c.confidenceScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confidence_score",
			Help:      "Distribution of post-generation confidence scores by provider tier",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"tier"},
	)

	c.escalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Total number of confidence-gated escalations, by originating tier",
		},
		[]string{"from_tier"},
	)

	c.blockedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocked_total",
			Help:      "Total number of requests blocked, by safety stage",
		},
		[]string{"stage"},
	)

	c.providerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Total number of provider call errors, by provider",
		},
		[]string{"provider"},
	)

	c.providerLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_ms",
			Help:      "Per-provider call latency in milliseconds",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"provider"},
	)

	c.budgetUtilTokens = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "budget_utilization_tokens_fraction",
		Help:      "Fraction of the daily token cap consumed so far",
	})

	c.budgetUtilCredits = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "budget_utilization_credits_fraction",
		Help:      "Fraction of the daily credit cap consumed so far",
	})

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// ObserveRequest records one completed request.
func (c *Collector) ObserveRequest(provider string, reason types.RoutingReason, finish types.FinishReason) {
	c.requestsTotal.WithLabelValues(provider, string(reason), string(finish)).Inc()
}

// ObserveConfidence records the post-generation confidence returned by
// the chosen tier.
func (c *Collector) ObserveConfidence(tier types.Tier, confidence float64) {
	c.confidenceScore.WithLabelValues(string(tier)).Observe(confidence)
}

// ObserveEscalation records one confidence-gated escalation away from
// fromTier.
func (c *Collector) ObserveEscalation(fromTier types.Tier) {
	c.escalationsTotal.WithLabelValues(string(fromTier)).Inc()
}

// ObserveBlocked records one request blocked at stage ("pre_guard" or
// "post_guard").
func (c *Collector) ObserveBlocked(stage string) {
	c.blockedTotal.WithLabelValues(stage).Inc()
}

// ObserveLatencyMs records ms both as the request's end-to-end duration
// and as the chosen provider's call latency.
func (c *Collector) ObserveLatencyMs(provider string, ms float64) {
	c.requestDuration.WithLabelValues(provider).Observe(ms / 1000)
	c.providerLatency.WithLabelValues(provider).Observe(ms)
}

// ObserveProviderError records one failed provider call. It is not part
// of pipeline.MetricsRecorder, and the pipeline does not call it.
func (c *Collector) ObserveProviderError(provider string) {
	c.providerErrors.WithLabelValues(provider).Inc()
}

// ObserveBudgetUtilization records the current fraction of the daily
// token and credit caps consumed.
func (c *Collector) ObserveBudgetUtilization(fracTokens, fracCredits float64) {
	c.budgetUtilTokens.Set(fracTokens)
	c.budgetUtilCredits.Set(fracCredits)
}
