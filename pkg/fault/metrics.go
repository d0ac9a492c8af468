package fault

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// FaultMetrics is a set of aggregate counters. Combining two FaultMetrics
// is associative and commutative, and a zero-valued FaultMetrics is the
// identity element: latencies combine by maximum, counts by sum.
type FaultMetrics struct {
	DetectionLatencyMs   int64
	RecoveryLatencyMs    int64
	FailureCount         int64
	RecoveryAttempts     int64
	SuccessfulRecoveries int64
	FailedRecoveries     int64
}

// SuccessRate returns SuccessfulRecoveries / (SuccessfulRecoveries +
// FailedRecoveries), or 0 when both are zero.
func (m FaultMetrics) SuccessRate() float64 {
	total := m.SuccessfulRecoveries + m.FailedRecoveries
	if total == 0 {
		return 0
	}
	return float64(m.SuccessfulRecoveries) / float64(total)
}

// Combine merges m with other, taking the max of latency fields and the
// sum of counts.
func (m FaultMetrics) Combine(other FaultMetrics) FaultMetrics {
	return FaultMetrics{
		DetectionLatencyMs:   maxInt64(m.DetectionLatencyMs, other.DetectionLatencyMs),
		RecoveryLatencyMs:    maxInt64(m.RecoveryLatencyMs, other.RecoveryLatencyMs),
		FailureCount:         m.FailureCount + other.FailureCount,
		RecoveryAttempts:     m.RecoveryAttempts + other.RecoveryAttempts,
		SuccessfulRecoveries: m.SuccessfulRecoveries + other.SuccessfulRecoveries,
		FailedRecoveries:     m.FailedRecoveries + other.FailedRecoveries,
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// metricsStore holds per-partition FaultMetrics under a single lock. It
// backs both Classifier.Metrics/AggregateMetrics and the Prometheus
// collector below.
type metricsStore struct {
	mu   sync.RWMutex
	byID map[PartitionID]FaultMetrics
}

func newMetricsStore() *metricsStore {
	return &metricsStore{byID: make(map[PartitionID]FaultMetrics)}
}

func (s *metricsStore) get(id PartitionID) FaultMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}

func (s *metricsStore) merge(id PartitionID, delta FaultMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id] = s.byID[id].Combine(delta)
}

func (s *metricsStore) aggregate() FaultMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total FaultMetrics
	for _, m := range s.byID {
		total = total.Combine(m)
	}
	return total
}

// PrometheusCollector exposes a Classifier's aggregate FaultMetrics as
// Prometheus metrics, the same way the teacher pack's transport and
// state monitoring packages expose internal counters.
type PrometheusCollector struct {
	snapshot func() FaultMetrics

	detectionLatency *prometheus.Desc
	recoveryLatency  *prometheus.Desc
	failureCount     *prometheus.Desc
	recoveryAttempts *prometheus.Desc
	successful       *prometheus.Desc
	failed           *prometheus.Desc
	successRate      *prometheus.Desc
}

// NewPrometheusCollector builds a collector that calls snapshot on every
// scrape to obtain the current aggregate metrics.
func NewPrometheusCollector(snapshot func() FaultMetrics) *PrometheusCollector {
	const ns = "partitionguard"
	return &PrometheusCollector{
		snapshot: snapshot,
		detectionLatency: prometheus.NewDesc(
			ns+"_detection_latency_ms", "Maximum observed detection latency in milliseconds.", nil, nil),
		recoveryLatency: prometheus.NewDesc(
			ns+"_recovery_latency_ms", "Maximum observed recovery latency in milliseconds.", nil, nil),
		failureCount: prometheus.NewDesc(
			ns+"_failure_total", "Total number of partition failures observed.", nil, nil),
		recoveryAttempts: prometheus.NewDesc(
			ns+"_recovery_attempts_total", "Total number of recovery attempts started.", nil, nil),
		successful: prometheus.NewDesc(
			ns+"_recovery_success_total", "Total number of successful recoveries.", nil, nil),
		failed: prometheus.NewDesc(
			ns+"_recovery_failure_total", "Total number of failed recoveries.", nil, nil),
		successRate: prometheus.NewDesc(
			ns+"_recovery_success_rate", "Fraction of recoveries that succeeded.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.detectionLatency
	ch <- c.recoveryLatency
	ch <- c.failureCount
	ch <- c.recoveryAttempts
	ch <- c.successful
	ch <- c.failed
	ch <- c.successRate
}

// Collect implements prometheus.Collector.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.snapshot()
	ch <- prometheus.MustNewConstMetric(c.detectionLatency, prometheus.GaugeValue, float64(m.DetectionLatencyMs))
	ch <- prometheus.MustNewConstMetric(c.recoveryLatency, prometheus.GaugeValue, float64(m.RecoveryLatencyMs))
	ch <- prometheus.MustNewConstMetric(c.failureCount, prometheus.CounterValue, float64(m.FailureCount))
	ch <- prometheus.MustNewConstMetric(c.recoveryAttempts, prometheus.CounterValue, float64(m.RecoveryAttempts))
	ch <- prometheus.MustNewConstMetric(c.successful, prometheus.CounterValue, float64(m.SuccessfulRecoveries))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(m.FailedRecoveries))
	ch <- prometheus.MustNewConstMetric(c.successRate, prometheus.GaugeValue, m.SuccessRate())
}
