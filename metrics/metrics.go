package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "wifi_metrics_"

	resultSuccess = "success"
	resultError   = "error"
	resultSkipped = "skipped"
	resultTimeout = "timeout"
)

var (
	registerOnce sync.Once

	rollupRuns      *prometheus.CounterVec
	rollupLatency   *prometheus.HistogramVec
	rollupDegraded  *prometheus.CounterVec
	rollupLastOK    *prometheus.GaugeVec
	snapshotActives *prometheus.GaugeVec

	queryRequests *prometheus.CounterVec
	queryLatency  *prometheus.HistogramVec
)

// Init registers the rollup and query collectors on the default registry.
func Init() {
	registerOnce.Do(func() {
		rollupRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rollup_runs_total",
				Help: "Total rollup invocations by tier and result",
			},
			[]string{"tier", "result"},
		)
		rollupLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "rollup_latency_seconds",
				Help:    "Rollup latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tier", "result"},
		)
		rollupDegraded = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rollup_degraded_fields_total",
				Help: "Aggregates written as zero because their query failed",
			},
			[]string{"tier", "field"},
		)
		rollupLastOK = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "rollup_last_success_timestamp_seconds",
				Help: "Window start of the newest stored snapshot per tier",
			},
			[]string{"tier"},
		)
		snapshotActives = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "snapshot_active_entities",
				Help: "Active devices and access points in the newest snapshot",
			},
			[]string{"tier", "kind"},
		)

		queryRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "query_requests_total",
				Help: "Total snapshot queries by endpoint and result",
			},
			[]string{"endpoint", "result"},
		)
		queryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "query_latency_seconds",
				Help:    "Snapshot query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		)

		prometheus.MustRegister(
			rollupRuns,
			rollupLatency,
			rollupDegraded,
			rollupLastOK,
			snapshotActives,
			queryRequests,
			queryLatency,
		)
	})
}

// ObserveRollup records one rollup invocation.
func ObserveRollup(tier, result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if rollupRuns != nil {
		rollupRuns.WithLabelValues(tier, result).Inc()
	}
	if rollupLatency != nil {
		rollupLatency.WithLabelValues(tier, result).Observe(duration.Seconds())
	}
}

// IncDegradedField counts an aggregate that fell back to zero.
func IncDegradedField(tier, field string) {
	if rollupDegraded != nil {
		rollupDegraded.WithLabelValues(tier, field).Inc()
	}
}

// SetLastSnapshot publishes the window start and active counts of a stored snapshot.
func SetLastSnapshot(tier string, windowStart time.Time, activeDevices, activeAPs int) {
	if rollupLastOK != nil {
		rollupLastOK.WithLabelValues(tier).Set(float64(windowStart.Unix()))
	}
	if snapshotActives != nil {
		snapshotActives.WithLabelValues(tier, "device").Set(float64(activeDevices))
		snapshotActives.WithLabelValues(tier, "access_point").Set(float64(activeAPs))
	}
}

// ObserveQuery records query latency and result.
func ObserveQuery(endpoint, result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if queryRequests != nil {
		queryRequests.WithLabelValues(endpoint, result).Inc()
	}
	if queryLatency != nil {
		queryLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultSkipped = resultSkipped
	ResultTimeout = resultTimeout
)
