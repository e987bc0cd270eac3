// Package metrics holds the cross-cutting Prometheus instrumentation for
// the execution engine, change engine, and HLS manager, grounded on the
// teacher's own `internal/metrics/ai_metrics.go`: package-level promauto
// collectors plus small Record*/Set* helpers, low-cardinality labels only
// (no task/snapshot/combo-instance IDs as label values).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksExecutedTotal counts pipeline completions by outcome
	// ("success", "failed", "deadline").
	TasksExecutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_watch_tasks_executed_total",
			Help: "Total capture tasks executed by outcome",
		},
		[]string{"outcome"},
	)

	// TasksInFlight is the number of capture pipelines currently running
	// (claimed and not yet completed or failed).
	TasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parking_watch_tasks_in_flight",
			Help: "Capture tasks currently executing",
		},
	)

	// ComboPermitsInUse tracks per-combo concurrency occupancy against
	// MaxWorkersPerCombo; "combo" is (ip, channel), not a task id.
	ComboPermitsInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "parking_watch_combo_permits_in_use",
			Help: "Execution engine per-combo semaphore permits currently held",
		},
		[]string{"combo"},
	)

	// GlobalPermitsInUse tracks occupancy of the engine's global
	// concurrency semaphore.
	GlobalPermitsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parking_watch_global_permits_in_use",
			Help: "Execution engine global semaphore permits currently held",
		},
	)

	// DetectorLatencyMs is the detector.Infer round trip, whether served
	// by the gRPC vision-model client or the heuristic fallback.
	DetectorLatencyMs = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "parking_watch_detector_latency_ms",
			Help:    "Detector inference latency in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)

	// ChangeRecordsTotal counts committed ChangeRecords by change_type
	// ("arrive", "leave", "unknown", and "" for a record with no change).
	ChangeRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_watch_change_records_total",
			Help: "Total ChangeRecords committed by change_type",
		},
		[]string{"change_type"},
	)

	// HLSActiveSessions is the number of live ffmpeg RTSP->HLS children
	// tracked by the HLS manager's fingerprint registry.
	HLSActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parking_watch_hls_active_sessions",
			Help: "Live HLS transcoder sessions",
		},
	)

	// HLSSpawnFailuresTotal counts ffmpeg children that died within the
	// spawn-death window, the signal the spawn-failure rate limiter acts
	// on.
	HLSSpawnFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parking_watch_hls_spawn_failures_total",
			Help: "HLS transcoder children that died within the spawn-death window",
		},
	)
)

func RecordTaskOutcome(outcome string) {
	TasksExecutedTotal.WithLabelValues(outcome).Inc()
}

func ObserveDetectorLatency(ms float64) {
	DetectorLatencyMs.Observe(ms)
}

func RecordChange(changeType string) {
	ChangeRecordsTotal.WithLabelValues(changeType).Inc()
}

func SetHLSActiveSessions(n int) {
	HLSActiveSessions.Set(float64(n))
}

func RecordHLSSpawnFailure() {
	HLSSpawnFailuresTotal.Inc()
}
