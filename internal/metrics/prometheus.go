package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder reports to a prometheus.Registry. The registration
// shape (CounterVec for operations/errors keyed by label, HistogramVec for
// durations) is written fresh against the client_golang public API — the
// pack's birdnet-go repo only retrieved the Recorder interface's test
// doubles, not its production prometheus registration file, so this has no
// directly retrieved call site to copy; see DESIGN.md's internal/metrics
// entry for the honest accounting of that gap.
type PrometheusRecorder struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	errors     *prometheus.CounterVec
}

// NewPrometheusRecorder creates and registers the analyzer's metrics on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pitchcore",
			Subsystem: "analyzer",
			Name:      "operations_total",
			Help:      "Count of analyzer operations by status.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pitchcore",
			Subsystem: "analyzer",
			Name:      "operation_duration_seconds",
			Help:      "Analyzer operation latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pitchcore",
			Subsystem: "analyzer",
			Name:      "errors_total",
			Help:      "Count of analyzer errors by type.",
		}, []string{"operation", "error_type"}),
	}
	reg.MustRegister(r.operations, r.durations, r.errors)
	return r
}

func (r *PrometheusRecorder) RecordOperation(operation, status string) {
	r.operations.WithLabelValues(operation, status).Inc()
}

func (r *PrometheusRecorder) RecordDuration(operation string, seconds float64) {
	r.durations.WithLabelValues(operation).Observe(seconds)
}

func (r *PrometheusRecorder) RecordError(operation, errorType string) {
	r.errors.WithLabelValues(operation, errorType).Inc()
}
