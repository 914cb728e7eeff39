// Package metrics provides Prometheus metrics for the SoL pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the SoL pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Dispatch metrics
	OperationsDispatched *prometheus.CounterVec
	OperationDuration    *prometheus.HistogramVec
	OperationErrors      *prometheus.CounterVec

	// Run loop metrics
	RunsFinished   *prometheus.CounterVec
	BatchesHandled prometheus.Counter
	RunDuration    prometheus.Histogram

	// Data metrics
	RecordsProcessed  *prometheus.CounterVec
	LastProcessedDate prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init registers the metrics with the default registry.
// Call this once at startup.
func Init(namespace string) *Metrics {
	defaultMetrics = New(namespace, prometheus.DefaultRegisterer)
	return defaultMetrics
}

// New registers the metrics with reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "sol_pipeline"
	}
	factory := promauto.With(reg)

	return &Metrics{
		OperationsDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_dispatched_total",
				Help:      "Total number of operations dispatched",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Time to execute one operation",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
			},
			[]string{"operation"},
		),
		OperationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_errors_total",
				Help:      "Total number of failed operations by error kind",
			},
			[]string{"operation", "kind"},
		),
		RunsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_finished_total",
				Help:      "Total number of controller runs by terminal state",
			},
			[]string{"state"},
		),
		BatchesHandled: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_handled_total",
				Help:      "Total number of requires_action batches dispatched",
			},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of a controller run",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
			},
		),
		RecordsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_processed_total",
				Help:      "Total number of account records processed by operation",
			},
			[]string{"operation"},
		),
		LastProcessedDate: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_processed_date_seconds",
				Help:      "Unix time of the last recorded processing date",
			},
		),
	}
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	return http.ListenAndServe(address, Handler())
}

// Handler serves /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// ObserveOperation records one dispatched operation.
func (m *Metrics) ObserveOperation(operation, status string, seconds float64) {
	if m == nil {
		return
	}
	m.OperationsDispatched.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(seconds)
}

// IncOperationErrors increments the operation errors counter.
func (m *Metrics) IncOperationErrors(operation, kind string) {
	if m == nil {
		return
	}
	m.OperationErrors.WithLabelValues(operation, kind).Inc()
}

// AddRecordsProcessed adds to the records processed counter.
func (m *Metrics) AddRecordsProcessed(operation string, count float64) {
	if m == nil {
		return
	}
	m.RecordsProcessed.WithLabelValues(operation).Add(count)
}

// SetLastProcessedDate sets the watermark gauge.
func (m *Metrics) SetLastProcessedDate(unix float64) {
	if m == nil {
		return
	}
	m.LastProcessedDate.Set(unix)
}

// IncBatchesHandled increments the batches counter.
func (m *Metrics) IncBatchesHandled() {
	if m == nil {
		return
	}
	m.BatchesHandled.Inc()
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(state string, seconds float64) {
	if m == nil {
		return
	}
	m.RunsFinished.WithLabelValues(state).Inc()
	m.RunDuration.Observe(seconds)
}
