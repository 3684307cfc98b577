// Package metrics provides Prometheus metrics for the contour builder.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the contour builder.
type Metrics struct {
	// Unit metrics
	UnitsProcessed *prometheus.CounterVec
	UnitsSkipped   *prometheus.CounterVec
	UnitsFailed    *prometheus.CounterVec
	UnitsAbandoned *prometheus.CounterVec
	UnitsDropped   *prometheus.CounterVec

	// Timing metrics
	UnitDuration      *prometheus.HistogramVec
	StepDuration      *prometheus.HistogramVec
	ReconcileDuration *prometheus.HistogramVec

	// Size metrics
	UnitFeatures *prometheus.HistogramVec

	// Pool metrics
	Passes        *prometheus.GaugeVec
	InFlightUnits prometheus.Gauge
	QueuedUnits   prometheus.Gauge

	// Error metrics
	StorageErrors *prometheus.CounterVec
	CatalogErrors *prometheus.CounterVec
	EventErrors   *prometheus.CounterVec
	RetryAttempts *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "contour_builder"
	}

	m := &Metrics{
		UnitsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_processed_total",
				Help:      "Total number of spatial units contoured",
			},
			[]string{"project"},
		),
		UnitsSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_skipped_total",
				Help:      "Total number of spatial units skipped (artifact already complete)",
			},
			[]string{"project"},
		),
		UnitsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unit_attempts_failed_total",
				Help:      "Total number of failed unit attempts",
			},
			[]string{"project", "step"},
		),
		UnitsAbandoned: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_abandoned_total",
				Help:      "Total number of units abandoned after too many tries",
			},
			[]string{"project"},
		),
		UnitsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_dropped_total",
				Help:      "Total number of units missing after every pass",
			},
			[]string{"project"},
		),
		UnitDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "unit_duration_seconds",
				Help:      "Time to derive one unit, all attempts included",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 0.1s to ~27m
			},
			[]string{"project"},
		),
		StepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Time spent in one derivation step",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~160s
			},
			[]string{"project", "step"},
		),
		ReconcileDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_duration_seconds",
				Help:      "Time to merge and project unit results",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"project"},
		),
		UnitFeatures: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "unit_features",
				Help:      "Number of contour features per finished unit",
				Buckets:   prometheus.ExponentialBuckets(10, 2, 14),
			},
			[]string{"project"},
		),
		Passes: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_passes",
				Help:      "Number of pool passes run for the current job",
			},
			[]string{"project"},
		),
		InFlightUnits: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_units",
				Help:      "Number of units currently being derived",
			},
		),
		QueuedUnits: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_units",
				Help:      "Number of units waiting for a worker",
			},
		),
		StorageErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Total number of publication write errors",
			},
			[]string{"project", "backend"},
		),
		CatalogErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_errors_total",
				Help:      "Total number of project catalog errors",
			},
			[]string{"project"},
		),
		EventErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_errors_total",
				Help:      "Total number of run event emission errors",
			},
			[]string{"project"},
		),
		RetryAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of unit retry attempts",
			},
			[]string{"project"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// Labels is a convenience type for metric labels.
type Labels struct {
	Project string
	Step    string
	Backend string
}

// IncUnitsProcessed increments the units processed counter.
func (m *Metrics) IncUnitsProcessed(l Labels) {
	m.UnitsProcessed.WithLabelValues(l.Project).Inc()
}

// IncUnitsSkipped increments the units skipped counter.
func (m *Metrics) IncUnitsSkipped(l Labels) {
	m.UnitsSkipped.WithLabelValues(l.Project).Inc()
}

// IncUnitsFailed increments the failed attempts counter for a step.
func (m *Metrics) IncUnitsFailed(l Labels) {
	m.UnitsFailed.WithLabelValues(l.Project, l.Step).Inc()
}

// IncUnitsAbandoned increments the abandoned units counter.
func (m *Metrics) IncUnitsAbandoned(l Labels) {
	m.UnitsAbandoned.WithLabelValues(l.Project).Inc()
}

// AddUnitsDropped adds to the dropped units counter.
func (m *Metrics) AddUnitsDropped(l Labels, n float64) {
	m.UnitsDropped.WithLabelValues(l.Project).Add(n)
}

// ObserveUnitDuration records the time spent on one unit.
func (m *Metrics) ObserveUnitDuration(l Labels, seconds float64) {
	m.UnitDuration.WithLabelValues(l.Project).Observe(seconds)
}

// ObserveStepDuration records the time spent in one derivation step.
func (m *Metrics) ObserveStepDuration(l Labels, seconds float64) {
	m.StepDuration.WithLabelValues(l.Project, l.Step).Observe(seconds)
}

// ObserveReconcileDuration records the merge and projection time.
func (m *Metrics) ObserveReconcileDuration(l Labels, seconds float64) {
	m.ReconcileDuration.WithLabelValues(l.Project).Observe(seconds)
}

// ObserveUnitFeatures records the feature count of a finished unit.
func (m *Metrics) ObserveUnitFeatures(l Labels, n float64) {
	m.UnitFeatures.WithLabelValues(l.Project).Observe(n)
}

// SetPasses sets the number of pool passes run.
func (m *Metrics) SetPasses(l Labels, n float64) {
	m.Passes.WithLabelValues(l.Project).Set(n)
}

// IncInFlightUnits marks a unit as started.
func (m *Metrics) IncInFlightUnits() {
	m.InFlightUnits.Inc()
}

// DecInFlightUnits marks a unit as finished.
func (m *Metrics) DecInFlightUnits() {
	m.InFlightUnits.Dec()
}

// SetQueuedUnits sets the number of units waiting for a worker.
func (m *Metrics) SetQueuedUnits(n float64) {
	m.QueuedUnits.Set(n)
}

// IncStorageErrors increments the storage errors counter.
func (m *Metrics) IncStorageErrors(l Labels) {
	m.StorageErrors.WithLabelValues(l.Project, l.Backend).Inc()
}

// IncCatalogErrors increments the catalog errors counter.
func (m *Metrics) IncCatalogErrors(l Labels) {
	m.CatalogErrors.WithLabelValues(l.Project).Inc()
}

// IncEventErrors increments the event errors counter.
func (m *Metrics) IncEventErrors(l Labels) {
	m.EventErrors.WithLabelValues(l.Project).Inc()
}

// IncRetryAttempts increments the retry attempts counter.
func (m *Metrics) IncRetryAttempts(l Labels) {
	m.RetryAttempts.WithLabelValues(l.Project).Inc()
}
