package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for cloudmoor.
//
// All collectors live in a private registry so the metrics endpoint does
// not leak process-wide defaults registered by other libraries.
type Metrics struct {
	config MetricsConfig

	// Operation metrics
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	// Vendor call metrics
	vendorCalls    *prometheus.CounterVec
	vendorDuration *prometheus.HistogramVec
	vendorErrors   *prometheus.CounterVec

	// Readiness metrics
	readinessPolls *prometheus.CounterVec

	// Teardown metrics
	teardownPhases *prometheus.CounterVec

	// Adoption and drift metrics
	adoptedResources *prometheus.CounterVec
	driftSkipped     *prometheus.CounterVec

	// Entity metrics
	entitiesManaged *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of reconciliation operations",
			},
			[]string{"kind", "op", "outcome"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of reconciliation operations in seconds",
				Buckets:   buckets,
			},
			[]string{"kind", "op"},
		),

		vendorCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vendor_calls_total",
				Help:      "Total number of vendor API calls",
			},
			[]string{"kind", "method"},
		),
		vendorDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "vendor_call_duration_seconds",
				Help:      "Duration of vendor API calls in seconds",
				Buckets:   buckets,
			},
			[]string{"kind", "method"},
		),
		vendorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vendor_errors_total",
				Help:      "Total number of vendor API errors by HTTP status",
			},
			[]string{"kind", "status"},
		),

		readinessPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "readiness_polls_total",
				Help:      "Total number of readiness probe polls",
			},
			[]string{"kind", "outcome"},
		),

		teardownPhases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "teardown_phases_total",
				Help:      "Total number of teardown phase completions",
			},
			[]string{"phase", "outcome"},
		),

		adoptedResources: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "adopted_resources_total",
				Help:      "Total number of pre-existing resources adopted on conflict",
			},
			[]string{"kind"},
		),
		driftSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_skipped_total",
				Help:      "Total number of definition changes not applied because the vendor cannot update the resource",
			},
			[]string{"kind"},
		),

		entitiesManaged: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "entities_managed",
				Help:      "Current number of managed entities",
			},
			[]string{"kind", "status"},
		),
	}

	registry.MustRegister(
		m.operations,
		m.operationDuration,
		m.vendorCalls,
		m.vendorDuration,
		m.vendorErrors,
		m.readinessPolls,
		m.teardownPhases,
		m.adoptedResources,
		m.driftSkipped,
		m.entitiesManaged,
	)

	return m, nil
}

// RecordOperation records a finished reconciliation operation. Satisfies
// the reconcile package's Recorder interface.
func (m *Metrics) RecordOperation(kind, op, outcome string, seconds float64) {
	if m.operations == nil {
		return
	}
	m.operations.WithLabelValues(kind, op, outcome).Inc()
	m.operationDuration.WithLabelValues(kind, op).Observe(seconds)
}

// RecordVendorCall records a vendor API call with its duration.
func (m *Metrics) RecordVendorCall(kind, method string, duration time.Duration) {
	if m.vendorCalls == nil {
		return
	}
	m.vendorCalls.WithLabelValues(kind, method).Inc()
	m.vendorDuration.WithLabelValues(kind, method).Observe(duration.Seconds())
}

// RecordVendorError records a vendor API error by HTTP status.
func (m *Metrics) RecordVendorError(kind string, status int) {
	if m.vendorErrors == nil {
		return
	}
	m.vendorErrors.WithLabelValues(kind, fmt.Sprintf("%d", status)).Inc()
}

// RecordReadinessPoll records a single readiness probe poll.
func (m *Metrics) RecordReadinessPoll(kind, outcome string) {
	if m.readinessPolls == nil {
		return
	}
	m.readinessPolls.WithLabelValues(kind, outcome).Inc()
}

// RecordTeardownPhase records the completion of a teardown phase.
func (m *Metrics) RecordTeardownPhase(phase, outcome string) {
	if m.teardownPhases == nil {
		return
	}
	m.teardownPhases.WithLabelValues(phase, outcome).Inc()
}

// RecordAdoption records the adoption of a pre-existing resource.
func (m *Metrics) RecordAdoption(kind string) {
	if m.adoptedResources == nil {
		return
	}
	m.adoptedResources.WithLabelValues(kind).Inc()
}

// RecordDriftSkipped records a definition change that was acknowledged
// but not applied.
func (m *Metrics) RecordDriftSkipped(kind string) {
	if m.driftSkipped == nil {
		return
	}
	m.driftSkipped.WithLabelValues(kind).Inc()
}

// SetEntityCount sets the current count of managed entities.
func (m *Metrics) SetEntityCount(kind, status string, count float64) {
	if m.entitiesManaged == nil {
		return
	}
	m.entitiesManaged.WithLabelValues(kind, status).Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
