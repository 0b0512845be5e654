package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openfroyo/stackforge/pkg/engine"
	"github.com/openfroyo/stackforge/pkg/lock"
)

var (
	_ engine.Observer = (*Metrics)(nil)
	_ lock.Observer   = (*Metrics)(nil)
)

// Metrics provides Prometheus metrics for stackforge.
type Metrics struct {
	config MetricsConfig

	// Stack operation metrics
	stackOpsStarted   *prometheus.CounterVec
	stackOpsCompleted *prometheus.CounterVec
	stackOpDuration   *prometheus.HistogramVec
	activeStackOps    prometheus.Gauge

	// Resource metrics
	resourceActions        *prometheus.CounterVec
	resourceActionDuration *prometheus.HistogramVec

	// Lock metrics
	lockAcquisitions *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Every recording method is a no-op on a disabled instance.
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

		stackOpsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stack_operations_started_total",
				Help:      "Total number of stack operations started",
			},
			[]string{"action"},
		),
		stackOpsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stack_operations_completed_total",
				Help:      "Total number of stack operations completed",
			},
			[]string{"action", "status"},
		),
		stackOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stack_operation_duration_seconds",
				Help:      "Duration of stack operations in seconds",
				Buckets:   buckets,
			},
			[]string{"action", "status"},
		),
		activeStackOps: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_stack_operations",
				Help:      "Current number of running stack operations",
			},
		),

		resourceActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_actions_total",
				Help:      "Total number of finished resource actions",
			},
			[]string{"type", "action", "status"},
		),
		resourceActionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resource_action_duration_seconds",
				Help:      "Duration of resource actions in seconds",
				Buckets:   buckets,
			},
			[]string{"type", "action"},
		),

		lockAcquisitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stack_lock_acquisitions_total",
				Help:      "Total number of stack lock acquisition attempts by outcome",
			},
			[]string{"outcome"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.stackOpsStarted,
		m.stackOpsCompleted,
		m.stackOpDuration,
		m.activeStackOps,
		m.resourceActions,
		m.resourceActionDuration,
		m.lockAcquisitions,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// Stack Operation Metrics

// RecordStackOperationStarted counts a started stack operation.
func (m *Metrics) RecordStackOperationStarted(action engine.Action) {
	if m.stackOpsStarted == nil {
		return
	}
	m.stackOpsStarted.WithLabelValues(string(action)).Inc()
	m.activeStackOps.Inc()
}

// RecordStackOperationCompleted records a finished stack operation with the
// stack status it left behind.
func (m *Metrics) RecordStackOperationCompleted(action engine.Action, status engine.Status, duration time.Duration) {
	if m.stackOpsCompleted == nil {
		return
	}
	m.stackOpsCompleted.WithLabelValues(string(action), string(status)).Inc()
	m.stackOpDuration.WithLabelValues(string(action), string(status)).Observe(duration.Seconds())
	m.activeStackOps.Dec()
}

// Resource Metrics

// ResourceActionFinished implements engine.Observer.
func (m *Metrics) ResourceActionFinished(resourceType string, action engine.Action, status engine.Status, duration time.Duration) {
	if m.resourceActions == nil {
		return
	}
	m.resourceActions.WithLabelValues(resourceType, string(action), string(status)).Inc()
	m.resourceActionDuration.WithLabelValues(resourceType, string(action)).Observe(duration.Seconds())
}

// Lock Metrics

// LockAcquire implements lock.Observer.
func (m *Metrics) LockAcquire(outcome lock.Outcome) {
	if m.lockAcquisitions == nil {
		return
	}
	m.lockAcquisitions.WithLabelValues(string(outcome)).Inc()
}

// Error Metrics

// RecordError records an error by class and, for classified engine errors,
// by code. Unclassified errors are counted as "unknown".
func (m *Metrics) RecordError(err error) {
	if m.errorsByClass == nil || err == nil {
		return
	}
	var engErr *engine.EngineError
	if !errors.As(err, &engErr) {
		m.errorsByClass.WithLabelValues("unknown").Inc()
		return
	}
	m.errorsByClass.WithLabelValues(string(engErr.Class)).Inc()
	if engErr.Code != "" {
		m.errorsByCode.WithLabelValues(engErr.Code).Inc()
	}
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

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Server returns an HTTP server exposing the metrics endpoint, or nil when
// metrics are disabled. The caller owns its lifecycle.
func (m *Metrics) Server() *http.Server {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	return &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
