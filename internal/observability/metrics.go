package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "media_transcriber_active_runs",
		Help: "Number of pipeline runs in progress",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_transcriber_runs_total",
		Help: "Total number of pipeline runs by terminal state",
	}, []string{"state"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "media_transcriber_run_duration_seconds",
		Help:    "Duration of pipeline runs in seconds",
		Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
	})

	// Item metrics
	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_transcriber_items_total",
		Help: "Total number of media items by outcome",
	}, []string{"outcome"}) // outcome: transcribed, silent, failed

	segmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_transcriber_segments_total",
		Help: "Total number of audio segments produced by the segmenter",
	})

	// External call metrics
	externalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_transcriber_external_requests_total",
		Help: "Total number of calls to external collaborators",
	}, []string{"service", "status"}) // service: fetch, recognizer, enhancer

	externalLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "media_transcriber_external_latency_seconds",
		Help:    "Latency of calls to external collaborators in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 300.0},
	}, []string{"service"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_transcriber_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "media_transcriber_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_transcriber_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single pipeline run
type Metrics struct {
	runID     string
	startTime time.Time
}

// NewRunMetrics creates a new metrics tracker for a run
func NewRunMetrics(runID string) *Metrics {
	return &Metrics{
		runID:     runID,
		startTime: time.Now(),
	}
}

// RecordRunStart records the start of a run
func (m *Metrics) RecordRunStart() {
	activeRuns.Inc()
}

// RecordRunEnd records the end of a run with its terminal state
func (m *Metrics) RecordRunEnd(state string) {
	activeRuns.Dec()
	runsTotal.WithLabelValues(state).Inc()
	runDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordItem records the outcome of one media item
func (m *Metrics) RecordItem(outcome string) {
	itemsTotal.WithLabelValues(outcome).Inc()
}

// RecordSegments records segments produced for one item
func (m *Metrics) RecordSegments(n int) {
	segmentsTotal.Add(float64(n))
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// ObserveCall records one call to an external collaborator. Use as
//
//	done := observability.ObserveCall("recognizer")
//	...
//	done(err == nil)
func ObserveCall(service string) func(success bool) {
	start := time.Now()
	return func(success bool) {
		externalLatency.WithLabelValues(service).Observe(time.Since(start).Seconds())
		status := "success"
		if !success {
			status = "error"
		}
		externalRequests.WithLabelValues(service, status).Inc()
	}
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
