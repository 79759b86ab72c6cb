// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// JobsEnqueuedTotal counts jobs enqueued by language.
	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"language"},
	)
	// JobsProcessing is a gauge of the number of currently processing jobs by language.
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"language"},
	)
	// JobsCompletedTotal counts jobs completed by language and overall status.
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"language", "overall_status"},
	)
	// JobsFailedTotal counts jobs that exhausted retries and were moved to the dead-letter queue.
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs that exhausted retries and were moved to the dead-letter queue",
		},
		[]string{"language"},
	)
	// JobsRetriedTotal counts infrastructure-failure requeues by language.
	JobsRetriedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_retried_total",
			Help: "Total number of jobs requeued after an infrastructure failure",
		},
		[]string{"language"},
	)

	// EngineExecutionDuration records wall-clock time spent in
	// ExecutionEngine.Execute, the compile-once-run-many Docker pipeline.
	EngineExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_execution_duration_seconds",
			Help:    "Duration of a job's full engine execution (compile + all test cases)",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"language"},
	)

	// TestCaseResultsTotal counts per-test-case verdicts by status.
	TestCaseResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_case_results_total",
			Help: "Total number of test case verdicts by status",
		},
		[]string{"language", "status"},
	)

	// QueueDepthGauge tracks per-language, per-queue backlog, sampled by
	// the DLQ sweeper.
	QueueDepthGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current depth of a language's queue",
		},
		[]string{"language", "queue"},
	)

	// CircuitBreakerStatus tracks circuit breaker state.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "operation"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(JobsRetriedTotal)
	prometheus.MustRegister(EngineExecutionDuration)
	prometheus.MustRegister(TestCaseResultsTotal)
	prometheus.MustRegister(QueueDepthGauge)
	prometheus.MustRegister(CircuitBreakerStatus)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// EnqueueJob increments the enqueued jobs counter for the given language.
func EnqueueJob(language string) {
	JobsEnqueuedTotal.WithLabelValues(language).Inc()
}

// StartProcessingJob increments the processing gauge for the given language.
func StartProcessingJob(language string) {
	JobsProcessing.WithLabelValues(language).Inc()
}

// CompleteJob marks a job complete by decrementing the processing gauge
// and incrementing the completed counter under its overall status.
func CompleteJob(language, overallStatus string) {
	JobsProcessing.WithLabelValues(language).Dec()
	JobsCompletedTotal.WithLabelValues(language, overallStatus).Inc()
}

// RetryJob records an infrastructure-failure requeue and decrements the
// processing gauge: the job leaves "processing" and goes back to
// "queued" until a worker dequeues it again.
func RetryJob(language string) {
	JobsProcessing.WithLabelValues(language).Dec()
	JobsRetriedTotal.WithLabelValues(language).Inc()
}

// DeadLetterJob marks a job complete by decrementing the processing gauge
// and incrementing the dead-letter counter for the given language.
func DeadLetterJob(language string) {
	JobsProcessing.WithLabelValues(language).Dec()
	JobsFailedTotal.WithLabelValues(language).Inc()
}

// ObserveEngineExecution records how long a job spent in the engine.
func ObserveEngineExecution(language string, d time.Duration) {
	EngineExecutionDuration.WithLabelValues(language).Observe(d.Seconds())
}

// RecordTestCaseResult records one test case's verdict.
func RecordTestCaseResult(language, status string) {
	TestCaseResultsTotal.WithLabelValues(language, status).Inc()
}

// RecordQueueDepth records a language's per-queue backlog sample.
func RecordQueueDepth(language, queue string, depth int64) {
	QueueDepthGauge.WithLabelValues(language, queue).Set(float64(depth))
}

// RecordCircuitBreakerStatus records circuit breaker state.
func RecordCircuitBreakerStatus(service, operation string, status int) {
	CircuitBreakerStatus.WithLabelValues(service, operation).Set(float64(status))
}
