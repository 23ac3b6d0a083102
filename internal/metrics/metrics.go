package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP request metrics for the status server
var (
	// HTTPRequestDuration tracks the duration of HTTP requests
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests by method, path, and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsTotal counts the total number of HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)
)

// Endpoint invocation metrics
var (
	// InvocationsTotal counts endpoint invocations by mode and status
	InvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuron_endpoint_invocations_total",
			Help: "Total number of endpoint invocations by mode (sync, stream) and status",
		},
		[]string{"mode", "status"},
	)

	// StreamBytesTotal counts payload bytes received from response streams
	StreamBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neuron_stream_payload_bytes_total",
			Help: "Total number of payload bytes received from response streams",
		},
	)

	// ChunksSkipped counts stream events dropped for lacking a payload part
	ChunksSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuron_stream_chunks_skipped_total",
			Help: "Stream events skipped because they carried no payload part, by event kind",
		},
		[]string{"kind"},
	)
)

// Load test metrics
var (
	// RequestDuration tracks load test event durations.
	// name is one of total_time, encoding_time, decoding_time.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neuron_loadtest_event_duration_seconds",
			Help:    "Duration of load test request events by event name",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0},
		},
		[]string{"name"},
	)

	// RequestsTotal counts load test requests by status
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuron_loadtest_requests_total",
			Help: "Total number of load test requests by status",
		},
		[]string{"status"},
	)

	// TokensTotal counts tokens reported by the endpoint usage chunk
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuron_loadtest_tokens_total",
			Help: "Total tokens reported by the endpoint by kind (prompt, completion)",
		},
		[]string{"kind"},
	)

	// ActiveUsers tracks the number of running simulated users
	ActiveUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "neuron_loadtest_active_users",
			Help: "Number of simulated users currently sending requests",
		},
	)
)

// Deployment metrics
var (
	// DeployDuration tracks how long deployments take to reach InService
	DeployDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neuron_deploy_duration_seconds",
			Help:    "Duration of endpoint deployments by instance type and outcome",
			Buckets: prometheus.ExponentialBuckets(30, 2, 8), // 30s to ~64min (Neuron compilation is slow)
		},
		[]string{"instance_type", "status"},
	)

	// SageMakerAPIErrors counts SageMaker API errors by operation
	SageMakerAPIErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuron_sagemaker_api_errors_total",
			Help: "Total number of SageMaker API errors by operation and error code",
		},
		[]string{"operation", "code"},
	)

	// ReconcileOutcomes counts recorded deployments checked against SageMaker
	ReconcileOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuron_reconcile_outcomes_total",
			Help: "Recorded deployments checked during reconciliation by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordInvocation increments the invocation counter.
// status should be "success" or "error"
func RecordInvocation(mode, status string) {
	InvocationsTotal.WithLabelValues(mode, status).Inc()
}

// RecordStreamBytes adds received payload bytes
func RecordStreamBytes(n int) {
	StreamBytesTotal.Add(float64(n))
}

// RecordChunkSkipped increments the skipped chunk counter
func RecordChunkSkipped(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	ChunksSkipped.WithLabelValues(kind).Inc()
}

// RecordRequestEvent records one load test event duration
func RecordRequestEvent(name string, d time.Duration) {
	RequestDuration.WithLabelValues(name).Observe(d.Seconds())
}

// RecordRequest increments the load test request counter
func RecordRequest(failed bool) {
	status := "success"
	if failed {
		status = "error"
	}
	RequestsTotal.WithLabelValues(status).Inc()
}

// RecordTokens adds prompt and completion token counts
func RecordTokens(prompt, completion int) {
	TokensTotal.WithLabelValues("prompt").Add(float64(prompt))
	TokensTotal.WithLabelValues("completion").Add(float64(completion))
}

// RecordDeploy records a deployment duration
func RecordDeploy(instanceType, status string, d time.Duration) {
	DeployDuration.WithLabelValues(instanceType, status).Observe(d.Seconds())
}

// RecordSageMakerError increments the SageMaker API error counter
func RecordSageMakerError(operation, code string) {
	if code == "" {
		code = "unknown"
	}
	SageMakerAPIErrors.WithLabelValues(operation, code).Inc()
}

// RecordReconcileOutcome increments the reconciliation outcome counter
func RecordReconcileOutcome(outcome string) {
	ReconcileOutcomes.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest records the duration and increments the counter for an HTTP request
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}
