package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Chain RPC Metrics
	rpcCallsTotal         *prometheus.CounterVec
	rpcCallDuration       *prometheus.HistogramVec
	confirmationPollTotal *prometheus.CounterVec

	// Swap Lifecycle Metrics
	swapsInitiatedTotal  *prometheus.CounterVec
	simulationsTotal     *prometheus.CounterVec
	submissionsTotal     *prometheus.CounterVec
	confirmationsTotal   *prometheus.CounterVec
	confirmationDuration *prometheus.HistogramVec
	callbacksFiredTotal  *prometheus.CounterVec
	staleResultsTotal    *prometheus.CounterVec

	// Workflow Metrics
	confirmWorkflowDuration *prometheus.HistogramVec
	confirmActivityDuration *prometheus.HistogramVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Chain RPC Metrics
		rpcCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chain_rpc_calls_total",
				Help: "Total number of chain RPC calls by chain, method and status",
			},
			[]string{"chain", "method", "status"},
		),
		rpcCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chain_rpc_call_duration_seconds",
				Help:    "Duration of chain RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"chain", "method"},
		),
		confirmationPollTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confirmation_polls_total",
				Help: "Total number of receipt/status polls while waiting for confirmation",
			},
			[]string{"chain"},
		),

		// Swap Lifecycle Metrics
		swapsInitiatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swaps_initiated_total",
				Help: "Total number of swaps initiated",
			},
			[]string{"chain_id"},
		),
		simulationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swap_simulations_total",
				Help: "Total number of swap simulations by outcome",
			},
			[]string{"status"},
		),
		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swap_submissions_total",
				Help: "Total number of swap submissions by outcome",
			},
			[]string{"status"},
		),
		confirmationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swap_confirmations_total",
				Help: "Total number of swap confirmations by outcome",
			},
			[]string{"status"},
		),
		confirmationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swap_confirmation_duration_seconds",
				Help:    "Time from submission to settled confirmation in seconds",
				Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		callbacksFiredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swap_success_callbacks_total",
				Help: "Total number of success callbacks invoked",
			},
			[]string{"chain_id"},
		),
		staleResultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swap_stale_results_total",
				Help: "Total number of results discarded because a newer request superseded them",
			},
			[]string{"kind"},
		),

		// Workflow Metrics
		confirmWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "confirm_workflow_duration_seconds",
				Help:    "Duration of confirmation workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		confirmActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "confirm_activity_duration_seconds",
				Help:    "Duration of confirmation activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"target"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"target", "event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Chain RPC metric helpers

// RecordRPCCall records a chain RPC call with duration.
func (m *Metrics) RecordRPCCall(chain, method, status string, duration float64) {
	m.rpcCallsTotal.WithLabelValues(chain, method, status).Inc()
	m.rpcCallDuration.WithLabelValues(chain, method).Observe(duration)
}

// RecordConfirmationPoll records one receipt or signature status poll.
func (m *Metrics) RecordConfirmationPoll(chain string) {
	m.confirmationPollTotal.WithLabelValues(chain).Inc()
}

// Swap lifecycle metric helpers

// RecordSwapInitiated records a new swap.
func (m *Metrics) RecordSwapInitiated(chainID string) {
	m.swapsInitiatedTotal.WithLabelValues(chainID).Inc()
}

// RecordSimulation records a settled simulation.
func (m *Metrics) RecordSimulation(status string) {
	m.simulationsTotal.WithLabelValues(status).Inc()
}

// RecordSubmission records a settled submission.
func (m *Metrics) RecordSubmission(status string) {
	m.submissionsTotal.WithLabelValues(status).Inc()
}

// RecordConfirmation records a settled confirmation and how long it took.
func (m *Metrics) RecordConfirmation(status string, duration float64) {
	m.confirmationsTotal.WithLabelValues(status).Inc()
	m.confirmationDuration.WithLabelValues(status).Observe(duration)
}

// RecordCallbackFired records an invocation of the success callback.
func (m *Metrics) RecordCallbackFired(chainID string) {
	m.callbacksFiredTotal.WithLabelValues(chainID).Inc()
}

// RecordStaleResult records a result that was discarded as superseded.
func (m *Metrics) RecordStaleResult(kind string) {
	m.staleResultsTotal.WithLabelValues(kind).Inc()
}

// Workflow metric helpers

// RecordWorkflowDuration records confirmation workflow duration.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	m.confirmWorkflowDuration.WithLabelValues(status).Observe(duration)
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	m.confirmActivityDuration.WithLabelValues(activity).Observe(duration)
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(target string, delta float64) {
	m.sseActiveConnections.WithLabelValues(target).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(target, eventType string) {
	m.sseEventsSent.WithLabelValues(target, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
