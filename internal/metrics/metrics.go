package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "mattermost_mcp"
)

// Metrics holds all Prometheus metrics for the server. A nil *Metrics is
// valid and records nothing, which keeps the CLI commands free of
// collector setup.
type Metrics struct {
	// Tool execution metrics
	ToolCallDuration *prometheus.HistogramVec
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallErrors   *prometheus.CounterVec

	// Webhook delivery metrics
	DeliveriesTotal  *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec

	// Protocol metrics
	MessagesReceived *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	RateLimited      prometheus.Counter

	// Config file metrics
	ConfigChecks *prometheus.CounterVec
}

// New creates a Metrics instance registered with the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered with reg
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Buckets: 5ms .. 10s; the webhook POST dominates
		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_call_duration_seconds",
				Help:      "Duration of tool calls in seconds",
				Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"tool_name", "status"},
		),

		ToolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of tool calls",
			},
			[]string{"tool_name", "status"},
		),

		ToolCallErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_call_errors_total",
				Help:      "Total number of failed tool calls by error kind",
			},
			[]string{"tool_name", "error_kind"},
		),

		DeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_deliveries_total",
				Help:      "Total number of webhook delivery attempts",
			},
			[]string{"channel", "outcome"},
		),

		DeliveryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "webhook_delivery_duration_seconds",
				Help:      "Duration of webhook POST requests in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"channel"},
		),

		MessagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Total number of JSON-RPC messages received",
			},
			[]string{"transport", "method"},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Number of active MCP sessions",
			},
		),

		RateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Total number of tool calls rejected by the session rate limiter",
			},
		),

		ConfigChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_checks_total",
				Help:      "Total number of webhook file re-validations by result",
			},
			[]string{"result"},
		),
	}
}

// RecordToolCall records a finished tool call. errorKind is empty on success.
func (m *Metrics) RecordToolCall(toolName string, errorKind string, duration time.Duration) {
	if m == nil {
		return
	}

	status := "success"
	if errorKind != "" {
		status = "error"
		m.ToolCallErrors.WithLabelValues(toolName, errorKind).Inc()
	}
	m.ToolCallsTotal.WithLabelValues(toolName, status).Inc()
	m.ToolCallDuration.WithLabelValues(toolName, status).Observe(duration.Seconds())
}

// RecordDelivery records one webhook POST. outcome is "success",
// "http_error" or "transport_error".
func (m *Metrics) RecordDelivery(channel, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(channel, outcome).Inc()
	m.DeliveryDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordMessage counts an inbound JSON-RPC message
func (m *Metrics) RecordMessage(transport, method string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(transport, method).Inc()
}

// SessionStarted increments the active session gauge
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the active session gauge
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// RecordRateLimited counts a rejected tool call
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

// RecordConfigCheck counts a watcher re-validation ("ok", "warning", "invalid")
func (m *Metrics) RecordConfigCheck(result string) {
	if m == nil {
		return
	}
	m.ConfigChecks.WithLabelValues(result).Inc()
}
