package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewWithRegistry(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	assert.NotNil(t, m.ToolCallDuration)
	assert.NotNil(t, m.ToolCallsTotal)
	assert.NotNil(t, m.ToolCallErrors)
	assert.NotNil(t, m.DeliveriesTotal)
	assert.NotNil(t, m.DeliveryDuration)
	assert.NotNil(t, m.MessagesReceived)
	assert.NotNil(t, m.ActiveSessions)
	assert.NotNil(t, m.RateLimited)
	assert.NotNil(t, m.ConfigChecks)
}

func TestRecordToolCall(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.RecordToolCall("send_message", "", 20*time.Millisecond)
	m.RecordToolCall("send_message", "delivery_error", 30*time.Millisecond)
	m.RecordToolCall("set_default", "not_found", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("send_message", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("send_message", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallErrors.WithLabelValues("send_message", "delivery_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallErrors.WithLabelValues("set_default", "not_found")))
}

func TestRecordDeliveryAndSessions(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.RecordDelivery("ops", "success", 10*time.Millisecond)
	m.RecordDelivery("ops", "http_error", 10*time.Millisecond)
	m.SessionStarted()
	m.SessionStarted()
	m.SessionEnded()
	m.RecordRateLimited()
	m.RecordMessage("stdio", "tools/call")
	m.RecordConfigCheck("warning")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("ops", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("ops", "http_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimited))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("stdio", "tools/call")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConfigChecks.WithLabelValues("warning")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordToolCall("list_webhooks", "", time.Millisecond)
		m.RecordDelivery("ops", "success", time.Millisecond)
		m.RecordMessage("ws", "ping")
		m.SessionStarted()
		m.SessionEnded()
		m.RecordRateLimited()
		m.RecordConfigCheck("ok")
	})
}
