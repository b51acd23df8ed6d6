package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/in2out/mattermost-s-mcp/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSenderSend_Success(t *testing.T) {
	var gotBody map[string]string
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotContentType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	sender := NewSender(time.Second, WithSenderMetrics(m))

	err := sender.Send(context.Background(), Webhook{Channel: "ops", URL: server.URL + "/hooks/abcdef123"}, "hello")
	require.NoError(t, err)

	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, map[string]string{"text": "hello"}, gotBody)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("ops", "success")))
}

func TestSenderSend_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom: " + strings.Repeat("x", 300)))
	}))
	defer server.Close()

	url := server.URL + "/hooks/abcdef123"
	err := NewSender(time.Second).Send(context.Background(), Webhook{Channel: "ops", URL: url}, "hello")
	require.Error(t, err)

	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, KindDelivery, derr.Kind)
	assert.Equal(t, 500, derr.StatusCode)
	assert.Equal(t, "boom: "+strings.Repeat("x", 300), derr.Body)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "...")
	assert.NotContains(t, err.Error(), "abcdef123")
}

func TestSenderSend_EmptyErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := NewSender(time.Second).Send(context.Background(), Webhook{Channel: "ops", URL: server.URL}, "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "no body")
}

func TestSenderSend_TransportErrorHidesURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL + "/hooks/secrettoken99"
	server.Close()

	err := NewSender(time.Second).Send(context.Background(), Webhook{Channel: "ops", URL: url}, "hello")
	require.Error(t, err)
	assert.Equal(t, KindDelivery, KindOf(err))
	assert.NotContains(t, err.Error(), "secrettoken99")
	assert.Contains(t, err.Error(), "sec***9")
}

func TestSenderSend_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	err := NewSender(50*time.Millisecond).Send(context.Background(), Webhook{Channel: "ops", URL: server.URL}, "hello")
	require.Error(t, err)
	assert.Equal(t, KindDelivery, KindOf(err))
}

func TestSenderSend_BlankText(t *testing.T) {
	err := NewSender(time.Second).Send(context.Background(), Webhook{Channel: "ops", URL: "http://127.0.0.1:1"}, "   ")
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestSenderSend_InvalidURL(t *testing.T) {
	err := NewSender(time.Second).Send(context.Background(), Webhook{Channel: "ops", URL: "http://bad host/hooks/abcdef"}, "hello")
	require.Error(t, err)
	assert.Equal(t, KindDelivery, KindOf(err))
	assert.NotContains(t, err.Error(), "abcdef")
}
