package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/in2out/mattermost-s-mcp/internal/metrics"
	"github.com/in2out/mattermost-s-mcp/internal/tracing"
	"github.com/in2out/mattermost-s-mcp/pkg/observability"
)

const (
	// DefaultTimeout bounds a single webhook POST
	DefaultTimeout = 10 * time.Second

	maxDetailLen = 120
)

// Sender posts messages to incoming webhooks. Each Send is exactly one
// attempt; retrying is left to the caller.
type Sender struct {
	httpClient *http.Client
	userAgent  string
	logger     observability.Logger
	metrics    *metrics.Metrics
	spanHelper *tracing.SpanHelper
}

// SenderOption configures a Sender
type SenderOption func(*Sender)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) SenderOption {
	return func(s *Sender) { s.httpClient = c }
}

// WithUserAgent sets the User-Agent header sent with every POST
func WithUserAgent(ua string) SenderOption {
	return func(s *Sender) { s.userAgent = ua }
}

// WithSenderLogger sets the logger
func WithSenderLogger(l observability.Logger) SenderOption {
	return func(s *Sender) { s.logger = l }
}

// WithSenderMetrics records delivery metrics
func WithSenderMetrics(m *metrics.Metrics) SenderOption {
	return func(s *Sender) { s.metrics = m }
}

// WithSpanHelper traces each POST
func WithSpanHelper(sh *tracing.SpanHelper) SenderOption {
	return func(s *Sender) { s.spanHelper = sh }
}

// NewSender creates a sender whose HTTP client times out after timeout
func NewSender(timeout time.Duration, opts ...SenderOption) *Sender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Sender{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  "mattermost-s-mcp",
		logger:     observability.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type messagePayload struct {
	Text string `json:"text"`
}

// Send posts {"text": text} to the webhook. Any non-2xx answer or
// transport failure comes back as a KindDelivery *Error; the webhook URL
// only ever appears masked.
func (s *Sender) Send(ctx context.Context, hook Webhook, text string) error {
	if strings.TrimSpace(text) == "" {
		return NewValidationError("text", "message text is empty")
	}

	masked := Mask(hook.URL)
	ctx, span := s.spanHelper.StartWebhookDeliverySpan(ctx, hook.Channel, masked)
	defer span.End()

	body, err := json.Marshal(messagePayload{Text: text})
	if err != nil {
		return &Error{Kind: KindDelivery, Message: "failed to encode message", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		// url.Parse errors quote the raw URL, so the cause is dropped
		derr := &Error{Kind: KindDelivery, Message: fmt.Sprintf("invalid webhook url (%s)", masked)}
		tracing.RecordError(ctx, derr, string(KindDelivery))
		return derr
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.metrics.RecordDelivery(hook.Channel, "transport_error", time.Since(start))
		derr := &Error{
			Kind:    KindDelivery,
			Message: fmt.Sprintf("webhook request failed (%s)", masked),
			Err:     stripURL(err),
		}
		tracing.RecordError(ctx, derr, string(KindDelivery))
		s.logger.Warn("Webhook request failed", map[string]interface{}{
			"channel": hook.Channel,
			"webhook": masked,
			"error":   derr.Err.Error(),
		})
		return derr
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, readErr := io.ReadAll(resp.Body)
	s.spanHelper.RecordHTTPStatus(ctx, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.metrics.RecordDelivery(hook.Channel, "http_error", time.Since(start))
		derr := &Error{
			Kind:       KindDelivery,
			Message:    fmt.Sprintf("webhook responded with status %d (%s): %s", resp.StatusCode, masked, detail(respBody)),
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Err:        readErr,
		}
		s.logger.Warn("Webhook rejected message", map[string]interface{}{
			"channel": hook.Channel,
			"webhook": masked,
			"status":  resp.StatusCode,
		})
		return derr
	}

	s.metrics.RecordDelivery(hook.Channel, "success", time.Since(start))
	s.logger.Debug("Webhook message delivered", map[string]interface{}{
		"channel": hook.Channel,
		"webhook": masked,
		"status":  resp.StatusCode,
	})
	return nil
}

// detail shortens a response body for inclusion in an error message
func detail(body []byte) string {
	d := strings.TrimSpace(string(body))
	if d == "" {
		return "no body"
	}
	r := []rune(d)
	if len(r) > maxDetailLen {
		return string(r[:maxDetailLen-3]) + "..."
	}
	return d
}

// stripURL removes the request URL that net/http puts into *url.Error,
// since for a webhook the URL is the credential.
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		if uerr.Timeout() {
			return fmt.Errorf("%s: timeout: %w", uerr.Op, uerr.Err)
		}
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}
