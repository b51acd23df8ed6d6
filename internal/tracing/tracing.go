// Package tracing traces tool calls and webhook deliveries with
// OpenTelemetry. Tracing is off unless enabled in the settings.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName = "mattermost-s-mcp"
	tracerName  = "github.com/in2out/mattermost-s-mcp"
)

// Span attribute keys
const (
	AttrToolName   = "tool.name"
	AttrSessionID  = "session.id"
	AttrChannel    = "webhook.channel"
	AttrWebhookURL = "webhook.url_masked"
	AttrHTTPMethod = "http.method"
	AttrHTTPStatus = "http.status_code"
	AttrErrorKind  = "error.kind"
)

// Config selects the exporter. A Zipkin endpoint wins over OTLP; with
// neither set spans are sampled but not exported.
type Config struct {
	Enabled        bool          `mapstructure:"enabled"`
	ServiceName    string        `mapstructure:"service_name"`
	ServiceVersion string        `mapstructure:"service_version"`
	Environment    string        `mapstructure:"environment"`
	OTLPEndpoint   string        `mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool          `mapstructure:"otlp_insecure"`
	ZipkinEndpoint string        `mapstructure:"zipkin_endpoint"`
	SamplingRate   float64       `mapstructure:"sampling_rate"`
	ExportTimeout  time.Duration `mapstructure:"export_timeout"`
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		OTLPInsecure:   true,
		SamplingRate:   1.0,
		ExportTimeout:  30 * time.Second,
	}
}

// TracerProvider owns the SDK provider. A disabled one hands out the span
// already in the context.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	enabled  bool
}

// NewTracerProvider builds the provider and, when enabled, installs it as
// the global provider with W3C trace context propagation.
func NewTracerProvider(cfg *Config) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		attribute.String("environment", cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SamplingRate)),
	}
	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, err
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(tracerName),
		enabled:  true,
	}, nil
}

// newExporter returns nil when no endpoint is configured
func newExporter(cfg *Config) (sdktrace.SpanExporter, error) {
	switch {
	case cfg.ZipkinEndpoint != "":
		exp, err := zipkin.New(cfg.ZipkinEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create Zipkin exporter: %w", err)
		}
		return exp, nil

	case cfg.OTLPEndpoint != "":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.ExportTimeout > 0 {
			opts = append(opts, otlptracegrpc.WithTimeout(cfg.ExportTimeout))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(context.Background(), opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		return exp, nil
	}
	return nil, nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	if rate >= 1 {
		return sdktrace.AlwaysSample()
	}
	if rate <= 0 {
		return sdktrace.NeverSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

// Shutdown flushes pending spans
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// IsEnabled reports whether spans are recorded
func (tp *TracerProvider) IsEnabled() bool {
	return tp != nil && tp.enabled
}

// RecordError marks the span in ctx as failed with the given error kind
func RecordError(ctx context.Context, err error, kind string) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetAttributes(attribute.String(AttrErrorKind, kind))
	span.SetStatus(codes.Error, err.Error())
}

// SpanHelper starts the tool and delivery spans. A nil helper, or one
// over a disabled provider, hands back the span already in the context.
type SpanHelper struct {
	tp *TracerProvider
}

// NewSpanHelper creates a new span helper
func NewSpanHelper(tp *TracerProvider) *SpanHelper {
	return &SpanHelper{tp: tp}
}

func (sh *SpanHelper) start(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if sh == nil || !sh.tp.IsEnabled() {
		return ctx, trace.SpanFromContext(ctx)
	}
	return sh.tp.tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// StartToolExecutionSpan starts a span for a tools/call
func (sh *SpanHelper) StartToolExecutionSpan(ctx context.Context, toolName, sessionID string) (context.Context, trace.Span) {
	return sh.start(ctx, "tool.execute."+toolName, trace.SpanKindServer,
		attribute.String(AttrToolName, toolName),
		attribute.String(AttrSessionID, sessionID),
	)
}

// StartWebhookDeliverySpan starts a client span for the webhook POST.
// Only the masked URL is ever attached.
func (sh *SpanHelper) StartWebhookDeliverySpan(ctx context.Context, channel, maskedURL string) (context.Context, trace.Span) {
	return sh.start(ctx, "webhook.deliver", trace.SpanKindClient,
		attribute.String(AttrHTTPMethod, "POST"),
		attribute.String(AttrChannel, channel),
		attribute.String(AttrWebhookURL, maskedURL),
	)
}

// RecordHTTPStatus records the webhook's status code; non-2xx fails the span
func (sh *SpanHelper) RecordHTTPStatus(ctx context.Context, statusCode int) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.Int(AttrHTTPStatus, statusCode))
	if statusCode < 200 || statusCode >= 300 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", statusCode))
	}
}
