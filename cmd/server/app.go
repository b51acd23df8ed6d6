package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/in2out/mattermost-s-mcp/internal/api"
	"github.com/in2out/mattermost-s-mcp/internal/config"
	"github.com/in2out/mattermost-s-mcp/internal/mcp"
	"github.com/in2out/mattermost-s-mcp/internal/metrics"
	"github.com/in2out/mattermost-s-mcp/internal/middleware"
	"github.com/in2out/mattermost-s-mcp/internal/tools"
	"github.com/in2out/mattermost-s-mcp/internal/tracing"
	"github.com/in2out/mattermost-s-mcp/internal/webhooks"
	"github.com/in2out/mattermost-s-mcp/pkg/observability"
)

const version = "0.1.0"

// app is the wired application shared by the server and the CLI commands
type app struct {
	cfg    *config.Config
	logger *observability.StandardLogger

	promRegistry *prometheus.Registry
	metrics      *metrics.Metrics
	tracer       *tracing.TracerProvider

	store      *webhooks.Store
	webhooks   *tools.WebhookTools
	registry   *tools.Registry
	dispatcher *tools.Dispatcher

	closers []io.Closer
}

func newApp(settingsFile string, flags *pflag.FlagSet) (*app, error) {
	cfg, err := config.Load(settingsFile, flags)
	if err != nil {
		return nil, err
	}

	webhookFile, err := cfg.ResolveWebhookFile()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	logFile := cfg.Logging.FilePath
	if logFile == "" {
		logFile = config.DefaultLogFile
	}
	logger, closer, err := observability.NewFileLogger("mattermost-s-mcp", logFile)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closer)
	level, _ := observability.ParseLogLevel(cfg.Logging.Level)
	a.logger = logger.WithLevel(level)

	a.promRegistry = prometheus.NewRegistry()
	a.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.NewWithRegistry(a.promRegistry)

	a.tracer, err = tracing.NewTracerProvider(&cfg.Tracing)
	if err != nil {
		a.logger.Warn("Tracing disabled", map[string]interface{}{
			"error": err.Error(),
		})
		a.tracer = nil
	}
	spanHelper := tracing.NewSpanHelper(a.tracer)

	a.store = webhooks.NewStore(webhookFile)
	sender := webhooks.NewSender(cfg.Webhook.Timeout,
		webhooks.WithUserAgent(cfg.Webhook.UserAgent),
		webhooks.WithSenderLogger(a.logger.WithPrefix("sender")),
		webhooks.WithSenderMetrics(a.metrics),
		webhooks.WithSpanHelper(spanHelper),
	)

	a.webhooks = tools.NewWebhookTools(a.store, sender, a.logger)
	a.registry = tools.NewRegistry()
	a.registry.Register(a.webhooks)
	a.dispatcher = tools.NewDispatcher(a.registry, a.logger, a.metrics, spanHelper)

	a.logger.Debug("Application initialized", map[string]interface{}{
		"webhook_file": webhookFile,
		"tools":        a.registry.Count(),
	})
	return a, nil
}

// Close flushes the tracer and closes the log file
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Error("Failed to flush traces", map[string]interface{}{
			"error": err.Error(),
		})
	}
	for _, c := range a.closers {
		_ = c.Close()
	}
}

// serve runs the MCP server until ctx is cancelled or stdin is exhausted.
// Port 0 means stdio, otherwise HTTP with WebSocket sessions.
func (a *app) serve(ctx context.Context, in io.Reader, out io.Writer) error {
	rateLimiter := middleware.NewRateLimiter(a.cfg.RateLimit, a.logger, a.metrics)
	defer rateLimiter.Close()

	handler := mcp.NewHandler(a.registry, a.dispatcher, a.logger,
		mcp.WithMetrics(a.metrics),
		mcp.WithRateLimiter(rateLimiter),
	)

	if a.cfg.Watch {
		watcher, err := config.NewWebhookWatcher(a.store, a.logger, config.WithWatcherMetrics(a.metrics))
		if err != nil {
			a.logger.Warn("Webhook file watcher unavailable", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			watcher.Start()
			defer func() { _ = watcher.Stop() }()
		}
	}

	if rep := config.CheckWebhookFile(a.store); rep.Result != config.CheckOK {
		a.logger.Warn("Webhook file has problems", map[string]interface{}{
			"file":     a.store.Path(),
			"result":   rep.Result,
			"problems": rep.Problems,
		})
	}

	if a.cfg.Server.Port == 0 {
		a.logger.Info("Serving MCP over stdio", map[string]interface{}{
			"webhook_file": a.store.Path(),
		})
		err := handler.ServeStdio(ctx, in, out)
		a.logger.Info("Stdio server stopped", nil)
		return err
	}
	return a.serveHTTP(ctx, handler)
}

func (a *app) serveHTTP(ctx context.Context, handler *mcp.Handler) error {
	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.RouterConfig{
		Health:   api.NewHealthChecker(a.store, a.registry, a.logger, version),
		Handler:  handler,
		Gatherer: a.promRegistry,
		Logger:   a.logger.WithPrefix("http"),
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port)),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("Serving MCP over HTTP", map[string]interface{}{
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down", map[string]interface{}{
		"sessions": handler.SessionCount(),
	})

	// Sessions first so hijacked WebSocket connections do not hold Shutdown
	handler.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown incomplete", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return nil
}
