package api

import (
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/in2out/mattermost-s-mcp/internal/mcp"
	"github.com/in2out/mattermost-s-mcp/pkg/observability"
)

// RouterConfig holds what NewRouter wires together
type RouterConfig struct {
	Health   *HealthChecker
	Handler  *mcp.Handler
	Gatherer prometheus.Gatherer
	Logger   observability.Logger
}

// NewRouter builds the gin engine for HTTP mode
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	cfg.Health.RegisterRoutes(router)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	router.GET("/ws", func(c *gin.Context) {
		conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			Subprotocols:   []string{"mcp"},
			OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
		})
		if err != nil {
			logger.Error("Failed to accept WebSocket connection", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}

		cfg.Handler.HandleConnection(conn, c.Request)
	})

	return router
}

// requestLogger logs every HTTP request at debug level
func requestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if status >= http.StatusInternalServerError {
			logger.Warn("HTTP request failed", fields)
			return
		}
		logger.Debug("HTTP request", fields)
	}
}
