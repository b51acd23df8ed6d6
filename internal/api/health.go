// Package api serves the HTTP endpoints of the server: health probes,
// Prometheus metrics and the MCP WebSocket.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/in2out/mattermost-s-mcp/internal/config"
	"github.com/in2out/mattermost-s-mcp/internal/tools"
	"github.com/in2out/mattermost-s-mcp/internal/webhooks"
	"github.com/in2out/mattermost-s-mcp/pkg/observability"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status  HealthStatus           `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version"`
	Uptime     float64                    `json:"uptime_seconds"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// LivenessResponse represents a simple liveness check response
type LivenessResponse struct {
	Status    HealthStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Alive     bool         `json:"alive"`
}

// HealthChecker answers the health probes. Readiness means the webhook
// file loads; problems that only matter for some calls, like a stale
// default channel, degrade without failing.
type HealthChecker struct {
	store        *webhooks.Store
	toolRegistry *tools.Registry
	logger       observability.Logger
	version      string
	startTime    time.Time
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(store *webhooks.Store, toolRegistry *tools.Registry, logger observability.Logger, version string) *HealthChecker {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &HealthChecker{
		store:        store,
		toolRegistry: toolRegistry,
		logger:       logger,
		version:      version,
		startTime:    time.Now(),
	}
}

// Liveness only fails if the process cannot answer at all
func (h *HealthChecker) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now(),
		Alive:     true,
	})
}

// Readiness checks the webhook file and the tool catalog
func (h *HealthChecker) Readiness(c *gin.Context) {
	response := h.checkReadiness()

	status := http.StatusOK
	if response.Status == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, response)
}

func (h *HealthChecker) checkReadiness() *HealthResponse {
	components := map[string]ComponentHealth{
		"webhook_config": h.checkWebhookConfig(),
		"tool_registry":  h.checkToolRegistry(),
	}

	overall := HealthStatusHealthy
	for _, comp := range components {
		switch comp.Status {
		case HealthStatusUnhealthy:
			overall = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if overall == HealthStatusHealthy {
				overall = HealthStatusDegraded
			}
		}
	}

	if overall == HealthStatusUnhealthy {
		h.logger.Warn("Readiness check failed", map[string]interface{}{
			"webhook_config": components["webhook_config"].Message,
		})
	}

	return &HealthResponse{
		Status:     overall,
		Timestamp:  time.Now(),
		Version:    h.version,
		Uptime:     time.Since(h.startTime).Seconds(),
		Components: components,
	}
}

func (h *HealthChecker) checkWebhookConfig() ComponentHealth {
	report := config.CheckWebhookFile(h.store)
	switch report.Result {
	case config.CheckInvalid:
		return ComponentHealth{Status: HealthStatusUnhealthy, Message: report.Err.Error()}
	case config.CheckWarning:
		return ComponentHealth{
			Status:  HealthStatusDegraded,
			Message: "webhook file has problems",
			Details: map[string]interface{}{"problems": report.Problems},
		}
	default:
		return ComponentHealth{Status: HealthStatusHealthy}
	}
}

func (h *HealthChecker) checkToolRegistry() ComponentHealth {
	count := h.toolRegistry.Count()
	if count == 0 {
		return ComponentHealth{Status: HealthStatusUnhealthy, Message: "no tools registered"}
	}
	return ComponentHealth{
		Status:  HealthStatusHealthy,
		Details: map[string]interface{}{"tool_count": count},
	}
}

// RegisterRoutes registers health check routes with the Gin router
func (h *HealthChecker) RegisterRoutes(router *gin.Engine) {
	health := router.Group("/health")
	{
		health.GET("/live", h.Liveness)
		health.GET("/ready", h.Readiness)
	}
}
