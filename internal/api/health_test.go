package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/in2out/mattermost-s-mcp/internal/mcp"
	"github.com/in2out/mattermost-s-mcp/internal/metrics"
	"github.com/in2out/mattermost-s-mcp/internal/tools"
	"github.com/in2out/mattermost-s-mcp/internal/webhooks"
)

type testEnv struct {
	path   string
	router *gin.Engine
}

func setupTestRouter(t *testing.T, content string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	path := filepath.Join(t.TempDir(), "webhooks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	store := webhooks.NewStore(path)
	registry := tools.NewRegistry()
	registry.Register(tools.NewWebhookTools(store, webhooks.NewSender(time.Second), nil))

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	dispatcher := tools.NewDispatcher(registry, nil, m, nil)
	handler := mcp.NewHandler(registry, dispatcher, nil, mcp.WithMetrics(m))

	router := NewRouter(RouterConfig{
		Health:   NewHealthChecker(store, registry, nil, "0.1.0"),
		Handler:  handler,
		Gatherer: reg,
	})
	return &testEnv{path: path, router: router}
}

func get(t *testing.T, router *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

const healthyConfig = "default_channel: ops\nwebhooks:\n  - channel: ops\n    url: https://chat.example.com/hooks/abcdef123\n"

func TestHealthChecker_Liveness(t *testing.T) {
	env := setupTestRouter(t, healthyConfig)

	w := get(t, env.router, "/health/live")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp LivenessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Alive)
	assert.Equal(t, HealthStatusHealthy, resp.Status)
}

func TestHealthChecker_Readiness(t *testing.T) {
	tests := []struct {
		name    string
		content string
		code    int
		status  HealthStatus
	}{
		{"healthy", healthyConfig, http.StatusOK, HealthStatusHealthy},
		{"stale default", "default_channel: gone\nwebhooks: []\n", http.StatusOK, HealthStatusDegraded},
		{"broken file", "webhooks: {}\n", http.StatusServiceUnavailable, HealthStatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestRouter(t, tt.content)

			w := get(t, env.router, "/health/ready")
			assert.Equal(t, tt.code, w.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, "0.1.0", resp.Version)
			assert.Contains(t, resp.Components, "webhook_config")
		})
	}
}

func TestHealthChecker_ReadinessFollowsFile(t *testing.T) {
	env := setupTestRouter(t, healthyConfig)
	assert.Equal(t, http.StatusOK, get(t, env.router, "/health/ready").Code)

	require.NoError(t, os.Remove(env.path))
	assert.Equal(t, http.StatusServiceUnavailable, get(t, env.router, "/health/ready").Code)
}

func TestRouter_Metrics(t *testing.T) {
	env := setupTestRouter(t, healthyConfig)

	w := get(t, env.router, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mattermost_mcp_active_sessions")
}

func TestRouter_WebSocket(t *testing.T) {
	env := setupTestRouter(t, healthyConfig)
	server := httptest.NewServer(env.router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, strings.Replace(server.URL, "http", "ws", 1)+"/ws", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	require.NoError(t, wsjson.Write(ctx, conn, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]interface{}{"name": "list_webhooks"},
	}))

	var resp struct {
		Result map[string]interface{} `json:"result"`
		Error  *mcp.MCPError          `json:"error"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &resp))
	require.Nil(t, resp.Error)

	content := resp.Result["content"].([]interface{})
	text := content[0].(map[string]interface{})["text"].(string)
	assert.Contains(t, text, `"default": "ops"`)
	assert.NotContains(t, text, "abcdef123")
}
