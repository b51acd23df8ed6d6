// Package mcp implements the MCP JSON-RPC protocol on top of the tool
// dispatcher, over stdio and over WebSocket.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/in2out/mattermost-s-mcp/internal/metrics"
	"github.com/in2out/mattermost-s-mcp/internal/middleware"
	"github.com/in2out/mattermost-s-mcp/internal/tools"
	"github.com/in2out/mattermost-s-mcp/pkg/observability"
)

const (
	jsonRPCVersion = "2.0"

	// DefaultProtocolVersion is answered to clients that do not name one
	DefaultProtocolVersion = "2024-11-05"
)

// JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeRateLimited    = -32003
)

// MCPMessage represents a JSON-RPC message in the MCP protocol. An empty
// ID marks a notification.
type MCPMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *MCPError       `json:"error,omitempty"`
}

// IsNotification reports whether msg expects no response
func (m *MCPMessage) IsNotification() bool {
	return len(m.ID) == 0
}

// MCPError represents a JSON-RPC error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// ServerInfo identifies the server in initialize and get_manifest
type ServerInfo struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Instructions string `json:"-"`
}

// DefaultServerInfo returns the server identity
func DefaultServerInfo() ServerInfo {
	return ServerInfo{
		Name:    "mattermost-s-mcp",
		Version: "0.1.0",
		Instructions: "Sends messages to Mattermost incoming webhooks. Use list_webhooks to see the " +
			"registered channels, set_default to choose the default channel and send_message to post.",
	}
}

// Session represents an MCP session. Stdio has exactly one; every
// WebSocket connection gets its own.
type Session struct {
	ID           string
	Transport    string
	Initialized  bool
	ClientName   string
	CreatedAt    time.Time
	LastActivity time.Time

	cancel context.CancelFunc
}

// Handler manages MCP protocol sessions
type Handler struct {
	tools       *tools.Registry
	dispatcher  *tools.Dispatcher
	rateLimiter *middleware.RateLimiter
	metrics     *metrics.Metrics
	info        ServerInfo

	sessions   map[string]*Session
	sessionsMu sync.RWMutex

	logger observability.Logger
}

// levelSetter is satisfied by loggers whose level can change at runtime
type levelSetter interface {
	SetLevel(level observability.LogLevel)
}

// Option configures a Handler
type Option func(*Handler)

// WithMetrics records protocol metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithRateLimiter bounds tools/call per session
func WithRateLimiter(rl *middleware.RateLimiter) Option {
	return func(h *Handler) { h.rateLimiter = rl }
}

// WithServerInfo overrides the advertised server identity
func WithServerInfo(info ServerInfo) Option {
	return func(h *Handler) { h.info = info }
}

// NewHandler creates a new MCP handler
func NewHandler(toolRegistry *tools.Registry, dispatcher *tools.Dispatcher, logger observability.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	h := &Handler{
		tools:      toolRegistry,
		dispatcher: dispatcher,
		info:       DefaultServerInfo(),
		sessions:   make(map[string]*Session),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) log() observability.Logger {
	return h.logger
}

// openSession registers a session and returns it
func (h *Handler) openSession(id, transport string, cancel context.CancelFunc) *Session {
	now := time.Now()
	s := &Session{
		ID:           id,
		Transport:    transport,
		CreatedAt:    now,
		LastActivity: now,
		cancel:       cancel,
	}

	h.sessionsMu.Lock()
	h.sessions[id] = s
	h.sessionsMu.Unlock()

	h.metrics.SessionStarted()
	return s
}

func (h *Handler) closeSession(id string) {
	h.sessionsMu.Lock()
	_, exists := h.sessions[id]
	delete(h.sessions, id)
	h.sessionsMu.Unlock()

	if !exists {
		return
	}
	if h.rateLimiter != nil {
		h.rateLimiter.Remove(id)
	}
	h.metrics.SessionEnded()
}

// SessionCount returns the number of open sessions
func (h *Handler) SessionCount() int {
	h.sessionsMu.RLock()
	defer h.sessionsMu.RUnlock()
	return len(h.sessions)
}

// CloseAll cancels every open session. WebSocket connections are hijacked
// and not closed by http.Server.Shutdown, so this is called on shutdown.
func (h *Handler) CloseAll() {
	h.sessionsMu.RLock()
	cancels := make([]context.CancelFunc, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.cancel != nil {
			cancels = append(cancels, s.cancel)
		}
	}
	h.sessionsMu.RUnlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// HandleMessage processes one raw JSON-RPC message and returns the
// response to send back, or nil when none is due.
func (h *Handler) HandleMessage(ctx context.Context, sessionID string, data []byte) (response *MCPMessage) {
	var msg MCPMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.log().Warn("Failed to parse message", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return errorResponse(nil, CodeParseError, "Parse error")
	}

	defer func() {
		if r := recover(); r != nil {
			h.log().Error("Panic while handling request", map[string]interface{}{
				"session_id": sessionID,
				"method":     msg.Method,
				"panic":      fmt.Sprint(r),
			})
			response = nil
			if !msg.IsNotification() {
				response = errorResponse(msg.ID, CodeInternalError, "Internal error")
			}
		}
	}()

	if msg.JSONRPC != jsonRPCVersion {
		return errorResponse(msg.ID, CodeInvalidRequest, "Invalid JSON-RPC version")
	}
	if msg.Method == "" {
		return errorResponse(msg.ID, CodeInvalidRequest, "Method must be a non-empty string")
	}

	h.touch(sessionID)
	transport := "unknown"
	if s := h.session(sessionID); s != nil {
		transport = s.Transport
	}
	h.metrics.RecordMessage(transport, msg.Method)

	if msg.IsNotification() {
		h.handleNotification(sessionID, &msg)
		return nil
	}

	resp, err := h.handleMessage(ctx, sessionID, &msg)
	if err != nil {
		var rpcErr *MCPError
		if errors.As(err, &rpcErr) {
			return &MCPMessage{JSONRPC: jsonRPCVersion, ID: msg.ID, Error: rpcErr}
		}
		h.log().Error("Request failed", map[string]interface{}{
			"session_id": sessionID,
			"method":     msg.Method,
			"error":      err.Error(),
		})
		return errorResponse(msg.ID, CodeInternalError, err.Error())
	}
	return resp
}

// handleMessage processes an MCP request
func (h *Handler) handleMessage(ctx context.Context, sessionID string, msg *MCPMessage) (*MCPMessage, error) {
	switch msg.Method {
	case "initialize":
		return h.handleInitialize(sessionID, msg)
	case "ping":
		return result(msg, map[string]interface{}{}), nil
	case "shutdown":
		return h.handleShutdown(sessionID, msg)
	case "tools/list":
		return h.handleToolsList(msg)
	case "tools/call":
		return h.handleToolCall(ctx, sessionID, msg)
	case "get_manifest":
		return h.handleGetManifest(msg)
	case "logging/setLevel":
		return h.handleLoggingSetLevel(msg)
	default:
		return nil, &MCPError{Code: CodeMethodNotFound, Message: fmt.Sprintf("Method not found: %s", msg.Method)}
	}
}

// handleNotification processes a message without an id. Nothing is ever
// written back.
func (h *Handler) handleNotification(sessionID string, msg *MCPMessage) {
	switch msg.Method {
	case "notifications/initialized", "initialized":
		h.sessionsMu.Lock()
		if s, exists := h.sessions[sessionID]; exists {
			s.Initialized = true
		}
		h.sessionsMu.Unlock()
		h.log().Debug("Client finished initialization", map[string]interface{}{"session_id": sessionID})
	default:
		h.log().Debug("Ignoring notification", map[string]interface{}{
			"session_id": sessionID,
			"method":     msg.Method,
		})
	}
}

// handleInitialize handles the initialize request. The client's protocol
// version is echoed back.
func (h *Handler) handleInitialize(sessionID string, msg *MCPMessage) (*MCPMessage, error) {
	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
		ClientInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"clientInfo"`
	}
	if len(msg.Params) > 0 {
		// malformed params fall back to defaults
		_ = json.Unmarshal(msg.Params, &params)
	}

	version := params.ProtocolVersion
	if version == "" {
		version = DefaultProtocolVersion
	}

	h.sessionsMu.Lock()
	if s, exists := h.sessions[sessionID]; exists {
		s.ClientName = params.ClientInfo.Name
	}
	h.sessionsMu.Unlock()

	h.log().Info("Client connected", map[string]interface{}{
		"session_id":       sessionID,
		"client_name":      valueOr(params.ClientInfo.Name, "unknown"),
		"client_version":   valueOr(params.ClientInfo.Version, "unknown"),
		"protocol_version": version,
	})

	return result(msg, map[string]interface{}{
		"protocolVersion": version,
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    h.info.Name,
			"version": h.info.Version,
		},
	}), nil
}

// handleShutdown handles shutdown requests. The transport keeps reading
// until the client goes away.
func (h *Handler) handleShutdown(sessionID string, msg *MCPMessage) (*MCPMessage, error) {
	h.log().Info("Client requested shutdown", map[string]interface{}{"session_id": sessionID})
	return result(msg, map[string]interface{}{}), nil
}

// handleToolsList handles tools/list requests
func (h *Handler) handleToolsList(msg *MCPMessage) (*MCPMessage, error) {
	return result(msg, map[string]interface{}{
		"tools": h.toolList(),
	}), nil
}

func (h *Handler) toolList() []map[string]interface{} {
	defs := h.tools.ListAll()

	toolList := make([]map[string]interface{}, 0, len(defs))
	for _, tool := range defs {
		toolList = append(toolList, map[string]interface{}{
			"name":        tool.Name,
			"description": tool.Description,
			"inputSchema": tool.InputSchema,
		})
	}
	return toolList
}

// handleToolCall handles tools/call requests. Tool failures are part of
// the result, not JSON-RPC errors.
func (h *Handler) handleToolCall(ctx context.Context, sessionID string, msg *MCPMessage) (*MCPMessage, error) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil, &MCPError{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid tool call params: %v", err)}
	}

	if h.rateLimiter != nil {
		if rl := h.rateLimiter.CheckRateLimit(sessionID, params.Name); !rl.Allowed {
			return nil, &MCPError{
				Code:    CodeRateLimited,
				Message: "Rate limit exceeded",
				Data: map[string]interface{}{
					"limit_type":  rl.LimitType,
					"retry_after": rl.RetryAfter.Seconds(),
				},
			}
		}
	}

	res := h.dispatcher.Call(tools.WithSessionID(ctx, sessionID), params.Name, params.Arguments)

	body := map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": res.Text,
			},
		},
	}
	if res.IsError {
		body["isError"] = true
		h.log().Warn("Tool call failed", map[string]interface{}{
			"session_id": sessionID,
			"tool":       params.Name,
			"error_kind": string(res.Kind),
		})
	}
	return result(msg, body), nil
}

// handleGetManifest describes the server and its tools
func (h *Handler) handleGetManifest(msg *MCPMessage) (*MCPMessage, error) {
	return result(msg, map[string]interface{}{
		"name":         h.info.Name,
		"version":      h.info.Version,
		"instructions": h.info.Instructions,
		"tools":        h.toolList(),
	}), nil
}

// handleLoggingSetLevel handles logging/setLevel requests
func (h *Handler) handleLoggingSetLevel(msg *MCPMessage) (*MCPMessage, error) {
	var params struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil, &MCPError{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid logging params: %v", err)}
	}

	newLevel, ok := observability.ParseLogLevel(params.Level)
	if !ok {
		return nil, &MCPError{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid log level: %s", params.Level)}
	}

	// the level is shared with every logger derived from the same root
	if setter, ok := h.logger.(levelSetter); ok {
		setter.SetLevel(newLevel)
	}

	h.logger.Info("Log level changed", map[string]interface{}{
		"new_level": params.Level,
	})
	return result(msg, map[string]interface{}{}), nil
}

func (h *Handler) session(id string) *Session {
	h.sessionsMu.RLock()
	defer h.sessionsMu.RUnlock()
	return h.sessions[id]
}

func (h *Handler) touch(id string) {
	h.sessionsMu.Lock()
	if s, exists := h.sessions[id]; exists {
		s.LastActivity = time.Now()
	}
	h.sessionsMu.Unlock()
}

func result(msg *MCPMessage, body interface{}) *MCPMessage {
	return &MCPMessage{
		JSONRPC: jsonRPCVersion,
		ID:      msg.ID,
		Result:  body,
	}
}

var nullID = json.RawMessage("null")

func errorResponse(id json.RawMessage, code int, message string) *MCPMessage {
	if len(id) == 0 {
		id = nullID
	}
	return &MCPMessage{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &MCPError{Code: code, Message: message},
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
