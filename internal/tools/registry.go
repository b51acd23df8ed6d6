// Package tools describes the MCP tools the server exposes and dispatches
// calls to them.
package tools

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// ToolDefinition defines a tool
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
	Handler     ToolHandler            `json:"-"`
}

// ToolHandler is a function that executes a tool. A string result is
// returned to the caller as is; anything else is rendered as JSON.
type ToolHandler func(ctx context.Context, args json.RawMessage) (interface{}, error)

// Provider supplies tool definitions to a Registry
type Provider interface {
	GetDefinitions() []ToolDefinition
}

// Registry is the tool catalog. It describes tools but never runs them;
// see Dispatcher.
type Registry struct {
	tools map[string]ToolDefinition
	mu    sync.RWMutex
}

// NewRegistry creates a new tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]ToolDefinition),
	}
}

// Register registers a tool provider
func (r *Registry) Register(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, def := range provider.GetDefinitions() {
		r.tools[def.Name] = def
	}
}

// ListAll returns all tools sorted by name
func (r *Registry) ListAll() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Get returns the tool registered under name
func (r *Registry) Get(name string) (ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	return tool, ok
}

// Count returns the number of registered tools
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
