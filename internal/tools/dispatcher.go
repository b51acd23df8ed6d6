package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/in2out/mattermost-s-mcp/internal/metrics"
	"github.com/in2out/mattermost-s-mcp/internal/tracing"
	"github.com/in2out/mattermost-s-mcp/internal/webhooks"
	"github.com/in2out/mattermost-s-mcp/pkg/observability"
)

// Result is the outcome of a tool call: either a success carrying Text
// (and Data for structured payloads) or a failure carrying Kind and an
// "Error: ..." Text.
type Result struct {
	IsError bool
	Kind    webhooks.ErrorKind
	Text    string
	Data    interface{}
}

// Success builds a successful result
func Success(text string, data interface{}) Result {
	return Result{Text: text, Data: data}
}

// Failure builds an error result from err
func Failure(err error) Result {
	return Result{
		IsError: true,
		Kind:    webhooks.KindOf(err),
		Text:    "Error: " + err.Error(),
	}
}

// Dispatcher validates tool arguments and runs the matching handler. Every
// failure, including a panic inside a handler, comes back as a Result.
type Dispatcher struct {
	registry   *Registry
	logger     observability.Logger
	metrics    *metrics.Metrics
	spanHelper *tracing.SpanHelper

	schemaMu sync.Mutex
	schemas  map[string]*gojsonschema.Schema
}

// NewDispatcher creates a dispatcher over registry. m and sh may be nil.
func NewDispatcher(registry *Registry, logger observability.Logger, m *metrics.Metrics, sh *tracing.SpanHelper) *Dispatcher {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Dispatcher{
		registry:   registry,
		logger:     logger,
		metrics:    m,
		spanHelper: sh,
		schemas:    make(map[string]*gojsonschema.Schema),
	}
}

// Call runs the named tool
func (d *Dispatcher) Call(ctx context.Context, name string, args json.RawMessage) (result Result) {
	start := time.Now()
	ctx, span := d.spanHelper.StartToolExecutionSpan(ctx, name, SessionIDFromContext(ctx))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Tool handler panicked", map[string]interface{}{
				"tool":  name,
				"panic": fmt.Sprint(r),
			})
			result = Failure(&webhooks.Error{Kind: webhooks.KindInternal, Message: fmt.Sprintf("internal error: %v", r)})
		}

		kind := ""
		if result.IsError {
			kind = string(result.Kind)
			tracing.RecordError(ctx, errors.New(result.Text), kind)
		}
		d.metrics.RecordToolCall(name, kind, time.Since(start))
	}()

	def, ok := d.registry.Get(name)
	if !ok || def.Handler == nil {
		d.logger.Warn("Unknown tool requested", map[string]interface{}{"tool": name})
		return Failure(webhooks.NewUnknownToolError(name))
	}

	args = dropNullOptionals(def.InputSchema, normalizeArgs(args))
	if err := d.validate(def, args); err != nil {
		d.logger.Debug("Tool arguments rejected", map[string]interface{}{
			"tool":  name,
			"error": err.Error(),
		})
		return Failure(err)
	}

	out, err := def.Handler(ctx, args)
	if err != nil {
		d.logger.Warn("Tool execution failed", map[string]interface{}{
			"tool":       name,
			"error_kind": string(webhooks.KindOf(err)),
			"error":      err.Error(),
		})
		return Failure(err)
	}

	return render(out)
}

// gojsonschema reports errors on the top-level object under this field
const rootField = "(root)"

// validate checks args against the tool's input schema
func (d *Dispatcher) validate(def ToolDefinition, args json.RawMessage) error {
	if def.InputSchema == nil {
		return nil
	}

	schema, err := d.schemaFor(def)
	if err != nil {
		return &webhooks.Error{Kind: webhooks.KindInternal, Message: fmt.Sprintf("invalid schema for tool %s", def.Name), Err: err}
	}

	res, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return webhooks.NewValidationError("arguments", "arguments must be a JSON object")
	}
	if res.Valid() {
		return nil
	}

	first := res.Errors()[0]
	field := first.Field()
	if p, ok := first.Details()["property"].(string); ok && field == rootField {
		field = p
	}
	if field == rootField {
		field = "arguments"
	}
	return webhooks.NewValidationError(field, first.Description())
}

func (d *Dispatcher) schemaFor(def ToolDefinition) (*gojsonschema.Schema, error) {
	d.schemaMu.Lock()
	defer d.schemaMu.Unlock()

	if s, ok := d.schemas[def.Name]; ok {
		return s, nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.InputSchema))
	if err != nil {
		return nil, err
	}
	d.schemas[def.Name] = s
	return s, nil
}

// normalizeArgs treats absent arguments as an empty object
func normalizeArgs(args json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}")
	}
	return trimmed
}

// dropNullOptionals removes optional arguments sent as null, which clients
// use to mean "not given". Required ones are kept so validation rejects them.
func dropNullOptionals(schema map[string]interface{}, args json.RawMessage) json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(args, &fields); err != nil {
		return args
	}

	required := make(map[string]bool)
	if names, ok := schema["required"].([]string); ok {
		for _, n := range names {
			required[n] = true
		}
	}

	dropped := false
	for name, value := range fields {
		if !required[name] && bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			delete(fields, name)
			dropped = true
		}
	}
	if !dropped {
		return args
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return args
	}
	return out
}

// render turns a handler's output into a success result
func render(out interface{}) Result {
	if s, ok := out.(string); ok {
		return Success(s, nil)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return Failure(&webhooks.Error{Kind: webhooks.KindInternal, Message: "failed to encode tool result", Err: err})
	}
	return Success(strings.TrimRight(buf.String(), "\n"), out)
}

type validatable interface {
	Validate() error
}

// decodeRequest decodes schema-checked arguments into a typed request
func decodeRequest[T validatable](args json.RawMessage) (T, error) {
	var req T
	if err := json.Unmarshal(normalizeArgs(args), &req); err != nil {
		return req, webhooks.NewValidationError("arguments", err.Error())
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}
