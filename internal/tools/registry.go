// Package tools holds the closed registry of actions the step executor
// may dispatch. The registry is read-only after initialization and safe
// for concurrent reads.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/praxisworks/hrdesk/internal/metrics"
	"github.com/praxisworks/hrdesk/internal/models"
	"github.com/praxisworks/hrdesk/internal/platform"
)

// ResponseTool is the terminal pseudo-tool: the step that carries the
// final answer names it instead of a data tool. It is registered so the
// model schema stays a single closed set, but never dispatched.
const ResponseTool = "agent_response"

var (
	// ErrUnknownTool means a step named a tool that is not registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrSealed means Register was called after the registry was sealed.
	ErrSealed = errors.New("registry sealed")
)

// Handler executes a tool. Failures must be returned as *models.ToolError
// so the executor can tell local not-found conditions from fatal ones;
// any other error is treated as a backend failure.
type Handler func(ctx context.Context, args json.RawMessage) (interface{}, error)

// Tool binds a name to its schemas and handler.
type Tool struct {
	Name         string
	Description  string
	Mutating     bool
	InputSchema  map[string]interface{}
	OutputSchema map[string]interface{}
	Handler      Handler
}

// Registry is the closed tool set. Built once at session start, then
// sealed; Dispatch validates the name and arguments before execution.
type Registry struct {
	tools  map[string]*Tool
	sealed bool
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// Register adds a tool. Duplicate names and post-seal registration fail.
func (r *Registry) Register(t *Tool) error {
	if r.sealed {
		return ErrSealed
	}
	if t.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	if t.Name != ResponseTool && t.Handler == nil {
		return fmt.Errorf("tool %q has no handler", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// Seal freezes the registry. After Seal the registry is read-only and
// safe for concurrent use.
func (r *Registry) Seal() { r.sealed = true }

// Get looks up a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog returns the prompt-facing description of every tool.
func (r *Registry) Catalog() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		entry := map[string]interface{}{
			"name":        t.Name,
			"description": t.Description,
		}
		if t.InputSchema != nil {
			entry["input_schema"] = t.InputSchema
		}
		if t.Mutating {
			entry["mutating"] = true
		}
		out = append(out, entry)
	}
	return out
}

// Dispatch validates the tool name and argument shape, executes the
// handler and folds the result into a ToolResult. Dispatch never panics
// the loop: every failure becomes a typed ToolResult error.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) models.ToolResult {
	t, ok := r.tools[name]
	if !ok || name == ResponseTool {
		metrics.ToolDispatches.WithLabelValues(name, "unknown").Inc()
		return models.ToolResult{
			Tool: name,
			Err: &models.ToolError{
				Kind:    models.ToolErrorBadRequest,
				Message: fmt.Sprintf("unknown tool %q", name),
			},
		}
	}

	if err := validateArgs(t.InputSchema, args); err != nil {
		metrics.ToolDispatches.WithLabelValues(name, "invalid_args").Inc()
		return models.ToolResult{
			Tool: name,
			Err: &models.ToolError{
				Kind:    models.ToolErrorBadRequest,
				Message: err.Error(),
			},
		}
	}

	payload, err := t.Handler(ctx, args)
	if err != nil {
		toolErr := classifyError(err)
		metrics.ToolDispatches.WithLabelValues(name, string(toolErr.Kind)).Inc()
		r.logger.Debug("Tool dispatch failed",
			zap.String("tool", name),
			zap.String("kind", string(toolErr.Kind)),
			zap.String("message", toolErr.Message),
		)
		return models.ToolResult{Tool: name, Err: toolErr}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		metrics.ToolDispatches.WithLabelValues(name, "encode_error").Inc()
		return models.ToolResult{
			Tool: name,
			Err: &models.ToolError{
				Kind:    models.ToolErrorBackend,
				Message: fmt.Sprintf("encode tool payload: %v", err),
			},
		}
	}

	metrics.ToolDispatches.WithLabelValues(name, "ok").Inc()
	return models.ToolResult{Tool: name, OK: true, Payload: data}
}

func classifyError(err error) *models.ToolError {
	var toolErr *models.ToolError
	if errors.As(err, &toolErr) {
		return toolErr
	}
	if platform.NotFound(err) {
		return &models.ToolError{Kind: models.ToolErrorNotFound, Message: err.Error()}
	}
	return &models.ToolError{Kind: models.ToolErrorBackend, Message: err.Error()}
}

// validateArgs checks the argument object against the declared input
// schema: required properties present, declared primitive types respected.
// Deep JSON Schema semantics are enforced upstream by constrained
// decoding; this is the dispatch-side guard.
func validateArgs(schema map[string]interface{}, args json.RawMessage) error {
	if schema == nil {
		return nil
	}
	var obj map[string]interface{}
	if len(args) == 0 {
		obj = map[string]interface{}{}
	} else if err := json.Unmarshal(args, &obj); err != nil {
		return fmt.Errorf("arguments are not a JSON object: %v", err)
	}

	if required, ok := schema["required"].([]string); ok {
		for _, field := range required {
			if _, present := obj[field]; !present {
				return fmt.Errorf("missing required argument %q", field)
			}
		}
	}

	props, _ := schema["properties"].(map[string]interface{})
	for field, value := range obj {
		def, known := props[field]
		if !known {
			return fmt.Errorf("unexpected argument %q", field)
		}
		defMap, _ := def.(map[string]interface{})
		want, _ := defMap["type"].(string)
		if want == "" || value == nil {
			continue
		}
		if !typeMatches(want, value) {
			return fmt.Errorf("argument %q: expected %s", field, want)
		}
	}
	return nil
}

func typeMatches(want string, value interface{}) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "number", "integer":
		_, ok := value.(float64)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	}
	return true
}
