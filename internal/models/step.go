package models

import (
	"encoding/json"
	"strings"
)

// ToolErrorKind classifies a tool dispatch failure. NotFound failures are
// local to the loop; backend failures abort the task.
type ToolErrorKind string

const (
	ToolErrorNotFound   ToolErrorKind = "not_found"
	ToolErrorBadRequest ToolErrorKind = "bad_request"
	ToolErrorBackend    ToolErrorKind = "backend"
)

// ToolError is the typed error side of a ToolResult.
type ToolError struct {
	Kind    ToolErrorKind          `json:"kind"`
	Message string                 `json:"message"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

func (e *ToolError) Error() string { return string(e.Kind) + ": " + e.Message }

// Step is one iteration of the reasoning loop as decided by the model.
// Either Tool names a registered tool with schema-valid Args, or
// TaskCompleted is set with no tool call.
type Step struct {
	PrevStepError  string   `json:"previous_step_error_if_exists"`
	CurrentState   string   `json:"current_state"`
	TaskCompleted  bool     `json:"task_completed"`
	RemainingSteps []string `json:"plan_remaining_steps_brief"`
	Tool           string   `json:"tool"`

	// Args carries the tool argument object as JSON text. Strict
	// structured output cannot express a freeform object, so the model
	// emits the object as a string and dispatch decodes it.
	Args string `json:"args"`

	// Terminal fields, meaningful only when TaskCompleted is set.
	Outcome Outcome `json:"outcome"`
	Message string  `json:"message"`
	Links   []Link  `json:"links"`
}

// ArgsRaw returns the argument object for dispatch; nil when the step
// carries no arguments.
func (s *Step) ArgsRaw() json.RawMessage {
	trimmed := strings.TrimSpace(s.Args)
	if trimmed == "" {
		return nil
	}
	return json.RawMessage(trimmed)
}

// ToolResult is the outcome of dispatching a Step's tool call. Never
// mutated after creation.
type ToolResult struct {
	Tool    string          `json:"tool"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Err     *ToolError      `json:"error,omitempty"`
}
