package executor

// maxPlanEntries bounds the remaining-step plan kept from a decoded
// step. Strict structured output cannot carry maxItems, so the bound is
// applied after parsing.
const maxPlanEntries = 5

// stepSchema builds the structured-output schema for one solver step.
// The tool field is a closed enum over the registered tool names, so
// the model cannot invent actions; the terminal pseudo-tool carries
// the outcome fields. Strict mode requires every property listed in
// required and additionalProperties false on every object, so
// non-terminal steps fill the terminal fields with empty sentinels.
func stepSchema(toolNames []string, outcomes []string) map[string]interface{} {
	names := make([]interface{}, len(toolNames))
	for i, n := range toolNames {
		names[i] = n
	}
	outs := make([]interface{}, 0, len(outcomes)+1)
	for _, o := range outcomes {
		outs = append(outs, o)
	}
	// empty sentinel for non-terminal steps
	outs = append(outs, "")
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"previous_step_error_if_exists": map[string]interface{}{
				"type":        "string",
				"description": "If the previous tool call failed, restate the error and how this step corrects course. Empty otherwise.",
			},
			"current_state": map[string]interface{}{
				"type":        "string",
				"description": "One or two sentences on what is known so far and what this step does.",
			},
			"plan_remaining_steps_brief": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Remaining plan, at most five brief steps including this one.",
			},
			"task_completed": map[string]interface{}{
				"type":        "boolean",
				"description": "True only on the terminal step, together with outcome and message.",
			},
			"tool": map[string]interface{}{
				"type": "string",
				"enum": names,
			},
			"args": map[string]interface{}{
				"type":        "string",
				"description": "The arguments for the chosen tool as a JSON object string, matching its input schema. \"{}\" when the tool takes none.",
			},
			"outcome": map[string]interface{}{
				"type":        "string",
				"enum":        outs,
				"description": "Terminal step only; empty otherwise.",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Final answer text for the caller. Terminal step only, empty otherwise.",
			},
			"links": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"type": map[string]interface{}{"type": "string"},
						"id":   map[string]interface{}{"type": "string"},
					},
					"required":             []string{"type", "id"},
					"additionalProperties": false,
				},
				"description": "Entities the answer refers to, for UI navigation. Empty unless terminal.",
			},
		},
		"required": []string{
			"previous_step_error_if_exists",
			"current_state",
			"plan_remaining_steps_brief",
			"task_completed",
			"tool",
			"args",
			"outcome",
			"message",
			"links",
		},
		"additionalProperties": false,
	}
}

// terminalOutcomes is the closed set a solver step may finish with.
// Security denials come from the watchdog, not the solver, so they are
// not offered here.
func terminalOutcomes() []string {
	return []string{
		"ok_answer",
		"ok_not_found",
		"none_clarification_needed",
		"none_unsupported",
	}
}
