package executor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/praxisworks/hrdesk/internal/history"
	"github.com/praxisworks/hrdesk/internal/llm"
	"github.com/praxisworks/hrdesk/internal/models"
	"github.com/praxisworks/hrdesk/internal/tools"
)

const solverInstructions = `You are the task solver of an internal HR and project assistant.
You work in steps. Each step you either call exactly one tool or, when
the task is done, set task_completed with an outcome and a final message.

Rules:
- Keep plan_remaining_steps_brief to at most five steps.
- Put the tool arguments in args as a JSON object string matching the
  tool's input schema; use "{}" when the tool takes none.
- Mentions in the task text may appear as {kind:id}; pass the id to tools.
- When a lookup returns nothing and you have no other lead, finish with
  outcome ok_not_found and say plainly what was not found.
- If the task is not something your tools can do, finish with
  outcome none_unsupported.
- If the task is ambiguous in a way tools cannot settle, finish with
  outcome none_clarification_needed and ask one concrete question.
- Attach links for every employee, project, customer or wiki page your
  final message refers to.
- Never fabricate data. Everything in your answer must come from tool
  results or the task context.`

// buildMessages assembles the full conversation for one solver call:
// system instructions, the task context, then the transcript so far.
func buildMessages(tc *models.TaskContext, reg *tools.Registry, buf *history.Buffer) []llm.Message {
	catalog, _ := json.Marshal(reg.Catalog())

	var sys strings.Builder
	sys.WriteString(solverInstructions)
	sys.WriteString("\n\nAvailable tools:\n")
	sys.Write(catalog)

	var user strings.Builder
	fmt.Fprintf(&user, "Caller: %s (%s, %s)\n", tc.Identity.Name, tc.Identity.Role, tc.Identity.Department)
	if tc.Solver.Today != "" {
		fmt.Fprintf(&user, "Today: %s\n", tc.Solver.Today)
	}
	if len(tc.Solver.Entities) > 0 {
		ents, _ := json.Marshal(tc.Solver.Entities)
		fmt.Fprintf(&user, "Resolved entities: %s\n", ents)
	}
	if len(tc.Solver.Unresolved) > 0 {
		fmt.Fprintf(&user, "Unresolved mentions: %s\n", strings.Join(tc.Solver.Unresolved, ", "))
	}
	fmt.Fprintf(&user, "\nTask: %s", tc.Solver.TaskText)

	msgs := []llm.Message{
		{Role: "system", Content: sys.String()},
		{Role: "user", Content: user.String()},
	}
	for _, e := range buf.Entries() {
		switch e.Kind {
		case history.KindStep:
			msgs = append(msgs, llm.Message{Role: "assistant", Content: e.Content})
		case history.KindSummary:
			msgs = append(msgs, llm.Message{Role: "user", Content: "Summary of earlier steps: " + e.Content})
		default:
			msgs = append(msgs, llm.Message{Role: "user", Content: "Tool result: " + e.Content})
		}
	}
	return msgs
}
