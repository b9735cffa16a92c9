package pipeline

import (
	"context"

	"github.com/praxisworks/hrdesk/internal/executor"
	"github.com/praxisworks/hrdesk/internal/llm"
	"github.com/praxisworks/hrdesk/internal/models"
)

const guestPrompt = `You answer questions from visitors who are not employees of the
company. You may talk only about public information: office locations
and addresses, open positions, products and services, and how to get
in contact. You have no tools and no access to internal data. Answer
briefly and politely. If you genuinely cannot answer from public
knowledge about the company, say so.`

var guestSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"message": map[string]interface{}{"type": "string"},
	},
	"required":             []string{"message"},
	"additionalProperties": false,
}

// handleGuest answers an allowed guest task with a single tool-less
// model call. Guests never reach the solver loop.
func (p *Pipeline) handleGuest(ctx context.Context, tc *models.TaskContext) executor.Result {
	if err := p.tracker.WaitModelCall(ctx); err != nil {
		return executor.Result{Outcome: models.OutcomeTimeout, Reason: "deadline waiting for model slot"}
	}

	var out struct {
		Message string `json:"message"`
	}
	res, err := p.model.Complete(ctx, llm.Request{
		Role:  "guest",
		Model: p.modelCfg.GuestModel,
		Messages: []llm.Message{
			{Role: "system", Content: guestPrompt},
			{Role: "user", Content: tc.Task.Text},
		},
		SchemaName: "guest_answer",
		Schema:     guestSchema,
	}, &out)

	result := executor.Result{Steps: 1}
	if res != nil {
		result.Usage = res.Usage
	}
	if err != nil {
		result.Outcome = models.OutcomeErrorInternal
		result.Reason = "guest answer model call failed: " + err.Error()
		return result
	}
	result.Outcome = models.OutcomeOKAnswer
	result.Message = out.Message
	return result
}
