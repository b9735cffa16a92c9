package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/praxisworks/hrdesk/internal/llm"
	"github.com/praxisworks/hrdesk/internal/models"
)

var mentionSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"mentions": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"text": map[string]interface{}{
						"type":        "string",
						"description": "The mention exactly as written in the task.",
					},
					"kind": map[string]interface{}{
						"type": "string",
						"enum": []interface{}{
							"employee", "project", "customer", "wiki",
							"department", "location", "skill", "will", "unknown",
						},
					},
				},
				"required":             []string{"text", "kind"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"mentions"},
	"additionalProperties": false,
}

const mentionPrompt = `Extract every mention of a person, project, customer company,
wiki topic, department, office location, skill or development goal
(will) from the task below. Copy each mention exactly as written.
Pronouns referring to the requester (me, my) count as employee
mentions. Do not invent mentions that are not in the text.`

// extractMentions asks the model to list entity mentions in the task
// text. Failures count toward the consecutive-failure cap.
func (r *Resolver) extractMentions(ctx context.Context, text string) ([]mention, models.TokenUsage, error) {
	var usage models.TokenUsage
	var out struct {
		Mentions []mention `json:"mentions"`
	}
	for {
		res, err := r.model.Complete(ctx, llm.Request{
			Role:       "resolver",
			Model:      r.modelCfg.ResolverModel,
			Messages:   []llm.Message{{Role: "system", Content: mentionPrompt}, {Role: "user", Content: text}},
			SchemaName: "entity_mentions",
			Schema:     mentionSchema,
		}, &out)
		if res != nil {
			usage.Add(res.Usage)
		}
		if err == nil {
			r.modelFails = 0
			return dedupe(out.Mentions), usage, nil
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, usage, err
		}
		r.modelFails++
		r.logger.Warn("mention extraction failed",
			zap.Int("consecutive", r.modelFails), zap.Error(err))
		if r.modelFails >= r.cfg.MaxFailures {
			return nil, usage, ErrStuck
		}
	}
}

type choice struct {
	Decision    string `json:"decision"`
	CandidateID string `json:"candidate_id"`
}

var choiceSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"decision": map[string]interface{}{
			"type": "string",
			"enum": []interface{}{"match", "none", "ambiguous"},
		},
		"candidate_id": map[string]interface{}{
			"type":        "string",
			"description": "The id of the matching candidate. Empty unless decision is match.",
		},
	},
	"required":             []string{"decision", "candidate_id"},
	"additionalProperties": false,
}

// modelChoice resolves one mention against a bounded candidate list.
// The model may only pick a listed candidate, declare no match, or
// declare the mention ambiguous.
func (r *Resolver) modelChoice(ctx context.Context, m mention, cands []candidate) (*choice, models.TokenUsage, error) {
	var usage models.TokenUsage

	var sb strings.Builder
	fmt.Fprintf(&sb, "Mention: %q (kind hint: %s)\nCandidates:\n", m.Text, m.Kind)
	for _, c := range cands {
		fmt.Fprintf(&sb, "- id=%s kind=%s name=%q (similarity %d)\n", c.id, c.kind, c.name, c.score)
	}
	sb.WriteString("\nPick the candidate the mention refers to. If several fit equally well, answer ambiguous. If none fits, answer none.")

	var out choice
	for {
		res, err := r.model.Complete(ctx, llm.Request{
			Role:       "resolver",
			Model:      r.modelCfg.ResolverModel,
			Messages:   []llm.Message{{Role: "user", Content: sb.String()}},
			SchemaName: "candidate_choice",
			Schema:     choiceSchema,
		}, &out)
		if res != nil {
			usage.Add(res.Usage)
		}
		if err == nil {
			r.modelFails = 0
			return &out, usage, nil
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, usage, err
		}
		r.modelFails++
		r.logger.Warn("candidate choice failed",
			zap.String("mention", m.Text),
			zap.Int("consecutive", r.modelFails), zap.Error(err))
		if r.modelFails >= r.cfg.MaxFailures {
			return nil, usage, ErrStuck
		}
	}
}

func dedupe(ms []mention) []mention {
	seen := make(map[string]bool, len(ms))
	out := ms[:0]
	for _, m := range ms {
		key := normalize(m.Text)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}
