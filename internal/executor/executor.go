// Package executor runs the schema-guided step loop that actually
// solves a task: repeated structured model calls, each either naming
// one tool to dispatch or declaring the task complete.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/praxisworks/hrdesk/internal/budget"
	"github.com/praxisworks/hrdesk/internal/config"
	"github.com/praxisworks/hrdesk/internal/history"
	"github.com/praxisworks/hrdesk/internal/llm"
	"github.com/praxisworks/hrdesk/internal/metrics"
	"github.com/praxisworks/hrdesk/internal/models"
	"github.com/praxisworks/hrdesk/internal/tools"
)

// ModelClient is the slice of the LLM client the executor needs.
type ModelClient interface {
	Complete(ctx context.Context, req llm.Request, out interface{}) (*llm.Result, error)
}

// Result is what a finished (or aborted) step loop hands to the
// finalizer. Outcome may be a pipeline status; the finalizer maps it
// onto the closed response set.
type Result struct {
	Outcome models.Outcome
	Message string
	Links   []models.Link
	Steps   int
	Usage   models.TokenUsage

	// Reason is the internal failure detail, recorded in telemetry but
	// never shown to the caller.
	Reason string
}

// Executor drives the solver loop for one task at a time.
type Executor struct {
	model      ModelClient
	registry   *tools.Registry
	compressor *history.Compressor
	tracker    *budget.Tracker
	cfg        config.ExecutorConfig
	modelCfg   config.ModelConfig
	logger     *zap.Logger
}

func New(model ModelClient, reg *tools.Registry, comp *history.Compressor,
	tracker *budget.Tracker, cfg config.ExecutorConfig, modelCfg config.ModelConfig,
	logger *zap.Logger) *Executor {
	return &Executor{
		model:      model,
		registry:   reg,
		compressor: comp,
		tracker:    tracker,
		cfg:        cfg,
		modelCfg:   modelCfg,
		logger:     logger,
	}
}

// Run executes the step loop until a terminal step, a hard failure, or
// a bound is hit. The task deadline is enforced through the context.
func (e *Executor) Run(ctx context.Context, tc *models.TaskContext, bud *budget.TaskBudget) Result {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.TaskTimeout)
	defer cancel()

	ctx = tools.WithEnv(ctx, tools.Env{Task: tc.Task, Identity: tc.Identity})

	buf := history.NewBuffer()
	schema := stepSchema(e.registry.Names(), terminalOutcomes())

	res := Result{}
	consecutiveKind := models.ToolErrorKind("")
	consecutive := 0

	for step := 1; step <= e.cfg.MaxSteps; step++ {
		res.Steps = step

		compUsage, compErr := e.compressor.MaybeCompress(ctx, buf)
		res.Usage.Add(compUsage)
		if compErr != nil && ctx.Err() != nil {
			return e.abort(res, models.OutcomeTimeout, "task deadline during compression")
		}

		decided, usage, status, reason := e.decideStep(ctx, buildMessages(tc, e.registry, buf), schema)
		res.Usage.Add(usage)
		if err := bud.Spend(usage); err != nil {
			return e.abort(res, models.OutcomeRateLimited, err.Error())
		}
		if status != "" {
			return e.abort(res, status, reason)
		}
		truncatePlan(decided)

		buf.AppendJSON(history.KindStep, decided)

		if decided.TaskCompleted || decided.Tool == tools.ResponseTool {
			if !validTerminal(decided.Outcome) {
				metrics.StepsExecuted.WithLabelValues("schema_retry").Inc()
				buf.Append(history.KindResult, fmt.Sprintf(
					"invalid terminal outcome %q; finish with one of %v or keep working",
					decided.Outcome, terminalOutcomes()))
				if over := e.bumpFails(&consecutiveKind, &consecutive, models.ToolErrorBadRequest); over {
					return e.abort(res, models.OutcomeErrorInternal, "repeated invalid terminal steps")
				}
				continue
			}
			metrics.StepsExecuted.WithLabelValues("completed").Inc()
			res.Outcome = decided.Outcome
			res.Message = decided.Message
			res.Links = decided.Links
			e.logger.Info("task solved",
				zap.String("task_id", tc.Task.ID),
				zap.String("outcome", string(res.Outcome)),
				zap.Int("steps", res.Steps))
			return res
		}

		toolRes := e.registry.Dispatch(ctx, decided.Tool, decided.ArgsRaw())
		buf.AppendJSON(history.KindResult, toolRes)

		if toolRes.OK {
			metrics.StepsExecuted.WithLabelValues("tool_ok").Inc()
			consecutiveKind, consecutive = "", 0
			continue
		}
		metrics.StepsExecuted.WithLabelValues("tool_error").Inc()

		// A tool call cut short by the task deadline is a timeout, not a
		// backend fault; check before the backend abort.
		if ctx.Err() != nil {
			return e.abort(res, models.OutcomeTimeout, "task deadline during tool call")
		}
		if toolRes.Err.Kind == models.ToolErrorBackend {
			// Backend failures are not the model's to route around.
			// Abort without another model call.
			return e.abort(res, models.OutcomeServerError, toolRes.Err.Message)
		}
		if over := e.bumpFails(&consecutiveKind, &consecutive, toolRes.Err.Kind); over {
			return e.abort(res, models.OutcomeErrorInternal,
				fmt.Sprintf("stuck on %s failures from %s", toolRes.Err.Kind, toolRes.Tool))
		}
	}

	return e.abort(res, models.OutcomeMaxStepsExceeded,
		fmt.Sprintf("no terminal step within %d steps", e.cfg.MaxSteps))
}

// decideStep performs one structured solver call with bounded retries.
// Transport errors and rate limits retry with backoff; schema
// violations retry with a corrective message appended. A non-empty
// status means the loop must abort with it.
func (e *Executor) decideStep(ctx context.Context, msgs []llm.Message,
	schema map[string]interface{}) (*models.Step, models.TokenUsage, models.Outcome, string) {

	var usage models.TokenUsage
	schemaTries := 0
	transportTries := 0

	for {
		if err := e.tracker.WaitModelCall(ctx); err != nil {
			return nil, usage, models.OutcomeTimeout, "task deadline waiting for model slot"
		}

		var step models.Step
		result, err := e.model.Complete(ctx, llm.Request{
			Role:        "solver",
			Model:       e.modelCfg.SolverModel,
			Messages:    msgs,
			SchemaName:  "solver_step",
			Schema:      schema,
			Temperature: e.modelCfg.Temperature,
			MaxTokens:   e.modelCfg.MaxTokens,
		}, &step)
		if result != nil {
			usage.Add(result.Usage)
		}
		if err == nil {
			return &step, usage, "", ""
		}

		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			return nil, usage, models.OutcomeTimeout, "task deadline during model call"
		case errors.Is(err, llm.ErrSchemaViolation):
			schemaTries++
			if schemaTries > e.modelCfg.SchemaRetries {
				return nil, usage, models.OutcomeErrorInternal, "model kept violating the step schema"
			}
			msgs = append(msgs, llm.Message{
				Role:    "user",
				Content: "Your last reply did not match the required step format. Reply again with a single valid step object.",
			})
		case errors.Is(err, llm.ErrRateLimited):
			transportTries++
			if transportTries > e.modelCfg.TransportRetries {
				return nil, usage, models.OutcomeRateLimited, "model provider rate limit retries exhausted"
			}
			if !sleep(ctx, backoff(transportTries)) {
				return nil, usage, models.OutcomeTimeout, "task deadline during rate limit backoff"
			}
		default:
			transportTries++
			if transportTries > e.modelCfg.TransportRetries {
				return nil, usage, models.OutcomeServerError, fmt.Sprintf("model transport failed: %v", err)
			}
			if !sleep(ctx, backoff(transportTries)) {
				return nil, usage, models.OutcomeTimeout, "task deadline during transport backoff"
			}
		}
	}
}

func (e *Executor) abort(res Result, status models.Outcome, reason string) Result {
	res.Outcome = status
	res.Reason = reason
	e.logger.Warn("step loop aborted",
		zap.String("status", string(status)),
		zap.String("reason", reason),
		zap.Int("steps", res.Steps))
	return res
}

// bumpFails tracks consecutive failures of the same kind. Reports true
// once the cap is hit.
func (e *Executor) bumpFails(kind *models.ToolErrorKind, count *int, k models.ToolErrorKind) bool {
	if *kind == k {
		*count++
	} else {
		*kind, *count = k, 1
	}
	return *count >= e.cfg.MaxConsecutiveFails
}

// truncatePlan enforces the plan length bound the schema cannot carry.
func truncatePlan(s *models.Step) {
	if len(s.RemainingSteps) > maxPlanEntries {
		s.RemainingSteps = s.RemainingSteps[:maxPlanEntries]
	}
}

func validTerminal(o models.Outcome) bool {
	for _, v := range terminalOutcomes() {
		if string(o) == v {
			return true
		}
	}
	return false
}

func backoff(attempt int) time.Duration {
	d := time.Duration(attempt) * 500 * time.Millisecond
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

// sleep waits d or until ctx is done. Reports false on ctx expiry.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
