// Package pipeline wires the stages a task passes through: context
// building, entity resolution, the security watchdog, the solver loop
// and finalization. Stages run strictly in order; every path ends at
// the finalizer exactly once.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/praxisworks/hrdesk/internal/budget"
	"github.com/praxisworks/hrdesk/internal/config"
	"github.com/praxisworks/hrdesk/internal/executor"
	"github.com/praxisworks/hrdesk/internal/llm"
	"github.com/praxisworks/hrdesk/internal/metrics"
	"github.com/praxisworks/hrdesk/internal/models"
	"github.com/praxisworks/hrdesk/internal/policy"
	"github.com/praxisworks/hrdesk/internal/resolver"
)

// Platform is the slice of the platform client the pipeline needs.
type Platform interface {
	Responder
	WhoAmI(ctx context.Context, taskID string) (*models.CallerIdentity, error)
}

// Solver runs the step loop for an approved employee task.
type Solver interface {
	Run(ctx context.Context, tc *models.TaskContext, bud *budget.TaskBudget) executor.Result
}

// EntityResolver resolves mentions before the watchdog sees the task.
type EntityResolver interface {
	Resolve(ctx context.Context, task models.Task, identity models.CallerIdentity) (*resolver.Result, error)
}

// ModelClient is the slice of the LLM client the guest handler needs.
type ModelClient interface {
	Complete(ctx context.Context, req llm.Request, out interface{}) (*llm.Result, error)
}

// Pipeline processes tasks for one session.
type Pipeline struct {
	platform  Platform
	resolver  EntityResolver
	engine    policy.Engine
	solver    Solver
	model     ModelClient
	finalizer *Finalizer
	tracker   *budget.Tracker
	modelCfg  config.ModelConfig
	logger    *zap.Logger
	sessionID string
}

func New(platform Platform, res EntityResolver, engine policy.Engine, solver Solver,
	model ModelClient, fin *Finalizer, tracker *budget.Tracker,
	modelCfg config.ModelConfig, sessionID string, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		platform:  platform,
		resolver:  res,
		engine:    engine,
		solver:    solver,
		model:     model,
		finalizer: fin,
		tracker:   tracker,
		modelCfg:  modelCfg,
		sessionID: sessionID,
		logger:    logger,
	}
}

// Run carries one task from receipt to terminal response. It never
// panics outward; any stage panic finalizes as an internal error.
func (p *Pipeline) Run(ctx context.Context, task models.Task) (resp models.Response) {
	startedAt := time.Now()
	logger := p.logger.With(
		zap.String("task_id", task.ID),
		zap.String("run_id", uuid.NewString()))
	tc := &models.TaskContext{
		Task:           task,
		SessionID:      p.sessionID,
		CallerClass:    models.CallerEmployee,
		StageDurations: make(map[string]time.Duration),
	}
	if task.CallerIsPublic {
		tc.CallerClass = models.CallerGuest
	}
	metrics.TasksStarted.WithLabelValues(tc.CallerClass).Inc()
	logger.Info("task received", zap.String("caller_class", tc.CallerClass))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline panic", zap.Any("panic", r))
			resp = p.finalizer.Finalize(ctx, tc, executor.Result{
				Outcome: models.OutcomeErrorInternal,
				Reason:  fmt.Sprintf("panic: %v", r),
			}, startedAt)
		}
	}()

	res := p.run(ctx, tc)
	return p.finalizer.Finalize(ctx, tc, res, startedAt)
}

func (p *Pipeline) run(ctx context.Context, tc *models.TaskContext) executor.Result {
	stage := stageTimer(tc)

	// Identity comes first; without it neither the watchdog nor the
	// solver can be trusted with the task.
	identity, err := p.platform.WhoAmI(ctx, tc.Task.ID)
	stage("context")
	if err != nil {
		return executor.Result{
			Outcome: models.OutcomeErrorInternal,
			Reason:  "caller identity lookup failed: " + err.Error(),
		}
	}
	tc.Identity = *identity
	if identity.IsPublic {
		tc.CallerClass = models.CallerGuest
	}

	if tc.CallerClass == models.CallerGuest {
		return p.runGuest(ctx, tc, stage)
	}
	return p.runEmployee(ctx, tc, stage)
}

// runGuest evaluates the rulebook on the raw task text and answers
// allowed tasks with the tool-less guest handler.
func (p *Pipeline) runGuest(ctx context.Context, tc *models.TaskContext, stage func(string)) executor.Result {
	tc.Security = models.SecurityView{TaskText: tc.Task.Text}

	decision, err := p.engine.Evaluate(ctx, policy.FromSecurityView(tc.CallerClass, tc.Security))
	stage("watchdog")
	if err != nil {
		return executor.Result{
			Outcome: models.OutcomeErrorInternal,
			Reason:  "rulebook evaluation failed: " + err.Error(),
		}
	}
	switch decision.Verdict {
	case policy.VerdictAllow:
		res := p.handleGuest(ctx, tc)
		stage("guest")
		return res
	case policy.VerdictClarification:
		return executor.Result{
			Outcome: models.OutcomeClarificationNeeded,
			Message: "Could you say more about what you are looking for? " + decision.Reason,
		}
	default:
		return denied(decision)
	}
}

func (p *Pipeline) runEmployee(ctx context.Context, tc *models.TaskContext, stage func(string)) executor.Result {
	rres, err := p.resolver.Resolve(ctx, tc.Task, tc.Identity)
	stage("resolve")
	var usage models.TokenUsage
	if rres != nil {
		usage = rres.Usage
	}
	if err != nil {
		return executor.Result{
			Outcome: models.OutcomeErrorInternal,
			Usage:   usage,
			Reason:  "entity resolution failed: " + err.Error(),
		}
	}

	if len(rres.Clarify) > 0 {
		return executor.Result{
			Outcome: models.OutcomeClarificationNeeded,
			Usage:   usage,
			Message: fmt.Sprintf(
				"I found more than one possible match for %s. Could you be more specific?",
				quoteList(rres.Clarify)),
		}
	}

	tc.Resolved = rres.Resolved
	tc.Security = models.SecurityView{
		CallerID:   tc.Identity.EmployeeID,
		CallerRole: tc.Identity.Role,
		Department: tc.Identity.Department,
		TaskText:   rres.Rewritten,
		Entities:   rres.Security,
	}
	tc.Solver = models.SolverView{
		TaskText:   rres.Rewritten,
		Today:      tc.Identity.Today,
		Entities:   rres.Solver,
		Unresolved: rres.Unresolved,
	}

	decision, err := p.engine.Evaluate(ctx, policy.FromSecurityView(tc.CallerClass, tc.Security))
	stage("watchdog")
	if err != nil {
		return executor.Result{
			Outcome: models.OutcomeErrorInternal,
			Usage:   usage,
			Reason:  "rulebook evaluation failed: " + err.Error(),
		}
	}
	switch decision.Verdict {
	case policy.VerdictDeny:
		res := denied(decision)
		res.Usage = usage
		return res
	case policy.VerdictClarification:
		return executor.Result{
			Outcome: models.OutcomeClarificationNeeded,
			Usage:   usage,
			Message: "Before I can act on this I need one thing cleared up: " + decision.Reason,
		}
	}

	res := p.solver.Run(ctx, tc, p.tracker.Task())
	stage("solve")
	res.Usage.Add(usage)
	return res
}

func denied(decision *policy.Decision) executor.Result {
	return executor.Result{
		Outcome: models.OutcomeDeniedSecurity,
		Message: "I can't help with that request.",
		Reason:  decision.Reason,
	}
}

// stageTimer returns a closure recording elapsed time since the last
// stage boundary under the given stage name.
func stageTimer(tc *models.TaskContext) func(string) {
	last := time.Now()
	return func(name string) {
		now := time.Now()
		d := now.Sub(last)
		last = now
		tc.StageDurations[name] = d
		metrics.StageDuration.WithLabelValues(name).Observe(d.Seconds())
	}
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = `"` + s + `"`
	}
	return strings.Join(quoted, ", ")
}
