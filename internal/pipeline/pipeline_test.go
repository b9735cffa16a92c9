package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/praxisworks/hrdesk/internal/budget"
	"github.com/praxisworks/hrdesk/internal/config"
	"github.com/praxisworks/hrdesk/internal/executor"
	"github.com/praxisworks/hrdesk/internal/llm"
	"github.com/praxisworks/hrdesk/internal/models"
	"github.com/praxisworks/hrdesk/internal/policy"
	"github.com/praxisworks/hrdesk/internal/resolver"
)

type fakePlatform struct {
	mu        sync.Mutex
	identity  models.CallerIdentity
	whoErr    error
	responses []models.Response
}

func (p *fakePlatform) WhoAmI(ctx context.Context, taskID string) (*models.CallerIdentity, error) {
	if p.whoErr != nil {
		return nil, p.whoErr
	}
	id := p.identity
	return &id, nil
}

func (p *fakePlatform) ProvideResponse(ctx context.Context, taskID string, resp models.Response) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, resp)
	return nil
}

type fakeEngine struct {
	decision policy.Decision
	lastIn   *policy.Input
}

func (e *fakeEngine) Evaluate(ctx context.Context, in *policy.Input) (*policy.Decision, error) {
	e.lastIn = in
	d := e.decision
	return &d, nil
}

func (e *fakeEngine) Reload() error { return nil }

type fakeResolver struct {
	result *resolver.Result
	err    error
}

func (r *fakeResolver) Resolve(ctx context.Context, task models.Task, id models.CallerIdentity) (*resolver.Result, error) {
	return r.result, r.err
}

type fakeSolver struct {
	result executor.Result
	panics bool
	calls  int
}

func (s *fakeSolver) Run(ctx context.Context, tc *models.TaskContext, bud *budget.TaskBudget) executor.Result {
	s.calls++
	if s.panics {
		panic("solver exploded")
	}
	return s.result
}

type fakeGuestModel struct {
	message string
	err     error
	calls   int
}

func (m *fakeGuestModel) Complete(ctx context.Context, req llm.Request, out interface{}) (*llm.Result, error) {
	m.calls++
	if m.err != nil {
		return &llm.Result{}, m.err
	}
	raw, _ := json.Marshal(map[string]string{"message": m.message})
	return &llm.Result{Raw: raw}, json.Unmarshal(raw, out)
}

func emptyResolved() *resolver.Result {
	return &resolver.Result{
		Rewritten: "task",
		Resolved:  map[string]models.Entity{},
		Security:  map[string]map[string]interface{}{},
		Solver:    map[string]map[string]interface{}{},
	}
}

func newTestPipeline(t *testing.T, plat *fakePlatform, res EntityResolver,
	engine policy.Engine, solver Solver, model ModelClient) (*Pipeline, *Finalizer) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	fin := NewFinalizer(plat, nil, logger)
	tracker := budget.NewTracker(config.BudgetConfig{})
	return New(plat, res, engine, solver, model, fin, tracker,
		config.ModelConfig{GuestModel: "test-model"}, "sess_1", logger), fin
}

func employeeTask() models.Task {
	return models.Task{ID: "task_1", Text: "do something", CallerID: "emp_1"}
}

func TestEmployeeAllowedPathRunsSolver(t *testing.T) {
	plat := &fakePlatform{identity: models.CallerIdentity{EmployeeID: "emp_1", Name: "Alex"}}
	engine := &fakeEngine{decision: policy.Decision{Verdict: policy.VerdictAllow}}
	solver := &fakeSolver{result: executor.Result{
		Outcome: models.OutcomeOKAnswer,
		Message: "done",
		Links:   []models.Link{{Type: "employee", ID: "emp_1"}},
	}}
	p, _ := newTestPipeline(t, plat, &fakeResolver{result: emptyResolved()}, engine, solver, &fakeGuestModel{})

	resp := p.Run(context.Background(), employeeTask())
	assert.Equal(t, models.OutcomeOKAnswer, resp.Outcome)
	assert.Equal(t, 1, solver.calls)
	require.Len(t, plat.responses, 1)
}

func TestDeniedTaskNeverReachesSolver(t *testing.T) {
	plat := &fakePlatform{identity: models.CallerIdentity{EmployeeID: "emp_1"}}
	engine := &fakeEngine{decision: policy.Decision{Verdict: policy.VerdictDeny, Reason: "salary restricted", Explicit: true}}
	solver := &fakeSolver{}
	p, _ := newTestPipeline(t, plat, &fakeResolver{result: emptyResolved()}, engine, solver, &fakeGuestModel{})

	resp := p.Run(context.Background(), employeeTask())
	assert.Equal(t, models.OutcomeDeniedSecurity, resp.Outcome)
	assert.Equal(t, 0, solver.calls)
	// The refusal wording stays generic; the rule reason is telemetry only.
	assert.NotContains(t, resp.Message, "salary")
}

func TestWatchdogSeesOnlySecurityView(t *testing.T) {
	plat := &fakePlatform{identity: models.CallerIdentity{EmployeeID: "emp_1", Department: "Sales"}}
	engine := &fakeEngine{decision: policy.Decision{Verdict: policy.VerdictAllow}}
	res := emptyResolved()
	res.Rewritten = "about {employee:emp_7}"
	res.Security["Anna"] = map[string]interface{}{"kind": "employee", "id": "emp_7"}
	res.Solver["Anna"] = map[string]interface{}{"kind": "employee", "id": "emp_7", "role": "Engineer"}
	solver := &fakeSolver{result: executor.Result{Outcome: models.OutcomeOKAnswer}}
	p, _ := newTestPipeline(t, plat, &fakeResolver{result: res}, engine, solver, &fakeGuestModel{})

	p.Run(context.Background(), employeeTask())
	require.NotNil(t, engine.lastIn)
	assert.Equal(t, "about {employee:emp_7}", engine.lastIn.TaskText)
	assert.NotContains(t, engine.lastIn.Entities["Anna"], "role")
}

func TestResolverClarificationShortCircuits(t *testing.T) {
	plat := &fakePlatform{identity: models.CallerIdentity{EmployeeID: "emp_1"}}
	res := emptyResolved()
	res.Clarify = []string{"Anna"}
	solver := &fakeSolver{}
	engine := &fakeEngine{decision: policy.Decision{Verdict: policy.VerdictAllow}}
	p, _ := newTestPipeline(t, plat, &fakeResolver{result: res}, engine, solver, &fakeGuestModel{})

	resp := p.Run(context.Background(), employeeTask())
	assert.Equal(t, models.OutcomeClarificationNeeded, resp.Outcome)
	assert.Contains(t, resp.Message, `"Anna"`)
	assert.Equal(t, 0, solver.calls)
}

func TestResolverFailureIsInternalError(t *testing.T) {
	plat := &fakePlatform{identity: models.CallerIdentity{EmployeeID: "emp_1"}}
	p, _ := newTestPipeline(t, plat,
		&fakeResolver{err: resolver.ErrStuck}, &fakeEngine{}, &fakeSolver{}, &fakeGuestModel{})

	resp := p.Run(context.Background(), employeeTask())
	assert.Equal(t, models.OutcomeErrorInternal, resp.Outcome)
}

func TestWhoAmIFailureIsInternalError(t *testing.T) {
	plat := &fakePlatform{whoErr: errors.New("platform down")}
	p, _ := newTestPipeline(t, plat, &fakeResolver{result: emptyResolved()},
		&fakeEngine{}, &fakeSolver{}, &fakeGuestModel{})

	resp := p.Run(context.Background(), employeeTask())
	assert.Equal(t, models.OutcomeErrorInternal, resp.Outcome)
	require.Len(t, plat.responses, 1)
}

func TestGuestAllowedGetsSingleModelCall(t *testing.T) {
	plat := &fakePlatform{identity: models.CallerIdentity{IsPublic: true}}
	engine := &fakeEngine{decision: policy.Decision{Verdict: policy.VerdictAllow, Explicit: true}}
	solver := &fakeSolver{}
	model := &fakeGuestModel{message: "Our office is in Berlin."}
	p, _ := newTestPipeline(t, plat, &fakeResolver{result: emptyResolved()}, engine, solver, model)

	resp := p.Run(context.Background(), models.Task{ID: "task_2", Text: "where are you located?", CallerIsPublic: true})
	assert.Equal(t, models.OutcomeOKAnswer, resp.Outcome)
	assert.Equal(t, "Our office is in Berlin.", resp.Message)
	assert.Equal(t, 1, model.calls)
	assert.Equal(t, 0, solver.calls)
}

func TestGuestDeniedByDefault(t *testing.T) {
	plat := &fakePlatform{identity: models.CallerIdentity{IsPublic: true}}
	engine := &fakeEngine{decision: policy.Decision{Verdict: policy.VerdictDeny, Reason: "guests are denied by default"}}
	model := &fakeGuestModel{}
	p, _ := newTestPipeline(t, plat, &fakeResolver{result: emptyResolved()}, engine, &fakeSolver{}, model)

	resp := p.Run(context.Background(), models.Task{ID: "task_3", Text: "list all salaries", CallerIsPublic: true})
	assert.Equal(t, models.OutcomeDeniedSecurity, resp.Outcome)
	assert.Equal(t, 0, model.calls)
}

func TestSolverPanicFinalizesInternalError(t *testing.T) {
	plat := &fakePlatform{identity: models.CallerIdentity{EmployeeID: "emp_1"}}
	engine := &fakeEngine{decision: policy.Decision{Verdict: policy.VerdictAllow}}
	p, _ := newTestPipeline(t, plat, &fakeResolver{result: emptyResolved()},
		engine, &fakeSolver{panics: true}, &fakeGuestModel{})

	resp := p.Run(context.Background(), employeeTask())
	assert.Equal(t, models.OutcomeErrorInternal, resp.Outcome)
	require.Len(t, plat.responses, 1)
	assert.NotEmpty(t, resp.Message)
}

func TestFinalizeExactlyOnce(t *testing.T) {
	plat := &fakePlatform{}
	fin := NewFinalizer(plat, nil, zaptest.NewLogger(t))
	tc := &models.TaskContext{Task: models.Task{ID: "task_1"}, CallerClass: models.CallerEmployee}

	first := fin.Finalize(context.Background(), tc, executor.Result{
		Outcome: models.OutcomeOKAnswer, Message: "first",
	}, time.Now())
	second := fin.Finalize(context.Background(), tc, executor.Result{
		Outcome: models.OutcomeErrorInternal, Message: "second",
	}, time.Now())

	assert.Equal(t, first, second)
	assert.Len(t, plat.responses, 1)
	assert.Equal(t, "first", plat.responses[0].Message)
}

func TestForgetReleasesTaskRecord(t *testing.T) {
	plat := &fakePlatform{}
	fin := NewFinalizer(plat, nil, zaptest.NewLogger(t))
	tc := &models.TaskContext{Task: models.Task{ID: "task_1"}, CallerClass: models.CallerEmployee}

	fin.Finalize(context.Background(), tc, executor.Result{
		Outcome: models.OutcomeOKAnswer, Message: "first",
	}, time.Now())
	fin.Forget(tc.Task.ID)
	resp := fin.Finalize(context.Background(), tc, executor.Result{
		Outcome: models.OutcomeOKNotFound, Message: "again",
	}, time.Now())

	assert.Equal(t, models.OutcomeOKNotFound, resp.Outcome)
	assert.Len(t, plat.responses, 2)
}

func TestFinalizeMapsPipelineStatuses(t *testing.T) {
	for _, status := range []models.Outcome{
		models.OutcomeTimeout,
		models.OutcomeRateLimited,
		models.OutcomeMaxStepsExceeded,
		models.OutcomeServerError,
	} {
		plat := &fakePlatform{}
		fin := NewFinalizer(plat, nil, zaptest.NewLogger(t))
		tc := &models.TaskContext{Task: models.Task{ID: "task_" + string(status)}}

		resp := fin.Finalize(context.Background(), tc, executor.Result{Outcome: status}, time.Now())
		assert.Equal(t, models.OutcomeErrorInternal, resp.Outcome, "status %s", status)
		assert.NotEmpty(t, resp.Message)
	}
}

func TestFinalizeClearsLinksForNotFound(t *testing.T) {
	plat := &fakePlatform{}
	fin := NewFinalizer(plat, nil, zaptest.NewLogger(t))
	tc := &models.TaskContext{Task: models.Task{ID: "task_nf"}}

	resp := fin.Finalize(context.Background(), tc, executor.Result{
		Outcome: models.OutcomeOKNotFound,
		Message: "nothing matched",
		Links:   []models.Link{{Type: "employee", ID: "emp_1"}},
	}, time.Now())
	assert.Empty(t, resp.Links)
}

func TestFinalizeDeduplicatesLinks(t *testing.T) {
	plat := &fakePlatform{}
	fin := NewFinalizer(plat, nil, zaptest.NewLogger(t))
	tc := &models.TaskContext{Task: models.Task{ID: "task_links"}}

	resp := fin.Finalize(context.Background(), tc, executor.Result{
		Outcome: models.OutcomeOKAnswer,
		Message: "ok",
		Links: []models.Link{
			{Type: "employee", ID: "emp_1"},
			{Type: "employee", ID: "emp_1"},
			{Type: "project", ID: "proj_1"},
			{Type: "", ID: "x"},
		},
	}, time.Now())
	assert.Equal(t, []models.Link{
		{Type: "employee", ID: "emp_1"},
		{Type: "project", ID: "proj_1"},
	}, resp.Links)
}
