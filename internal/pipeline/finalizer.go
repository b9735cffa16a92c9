package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/praxisworks/hrdesk/internal/executor"
	"github.com/praxisworks/hrdesk/internal/metrics"
	"github.com/praxisworks/hrdesk/internal/models"
	"github.com/praxisworks/hrdesk/internal/telemetry"
)

// Responder is the platform surface the finalizer needs.
type Responder interface {
	ProvideResponse(ctx context.Context, taskID string, resp models.Response) error
}

// Finalizer produces the terminal response for a task exactly once.
// Every path through the pipeline ends here, including panics; a
// second finalization of the same task is a no-op.
type Finalizer struct {
	platform Responder
	store    *telemetry.Store
	logger   *zap.Logger

	mu   sync.Mutex
	done map[string]models.Response
}

func NewFinalizer(platform Responder, store *telemetry.Store, logger *zap.Logger) *Finalizer {
	return &Finalizer{
		platform: platform,
		store:    store,
		logger:   logger,
		done:     make(map[string]models.Response),
	}
}

// Finalize maps the loop result onto the closed response set, submits
// it to the platform and queues telemetry. The first call for a task
// wins; later calls return the recorded response untouched.
func (f *Finalizer) Finalize(ctx context.Context, tc *models.TaskContext, res executor.Result, startedAt time.Time) models.Response {
	f.mu.Lock()
	if recorded, ok := f.done[tc.Task.ID]; ok {
		f.mu.Unlock()
		f.logger.Warn("duplicate finalization ignored",
			zap.String("task_id", tc.Task.ID),
			zap.String("late_outcome", string(res.Outcome)))
		return recorded
	}

	resp := models.Response{
		Outcome: res.Outcome.APIOutcome(),
		Message: res.Message,
		Links:   dedupeLinks(res.Links),
	}
	if resp.Outcome == models.OutcomeErrorInternal && resp.Message == "" {
		resp.Message = "Something went wrong while handling your request. Please try again."
	}
	// A not-found answer refers to nothing, so it carries no links.
	if resp.Outcome == models.OutcomeOKNotFound {
		resp.Links = nil
	}

	f.done[tc.Task.ID] = resp
	f.mu.Unlock()

	if err := f.platform.ProvideResponse(ctx, tc.Task.ID, resp); err != nil {
		f.logger.Error("response submission failed",
			zap.String("task_id", tc.Task.ID),
			zap.String("outcome", string(resp.Outcome)),
			zap.Error(err))
	}

	finished := time.Now()
	metrics.TasksFinalized.WithLabelValues(string(res.Outcome)).Inc()
	metrics.TaskDuration.WithLabelValues(string(resp.Outcome)).Observe(finished.Sub(startedAt).Seconds())
	metrics.TaskTokensUsed.Observe(float64(res.Usage.TotalTokens))

	f.store.RecordRun(telemetry.Run{
		TaskID:           tc.Task.ID,
		SessionID:        tc.SessionID,
		CallerClass:      tc.CallerClass,
		Outcome:          res.Outcome,
		APIOutcome:       resp.Outcome,
		Reason:           res.Reason,
		Steps:            res.Steps,
		PromptTokens:     res.Usage.PromptTokens,
		CompletionTokens: res.Usage.CompletionTokens,
		TotalTokens:      res.Usage.TotalTokens,
		CostUSD:          res.Usage.CostUSD,
		Stages:           telemetry.StagesJSON(tc.StageDurations),
		StartedAt:        startedAt,
		FinishedAt:       finished,
	})

	f.logger.Info("task finalized",
		zap.String("task_id", tc.Task.ID),
		zap.String("outcome", string(res.Outcome)),
		zap.String("api_outcome", string(resp.Outcome)),
		zap.Int("steps", res.Steps),
		zap.Int("tokens", res.Usage.TotalTokens))
	return resp
}

// Forget drops the exactly-once record for a task. Used by long-lived
// processes once a task's terminal state is durably acknowledged.
func (f *Finalizer) Forget(taskID string) {
	f.mu.Lock()
	delete(f.done, taskID)
	f.mu.Unlock()
}

func dedupeLinks(links []models.Link) []models.Link {
	if len(links) == 0 {
		return nil
	}
	seen := make(map[models.Link]bool, len(links))
	out := make([]models.Link, 0, len(links))
	for _, l := range links {
		if l.Type == "" || l.ID == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}
