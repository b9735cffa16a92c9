package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/praxisworks/hrdesk/internal/budget"
	"github.com/praxisworks/hrdesk/internal/config"
	"github.com/praxisworks/hrdesk/internal/executor"
	"github.com/praxisworks/hrdesk/internal/pipeline"
	"github.com/praxisworks/hrdesk/internal/platform"
	"github.com/praxisworks/hrdesk/internal/policy"
	"github.com/praxisworks/hrdesk/internal/resolver"
	"github.com/praxisworks/hrdesk/internal/session"
	"github.com/praxisworks/hrdesk/internal/telemetry"
)

// runSession drives a full platform session: open, work every task,
// submit. An interrupt stops between tasks; finished work is kept so
// the session can be resumed with -session.
func runSession(ctx context.Context, cfg *config.Config, resumeID string,
	api *platform.Client, res *resolver.Resolver, engine policy.Engine,
	solver *executor.Executor, model pipeline.ModelClient,
	store *telemetry.Store, sessions *session.Manager,
	tracker *budget.Tracker, logger *zap.Logger) error {

	sessionID := resumeID
	if sessionID == "" {
		started, err := api.StartSession(ctx, cfg.Session.Name, cfg.Session.Benchmark, cfg.Session.Workspace)
		if err != nil {
			return err
		}
		sessionID = started.SessionID
		logger.Info("session started", zap.String("session_id", sessionID))
	} else {
		logger.Info("resuming session", zap.String("session_id", sessionID))
	}

	state, err := sessions.Open(ctx, sessionID, cfg.Session.Name)
	if err != nil {
		return err
	}

	tasks, err := api.SessionTasks(ctx, sessionID)
	if err != nil {
		return err
	}

	done := make(map[string]bool, len(state.Tasks))
	for _, rec := range state.Tasks {
		done[rec.TaskID] = true
	}

	wanted := make(map[string]bool, len(cfg.Session.TaskCodes))
	for _, code := range cfg.Session.TaskCodes {
		wanted[code] = true
	}

	fin := pipeline.NewFinalizer(api, store, logger.Named("finalizer"))
	pipe := pipeline.New(api, res, engine, solver, model, fin, tracker,
		cfg.Model, sessionID, logger.Named("pipeline"))

	for _, task := range tasks {
		if ctx.Err() != nil {
			logger.Warn("interrupted, stopping before next task")
			break
		}
		if done[task.ID] {
			continue
		}
		if len(wanted) > 0 && !wanted[task.SpecID] {
			continue
		}

		if err := api.StartTask(ctx, task.ID); err != nil {
			logger.Error("task start failed, skipping",
				zap.String("task_id", task.ID), zap.Error(err))
			continue
		}

		taskStart := time.Now()
		resp := pipe.Run(ctx, task)

		if _, err := api.CompleteTask(ctx, task.ID); err != nil {
			logger.Error("task completion failed",
				zap.String("task_id", task.ID), zap.Error(err))
		}

		state.Record(session.TaskRecord{
			TaskID:     task.ID,
			Outcome:    resp.Outcome,
			Tokens:     tracker.SessionUsed() - state.TotalTokens,
			DurationMS: time.Since(taskStart).Milliseconds(),
			FinishedAt: time.Now(),
		}, 0)
		if err := sessions.Save(ctx, state); err != nil {
			logger.Warn("session state save failed", zap.Error(err))
		} else {
			// Terminal state is durably recorded; the exactly-once guard
			// for this task is no longer needed.
			fin.Forget(task.ID)
		}
	}

	if ctx.Err() == nil {
		if err := api.SubmitSession(ctx, sessionID); err != nil {
			return err
		}
		logger.Info("session submitted",
			zap.String("session_id", sessionID),
			zap.Int("tasks", len(state.Tasks)),
			zap.Int("total_tokens", state.TotalTokens),
			zap.Any("outcomes", state.Outcomes))
	}
	return nil
}
