// Package telemetry records finished task runs in a local sqlite
// database. Writes go through an async queue so persistence never
// blocks or fails the task path.
package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/praxisworks/hrdesk/internal/metrics"
	"github.com/praxisworks/hrdesk/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS task_runs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id          TEXT NOT NULL,
	session_id       TEXT NOT NULL,
	caller_class     TEXT NOT NULL,
	outcome          TEXT NOT NULL,
	api_outcome      TEXT NOT NULL,
	reason           TEXT,
	steps            INTEGER NOT NULL DEFAULT 0,
	prompt_tokens    INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens     INTEGER NOT NULL DEFAULT 0,
	cost_usd         REAL NOT NULL DEFAULT 0,
	stages           TEXT,
	started_at       TIMESTAMP NOT NULL,
	finished_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_runs_session ON task_runs(session_id);
CREATE INDEX IF NOT EXISTS idx_task_runs_outcome ON task_runs(outcome);
`

// Run is one finished task run.
type Run struct {
	TaskID           string         `db:"task_id"`
	SessionID        string         `db:"session_id"`
	CallerClass      string         `db:"caller_class"`
	Outcome          models.Outcome `db:"outcome"`
	APIOutcome       models.Outcome `db:"api_outcome"`
	Reason           string         `db:"reason"`
	Steps            int            `db:"steps"`
	PromptTokens     int            `db:"prompt_tokens"`
	CompletionTokens int            `db:"completion_tokens"`
	TotalTokens      int            `db:"total_tokens"`
	CostUSD          float64        `db:"cost_usd"`
	Stages           string         `db:"stages"`
	StartedAt        time.Time      `db:"started_at"`
	FinishedAt       time.Time      `db:"finished_at"`
}

// Store owns the sqlite handle and the write queue. A nil Store is
// safe to call; every method no-ops.
type Store struct {
	db     *sqlx.DB
	queue  chan Run
	done   chan struct{}
	logger *zap.Logger
}

// Open opens (and migrates) the sqlite database at dsn and starts the
// write worker.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite: one writer at a time
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:     db,
		queue:  make(chan Run, 256),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.worker()
	return s, nil
}

// RecordRun queues one run for persistence. Never blocks: on a full
// queue the run is dropped with a warning.
func (s *Store) RecordRun(run Run) {
	if s == nil {
		return
	}
	select {
	case s.queue <- run:
	default:
		metrics.TelemetryWrites.WithLabelValues("dropped").Inc()
		s.logger.Warn("telemetry queue full, dropping run",
			zap.String("task_id", run.TaskID))
	}
}

// StagesJSON encodes stage durations for the stages column.
func StagesJSON(stages map[string]time.Duration) string {
	if len(stages) == 0 {
		return ""
	}
	ms := make(map[string]int64, len(stages))
	for k, v := range stages {
		ms[k] = v.Milliseconds()
	}
	raw, err := json.Marshal(ms)
	if err != nil {
		return ""
	}
	return string(raw)
}

// SessionRuns returns the runs recorded for a session, oldest first.
func (s *Store) SessionRuns(ctx context.Context, sessionID string) ([]Run, error) {
	if s == nil {
		return nil, nil
	}
	var runs []Run
	err := s.db.SelectContext(ctx, &runs,
		`SELECT task_id, session_id, caller_class, outcome, api_outcome, reason,
		        steps, prompt_tokens, completion_tokens, total_tokens, cost_usd,
		        stages, started_at, finished_at
		 FROM task_runs WHERE session_id = ? ORDER BY id`, sessionID)
	return runs, err
}

// Close drains the queue and closes the database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	close(s.queue)
	<-s.done
	return s.db.Close()
}

func (s *Store) worker() {
	defer close(s.done)
	for run := range s.queue {
		s.insert(run)
	}
}

func (s *Store) insert(run Run) {
	_, err := s.db.NamedExec(`
		INSERT INTO task_runs (task_id, session_id, caller_class, outcome,
			api_outcome, reason, steps, prompt_tokens, completion_tokens,
			total_tokens, cost_usd, stages, started_at, finished_at)
		VALUES (:task_id, :session_id, :caller_class, :outcome,
			:api_outcome, :reason, :steps, :prompt_tokens, :completion_tokens,
			:total_tokens, :cost_usd, :stages, :started_at, :finished_at)`, run)
	if err != nil {
		metrics.TelemetryWrites.WithLabelValues("error").Inc()
		s.logger.Warn("telemetry write failed",
			zap.String("task_id", run.TaskID), zap.Error(err))
		return
	}
	metrics.TelemetryWrites.WithLabelValues("ok").Inc()
}
