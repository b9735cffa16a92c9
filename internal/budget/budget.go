// Package budget enforces token ceilings and a model call rate limit.
// Budgets are advisory until crossed; the first spend that lands over
// the ceiling still counts, and the next check fails.
package budget

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/praxisworks/hrdesk/internal/config"
	"github.com/praxisworks/hrdesk/internal/models"
)

var (
	// ErrTaskBudget means the current task spent past its token ceiling.
	ErrTaskBudget = errors.New("task token budget exhausted")

	// ErrSessionBudget means the session as a whole is out of tokens.
	ErrSessionBudget = errors.New("session token budget exhausted")
)

// Tracker accounts token spend across a session and rate limits model
// calls. Safe for concurrent use.
type Tracker struct {
	limiter    *rate.Limiter
	taskMax    int
	sessionMax int

	mu          sync.Mutex
	sessionUsed int
}

func NewTracker(cfg config.BudgetConfig) *Tracker {
	lim := rate.Inf
	if cfg.CallsPerMin > 0 {
		lim = rate.Limit(cfg.CallsPerMin / 60.0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Tracker{
		limiter:    rate.NewLimiter(lim, burst),
		taskMax:    cfg.TaskTokens,
		sessionMax: cfg.SessionTokens,
	}
}

// WaitModelCall blocks until the rate limiter admits one model call or
// the context expires.
func (t *Tracker) WaitModelCall(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// SessionUsed returns total tokens spent so far in this session.
func (t *Tracker) SessionUsed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionUsed
}

// Task opens a per-task budget view over the tracker.
func (t *Tracker) Task() *TaskBudget {
	return &TaskBudget{tracker: t}
}

// TaskBudget accounts one task's spend against both the task and the
// session ceiling. Owned by a single task.
type TaskBudget struct {
	tracker *Tracker
	used    int
}

// Spend records usage and reports whether a ceiling has been crossed.
// Zero ceilings mean unlimited.
func (b *TaskBudget) Spend(usage models.TokenUsage) error {
	b.used += usage.TotalTokens

	b.tracker.mu.Lock()
	b.tracker.sessionUsed += usage.TotalTokens
	sessionUsed := b.tracker.sessionUsed
	b.tracker.mu.Unlock()

	if b.tracker.sessionMax > 0 && sessionUsed > b.tracker.sessionMax {
		return ErrSessionBudget
	}
	if b.tracker.taskMax > 0 && b.used > b.tracker.taskMax {
		return ErrTaskBudget
	}
	return nil
}

// Used returns tokens spent by this task so far.
func (b *TaskBudget) Used() int { return b.used }
