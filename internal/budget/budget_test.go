package budget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxisworks/hrdesk/internal/config"
	"github.com/praxisworks/hrdesk/internal/models"
)

func TestZeroCeilingsAreUnlimited(t *testing.T) {
	tr := NewTracker(config.BudgetConfig{})
	bud := tr.Task()
	for i := 0; i < 100; i++ {
		require.NoError(t, bud.Spend(models.TokenUsage{TotalTokens: 10_000}))
	}
	assert.Equal(t, 1_000_000, tr.SessionUsed())
}

func TestTaskCeilingCrossed(t *testing.T) {
	tr := NewTracker(config.BudgetConfig{TaskTokens: 100})
	bud := tr.Task()

	// The spend that lands over the ceiling is the one that errors.
	assert.NoError(t, bud.Spend(models.TokenUsage{TotalTokens: 100}))
	assert.ErrorIs(t, bud.Spend(models.TokenUsage{TotalTokens: 1}), ErrTaskBudget)
	assert.Equal(t, 101, bud.Used())
}

func TestSessionCeilingSharedAcrossTasks(t *testing.T) {
	tr := NewTracker(config.BudgetConfig{SessionTokens: 150})

	first := tr.Task()
	assert.NoError(t, first.Spend(models.TokenUsage{TotalTokens: 100}))

	second := tr.Task()
	assert.ErrorIs(t, second.Spend(models.TokenUsage{TotalTokens: 60}), ErrSessionBudget)
	assert.Equal(t, 160, tr.SessionUsed())
}

func TestSessionCeilingBeatsTaskCeiling(t *testing.T) {
	tr := NewTracker(config.BudgetConfig{TaskTokens: 10, SessionTokens: 10})
	bud := tr.Task()
	assert.ErrorIs(t, bud.Spend(models.TokenUsage{TotalTokens: 20}), ErrSessionBudget)
}

func TestWaitModelCallUnlimitedByDefault(t *testing.T) {
	tr := NewTracker(config.BudgetConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 50; i++ {
		require.NoError(t, tr.WaitModelCall(ctx))
	}
}

func TestWaitModelCallHonorsContext(t *testing.T) {
	// One call per hour with burst 1: the first wait is admitted, the
	// second has to block and the expired context cuts it short.
	tr := NewTracker(config.BudgetConfig{CallsPerMin: 1.0 / 60.0, Burst: 1})
	require.NoError(t, tr.WaitModelCall(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, tr.WaitModelCall(ctx))
}
