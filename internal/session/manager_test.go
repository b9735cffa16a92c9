package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/praxisworks/hrdesk/internal/config"
	"github.com/praxisworks/hrdesk/internal/models"
)

func redisManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	m, err := NewManager(config.RedisConfig{Addr: mr.Addr(), TTL: time.Hour}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, mr
}

func TestOpenCreatesAndPersists(t *testing.T) {
	m, mr := redisManager(t)
	ctx := context.Background()

	st, err := m.Open(ctx, "sess_1", "nightly")
	require.NoError(t, err)
	assert.Equal(t, "sess_1", st.ID)
	assert.Equal(t, "nightly", st.Name)
	assert.True(t, mr.Exists("hrdesk:session:sess_1"))
}

func TestOpenResumesExistingState(t *testing.T) {
	m, _ := redisManager(t)
	ctx := context.Background()

	st, err := m.Open(ctx, "sess_1", "first")
	require.NoError(t, err)
	st.Record(TaskRecord{TaskID: "task_1", Outcome: models.OutcomeOKAnswer, Tokens: 120}, 0.01)
	require.NoError(t, m.Save(ctx, st))

	resumed, err := m.Open(ctx, "sess_1", "ignored")
	require.NoError(t, err)
	assert.Equal(t, "first", resumed.Name)
	require.Len(t, resumed.Tasks, 1)
	assert.Equal(t, 120, resumed.TotalTokens)
	assert.Equal(t, 1, resumed.Outcomes[string(models.OutcomeOKAnswer)])
}

func TestGetSurvivesProcessRestart(t *testing.T) {
	m, mr := redisManager(t)
	ctx := context.Background()

	st, err := m.Open(ctx, "sess_1", "nightly")
	require.NoError(t, err)
	st.Record(TaskRecord{TaskID: "task_1", Outcome: models.OutcomeDeniedSecurity}, 0)
	require.NoError(t, m.Save(ctx, st))

	// A fresh manager against the same redis starts with a cold cache.
	fresh, err := NewManager(config.RedisConfig{Addr: mr.Addr(), TTL: time.Hour}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer fresh.Close()

	loaded, err := fresh.Get(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Outcomes[string(models.OutcomeDeniedSecurity)])
}

func TestGetUnknownSessionIsNotFound(t *testing.T) {
	m, _ := redisManager(t)
	_, err := m.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpiredSessionIsNotResumed(t *testing.T) {
	m, _ := redisManager(t)
	ctx := context.Background()

	st, err := m.Open(ctx, "sess_1", "stale")
	require.NoError(t, err)
	st.ExpiresAt = time.Now().Add(-time.Minute)

	_, err = m.Get(ctx, "sess_1")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestDeleteRemovesFromBothStores(t *testing.T) {
	m, mr := redisManager(t)
	ctx := context.Background()

	_, err := m.Open(ctx, "sess_1", "gone")
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, "sess_1"))

	assert.False(t, mr.Exists("hrdesk:session:sess_1"))
	_, err = m.Get(ctx, "sess_1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalOnlyModeWithoutRedis(t *testing.T) {
	m, err := NewManager(config.RedisConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	st, err := m.Open(ctx, "sess_local", "offline")
	require.NoError(t, err)
	st.Record(TaskRecord{TaskID: "task_1", Outcome: models.OutcomeOKNotFound}, 0)
	require.NoError(t, m.Save(ctx, st))

	again, err := m.Get(ctx, "sess_local")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Outcomes[string(models.OutcomeOKNotFound)])
	assert.NoError(t, m.Close())
}

func TestRecordTallies(t *testing.T) {
	st := &State{ID: "sess_1"}
	st.Record(TaskRecord{TaskID: "t1", Outcome: models.OutcomeOKAnswer, Tokens: 100}, 0.25)
	st.Record(TaskRecord{TaskID: "t2", Outcome: models.OutcomeOKAnswer, Tokens: 50}, 0.25)
	st.Record(TaskRecord{TaskID: "t3", Outcome: models.OutcomeErrorInternal, Tokens: 10}, 0)

	assert.Equal(t, 160, st.TotalTokens)
	assert.InDelta(t, 0.5, st.CostUSD, 1e-9)
	assert.Equal(t, 2, st.Outcomes[string(models.OutcomeOKAnswer)])
	assert.Equal(t, 1, st.Outcomes[string(models.OutcomeErrorInternal)])
}
