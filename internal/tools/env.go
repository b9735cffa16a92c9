package tools

import (
	"context"

	"github.com/praxisworks/hrdesk/internal/models"
)

// Env carries per-task values tool handlers need (caller identity, wiki
// snapshot) without widening every handler signature. The registry itself
// stays process-wide and read-only.
type Env struct {
	Task     models.Task
	Identity models.CallerIdentity
}

type envKey struct{}

// WithEnv attaches the task environment to a context.
func WithEnv(ctx context.Context, env Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

// EnvFrom extracts the task environment; zero value when absent.
func EnvFrom(ctx context.Context) Env {
	env, _ := ctx.Value(envKey{}).(Env)
	return env
}
