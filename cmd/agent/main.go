// Command agent runs one work session against the task platform: it
// opens (or resumes) a session, pulls its tasks and carries each one
// through the pipeline to a terminal response.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/praxisworks/hrdesk/internal/budget"
	"github.com/praxisworks/hrdesk/internal/config"
	"github.com/praxisworks/hrdesk/internal/executor"
	"github.com/praxisworks/hrdesk/internal/history"
	"github.com/praxisworks/hrdesk/internal/llm"
	"github.com/praxisworks/hrdesk/internal/platform"
	"github.com/praxisworks/hrdesk/internal/policy"
	"github.com/praxisworks/hrdesk/internal/resolver"
	"github.com/praxisworks/hrdesk/internal/session"
	"github.com/praxisworks/hrdesk/internal/telemetry"
	"github.com/praxisworks/hrdesk/internal/tools"
	"github.com/praxisworks/hrdesk/internal/wiki"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file (default ./config/agent.yaml)")
		sessionID  = flag.String("session", "", "resume an existing session instead of starting one")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, *sessionID, logger); err != nil {
		logger.Fatal("session failed", zap.Error(err))
	}
}

func run(cfg *config.Config, resumeID string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			logger.Info("metrics endpoint up", zap.String("addr", addr))
			if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
				logger.Warn("metrics endpoint stopped", zap.Error(err))
			}
		}()
	}

	api, err := platform.NewClient(cfg.Platform, logger)
	if err != nil {
		return fmt.Errorf("platform client: %w", err)
	}

	model := llm.NewClient(cfg.Model, logger)
	tracker := budget.NewTracker(cfg.Budget)

	lookups, err := resolver.LoadLookups(cfg.Resolver.LookupsDir)
	if err != nil {
		return fmt.Errorf("load lookups: %w", err)
	}
	wikiStore := wiki.NewStore(cfg.Wiki.Root, logger.Named("wiki"))
	res := resolver.New(model, api, wikiStore, lookups, cfg.Resolver, cfg.Model, logger.Named("resolver"))

	engine, err := policy.NewOPAEngine(cfg.Policy, logger.Named("policy"))
	if err != nil {
		return fmt.Errorf("policy engine: %w", err)
	}
	if cfg.Policy.Watch {
		watcher := policy.NewWatcher(engine, cfg.Policy.Path, logger.Named("policy"))
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("rulebook watcher stopped", zap.Error(err))
			}
		}()
	}

	registry := tools.NewRegistry(logger.Named("tools"))
	if err := tools.RegisterBuiltins(registry, api, wikiStore); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	compressor := history.NewCompressor(model, history.CompressorConfig{
		Model:         cfg.Model.SolverModel,
		TriggerTokens: cfg.History.CompressTokens,
		SummaryTokens: cfg.History.SummaryMaxLen,
		KeepVerbatim:  cfg.History.KeepVerbatim,
	}, logger.Named("history"))

	solver := executor.New(model, registry, compressor, tracker, cfg.Executor, cfg.Model, logger.Named("executor"))

	var store *telemetry.Store
	if cfg.Telemetry.Enabled {
		store, err = telemetry.Open(cfg.Telemetry.DSN, logger.Named("telemetry"))
		if err != nil {
			return fmt.Errorf("telemetry store: %w", err)
		}
		defer store.Close()
	}

	sessions, err := session.NewManager(cfg.Redis, logger.Named("session"))
	if err != nil {
		return fmt.Errorf("session manager: %w", err)
	}
	defer sessions.Close()

	return runSession(ctx, cfg, resumeID, api, res, engine, solver, model,
		store, sessions, tracker, logger)
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
