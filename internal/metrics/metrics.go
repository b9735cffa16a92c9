package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task metrics
	TasksStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrdesk_tasks_started_total",
			Help: "Total number of tasks started",
		},
		[]string{"caller_class"},
	)

	TasksFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrdesk_tasks_finalized_total",
			Help: "Total number of tasks finalized, by outcome",
		},
		[]string{"outcome"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hrdesk_task_duration_seconds",
			Help:    "End-to-end task duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	TaskTokensUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hrdesk_task_tokens_used",
			Help:    "Number of tokens used per task",
			Buckets: []float64{500, 1000, 5000, 10000, 25000, 50000, 100000},
		},
	)

	// Stage metrics
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hrdesk_stage_duration_seconds",
			Help:    "Per-stage duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// Step loop metrics
	StepsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrdesk_steps_executed_total",
			Help: "Total reasoning steps executed",
		},
		[]string{"result"}, // tool_ok, tool_error, completed, schema_retry
	)

	ToolDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrdesk_tool_dispatches_total",
			Help: "Total tool dispatches, by tool and status",
		},
		[]string{"tool", "status"},
	)

	HistoryCompressions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hrdesk_history_compressions_total",
			Help: "Total history compression passes that summarized entries",
		},
	)

	// Policy metrics
	PolicyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrdesk_policy_decisions_total",
			Help: "Security watchdog decisions",
		},
		[]string{"caller_class", "decision"},
	)

	PolicyEvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hrdesk_policy_evaluation_duration_seconds",
			Help:    "Rulebook evaluation latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	PolicyReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrdesk_policy_reloads_total",
			Help: "Rulebook reloads, by result",
		},
		[]string{"result"},
	)

	PolicyCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrdesk_policy_cache_total",
			Help: "Policy decision cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	// Resolver metrics
	EntityResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrdesk_entity_resolutions_total",
			Help: "Entity resolutions, by method",
		},
		[]string{"method"}, // exact, normalized, fuzzy, model, unresolved, ambiguous
	)

	// Model client metrics
	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrdesk_model_calls_total",
			Help: "Model calls, by agent role and status",
		},
		[]string{"role", "status"}, // ok, schema_violation, rate_limited, transport_error
	)

	ModelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hrdesk_model_call_duration_seconds",
			Help:    "Model call latency",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"role"},
	)

	ModelTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrdesk_model_tokens_total",
			Help: "Tokens consumed, by model and direction",
		},
		[]string{"model", "direction"}, // prompt, completion
	)

	// Telemetry store metrics
	TelemetryWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrdesk_telemetry_writes_total",
			Help: "Telemetry persistence attempts, by result",
		},
		[]string{"result"},
	)

	// Session metrics
	SessionCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrdesk_session_cache_total",
			Help: "Session local cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hrdesk_sessions_active",
			Help: "Sessions currently held in the local cache",
		},
	)
)
