package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the session-wide configuration, constructed once at startup
// and passed into each stage constructor. No stage reads ambient state.
type Config struct {
	Session   SessionConfig   `mapstructure:"session"`
	Platform  PlatformConfig  `mapstructure:"platform"`
	Model     ModelConfig     `mapstructure:"model"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Wiki      WikiConfig      `mapstructure:"wiki"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	History   HistoryConfig   `mapstructure:"history"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// SessionConfig describes the benchmark session being run.
type SessionConfig struct {
	Name      string   `mapstructure:"name"`
	Benchmark string   `mapstructure:"benchmark"`
	Workspace string   `mapstructure:"workspace"`
	TaskCodes []string `mapstructure:"task_codes"` // empty = all tasks
	LogDir    string   `mapstructure:"log_dir"`
}

// PlatformConfig points at the task platform API.
type PlatformConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ModelConfig configures the structured-output model client.
type ModelConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	SolverModel      string        `mapstructure:"solver_model"`
	ResolverModel    string        `mapstructure:"resolver_model"`
	GuestModel       string        `mapstructure:"guest_model"`
	Temperature      float64       `mapstructure:"temperature"`
	MaxTokens        int           `mapstructure:"max_tokens"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	SchemaRetries    int           `mapstructure:"schema_retries"`
	TransportRetries int           `mapstructure:"transport_retries"`
	PricingPath      string        `mapstructure:"pricing_path"`
}

// ResolverConfig configures entity resolution.
type ResolverConfig struct {
	FuzzyThreshold  int    `mapstructure:"fuzzy_threshold"` // 0-100 similarity score
	MaxCandidates   int    `mapstructure:"max_candidates"`
	MaxFailures     int    `mapstructure:"max_failures"`
	LookupsDir      string `mapstructure:"lookups_dir"`
	CompanyName     string `mapstructure:"company_name"`
	CompanyFullName string `mapstructure:"company_full_name"`
}

// WikiConfig points at the local wiki checkouts, one subdirectory per
// content revision.
type WikiConfig struct {
	Root string `mapstructure:"root"`
}

// PolicyConfig configures the security watchdog rulebook engine.
type PolicyConfig struct {
	Path       string        `mapstructure:"path"` // directory of .rego files
	FailClosed bool          `mapstructure:"fail_closed"`
	Watch      bool          `mapstructure:"watch"` // hot reload on file change
	CacheSize  int           `mapstructure:"cache_size"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

// ExecutorConfig bounds the step loop.
type ExecutorConfig struct {
	MaxSteps            int           `mapstructure:"max_steps"`
	TaskTimeout         time.Duration `mapstructure:"task_timeout"`
	MaxConsecutiveFails int           `mapstructure:"max_consecutive_fails"`
}

// HistoryConfig bounds transcript growth.
type HistoryConfig struct {
	KeepVerbatim   int `mapstructure:"keep_verbatim"`
	SummaryMaxLen  int `mapstructure:"summary_max_len"`
	CompressTokens int `mapstructure:"compress_tokens"` // estimated-token trigger
}

// BudgetConfig bounds token spend and model call rate.
type BudgetConfig struct {
	TaskTokens    int     `mapstructure:"task_tokens"`
	SessionTokens int     `mapstructure:"session_tokens"`
	CallsPerMin   float64 `mapstructure:"calls_per_min"`
	Burst         int     `mapstructure:"burst"`
}

// RedisConfig configures the session store. Empty Addr disables redis and
// the session manager runs on its local cache only.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// TelemetryConfig configures the task-run store.
type TelemetryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"` // sqlite path
}

// LoggingConfig controls zap setup.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads configuration from path (or $HRDESK_CONFIG, or
// ./config/agent.yaml) applying env overrides with the HRDESK_ prefix.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("HRDESK_CONFIG")
	}
	if path == "" {
		path = "./config/agent.yaml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("HRDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing file is fine: defaults plus env overrides still apply.
		if _, ok := err.(*os.PathError); !ok {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("session.log_dir", "logs/sessions")

	v.SetDefault("platform.timeout", 30*time.Second)

	v.SetDefault("model.temperature", 0.0)
	v.SetDefault("model.max_tokens", 4000)
	v.SetDefault("model.request_timeout", 60*time.Second)
	v.SetDefault("model.schema_retries", 2)
	v.SetDefault("model.transport_retries", 3)
	v.SetDefault("model.pricing_path", "./config/pricing.yaml")

	v.SetDefault("resolver.fuzzy_threshold", 60)
	v.SetDefault("resolver.max_candidates", 8)
	v.SetDefault("resolver.max_failures", 3)
	v.SetDefault("resolver.lookups_dir", "./config/lookups")

	v.SetDefault("wiki.root", "./wiki")

	v.SetDefault("policy.path", "./config/policies")
	v.SetDefault("policy.fail_closed", true)
	v.SetDefault("policy.cache_size", 1000)
	v.SetDefault("policy.cache_ttl", 5*time.Minute)

	v.SetDefault("executor.max_steps", 10)
	v.SetDefault("executor.task_timeout", 300*time.Second)
	v.SetDefault("executor.max_consecutive_fails", 3)

	v.SetDefault("history.keep_verbatim", 4)
	v.SetDefault("history.summary_max_len", 200)
	v.SetDefault("history.compress_tokens", 24000)

	v.SetDefault("budget.task_tokens", 100000)
	v.SetDefault("budget.session_tokens", 2000000)
	v.SetDefault("budget.calls_per_min", 60)
	v.SetDefault("budget.burst", 10)

	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.dsn", "./hrdesk.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 2112)
}

// Validate rejects configurations that would make the loop unbounded.
func (c *Config) Validate() error {
	if c.Executor.MaxSteps <= 0 {
		return fmt.Errorf("executor.max_steps must be positive, got %d", c.Executor.MaxSteps)
	}
	if c.Executor.TaskTimeout <= 0 {
		return fmt.Errorf("executor.task_timeout must be positive, got %s", c.Executor.TaskTimeout)
	}
	if c.History.KeepVerbatim < 1 {
		return fmt.Errorf("history.keep_verbatim must be at least 1, got %d", c.History.KeepVerbatim)
	}
	if c.Resolver.FuzzyThreshold < 0 || c.Resolver.FuzzyThreshold > 100 {
		return fmt.Errorf("resolver.fuzzy_threshold must be 0-100, got %d", c.Resolver.FuzzyThreshold)
	}
	return nil
}
