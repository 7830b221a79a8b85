// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	// Provider settings. Without an API key the real provider is unusable;
	// enable FakeProvider for deterministic offline runs.
	ProviderAPIKey         string        `env:"PROVIDER_API_KEY"`
	ProviderBaseURL        string        `env:"PROVIDER_BASE_URL" envDefault:"https://api.openai.com/v1"`
	ProviderModel          string        `env:"PROVIDER_MODEL" envDefault:"gpt-4o-mini"`
	EmbeddingsModel        string        `env:"EMBEDDINGS_MODEL" envDefault:"text-embedding-3-small"`
	FakeProvider           bool          `env:"FAKE_PROVIDER" envDefault:"false"`
	MaxProviderConcurrency int           `env:"MAX_PROVIDER_CONCURRENCY" envDefault:"4"`
	ProviderRetries        int           `env:"PROVIDER_RETRIES" envDefault:"2"`
	ProviderRetryBackoff   time.Duration `env:"PROVIDER_RETRY_BACKOFF" envDefault:"500ms"`
	ProviderTimeout        time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"60s"`
	JudgeScorerEnabled     bool          `env:"JUDGE_SCORER_ENABLED" envDefault:"false"`
	EmbedCacheSize         int           `env:"EMBED_CACHE_SIZE" envDefault:"512"`

	// Tool bridge settings.
	ToolBridgeURL string        `env:"TOOL_BRIDGE_URL" envDefault:"http://localhost:9009"`
	ToolTimeout   time.Duration `env:"TOOL_TIMEOUT" envDefault:"30s"`

	// Orchestration caps. AgentTimeoutSeconds bounds one evaluator; the run
	// timeout bounds a whole evaluation.
	AgentTimeoutSeconds int           `env:"AGENT_TIMEOUT_SECONDS" envDefault:"120"`
	RunTimeout          time.Duration `env:"RUN_TIMEOUT" envDefault:"300s"`

	// Persisted state roots and profile discovery.
	RunsRoot       string `env:"RUNS_ROOT" envDefault:"runs"`
	JobsRoot       string `env:"JOBS_ROOT" envDefault:"jobs"`
	ProfilesDir    string `env:"PROFILES_DIR" envDefault:"configs/profiles"`
	DefaultProfile string `env:"DEFAULT_PROFILE" envDefault:"default"`

	// Job worker pool.
	JobWorkers    int           `env:"JOB_WORKERS" envDefault:"2"`
	JobQueueSize  int           `env:"JOB_QUEUE_SIZE" envDefault:"64"`
	JobStuckAfter time.Duration `env:"JOB_STUCK_AFTER" envDefault:"30m"`

	// HTTP server.
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	// Observability.
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string `env:"LOG_FORMAT" envDefault:"json"`
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"trustbench"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// AgentTimeout returns the per-agent wall clock cap as a duration.
func (c Config) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutSeconds) * time.Second
}

// ProviderUsable reports whether completions can be served at all: either a
// real credential is present or the fake provider is enabled.
func (c Config) ProviderUsable() bool {
	return c.FakeProvider || c.ProviderAPIKey != ""
}
