// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment
// variables. Both the API server and the worker load the same struct;
// each reads only the fields relevant to its role.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	// StoreURL is the Redis-compatible shared-store connection string.
	StoreURL string `env:"STORE_URL" envDefault:"redis://127.0.0.1:6379"`

	// WorkerLanguage selects which language a worker process dispatches
	// for; unused by the API server.
	WorkerLanguage string `env:"WORKER_LANGUAGE" envDefault:"python"`
	// LanguageRegistryPath points at the JSON document describing every
	// configured language. Loaded once at startup by both roles.
	LanguageRegistryPath string `env:"LANGUAGE_REGISTRY_PATH" envDefault:"config/languages.json"`

	// QueuePopTimeout bounds each blocking dequeue attempt, enabling
	// cooperative shutdown.
	QueuePopTimeout time.Duration `env:"QUEUE_POP_TIMEOUT" envDefault:"5s"`

	// Admission defaults and caps, mirroring the validation rules.
	DefaultMaxAttempts int   `env:"DEFAULT_MAX_ATTEMPTS" envDefault:"3"`
	DefaultTimeoutMS   int   `env:"DEFAULT_TIMEOUT_MS" envDefault:"5000"`
	DefaultTestWeight  int   `env:"DEFAULT_TEST_WEIGHT" envDefault:"10"`
	MaxTestCases       int   `env:"MAX_TEST_CASES" envDefault:"100"`
	MaxSourceCodeBytes int64 `env:"MAX_SOURCE_CODE_BYTES" envDefault:"256000"`
	MaxTestInputBytes  int64 `env:"MAX_TEST_INPUT_BYTES" envDefault:"64000"`
	MaxTestOutputBytes int64 `env:"MAX_TEST_OUTPUT_BYTES" envDefault:"64000"`
	MaxTimeoutMS       int   `env:"MAX_TIMEOUT_MS" envDefault:"60000"`

	// TTLs for store-resident records. ResultTTL covers both the full
	// result and its status projection, written together.
	ResultTTL      time.Duration `env:"RESULT_TTL" envDefault:"24h"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"optimus"`

	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	// Store backoff configuration, used when reconnecting to the shared
	// store after a transient infrastructure error.
	StoreBackoffMaxElapsedTime  time.Duration `env:"STORE_BACKOFF_MAX_ELAPSED_TIME" envDefault:"180s"`
	StoreBackoffInitialInterval time.Duration `env:"STORE_BACKOFF_INITIAL_INTERVAL" envDefault:"500ms"`
	StoreBackoffMaxInterval     time.Duration `env:"STORE_BACKOFF_MAX_INTERVAL" envDefault:"10s"`
	StoreBackoffMultiplier      float64       `env:"STORE_BACKOFF_MULTIPLIER" envDefault:"2.0"`

	// ConsumerMaxConcurrency bounds how many worker goroutines a single
	// process runs for its language, each dispatching one job at a time.
	// Cross-process scaling happens outside this service.
	ConsumerMaxConcurrency int `env:"CONSUMER_MAX_CONCURRENCY" envDefault:"1"`

	// DLQ sweeper configuration.
	DLQMaxAge          time.Duration `env:"DLQ_MAX_AGE" envDefault:"168h"`
	DLQCleanupInterval time.Duration `env:"DLQ_CLEANUP_INTERVAL" envDefault:"24h"`
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

// GetStoreBackoffConfig returns reconnect-backoff pacing appropriate for
// the current environment. Test environments use much shorter timeouts so
// suites do not stall waiting on a real reconnect window.
func (c Config) GetStoreBackoffConfig() (maxElapsedTime, initialInterval, maxInterval time.Duration, multiplier float64) {
	if c.IsTest() {
		return 5 * time.Second, 50 * time.Millisecond, 500 * time.Millisecond, 2.0
	}
	return c.StoreBackoffMaxElapsedTime, c.StoreBackoffInitialInterval, c.StoreBackoffMaxInterval, c.StoreBackoffMultiplier
}
