// Package config defines the configuration of the Courier send worker and
// report API. Configuration is loaded once at process start (Lambda cold start)
// and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"courier/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Throttle state backends.
const (
	ThrottleBackendMemory   = "memory"
	ThrottleBackendRedis    = "redis"
	ThrottleBackendPostgres = "postgres"
)

// Defer modes applied when the precheck declines a job.
const (
	DeferModeVisibility = "visibility"
	DeferModeRequeue    = "requeue"
)

// Config is the top-level configuration struct. Sub-components receive only
// the subsets they need.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"courier-send-worker"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Database      DatabaseConfig
	AWS           AWSConfig
	Send          SendConfig
	Throttle      ThrottleConfig
	Bot           BotConfig
	Observability ObservabilityConfig
	Report        ReportConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// DatabaseConfig holds the result store connection and pool tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"1" validate:"min=0"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// SendQueueURL is the queue throttled and deferred jobs are re-published to.
	// It must be the queue the worker consumes from.
	SendQueueURL string `envconfig:"SQS_SEND_QUEUE" validate:"required,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SendConfig holds the per-recipient pipeline settings.
type SendConfig struct {
	// MaxNumberOfAttempts is the delivery attempt budget within one invocation.
	MaxNumberOfAttempts int `envconfig:"SEND_MAX_NUMBER_OF_ATTEMPTS" default:"3" validate:"min=1,max=10"`

	// RetryDelaySeconds is the system-wide backoff window after a throttled send.
	// SQS caps message delays at 15 minutes.
	RetryDelaySeconds int `envconfig:"SEND_RETRY_DELAY_SECONDS" default:"660" validate:"min=1,max=900"`

	// DeadLetterMaxDeliveryCount must equal the redrive policy maxReceiveCount
	// of the send queue, otherwise faulted jobs are misclassified.
	DeadLetterMaxDeliveryCount int `envconfig:"SEND_DEAD_LETTER_MAX_DELIVERY_COUNT" default:"10" validate:"min=1"`

	AttemptTimeout   time.Duration `envconfig:"SEND_ATTEMPT_TIMEOUT" default:"15s" validate:"min=100ms"`
	AttemptBaseDelay time.Duration `envconfig:"SEND_ATTEMPT_BASE_DELAY" default:"500ms"`
	AttemptMaxDelay  time.Duration `envconfig:"SEND_ATTEMPT_MAX_DELAY" default:"5s"`

	BatchConcurrency int    `envconfig:"SEND_BATCH_CONCURRENCY" default:"10" validate:"min=1,max=100"`
	DeferMode        string `envconfig:"SEND_DEFER_MODE" default:"visibility" validate:"oneof=visibility requeue"`

	ContentCacheTTL time.Duration `envconfig:"SEND_CONTENT_CACHE_TTL" default:"10m"`
}

// RetryDelay returns RetryDelaySeconds as a duration.
func (s SendConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelaySeconds) * time.Second
}

// ThrottleConfig selects where the shared "do not send until" timestamp lives.
type ThrottleConfig struct {
	Backend  string       `envconfig:"THROTTLE_BACKEND" default:"postgres" validate:"oneof=memory redis postgres"`
	RedisURL SecretString `envconfig:"THROTTLE_REDIS_URL"`
	Key      string       `envconfig:"THROTTLE_KEY" default:"courier:send:retry_after" validate:"required"`
}

// BotConfig holds bot connector client settings.
type BotConfig struct {
	AppID       string        `envconfig:"BOT_APP_ID" validate:"required"`
	AccessToken SecretString  `envconfig:"BOT_ACCESS_TOKEN" validate:"required"`
	UserAgent   string        `envconfig:"BOT_USER_AGENT" default:"Courier-Send/1.0"`
	Timeout     time.Duration `envconfig:"BOT_HTTP_TIMEOUT" default:"30s"`

	// Client-side pacing per worker process.
	RequestsPerSecond float64 `envconfig:"BOT_REQUESTS_PER_SECOND" default:"50" validate:"gt=0"`
	Burst             int     `envconfig:"BOT_BURST" default:"50" validate:"min=1"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Courier"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// ReportConfig holds settings for the read-only report API.
type ReportConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
