// Package config defines the engine configuration. Configuration is loaded
// once at process start and immutable thereafter, following 12-Factor
// separation of code and configuration: OS environment takes priority over
// the optional .env file. A missing required value or invalid format fails
// the process immediately.
package config

import (
	"time"

	"bidflow/internal/types"
)

// SecretString aliases the redacted secret type so config fields never leak
// through logs or config dumps.
type SecretString = types.SecretString

// Config is the top-level configuration for the BidFlow engine.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"development" validate:"oneof=development staging production"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Database  DatabaseConfig
	Amazon    AmazonConfig
	Cron      CronConfig
	Alert     AlertConfig
	Health    HealthConfig
	Retry     RetryConfig
	RateLimit RateLimitConfig
	Processor ProcessorConfig
}

// DatabaseConfig holds the store connection URL and pool tuning.
type DatabaseConfig struct {
	URL        SecretString `envconfig:"DATABASE_URL" validate:"required"`
	ServiceKey SecretString `envconfig:"DATABASE_SERVICE_KEY"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// AmazonConfig holds the advertising API OAuth app credentials and base
// URLs. The URLs are fixed in production and overridable only for tests.
type AmazonConfig struct {
	ClientID     SecretString `envconfig:"AMAZON_CLIENT_ID" validate:"required"`
	ClientSecret SecretString `envconfig:"AMAZON_CLIENT_SECRET" validate:"required"`

	OAuthURL   string `envconfig:"AMAZON_OAUTH_URL" default:"https://api.amazon.com/auth/o2/token"`
	APIBaseURL string `envconfig:"AMAZON_API_BASE_URL" default:"https://advertising-api.amazon.com"`

	APITimeout      time.Duration `envconfig:"AMAZON_API_TIMEOUT" default:"60s"`
	DownloadTimeout time.Duration `envconfig:"AMAZON_DOWNLOAD_TIMEOUT" default:"120s"`
}

// CronConfig holds the cron expressions for the two periodic jobs (UTC).
type CronConfig struct {
	Collection string `envconfig:"COLLECTION_CRON" default:"0 3 * * *"`
	Processor  string `envconfig:"PROCESSOR_CRON" default:"*/5 * * * *"`
}

// AlertConfig holds the operator alert webhook. An empty URL disables
// alerting entirely (silent no-op, never an error).
type AlertConfig struct {
	WebhookURL string `envconfig:"DISCORD_WEBHOOK_URL" validate:"omitempty,url"`
}

// HealthConfig holds the health endpoint listener settings.
type HealthConfig struct {
	Port string `envconfig:"HEALTH_CHECK_PORT" default:"8080"`
}

// RetryConfig tunes the shared retry/backoff utility.
type RetryConfig struct {
	MaxRetries        int           `envconfig:"RETRY_MAX_RETRIES" default:"3"`
	BaseDelay         time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s"`
	MaxDelay          time.Duration `envconfig:"RETRY_MAX_DELAY" default:"30s"`
	BackoffMultiplier float64       `envconfig:"RETRY_BACKOFF_MULTIPLIER" default:"2"`
}

// RateLimitConfig bounds the outbound request rate. Tenants are processed
// sequentially with TenantDelay between them; consecutive API calls within
// one tenant are separated by APIDelay.
type RateLimitConfig struct {
	TenantDelay time.Duration `envconfig:"RATE_TENANT_DELAY" default:"5s"`
	APIDelay    time.Duration `envconfig:"RATE_API_DELAY" default:"500ms"`
}

// ProcessorConfig tunes the report processor.
type ProcessorConfig struct {
	// MaxReportAge marks ledger entries FAILED once they have been pending
	// longer than this, so a report stuck upstream cannot poll forever.
	MaxReportAge time.Duration `envconfig:"PROCESSOR_MAX_REPORT_AGE" default:"24h"`
	// DownloadURLTTL is how long a completed report's presigned URL stays
	// valid upstream.
	DownloadURLTTL time.Duration `envconfig:"PROCESSOR_URL_TTL" default:"1h"`
}
