package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the costwise orchestrator.
type Config struct {
	// Server configuration
	HTTPPort int    `env:"COSTWISE_HTTP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis configuration (execution snapshots + progress events)
	Redis RedisConfig

	// Blob store configuration (large task payloads)
	Blob BlobConfig

	// Report generation configuration
	Report ReportConfig

	// Retry defaults for collector calls
	Retry RetryConfig

	// Circuit breaker thresholds
	Breaker BreakerConfig

	// Invocation budget
	Budget BudgetConfig
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// BlobConfig holds object store configuration for large result payloads.
type BlobConfig struct {
	Endpoint  string `env:"BLOB_ENDPOINT" envDefault:"localhost:9000"`
	AccessKey string `env:"BLOB_ACCESS_KEY"`
	SecretKey string `env:"BLOB_SECRET_KEY"`
	Bucket    string `env:"BLOB_BUCKET" envDefault:"costwise-results"`
	UseSSL    bool   `env:"BLOB_USE_SSL" envDefault:"false"`
}

// ReportConfig holds report narrative generation configuration.
type ReportConfig struct {
	Provider string `env:"REPORT_PROVIDER" envDefault:"none"`
	APIKey   string `env:"REPORT_API_KEY"`

	Model          string        `env:"REPORT_MODEL" envDefault:"claude-3-5-sonnet-20241022"`
	RequestTimeout time.Duration `env:"REPORT_REQUEST_TIMEOUT" envDefault:"60s"`
	MaxTokens      int           `env:"REPORT_MAX_TOKENS" envDefault:"2048"`
}

// RetryConfig holds retry defaults for collector calls.
type RetryConfig struct {
	MaxRetries int           `env:"RETRY_MAX_RETRIES" envDefault:"3"`
	BaseDelay  time.Duration `env:"RETRY_BASE_DELAY" envDefault:"200ms"`
	MaxDelay   time.Duration `env:"RETRY_MAX_DELAY" envDefault:"5s"`
	Multiplier float64       `env:"RETRY_MULTIPLIER" envDefault:"2.0"`
	Jitter     bool          `env:"RETRY_JITTER" envDefault:"true"`
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	Cooldown         time.Duration `env:"BREAKER_COOLDOWN" envDefault:"30s"`
}

// BudgetConfig holds the invocation time budget and its reserves.
type BudgetConfig struct {
	// InvocationBudget is the default wall-clock budget when the trigger
	// carries no deadline signal.
	InvocationBudget time.Duration `env:"BUDGET_INVOCATION" envDefault:"14m"`

	// SafetyMargin is reserved for report assembly and persistence; no
	// new task launches once remaining time drops below it.
	SafetyMargin time.Duration `env:"BUDGET_SAFETY_MARGIN" envDefault:"30s"`

	// GracePeriod is how long in-flight tasks may run past the launch
	// cutoff before their results are discarded.
	GracePeriod time.Duration `env:"BUDGET_GRACE_PERIOD" envDefault:"10s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	switch c.Report.Provider {
	case "none":
	case "anthropic":
		if c.Report.APIKey == "" {
			return fmt.Errorf("report API key is required for provider %s", c.Report.Provider)
		}
	default:
		return fmt.Errorf("unsupported report provider: %s", c.Report.Provider)
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max retries must not be negative")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure threshold must be at least 1")
	}
	if c.Budget.SafetyMargin >= c.Budget.InvocationBudget {
		return fmt.Errorf("safety margin must be smaller than the invocation budget")
	}
	if c.Budget.GracePeriod >= c.Budget.SafetyMargin {
		return fmt.Errorf("grace period must be smaller than the safety margin")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address.
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
