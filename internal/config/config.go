package config

import (
	"time"
)

// Config represents the complete application configuration. Values come
// from built-in defaults, the config file, SENTILENS_* environment
// variables and command flags, in increasing precedence.
type Config struct {
	Inference InferenceConfig `mapstructure:"inference" yaml:"inference"`
	Batch     BatchConfig     `mapstructure:"batch" yaml:"batch"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Health    HealthConfig    `mapstructure:"health" yaml:"health"`
}

// InferenceConfig configures the remote sentiment endpoint.
type InferenceConfig struct {
	Endpoint      string          `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey        string          `mapstructure:"api_key" yaml:"api_key"`
	PayloadStyle  string          `mapstructure:"payload_style" yaml:"payload_style"`
	Timeout       time.Duration   `mapstructure:"timeout" yaml:"timeout"`
	MaxTextLength int             `mapstructure:"max_text_length" yaml:"max_text_length"`
	Retry         RetryConfig     `mapstructure:"retry" yaml:"retry"`
	RateLimit     RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RetryConfig bounds retries of transient failures.
type RetryConfig struct {
	Attempts  int           `mapstructure:"attempts" yaml:"attempts"`
	BaseDelay time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// RateLimitConfig paces requests on the client side.
// RequestsPerMinute of zero disables pacing.
type RateLimitConfig struct {
	RequestsPerMinute int     `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Margin            float64 `mapstructure:"margin" yaml:"margin"`
}

// BatchConfig controls the orchestrator.
type BatchConfig struct {
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
	BatchSize   int    `mapstructure:"batch_size" yaml:"batch_size"`
	OnCancel    string `mapstructure:"on_cancel" yaml:"on_cancel"`
	TextColumn  string `mapstructure:"text_column" yaml:"text_column"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxJobs         int           `mapstructure:"max_jobs" yaml:"max_jobs"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port" yaml:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Inference.APIKey != "" {
		c.Inference.APIKey = "********"
	}
	return c
}
