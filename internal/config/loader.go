// Package config loads SentiLens configuration through viper and decodes
// it into typed structs with mapstructure.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/sentilens/sentilens/internal/core"
)

const (
	// AppName names the config directory and binary.
	AppName = "sentilens"

	// EnvPrefix prefixes environment overrides, e.g. SENTILENS_BATCH_CONCURRENCY.
	EnvPrefix = "SENTILENS"

	defaultEndpoint = "https://api-inference.huggingface.co/models/cardiffnlp/twitter-roberta-base-sentiment-latest"
)

// apiKeyFallbacks are read when no SENTILENS_INFERENCE_API_KEY is set.
var apiKeyFallbacks = []string{"HF_API_TOKEN", "HUGGINGFACEHUB_API_TOKEN"}

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// Configure prepares v to read the config file, environment and defaults.
// cfgFile overrides the search path when set.
func Configure(v *viper.Viper, cfgFile string) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		for _, dir := range ConfigDirs() {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath("./config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv(append([]string{"inference.api_key", EnvPrefix + "_INFERENCE_API_KEY"}, apiKeyFallbacks...)...)

	SetDefaults(v)
}

// SetDefaults registers default values for every known key.
func SetDefaults(v *viper.Viper) {
	// Inference defaults
	v.SetDefault("inference.endpoint", defaultEndpoint)
	v.SetDefault("inference.api_key", "")
	v.SetDefault("inference.payload_style", "huggingface")
	v.SetDefault("inference.timeout", "10s")
	v.SetDefault("inference.max_text_length", 512)
	v.SetDefault("inference.retry.attempts", 3)
	v.SetDefault("inference.retry.base_delay", "500ms")
	v.SetDefault("inference.retry.max_delay", "8s")
	v.SetDefault("inference.rate_limit.requests_per_minute", 0)
	v.SetDefault("inference.rate_limit.margin", 0.9)

	// Batch defaults
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("batch.batch_size", 1)
	v.SetDefault("batch.on_cancel", "drain")
	v.SetDefault("batch.text_column", "text")

	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_jobs", 100)
	v.SetDefault("server.max_body_bytes", 10<<20)

	// Logging defaults
	v.SetDefault("logging.level", "info")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)
}

// Load decodes the settings held by v. It does not validate; callers
// validate the sections they use so that commands like version work
// without an API key.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Inference.Endpoint = strings.TrimSpace(cfg.Inference.Endpoint)
	cfg.Inference.APIKey = strings.TrimSpace(cfg.Inference.APIKey)

	setConfig(cfg)
	return cfg, nil
}

// Validate reports settings that must abort a batch before dispatch.
func (c *Config) Validate() error {
	if c == nil {
		return &core.ConfigError{Message: "configuration not loaded"}
	}
	if err := c.ValidateBatch(); err != nil {
		return err
	}
	switch {
	case c.Inference.Endpoint == "":
		return &core.ConfigError{Field: "inference.endpoint", Message: "endpoint is required"}
	case c.Inference.APIKey == "":
		return &core.ConfigError{Field: "inference.api_key", Message: "api key is required (set SENTILENS_INFERENCE_API_KEY or HF_API_TOKEN)"}
	case c.Inference.Timeout <= 0:
		return &core.ConfigError{Field: "inference.timeout", Message: "must be positive"}
	case c.Inference.MaxTextLength < 1:
		return &core.ConfigError{Field: "inference.max_text_length", Message: "must be at least 1"}
	case c.Inference.Retry.Attempts < 1:
		return &core.ConfigError{Field: "inference.retry.attempts", Message: "must be at least 1"}
	case c.Inference.Retry.BaseDelay < 0 || c.Inference.Retry.MaxDelay < 0:
		return &core.ConfigError{Field: "inference.retry", Message: "delays must not be negative"}
	case c.Inference.RateLimit.RequestsPerMinute < 0:
		return &core.ConfigError{Field: "inference.rate_limit.requests_per_minute", Message: "must not be negative"}
	}
	return nil
}

// ValidateBatch checks the orchestrator settings only.
func (c *Config) ValidateBatch() error {
	switch {
	case c.Batch.Concurrency < 1:
		return &core.ConfigError{Field: "batch.concurrency", Message: fmt.Sprintf("must be at least 1, got %d", c.Batch.Concurrency)}
	case c.Batch.BatchSize < 1:
		return &core.ConfigError{Field: "batch.batch_size", Message: fmt.Sprintf("must be at least 1, got %d", c.Batch.BatchSize)}
	}
	return nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// ConfigDirs returns the XDG config directories searched for config.yaml.
func ConfigDirs() []string {
	paths := gfconfig.GetAppConfigPaths(AppName)
	dirs := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		dir := path
		if filepath.Ext(path) != "" {
			dir = filepath.Dir(path)
		}
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}
	if len(dirs) == 0 {
		if dir := gfconfig.GetAppConfigDir(AppName); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}
