package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentilens/sentilens/internal/core"
)

func newTestViper(t *testing.T, cfgFile string) *viper.Viper {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	v := viper.New()
	Configure(v, cfgFile)
	if cfgFile != "" {
		require.NoError(t, v.ReadInConfig())
	}
	return v
}

func TestLoad(t *testing.T) {
	t.Run("LoadDefaults", func(t *testing.T) {
		cfg, err := Load(newTestViper(t, ""))
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, defaultEndpoint, cfg.Inference.Endpoint)
		assert.Equal(t, "huggingface", cfg.Inference.PayloadStyle)
		assert.Equal(t, 10*time.Second, cfg.Inference.Timeout)
		assert.Equal(t, 512, cfg.Inference.MaxTextLength)
		assert.Equal(t, 3, cfg.Inference.Retry.Attempts)
		assert.Equal(t, 500*time.Millisecond, cfg.Inference.Retry.BaseDelay)
		assert.Equal(t, 8*time.Second, cfg.Inference.Retry.MaxDelay)
		assert.Equal(t, 0, cfg.Inference.RateLimit.RequestsPerMinute)
		assert.InDelta(t, 0.9, cfg.Inference.RateLimit.Margin, 1e-9)

		assert.Equal(t, 4, cfg.Batch.Concurrency)
		assert.Equal(t, 1, cfg.Batch.BatchSize)
		assert.Equal(t, "drain", cfg.Batch.OnCancel)
		assert.Equal(t, "text", cfg.Batch.TextColumn)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, 100, cfg.Server.MaxJobs)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)

		assert.Same(t, cfg, GetConfig())
	})

	t.Run("FileOverrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
inference:
  api_key: file-key
  timeout: 3s
  retry:
    attempts: 5
batch:
  concurrency: 8
  on_cancel: abandon
`), 0o600))

		cfg, err := Load(newTestViper(t, path))
		require.NoError(t, err)
		assert.Equal(t, "file-key", cfg.Inference.APIKey)
		assert.Equal(t, 3*time.Second, cfg.Inference.Timeout)
		assert.Equal(t, 5, cfg.Inference.Retry.Attempts)
		assert.Equal(t, 8*time.Second, cfg.Inference.Retry.MaxDelay)
		assert.Equal(t, 8, cfg.Batch.Concurrency)
		assert.Equal(t, "abandon", cfg.Batch.OnCancel)
	})

	t.Run("EnvironmentOverrides", func(t *testing.T) {
		t.Setenv("SENTILENS_BATCH_CONCURRENCY", "16")
		t.Setenv("SENTILENS_INFERENCE_TIMEOUT", "250ms")
		t.Setenv("SENTILENS_INFERENCE_API_KEY", "env-key")

		cfg, err := Load(newTestViper(t, ""))
		require.NoError(t, err)
		assert.Equal(t, 16, cfg.Batch.Concurrency)
		assert.Equal(t, 250*time.Millisecond, cfg.Inference.Timeout)
		assert.Equal(t, "env-key", cfg.Inference.APIKey)
	})

	t.Run("HuggingFaceTokenFallback", func(t *testing.T) {
		t.Setenv("SENTILENS_INFERENCE_API_KEY", "")
		t.Setenv("HF_API_TOKEN", "hf-token")

		cfg, err := Load(newTestViper(t, ""))
		require.NoError(t, err)
		assert.Equal(t, "hf-token", cfg.Inference.APIKey)
	})
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		v := newTestViper(t, "")
		v.Set("inference.api_key", "key")
		cfg, err := Load(v)
		require.NoError(t, err)
		return cfg
	}

	require.NoError(t, valid(t).Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{name: "missing api key", mutate: func(c *Config) { c.Inference.APIKey = "" }, field: "inference.api_key"},
		{name: "empty endpoint", mutate: func(c *Config) { c.Inference.Endpoint = "" }, field: "inference.endpoint"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Batch.Concurrency = 0 }, field: "batch.concurrency"},
		{name: "zero batch size", mutate: func(c *Config) { c.Batch.BatchSize = 0 }, field: "batch.batch_size"},
		{name: "zero attempts", mutate: func(c *Config) { c.Inference.Retry.Attempts = 0 }, field: "inference.retry.attempts"},
		{name: "zero timeout", mutate: func(c *Config) { c.Inference.Timeout = 0 }, field: "inference.timeout"},
		{name: "zero max length", mutate: func(c *Config) { c.Inference.MaxTextLength = 0 }, field: "inference.max_text_length"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, core.IsConfigError(err))
			require.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := Config{Inference: InferenceConfig{APIKey: "secret"}}
	require.Equal(t, "********", cfg.Redacted().Inference.APIKey)
	require.Equal(t, "secret", cfg.Inference.APIKey)
}

func TestDefaultConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path := DefaultConfigPath()
	require.Equal(t, "config.yaml", filepath.Base(path))
	require.Contains(t, path, AppName)
}
