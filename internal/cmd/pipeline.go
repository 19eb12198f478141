package cmd

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sentilens/sentilens/internal/config"
	"github.com/sentilens/sentilens/internal/core/engine"
	"github.com/sentilens/sentilens/internal/core/inference"
	"github.com/sentilens/sentilens/internal/core/store"
	"github.com/sentilens/sentilens/internal/observability"
)

func loadedConfig() (*config.Config, error) {
	cfg := config.GetConfig()
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	return cfg, nil
}

// buildClient constructs the inference client from cfg. A positive
// requests_per_minute enables client-side pacing.
func buildClient(cfg *config.Config) (*inference.Client, error) {
	style, err := inference.ParsePayloadStyle(cfg.Inference.PayloadStyle)
	if err != nil {
		return nil, err
	}

	client := inference.NewClient(cfg.Inference.Endpoint, cfg.Inference.APIKey)
	client.PayloadStyle = style
	client.Timeout = cfg.Inference.Timeout
	client.MaxTextLength = cfg.Inference.MaxTextLength
	client.Retry = inference.RetryPolicy{
		Attempts:  cfg.Inference.Retry.Attempts,
		BaseDelay: cfg.Inference.Retry.BaseDelay,
		MaxDelay:  cfg.Inference.Retry.MaxDelay,
	}

	if rpm := cfg.Inference.RateLimit.RequestsPerMinute; rpm > 0 {
		client.Limiter = engine.NewRateLimiter(store.NewMemoryRateStore(), client.LimiterKey(), rpm, cfg.Inference.RateLimit.Margin)
	}

	if err := client.Validate(); err != nil {
		return nil, err
	}
	return client, nil
}

// buildOrchestrator wires classifier into an orchestrator using the
// batch settings from cfg.
func buildOrchestrator(cfg *config.Config, classifier engine.Classifier) (*engine.Orchestrator, error) {
	policy, err := engine.ParseCancelPolicy(cfg.Batch.OnCancel)
	if err != nil {
		return nil, err
	}
	orch := &engine.Orchestrator{
		Classifier:  classifier,
		Concurrency: cfg.Batch.Concurrency,
		BatchSize:   cfg.Batch.BatchSize,
		OnCancel:    policy,
	}
	if err := orch.Validate(); err != nil {
		return nil, err
	}
	return orch, nil
}

func logThroughput(count int, startedAt time.Time) {
	if count <= 0 {
		return
	}
	elapsed := time.Since(startedAt)
	if elapsed <= 0 {
		return
	}
	rate := float64(count) / elapsed.Seconds()
	observability.CLILogger.Info(
		"Batch throughput",
		zap.Int("texts", count),
		zap.Duration("elapsed", elapsed),
		zap.Float64("rate_per_sec", rate),
	)
}
