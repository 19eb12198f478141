package handlers

import (
	"context"
	"fmt"

	"github.com/sentilens/sentilens/internal/core/store"
)

// Pinger reports whether a backend is usable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// InferenceChecker checks the inference client configuration.
type InferenceChecker struct {
	Client Pinger
}

func (c InferenceChecker) CheckHealth(ctx context.Context) error {
	if c.Client == nil {
		return fmt.Errorf("inference client not configured")
	}
	return c.Client.Ping(ctx)
}

// JobsChecker fails when the job registry cannot accept another job.
type JobsChecker struct {
	Jobs *store.JobRegistry
}

func (c JobsChecker) CheckHealth(ctx context.Context) error {
	if c.Jobs == nil {
		return nil
	}
	if c.Jobs.Running() >= c.Jobs.Cap() {
		return store.ErrRegistryFull
	}
	return nil
}
