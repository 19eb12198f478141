package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentilens/sentilens/internal/core"
	"github.com/sentilens/sentilens/internal/core/engine"
	"github.com/sentilens/sentilens/internal/core/store"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// parkedClassifier holds every call until its context ends.
type parkedClassifier struct{}

func (parkedClassifier) Classify(ctx context.Context, text string) core.AnalysisResult {
	<-ctx.Done()
	return core.Failed(0, core.Cancelled())
}

func (c parkedClassifier) ClassifyMany(ctx context.Context, texts []string) []core.AnalysisResult {
	out := make([]core.AnalysisResult, len(texts))
	for i, text := range texts {
		out[i] = c.Classify(ctx, text)
	}
	return out
}

func fullRegistry(t *testing.T) *store.JobRegistry {
	t.Helper()
	orch := &engine.Orchestrator{Classifier: parkedClassifier{}, Concurrency: 1, OnCancel: engine.CancelAbandon}
	job, err := orch.Start(context.Background(), core.NewRequests([]string{"waiting"}))
	require.NoError(t, err)
	t.Cleanup(func() {
		job.Cancel()
		_ = job.Wait(context.Background())
	})

	registry := store.NewJobRegistry(1)
	require.NoError(t, registry.Add(job))
	return registry
}

func TestInferenceChecker(t *testing.T) {
	ok := InferenceChecker{Client: pingFunc(func(context.Context) error { return nil })}
	require.NoError(t, ok.CheckHealth(context.Background()))

	misconfigured := InferenceChecker{Client: pingFunc(func(context.Context) error {
		return &core.ConfigError{Field: "inference.api_key", Message: "api key is required"}
	})}
	require.Error(t, misconfigured.CheckHealth(context.Background()))

	require.Error(t, InferenceChecker{}.CheckHealth(context.Background()))
}

func TestJobsChecker(t *testing.T) {
	require.NoError(t, JobsChecker{}.CheckHealth(context.Background()))
	require.NoError(t, JobsChecker{Jobs: store.NewJobRegistry(1)}.CheckHealth(context.Background()))
	require.ErrorIs(t, JobsChecker{Jobs: fullRegistry(t)}.CheckHealth(context.Background()), store.ErrRegistryFull)
}

func TestHealthReportsInferenceAndJobs(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("inference", InferenceChecker{Client: pingFunc(func(context.Context) error { return nil })})
	manager.RegisterChecker("jobs", JobsChecker{Jobs: store.NewJobRegistry(2)})

	rec := httptest.NewRecorder()
	manager.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, map[string]string{"inference": "healthy", "jobs": "healthy"}, resp.Checks)
}

func TestReadinessFailsWhenInferenceMisconfigured(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("inference", InferenceChecker{Client: pingFunc(func(context.Context) error {
		return errors.New("missing api key")
	})})
	manager.RegisterChecker("jobs", JobsChecker{Jobs: store.NewJobRegistry(1)})

	rec := httptest.NewRecorder()
	manager.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)
	assert.Equal(t, map[string]any{"inference": "unhealthy", "jobs": "healthy"}, resp.Error.Details["checks"])
}

func TestHealthFailsWhenRegistryIsFull(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("jobs", JobsChecker{Jobs: fullRegistry(t)})

	rec := httptest.NewRecorder()
	manager.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
