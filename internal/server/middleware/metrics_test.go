package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/go-chi/chi/v5"
	"github.com/sentilens/sentilens/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: collector,
	})
	require.NoError(t, err)

	originalTelemetry := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() {
		observability.TelemetrySystem = originalTelemetry
	})

	return collector
}

// analysisRouter mirrors the /v1 surface with canned responses.
func analysisRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestMetrics)
	r.Post("/v1/analyze", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"label":"positive","confidence":0.97}`))
	})
	r.Post("/v1/batch", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	})
	r.Get("/v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/v1/jobs/{id}/export", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	return r
}

func lastMetric(t *testing.T, collector *telemetrytesting.FakeCollector, name string) telemetrytesting.RecordedMetric {
	t.Helper()
	recorded := collector.GetMetricsByName(name)
	require.NotEmpty(t, recorded, "expected %s to be emitted", name)
	return recorded[len(recorded)-1]
}

func TestRequestMetrics_AnalyzeRoute(t *testing.T) {
	collector := setupTelemetry(t)

	body := `{"text":"love it"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(body))
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))
	req.Header.Set("X-Request-ID", "analyze-1")
	rec := httptest.NewRecorder()

	analysisRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "analyze-1", rec.Header().Get("X-Request-ID"))

	requests := lastMetric(t, collector, "http_requests_total")
	assert.Equal(t, map[string]string{"method": "POST", "endpoint": "/v1/analyze", "status": "200"}, requests.Tags)
	assert.Equal(t, "/v1/analyze", lastMetric(t, collector, "http_request_duration_ms").Tags["endpoint"])
	assert.Equal(t, float64(len(body)), lastMetric(t, collector, "http_request_size_bytes").Value)
	assert.Equal(t, float64(rec.Body.Len()), lastMetric(t, collector, "http_response_size_bytes").Value)
	assert.Zero(t, collector.CountMetricsByName("http_errors_total"))
}

func TestRequestMetrics_JobRoutesUseChiPatterns(t *testing.T) {
	collector := setupTelemetry(t)
	router := analysisRouter()

	for _, path := range []string{"/v1/jobs/7f3c", "/v1/jobs/a81d"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	for _, metric := range collector.GetMetricsByName("http_requests_total") {
		assert.Equal(t, "/v1/jobs/{id}", metric.Tags["endpoint"])
	}
	assert.Equal(t, 2, collector.CountMetricsByName("http_requests_total"))
}

func TestRequestMetrics_ErrorTypes(t *testing.T) {
	tests := []struct {
		method    string
		path      string
		endpoint  string
		status    string
		errorType string
	}{
		{http.MethodPost, "/v1/batch", "/v1/batch", "413", "client_error"},
		{http.MethodGet, "/v1/jobs/7f3c", "/v1/jobs/{id}", "404", "client_error"},
		{http.MethodGet, "/v1/jobs/7f3c/export", "/v1/jobs/{id}/export", "500", "server_error"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			collector := setupTelemetry(t)
			analysisRouter().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))

			errs := lastMetric(t, collector, "http_errors_total")
			assert.Equal(t, tt.endpoint, errs.Tags["endpoint"])
			assert.Equal(t, tt.status, errs.Tags["status"])
			assert.Equal(t, tt.errorType, errs.Tags["error_type"])
		})
	}
}

func TestRequestMetrics_WithTelemetryDisabled(t *testing.T) {
	originalTelemetry := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	defer func() {
		observability.TelemetrySystem = originalTelemetry
	}()

	rec := httptest.NewRecorder()
	analysisRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetEndpointPattern_WithoutRouter(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/health", "/health/*"},
		{"/health/ready", "/health/*"},
		{"/version", "/version"},
		{"/metrics", "/metrics"},
		{"/v1/analyze", "/v1/analyze"},
		{"/v1/batch/csv", "/v1/batch/csv"},
		{"/v1/jobs", "/v1/jobs"},
		{"/v1/jobs/7f3c", "/v1/jobs/{id}"},
		{"/v1/jobs/7f3c/export", "/v1/jobs/{id}/export"},
		{"/api/users/123", "/unknown"},
		{"/", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.expected, getEndpointPattern(req))
		})
	}
}
