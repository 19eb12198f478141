package integration

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentilens/sentilens/internal/core/inference"
	"github.com/sentilens/sentilens/internal/observability"
	"github.com/sentilens/sentilens/internal/server/handlers"
)

// cleanupMetrics tears down global telemetry state so each test starts clean.
// This matters in sandboxes where lingering exporters can block future binds.
func cleanupMetrics(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		if observability.PrometheusExporter != nil {
			_ = observability.PrometheusExporter.Stop()
			observability.PrometheusExporter = nil
		}
		observability.TelemetrySystem = nil
	})
}

// isPermissionError normalizes OS-specific permission errors (macOS/Linux/BSD)
// so we can gracefully skip when loopback sockets are blocked.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"permission denied", "operation not permitted", "not permitted"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}

	return false
}

// initMetricsOrSkip attempts to start the metrics exporter; if the environment
// forbids network binds we skip instead of failing the entire suite.
func initMetricsOrSkip(t *testing.T) {
	t.Helper()

	if err := observability.InitMetrics("test", 0, "test"); err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping metrics tests due to sandbox permissions: %v", err)
		}
		require.NoError(t, err)
	}

	cleanupMetrics(t)
}

func scrape(t *testing.T, client *http.Client, url string) (int, string, string) {
	t.Helper()
	resp, err := client.Get(url + "/metrics")
	require.NoError(t, err)
	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)
	return resp.StatusCode, resp.Header.Get("Content-Type"), string(body)
}

func TestMetricsEndpoint_BatchCounters(t *testing.T) {
	initMetricsOrSkip(t)
	handlers.InitHealthManager("test")

	var calls atomic.Int32
	provider := fakeProvider(t, &calls)
	ts := newPipelineServer(t, provider.URL, 1, inference.RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})

	resp := postJSON(t, ts.Client(), ts.URL+"/v1/batch", handlers.BatchRequest{
		Texts: []string{"I love this", "flaky wifi again", "overload", ""},
	})
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status, _, content := scrape(t, ts.Client(), ts.URL)
	require.Equal(t, http.StatusOK, status)

	assert.Contains(t, content, `test_inference_requests_total{outcome="success"}`)
	assert.Contains(t, content, `test_inference_requests_total{outcome="network"}`)
	assert.Contains(t, content, `test_inference_retries_total{error_kind="network"}`)
	assert.Contains(t, content, `test_inference_duration_ms`)
	assert.Contains(t, content, `test_batch_items_total{state="succeeded"}`)
	assert.Contains(t, content, `test_batch_items_total{state="failed"}`)
	assert.Contains(t, content, `test_batches_total{status="completed"}`)
	assert.Contains(t, content, "test_http_requests_total")

	// flaky succeeds on its second attempt; overload exhausts both.
	assert.Equal(t, int32(5), calls.Load())
}

func TestMetricsEndpoint_PrometheusFormat(t *testing.T) {
	initMetricsOrSkip(t)
	handlers.InitHealthManager("test")

	var calls atomic.Int32
	provider := fakeProvider(t, &calls)
	ts := newPipelineServer(t, provider.URL, 1, inference.RetryPolicy{Attempts: 1})

	resp := postJSON(t, ts.Client(), ts.URL+"/v1/analyze", handlers.AnalyzeRequest{Text: "love it"})
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status, contentType, content := scrape(t, ts.Client(), ts.URL)
	require.Equal(t, http.StatusOK, status)
	assert.True(t,
		contentType == "text/plain; version=0.0.4" ||
			contentType == "text/plain; version=0.0.4; charset=utf-8",
		"Expected Prometheus content type, got: %s", contentType)

	metricLines := 0
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		metricLines++
		assert.GreaterOrEqual(t, len(strings.Fields(line)), 2, "malformed metric line: %s", line)
	}
	assert.Greater(t, metricLines, 0, "Should have actual metric values")
}

func TestMetricsEndpoint_WithTelemetryDisabled(t *testing.T) {
	originalExporter := observability.PrometheusExporter
	originalTelemetry := observability.TelemetrySystem
	observability.PrometheusExporter = nil
	observability.TelemetrySystem = nil
	t.Cleanup(func() {
		observability.PrometheusExporter = originalExporter
		observability.TelemetrySystem = originalTelemetry
	})
	handlers.InitHealthManager("test")

	var calls atomic.Int32
	provider := fakeProvider(t, &calls)
	ts := newPipelineServer(t, provider.URL, 1, inference.RetryPolicy{Attempts: 1})

	// Analysis keeps working with metrics off.
	resp := postJSON(t, ts.Client(), ts.URL+"/v1/analyze", handlers.AnalyzeRequest{Text: "love it"})
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, _, _ := scrape(t, ts.Client(), ts.URL)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
