package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentilens/sentilens/internal/core"
	"github.com/sentilens/sentilens/internal/core/engine"
	"github.com/sentilens/sentilens/internal/core/store"
	apperrors "github.com/sentilens/sentilens/internal/errors"
	"github.com/sentilens/sentilens/internal/output"
	"github.com/sentilens/sentilens/internal/server/handlers"
)

type stubClassifier struct {
	release chan struct{}
	started chan string
}

func (s *stubClassifier) Classify(ctx context.Context, text string) core.AnalysisResult {
	switch text {
	case "great":
		return core.Succeeded(0, core.LabelPositive, 0.92)
	case "awful":
		return core.Succeeded(0, core.LabelNegative, 0.88)
	case "busy":
		return core.Failed(0, &core.ItemError{Kind: core.KindRateLimit, Message: "Rate limit reached", StatusCode: http.StatusTooManyRequests})
	case "boom":
		return core.Failed(0, core.NetworkError(errors.New("connection reset")))
	case "slow":
		if s.started != nil {
			s.started <- text
		}
		select {
		case <-ctx.Done():
			return core.Failed(0, core.Cancelled())
		case <-s.release:
			return core.Succeeded(0, core.LabelNeutral, 0.5)
		}
	}
	return core.Succeeded(0, core.LabelNeutral, 0.5)
}

func (s *stubClassifier) ClassifyMany(ctx context.Context, texts []string) []core.AnalysisResult {
	results := make([]core.AnalysisResult, len(texts))
	for i, text := range texts {
		results[i] = s.Classify(ctx, text)
	}
	return results
}

func newTestServer(t *testing.T, mutate func(api *handlers.AnalysisAPI, opts *Options)) *Server {
	t.Helper()

	api := &handlers.AnalysisAPI{
		Classifier:  &stubClassifier{},
		Concurrency: 2,
		BatchSize:   1,
		OnCancel:    engine.CancelAbandon,
		TextColumn:  output.DefaultTextColumn,
		Jobs:        store.NewJobRegistry(10),
	}
	opts := Options{Host: "127.0.0.1", MaxBodyBytes: 1 << 20}
	if mutate != nil {
		mutate(api, &opts)
	}

	srv := New(opts, api)
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	return srv
}

func serve(t *testing.T, srv *Server, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPErrorDetail {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New(Options{Host: "127.0.0.1"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	var body apperrors.HTTPErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if body.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected error code NOT_FOUND, got %s", body.Error.Code)
	}
}

func TestAnalyze(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := serve(t, srv, http.MethodPost, "/v1/analyze", "application/json", `{"text":"great"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.AnalyzeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, core.LabelPositive, resp.Label)
	assert.InDelta(t, 0.92, resp.Confidence, 1e-9)
}

func TestAnalyzeErrors(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{name: "empty text", body: `{"text":"   "}`, status: http.StatusBadRequest, code: "INVALID_INPUT"},
		{name: "empty body", body: ``, status: http.StatusBadRequest, code: "INVALID_INPUT"},
		{name: "malformed body", body: `{"text":`, status: http.StatusBadRequest, code: "INVALID_INPUT"},
		{name: "unknown field", body: `{"txt":"great"}`, status: http.StatusBadRequest, code: "INVALID_INPUT"},
		{name: "rate limited", body: `{"text":"busy"}`, status: http.StatusTooManyRequests, code: "RATE_LIMITED"},
		{name: "network failure", body: `{"text":"boom"}`, status: http.StatusBadGateway, code: "EXTERNAL_SERVICE_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, srv, http.MethodPost, "/v1/analyze", "application/json", tt.body)
			require.Equal(t, tt.status, rec.Code)
			detail := decodeError(t, rec)
			require.Equal(t, tt.code, detail.Code)
			require.NotEmpty(t, detail.RequestID)
		})
	}
}

func TestAnalyzeRateLimitDetails(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := serve(t, srv, http.MethodPost, "/v1/analyze", "application/json", `{"text":"busy"}`)
	detail := decodeError(t, rec)
	require.Equal(t, "rate_limit", detail.Details["kind"])
	require.EqualValues(t, http.StatusTooManyRequests, detail.Details["upstream_status"])
}

func TestBatchReportsEveryRow(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := serve(t, srv, http.MethodPost, "/v1/batch", "application/json", `{"texts":["great","","boom","awful"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var report output.Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	require.Len(t, report.Rows, 4)
	for i, row := range report.Rows {
		require.Equal(t, i, row.ID)
	}

	assert.Equal(t, core.LabelPositive, report.Rows[0].Label)
	assert.Equal(t, core.KindInput, report.Rows[1].Error.Kind)
	assert.Equal(t, core.KindNetwork, report.Rows[2].Error.Kind)
	assert.Equal(t, core.LabelNegative, report.Rows[3].Label)

	assert.Equal(t, 4, report.Summary.Total)
	assert.Equal(t, 2, report.Summary.Succeeded)
	assert.Equal(t, 2, report.Summary.Failed)
	assert.InDelta(t, 0.9, report.Summary.MeanConfidence, 1e-9)
}

func TestBatchEmpty(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := serve(t, srv, http.MethodPost, "/v1/batch", "application/json", `{"texts":[]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var report output.Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	require.Empty(t, report.Rows)
	require.Equal(t, 0, report.Summary.Total)
}

func TestBatchConfigErrorAbortsRequest(t *testing.T) {
	srv := newTestServer(t, func(api *handlers.AnalysisAPI, _ *Options) {
		api.Concurrency = 0
	})

	rec := serve(t, srv, http.MethodPost, "/v1/batch", "application/json", `{"texts":["great"]}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "CONFIG_INVALID", decodeError(t, rec).Code)
}

func TestBatchCSV(t *testing.T) {
	srv := newTestServer(t, nil)

	body := "id,review\n1,great\n2,awful\n"
	rec := serve(t, srv, http.MethodPost, "/v1/batch/csv?column=review", "text/csv", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/csv")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Equal(t, []string{
		"id,text,label,confidence,error",
		"0,great,positive,0.92,",
		"1,awful,negative,0.88,",
	}, lines)
}

func TestBatchCSVMissingColumn(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := serve(t, srv, http.MethodPost, "/v1/batch/csv", "text/csv", "id,review\n1,great\n")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_INPUT", decodeError(t, rec).Code)
}

func TestRequestBodyLimit(t *testing.T) {
	srv := newTestServer(t, func(_ *handlers.AnalysisAPI, opts *Options) {
		opts.MaxBodyBytes = 16
	})

	rec := serve(t, srv, http.MethodPost, "/v1/batch", "application/json", `{"texts":["great","awful","great"]}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Equal(t, "PAYLOAD_TOO_LARGE", decodeError(t, rec).Code)

	unlimited := newTestServer(t, func(_ *handlers.AnalysisAPI, opts *Options) {
		opts.MaxBodyBytes = 0
	})
	rec = serve(t, unlimited, http.MethodPost, "/v1/batch", "application/json", `{"texts":["great","awful","great"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func createJob(t *testing.T, srv *Server, body string) handlers.JobAccepted {
	t.Helper()
	rec := serve(t, srv, http.MethodPost, "/v1/jobs", "application/json", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted handlers.JobAccepted
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&accepted))
	require.NotEmpty(t, accepted.ID)
	require.Equal(t, "/v1/jobs/"+accepted.ID, rec.Header().Get("Location"))
	return accepted
}

func jobStatus(t *testing.T, srv *Server, id string) handlers.JobStatus {
	t.Helper()
	rec := serve(t, srv, http.MethodGet, "/v1/jobs/"+id, "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status handlers.JobStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	return status
}

func TestJobLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	accepted := createJob(t, srv, `{"texts":["great","boom","awful"]}`)
	require.Equal(t, 3, accepted.Total)

	require.Eventually(t, func() bool {
		return jobStatus(t, srv, accepted.ID).Status == handlers.JobCompleted
	}, 2*time.Second, 10*time.Millisecond)

	status := jobStatus(t, srv, accepted.ID)
	assert.Equal(t, engine.Counts{Total: 3, Succeeded: 2, Failed: 1}, status.Counts)
	assert.Len(t, status.Rows, 3)
	assert.Equal(t, 2, status.Summary.Succeeded)

	rec := serve(t, srv, http.MethodGet, accepted.ExportURL, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "1,boom,,,network: connection reset")
}

func TestCancelJob(t *testing.T) {
	srv := newTestServer(t, nil)

	accepted := createJob(t, srv, `{"texts":["slow","slow","slow","slow"]}`)

	running := jobStatus(t, srv, accepted.ID)
	require.Equal(t, handlers.JobRunning, running.Status)

	rec := serve(t, srv, http.MethodDelete, accepted.StatusURL, "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status handlers.JobStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	require.Equal(t, handlers.JobCancelled, status.Status)
	require.True(t, status.Cancelled)
	require.Equal(t, 4, status.Counts.Failed)
	for _, row := range status.Rows {
		require.Equal(t, core.KindCancelled, row.Error.Kind)
	}

	// Partial results stay exportable after cancellation.
	export := serve(t, srv, http.MethodGet, accepted.ExportURL, "", "")
	require.Equal(t, http.StatusOK, export.Code)
	require.Contains(t, export.Body.String(), "0,slow,,,cancelled")
}

func TestCancelJobWhileDraining(t *testing.T) {
	classifier := &stubClassifier{release: make(chan struct{}), started: make(chan string, 1)}
	srv := newTestServer(t, func(api *handlers.AnalysisAPI, _ *Options) {
		api.Classifier = classifier
		api.Concurrency = 1
		api.OnCancel = engine.CancelDrain
		api.CancelWait = 50 * time.Millisecond
	})

	accepted := createJob(t, srv, `{"texts":["slow","great","great"]}`)
	require.Equal(t, "slow", <-classifier.started)

	rec := serve(t, srv, http.MethodDelete, accepted.StatusURL, "", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var draining handlers.JobStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&draining))
	require.Equal(t, handlers.JobCancelling, draining.Status)
	require.Equal(t, 1, draining.Counts.Pending)

	close(classifier.release)
	require.Eventually(t, func() bool {
		return jobStatus(t, srv, accepted.ID).Status == handlers.JobCancelled
	}, 2*time.Second, 10*time.Millisecond)

	final := jobStatus(t, srv, accepted.ID)
	require.Equal(t, core.SlotSucceeded, final.Rows[0].State)
	require.Equal(t, core.KindCancelled, final.Rows[1].Error.Kind)
	require.Equal(t, core.KindCancelled, final.Rows[2].Error.Kind)
}

func TestCancelFinishedJobKeepsCompletedStatus(t *testing.T) {
	srv := newTestServer(t, nil)

	accepted := createJob(t, srv, `{"texts":["great","awful"]}`)
	require.Eventually(t, func() bool {
		return jobStatus(t, srv, accepted.ID).Status == handlers.JobCompleted
	}, 2*time.Second, 10*time.Millisecond)

	rec := serve(t, srv, http.MethodDelete, accepted.StatusURL, "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status handlers.JobStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	require.Equal(t, handlers.JobCompleted, status.Status)
	require.False(t, status.Cancelled)
	require.Equal(t, 2, status.Counts.Succeeded)
}

func TestJobNotFound(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec := serve(t, srv, method, "/v1/jobs/missing", "", "")
		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)
	}
}

func TestJobRegistryFull(t *testing.T) {
	srv := newTestServer(t, func(api *handlers.AnalysisAPI, _ *Options) {
		api.Jobs = store.NewJobRegistry(1)
	})

	createJob(t, srv, `{"texts":["slow"]}`)

	rec := serve(t, srv, http.MethodPost, "/v1/jobs", "application/json", `{"texts":["great"]}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "SERVICE_UNAVAILABLE", decodeError(t, rec).Code)
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	jobs := store.NewJobRegistry(10)
	srv := newTestServer(t, func(api *handlers.AnalysisAPI, _ *Options) {
		api.Jobs = jobs
	})

	accepted := createJob(t, srv, `{"texts":["slow","slow"]}`)
	require.NoError(t, srv.Shutdown(context.Background()))

	job, ok := jobs.Get(accepted.ID)
	require.True(t, ok)
	require.NoError(t, job.Wait(context.Background()))
	require.True(t, job.Cancelled())
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := serve(t, srv, http.MethodGet, "/v1/analyze", "", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, "METHOD_NOT_ALLOWED", decodeError(t, rec).Code)
}
