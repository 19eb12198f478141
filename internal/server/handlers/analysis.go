package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sentilens/sentilens/internal/core"
	"github.com/sentilens/sentilens/internal/core/engine"
	"github.com/sentilens/sentilens/internal/core/store"
	apperrors "github.com/sentilens/sentilens/internal/errors"
	"github.com/sentilens/sentilens/internal/observability"
	"github.com/sentilens/sentilens/internal/output"
)

// AnalysisAPI serves the sentiment endpoints under /v1.
type AnalysisAPI struct {
	Classifier  engine.Classifier
	Concurrency int
	BatchSize   int
	OnCancel    engine.CancelPolicy
	TextColumn  string

	// Jobs tracks asynchronous batches. Required for the /v1/jobs routes.
	Jobs *store.JobRegistry

	// BaseContext parents asynchronous jobs so that server shutdown
	// cancels them. Defaults to context.Background.
	BaseContext context.Context

	// CancelWait bounds how long DELETE /v1/jobs/{id} waits for in-flight
	// requests to drain. Defaults to DefaultCancelWait.
	CancelWait time.Duration
}

// DefaultCancelWait is used when AnalysisAPI.CancelWait is unset.
const DefaultCancelWait = 5 * time.Second

// AnalyzeRequest is the body of POST /v1/analyze.
type AnalyzeRequest struct {
	Text string `json:"text"`
}

// AnalyzeResponse reports the sentiment of a single text.
type AnalyzeResponse struct {
	Label      core.Label `json:"label"`
	Confidence float64    `json:"confidence"`
	Truncated  bool       `json:"truncated,omitempty"`
}

// BatchRequest is the body of POST /v1/batch and POST /v1/jobs.
type BatchRequest struct {
	Texts []string `json:"texts"`
}

// JobAccepted is returned when an asynchronous job is created.
type JobAccepted struct {
	ID        string `json:"id"`
	Total     int    `json:"total"`
	StatusURL string `json:"status_url"`
	ExportURL string `json:"export_url"`
}

// JobStatus reports the progress of an asynchronous job. Rows and summary
// reflect the slots filled so far.
type JobStatus struct {
	ID        string        `json:"id"`
	Status    string        `json:"status"`
	Counts    engine.Counts `json:"counts"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Rows      []store.Row   `json:"rows"`
	Summary   store.Summary `json:"summary"`
}

// Job status values.
const (
	JobRunning    = "running"
	JobCancelling = "cancelling"
	JobCompleted  = "completed"
	JobCancelled  = "cancelled"
)

// Register mounts the /v1 routes on r.
func (a *AnalysisAPI) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/analyze", a.Analyze)
		r.Post("/batch", a.Batch)
		r.Post("/batch/csv", a.BatchCSV)
		if a.Jobs != nil {
			r.Post("/jobs", a.CreateJob)
			r.Get("/jobs/{id}", a.GetJob)
			r.Get("/jobs/{id}/export", a.ExportJob)
			r.Delete("/jobs/{id}", a.CancelJob)
		}
	})
}

// Analyze classifies one text.
func (a *AnalysisAPI) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), nil, "text is required"))
		return
	}
	if a.Classifier == nil {
		respondWithError(w, r, &core.ConfigError{Field: "classifier", Message: "not configured"})
		return
	}

	result := a.Classifier.Classify(r.Context(), core.NormalizeNewlines(req.Text))
	if result.Error != nil {
		respondWithError(w, r, apperrors.FromItemError(r.Context(), result.Error))
		return
	}

	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Label:      core.NormalizeLabel(string(result.Label)),
		Confidence: result.Confidence,
		Truncated:  result.Truncated,
	})
}

// Batch classifies a JSON list of texts and returns the full report.
// Item failures are reported per row; the request itself succeeds.
func (a *AnalysisAPI) Batch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}

	job, err := a.orchestrator().Run(r.Context(), core.NewRequests(req.Texts))
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, output.NewReport(job))
}

// BatchCSV classifies the text column of an uploaded CSV and responds
// with the result table as CSV. The column defaults to the configured
// text column and may be overridden with ?column=.
func (a *AnalysisAPI) BatchCSV(w http.ResponseWriter, r *http.Request) {
	column := r.URL.Query().Get("column")
	if column == "" {
		column = a.TextColumn
	}

	texts, err := output.ReadTextsCSV(r.Body, column)
	if err != nil {
		respondWithError(w, r, bodyError(r.Context(), err))
		return
	}

	job, err := a.orchestrator().Run(r.Context(), core.NewRequests(texts))
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	writeCSV(w, r, store.NewResultStore(job).AsTable())
}

// CreateJob starts an asynchronous batch and returns its id.
func (a *AnalysisAPI) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}

	base := a.BaseContext
	if base == nil {
		base = context.Background()
	}

	job, err := a.orchestrator().Start(base, core.NewRequests(req.Texts))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if err := a.Jobs.Add(job); err != nil {
		job.Cancel()
		respondWithError(w, r, err)
		return
	}

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Batch job started",
			zap.String("job_id", job.ID),
			zap.Int("texts", job.Len()))
	}

	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, JobAccepted{
		ID:        job.ID,
		Total:     job.Len(),
		StatusURL: "/v1/jobs/" + job.ID,
		ExportURL: "/v1/jobs/" + job.ID + "/export",
	})
}

// GetJob reports progress and the rows filled so far.
func (a *AnalysisAPI) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := a.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, jobStatus(job))
}

// ExportJob writes the job's rows as CSV. Pending rows have empty label,
// confidence and error cells.
func (a *AnalysisAPI) ExportJob(w http.ResponseWriter, r *http.Request) {
	job, ok := a.lookup(w, r)
	if !ok {
		return
	}
	writeCSV(w, r, store.NewResultStore(job).AsTable())
}

// CancelJob stops dispatching further requests for the job. Slots that
// were never dispatched are marked cancelled. When in-flight requests are
// still draining after CancelWait the current status is returned with 202.
func (a *AnalysisAPI) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := a.lookup(w, r)
	if !ok {
		return
	}
	job.Cancel()

	wait := a.CancelWait
	if wait <= 0 {
		wait = DefaultCancelWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-job.Done():
		writeJSON(w, http.StatusOK, jobStatus(job))
	case <-timer.C:
		writeJSON(w, http.StatusAccepted, jobStatus(job))
	case <-r.Context().Done():
	}
}

func (a *AnalysisAPI) lookup(w http.ResponseWriter, r *http.Request) (*engine.Job, bool) {
	id := chi.URLParam(r, "id")
	job, ok := a.Jobs.Get(id)
	if !ok {
		respondWithError(w, r, apperrors.NewNotFoundError("job not found: "+id))
		return nil, false
	}
	return job, true
}

func (a *AnalysisAPI) orchestrator() *engine.Orchestrator {
	return &engine.Orchestrator{
		Classifier:  a.Classifier,
		Concurrency: a.Concurrency,
		BatchSize:   a.BatchSize,
		OnCancel:    a.OnCancel,
	}
}

func jobStatus(job *engine.Job) JobStatus {
	results := store.NewResultStore(job)
	rows := results.AsTable()
	if rows == nil {
		rows = []store.Row{}
	}

	status := JobRunning
	if job.CancelRequested() {
		status = JobCancelling
	}
	if job.Finished() {
		status = JobCompleted
		if job.Cancelled() {
			status = JobCancelled
		}
	}

	return JobStatus{
		ID:        job.ID,
		Status:    status,
		Counts:    job.Counts(),
		Cancelled: job.Cancelled(),
		Rows:      rows,
		Summary:   results.Summary(),
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if stderrors.Is(err, io.EOF) {
			return apperrors.WrapInvalidInput(r.Context(), nil, "request body is empty")
		}
		return bodyError(r.Context(), err)
	}
	return nil
}

// bodyError maps request body failures onto API envelopes.
func bodyError(ctx context.Context, err error) error {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return apperrors.NewPayloadTooLargeError("request body too large")
	}
	if _, ok := core.AsItemError(err); ok {
		return err
	}
	return apperrors.WrapInvalidInput(ctx, err, "malformed request body")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeCSV(w http.ResponseWriter, r *http.Request, rows []store.Row) {
	data, err := output.ExportCSV(rows)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "failed to export results"))
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
