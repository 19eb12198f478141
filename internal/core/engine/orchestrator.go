package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sentilens/sentilens/internal/core"
	"github.com/sentilens/sentilens/internal/metrics"
)

// CancelPolicy controls what happens to in-flight requests on cancellation.
type CancelPolicy string

const (
	// CancelDrain lets in-flight requests finish.
	CancelDrain CancelPolicy = "drain"
	// CancelAbandon propagates cancellation to in-flight requests.
	CancelAbandon CancelPolicy = "abandon"
)

// DefaultConcurrency is the worker count used when none is configured.
const DefaultConcurrency = 4

// Classifier describes a sentiment classification backend.
type Classifier interface {
	// Classify analyzes one text. Failures are reported in the result.
	Classify(ctx context.Context, text string) core.AnalysisResult
	// ClassifyMany analyzes texts in a single backend call; result i
	// belongs to texts[i].
	ClassifyMany(ctx context.Context, texts []string) []core.AnalysisResult
}

// Orchestrator drives a Classifier over a batch with a bounded worker pool.
type Orchestrator struct {
	Classifier  Classifier
	Concurrency int
	BatchSize   int
	OnCancel    CancelPolicy
	Progress    func(done, total int)
	Clock       func() time.Time
}

// ParseCancelPolicy validates a cancel policy string.
func ParseCancelPolicy(value string) (CancelPolicy, error) {
	switch CancelPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", CancelDrain:
		return CancelDrain, nil
	case CancelAbandon:
		return CancelAbandon, nil
	default:
		return "", &core.ConfigError{Field: "batch.on_cancel", Message: fmt.Sprintf("unsupported policy %q", value)}
	}
}

// Validate reports configuration problems that must abort a batch.
func (o *Orchestrator) Validate() error {
	if o == nil || o.Classifier == nil {
		return &core.ConfigError{Field: "classifier", Message: "not configured"}
	}
	if o.Concurrency < 1 {
		return &core.ConfigError{Field: "batch.concurrency", Message: fmt.Sprintf("must be at least 1, got %d", o.Concurrency)}
	}
	if o.BatchSize < 0 {
		return &core.ConfigError{Field: "batch.batch_size", Message: fmt.Sprintf("must not be negative, got %d", o.BatchSize)}
	}
	if _, err := ParseCancelPolicy(string(o.OnCancel)); err != nil {
		return err
	}
	return nil
}

// Run processes requests and returns the completed job.
func (o *Orchestrator) Run(ctx context.Context, requests []core.AnalysisRequest) (*Job, error) {
	job, err := o.Start(ctx, requests)
	if err != nil {
		return nil, err
	}
	<-job.Done()
	return job, nil
}

// Start begins processing requests in the background. The returned job
// fills its slots as results arrive and closes Done when complete.
// Cancelling ctx or calling Job.Cancel stops further dispatch.
func (o *Orchestrator) Start(ctx context.Context, requests []core.AnalysisRequest) (*Job, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	job := newJob(requests, o.Progress, o.now())
	runCtx, cancel := context.WithCancel(ctx)
	job.cancel = cancel

	units := make([][]int, 0, len(requests))
	var pending []int
	size := o.BatchSize
	if size < 1 {
		size = 1
	}
	for i, req := range requests {
		if strings.TrimSpace(req.Text) == "" {
			o.record(job, i, core.Failed(req.ID, core.InputError("text is empty")))
			continue
		}
		pending = append(pending, i)
		if len(pending) == size {
			units = append(units, pending)
			pending = nil
		}
	}
	if len(pending) > 0 {
		units = append(units, pending)
	}

	go o.run(runCtx, cancel, job, units)
	return job, nil
}

func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, job *Job, units [][]int) {
	defer cancel()

	callCtx := ctx
	if policy, _ := ParseCancelPolicy(string(o.OnCancel)); policy == CancelDrain {
		callCtx = context.WithoutCancel(ctx)
	}

	concurrency := o.Concurrency
	if concurrency > len(units) {
		concurrency = len(units)
	}

	dispatch := make(chan []int)
	var wg sync.WaitGroup
	worker := func() {
		defer wg.Done()
		for unit := range dispatch {
			o.execute(callCtx, job, unit)
		}
	}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go worker()
	}

	next := 0
dispatchLoop:
	for ; next < len(units); next++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatchLoop
		case dispatch <- units[next]:
		}
	}
	close(dispatch)

	for _, unit := range units[next:] {
		for _, i := range unit {
			o.record(job, i, core.Failed(job.Requests[i].ID, core.Cancelled()))
		}
	}

	wg.Wait()
	if next < len(units) || job.hasCancelledSlot() {
		job.cancelled.Store(true)
	}
	metrics.RecordBatch(job.Cancelled())
	job.finish(o.now())
}

func (o *Orchestrator) execute(ctx context.Context, job *Job, unit []int) {
	if len(unit) == 1 {
		i := unit[0]
		o.record(job, i, o.Classifier.Classify(ctx, job.Requests[i].Text))
		return
	}

	texts := make([]string, len(unit))
	for k, i := range unit {
		texts[k] = job.Requests[i].Text
	}
	results := o.Classifier.ClassifyMany(ctx, texts)
	if len(results) != len(unit) {
		err := core.SchemaError("expected %d results, got %d", len(unit), len(results))
		for _, i := range unit {
			o.record(job, i, core.Failed(job.Requests[i].ID, err))
		}
		return
	}
	for k, i := range unit {
		o.record(job, i, results[k])
	}
}

func (o *Orchestrator) record(job *Job, i int, result core.AnalysisResult) {
	if job.set(i, result) {
		metrics.RecordBatchItem(string(job.State(i)))
	}
}

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Clock != nil {
		return o.Clock()
	}
	return time.Now().UTC()
}
