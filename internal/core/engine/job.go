package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sentilens/sentilens/internal/core"
)

// Slot is a point-in-time view of one request and its result.
type Slot struct {
	Request core.AnalysisRequest `json:"request"`
	State   core.SlotState       `json:"state"`
	Result  *core.AnalysisResult `json:"result,omitempty"`
}

// Counts summarizes slot states.
type Counts struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// Job is a batch of requests with one result slot per request.
// Slots are written at most once, each by a single worker; readers may
// inspect them at any time.
type Job struct {
	ID        string
	Requests  []core.AnalysisRequest
	StartedAt time.Time

	slots     []atomic.Pointer[core.AnalysisResult]
	completed atomic.Int64
	cancelled atomic.Bool
	requested atomic.Bool
	progress  func(done, total int)

	cancel     context.CancelFunc
	done       chan struct{}
	finishOnce sync.Once
	finishedAt atomic.Pointer[time.Time]
}

func newJob(requests []core.AnalysisRequest, progress func(done, total int), now time.Time) *Job {
	return &Job{
		ID:        uuid.New().String(),
		Requests:  requests,
		StartedAt: now,
		slots:     make([]atomic.Pointer[core.AnalysisResult], len(requests)),
		progress:  progress,
		done:      make(chan struct{}),
	}
}

// Len returns the number of slots, which always equals the request count.
func (j *Job) Len() int {
	if j == nil {
		return 0
	}
	return len(j.slots)
}

// Result returns the result stored in slot i, or nil while it is pending.
func (j *Job) Result(i int) *core.AnalysisResult {
	if j == nil || i < 0 || i >= len(j.slots) {
		return nil
	}
	return j.slots[i].Load()
}

// State returns the state of slot i.
func (j *Job) State(i int) core.SlotState {
	return j.Result(i).State()
}

// Snapshot returns every slot in input order.
func (j *Job) Snapshot() []Slot {
	if j == nil {
		return nil
	}
	slots := make([]Slot, len(j.slots))
	for i := range j.slots {
		result := j.slots[i].Load()
		slots[i] = Slot{
			Request: j.Requests[i],
			State:   result.State(),
			Result:  result,
		}
	}
	return slots
}

// Counts returns slot state totals.
func (j *Job) Counts() Counts {
	counts := Counts{Total: j.Len()}
	for i := 0; i < counts.Total; i++ {
		switch j.State(i) {
		case core.SlotSucceeded:
			counts.Succeeded++
		case core.SlotFailed:
			counts.Failed++
		default:
			counts.Pending++
		}
	}
	return counts
}

// Progress returns completed and total slot counts.
func (j *Job) Progress() (int, int) {
	if j == nil {
		return 0, 0
	}
	return int(j.completed.Load()), len(j.slots)
}

// Done is closed once every slot has left the pending state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Finished reports whether the job has completed.
func (j *Job) Finished() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// FinishedAt returns the completion time, or the zero time while running.
func (j *Job) FinishedAt() time.Time {
	if at := j.finishedAt.Load(); at != nil {
		return *at
	}
	return time.Time{}
}

// Wait blocks until the job completes or ctx is done.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel requests cooperative cancellation. Undispatched requests are
// marked failed with a cancelled reason. Cancelling a finished job is a
// no-op.
func (j *Job) Cancel() {
	if j == nil || j.Finished() {
		return
	}
	j.requested.Store(true)
	if j.cancel != nil {
		j.cancel()
	}
}

// CancelRequested reports whether Cancel was called while the job ran.
func (j *Job) CancelRequested() bool {
	return j != nil && j.requested.Load()
}

// Cancelled reports whether cancellation cut the job short: some request
// was never dispatched or failed as cancelled.
func (j *Job) Cancelled() bool {
	return j != nil && j.cancelled.Load()
}

func (j *Job) hasCancelledSlot() bool {
	for i := range j.slots {
		if result := j.slots[i].Load(); result != nil && result.Error != nil && result.Error.Kind == core.KindCancelled {
			return true
		}
	}
	return false
}

// set stores result in slot i unless the slot is already filled.
func (j *Job) set(i int, result core.AnalysisResult) bool {
	result.RequestID = j.Requests[i].ID
	result = normalizeResult(result)
	if !j.slots[i].CompareAndSwap(nil, &result) {
		return false
	}
	done := j.completed.Add(1)
	if j.progress != nil {
		j.progress(int(done), len(j.slots))
	}
	return true
}

func (j *Job) finish(now time.Time) {
	j.finishOnce.Do(func() {
		j.finishedAt.Store(&now)
		close(j.done)
	})
}

// normalizeResult enforces that exactly one of label or error is set.
func normalizeResult(result core.AnalysisResult) core.AnalysisResult {
	if result.Error != nil {
		result.Label = ""
		result.Confidence = 0
		return result
	}
	if result.Label == "" {
		result.Error = core.SchemaError("response carried no label")
		result.Confidence = 0
	}
	return result
}
