package store

import (
	"errors"
	"sync"

	"github.com/sentilens/sentilens/internal/core/engine"
)

// DefaultMaxJobs bounds the registry when no limit is configured.
const DefaultMaxJobs = 100

// ErrRegistryFull is returned when every tracked job is still running.
var ErrRegistryFull = errors.New("job registry is full")

// JobRegistry tracks asynchronous jobs by id. When full, the oldest
// finished job is evicted to make room.
type JobRegistry struct {
	mu    sync.Mutex
	max   int
	jobs  map[string]*engine.Job
	order []string
}

// NewJobRegistry returns a registry holding at most max jobs.
func NewJobRegistry(max int) *JobRegistry {
	if max < 1 {
		max = DefaultMaxJobs
	}
	return &JobRegistry{
		max:  max,
		jobs: make(map[string]*engine.Job),
	}
}

// Add registers job, evicting the oldest finished job if needed.
func (r *JobRegistry) Add(job *engine.Job) error {
	if job == nil {
		return errors.New("job is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return nil
	}
	if len(r.jobs) >= r.max && !r.evictLocked() {
		return ErrRegistryFull
	}

	r.jobs[job.ID] = job
	r.order = append(r.order, job.ID)
	return nil
}

// Get returns the job with id.
func (r *JobRegistry) Get(id string) (*engine.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	return job, ok
}

// Remove drops the job with id without cancelling it.
func (r *JobRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return false
	}
	delete(r.jobs, id)
	r.dropOrderLocked(id)
	return true
}

// Len returns the number of tracked jobs.
func (r *JobRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Cap returns the maximum number of tracked jobs.
func (r *JobRegistry) Cap() int {
	return r.max
}

// Running returns the number of tracked jobs that have not finished.
func (r *JobRegistry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	running := 0
	for _, job := range r.jobs {
		if !job.Finished() {
			running++
		}
	}
	return running
}

// CancelAll cancels every job that has not finished.
func (r *JobRegistry) CancelAll() int {
	r.mu.Lock()
	jobs := make([]*engine.Job, 0, len(r.jobs))
	for _, id := range r.order {
		jobs = append(jobs, r.jobs[id])
	}
	r.mu.Unlock()

	cancelled := 0
	for _, job := range jobs {
		if !job.Finished() {
			job.Cancel()
			cancelled++
		}
	}
	return cancelled
}

func (r *JobRegistry) evictLocked() bool {
	for _, id := range r.order {
		if r.jobs[id].Finished() {
			delete(r.jobs, id)
			r.dropOrderLocked(id)
			return true
		}
	}
	return false
}

func (r *JobRegistry) dropOrderLocked(id string) {
	for i, candidate := range r.order {
		if candidate == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
