// Package registry tracks which export jobs are live in this process and
// carries their cooperative cancellation flag.
package registry

import "sync"

// Registry maps a live job id to its "still running, not cancelled" flag.
// All operations are safe for concurrent use.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]bool
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		jobs: make(map[string]bool),
	}
}

// Register marks the job as running
func (r *Registry) Register(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[jobID] = true
}

// RequestCancel flips the flag of a running job and reports whether the job
// was registered. Jobs not yet started or already finished return false.
func (r *Registry) RequestCancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[jobID]; !ok {
		return false
	}
	r.jobs[jobID] = false
	return true
}

// IsActive reports whether the job is registered and not cancelled
func (r *Registry) IsActive(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[jobID]
}

// Deregister removes the job
func (r *Registry) Deregister(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobID)
}

// Len returns the number of registered jobs
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
