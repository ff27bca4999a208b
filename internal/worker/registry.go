package worker

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry owns live jobs by ID so that documents can refer to their active
// task without holding a pointer to it.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[ID]Job
	order []ID
}

func NewRegistry() *Registry {
	return &Registry{jobs: map[ID]Job{}}
}

func (r *Registry) Add(job Job) ID {
	id := job.Task().ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		r.order = append(r.order, id)
	}
	r.jobs[id] = job
	return id
}

func (r *Registry) Get(id ID) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

func (r *Registry) Lookup(id ID) (*Task, bool) {
	job, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	return job.Task(), true
}

// Release forgets the job. It reports whether the ID was known.
func (r *Registry) Release(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return false
	}
	delete(r.jobs, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Active returns jobs that have not completed, in registration order.
func (r *Registry) Active() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Job, 0, len(r.order))
	for _, id := range r.order {
		job := r.jobs[id]
		if !job.Task().Completed() {
			out = append(out, job)
		}
	}
	return out
}

// CancelAll cancels every active job and waits for all of them.
func (r *Registry) CancelAll() {
	var g errgroup.Group
	for _, job := range r.Active() {
		task := job.Task()
		g.Go(func() error {
			task.Cancel()
			return nil
		})
	}
	_ = g.Wait()
}
