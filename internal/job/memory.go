package job

import (
	"context"
	"slices"
	"sync"
)

var _ Repository = (*MemoryRepository)(nil)

// DefaultHistory is how many finished batches a MemoryRepository keeps.
const DefaultHistory = 20

// MemoryOption configures a MemoryRepository.
type MemoryOption func(*MemoryRepository)

// WithHistory keeps at most n finished batches; older ones are dropped when
// another batch finishes. n <= 0 keeps every batch.
func WithHistory(n int) MemoryOption {
	return func(r *MemoryRepository) {
		r.history = n
	}
}

// MemoryRepository keeps the batches of this process. Jobs go in and out
// as clones so callers never share state with the stored copy.
type MemoryRepository struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	order   []string
	history int
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository(opts ...MemoryOption) *MemoryRepository {
	r := &MemoryRepository{
		jobs:    make(map[string]*Job),
		history: DefaultHistory,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Save stores a clone of job. Saving a finished batch drops the oldest
// finished ones beyond the history limit.
func (r *MemoryRepository) Save(_ context.Context, job *Job) error {
	stored := job.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[stored.ID]; !ok {
		r.order = append(r.order, stored.ID)
	}
	r.jobs[stored.ID] = stored
	if stored.IsTerminal() {
		r.pruneLocked()
	}
	return nil
}

func (r *MemoryRepository) pruneLocked() {
	if r.history <= 0 {
		return
	}
	finished := 0
	for _, id := range r.order {
		if r.jobs[id].IsTerminal() {
			finished++
		}
	}
	r.order = slices.DeleteFunc(r.order, func(id string) bool {
		if finished <= r.history || !r.jobs[id].IsTerminal() {
			return false
		}
		delete(r.jobs, id)
		finished--
		return true
	})
}

// FindByID returns a clone of the stored job.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns clones of all jobs ordered by creation time; jobs created at
// the same instant keep the order they were first saved in.
func (r *MemoryRepository) List(_ context.Context) ([]*Job, error) {
	r.mu.RLock()
	result := make([]*Job, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.jobs[id].Clone())
	}
	r.mu.RUnlock()

	slices.SortStableFunc(result, func(a, b *Job) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

// Delete removes a job.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(r.jobs, id)
	r.order = slices.DeleteFunc(r.order, func(other string) bool { return other == id })
	return nil
}
