package server

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RunHandle tracks one launched run: its cancel function and terminal
// outcome. The run's state itself lives in the store.
type RunHandle struct {
	RunID     string
	Cancel    context.CancelCauseFunc
	StartedAt time.Time

	mu   sync.Mutex
	err  error
	done bool
}

// Finish records the terminal outcome of the run goroutine.
func (h *RunHandle) Finish(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
	h.done = true
}

// Active reports whether the run goroutine is still working.
func (h *RunHandle) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.done
}

// Err returns the run goroutine's terminal error, if any.
func (h *RunHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// RunRegistry tracks the runs launched by this server instance.
type RunRegistry struct {
	mu   sync.RWMutex
	runs map[string]*RunHandle
}

// NewRunRegistry creates an empty registry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{runs: make(map[string]*RunHandle)}
}

// Register adds a run. Returns an error if the ID is already present.
func (r *RunRegistry) Register(h *RunHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[h.RunID]; exists {
		return fmt.Errorf("run %s already exists", h.RunID)
	}
	r.runs[h.RunID] = h
	return nil
}

// Get returns a run handle by ID.
func (r *RunRegistry) Get(runID string) (*RunHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.runs[runID]
	return h, ok
}

// Remove drops a run handle from the registry.
func (r *RunRegistry) Remove(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
}

// List returns all tracked run IDs.
func (r *RunRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	return ids
}

// ActiveCount returns the number of runs still working.
func (r *RunRegistry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, h := range r.runs {
		if h.Active() {
			n++
		}
	}
	return n
}

// CancelAll cancels every active run with the given reason.
func (r *RunRegistry) CancelAll(reason string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.runs {
		if h.Cancel != nil {
			h.Cancel(fmt.Errorf("%s", reason))
		}
	}
}
