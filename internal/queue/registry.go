package queue

import (
	"sync"
	"time"

	apperrors "github.com/whisperq/whisperq/internal/errors"
	"github.com/whisperq/whisperq/internal/model"
)

// ActiveTaskRegistry tracks the task currently in flight. The worker is
// single-threaded, so at most one entry exists at any time.
type ActiveTaskRegistry struct {
	mu        sync.RWMutex
	task      *model.Task
	startedAt time.Time
	now       func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *ActiveTaskRegistry {
	return &ActiveTaskRegistry{now: time.Now}
}

// Begin records the task as active and stamps its processing start
// time. Returns ErrTaskActive when a task is already registered.
func (r *ActiveTaskRegistry) Begin(t *model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.task != nil {
		return apperrors.ErrTaskActive
	}
	t.Status = model.TaskStatusProcessing
	t.StartedAt = r.now()
	r.task = t
	r.startedAt = t.StartedAt
	return nil
}

// Clear removes the task and its timing entry. Unknown ids are ignored,
// so Clear is safe inside cleanup paths that may run more than once.
func (r *ActiveTaskRegistry) Clear(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.task == nil || r.task.ID != id {
		return
	}
	r.task = nil
	r.startedAt = time.Time{}
}

// Active returns the in-flight task, if any.
func (r *ActiveTaskRegistry) Active() (*model.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.task == nil {
		return nil, false
	}
	return r.task, true
}

// Elapsed reports how long the active task has been processing.
func (r *ActiveTaskRegistry) Elapsed() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.task == nil {
		return 0
	}
	return r.now().Sub(r.startedAt)
}
