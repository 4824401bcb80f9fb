package queue

import (
	"sync"
	"time"

	"github.com/whisperq/whisperq/internal/model"
)

// TaskQueue is a mutex-guarded FIFO of pending tasks. FIFO order is the
// only ordering guarantee: no priority, no reordering, no duplicate
// suppression. The lock is held only for O(1) slice operations, never
// across inference.
type TaskQueue struct {
	mu    sync.Mutex
	tasks []*model.Task
	wake  chan struct{}
}

// New creates an empty queue.
func New() *TaskQueue {
	return &TaskQueue{
		wake: make(chan struct{}, 1),
	}
}

// Enqueue appends a task to the tail and returns the 1-based queue
// position, used as position-in-queue feedback to the submitter.
func (q *TaskQueue) Enqueue(t *model.Task) int {
	q.mu.Lock()
	t.Status = model.TaskStatusQueued
	t.EnqueuedAt = time.Now()
	q.tasks = append(q.tasks, t)
	pos := len(q.tasks)
	q.mu.Unlock()

	q.signal()
	return pos
}

// Dequeue removes and returns the head, or false when empty.
func (q *TaskQueue) Dequeue() (*model.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popHead()
}

// Transfer atomically moves the head of the queue into the active
// registry. The queue lock is held across the registry hand-off so a
// task is never observable in both places, or in neither while still
// owned.
func (q *TaskQueue) Transfer(reg *ActiveTaskRegistry) (*model.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	head, ok := q.popHead()
	if !ok {
		return nil, false
	}
	if err := reg.Begin(head); err != nil {
		// Single-worker invariant broken; put the task back at the head.
		q.tasks = append([]*model.Task{head}, q.tasks...)
		return nil, false
	}
	return head, true
}

// PeekHead returns the head without removing it.
func (q *TaskQueue) PeekHead() (*model.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	return q.tasks[0], true
}

// Len reports the number of pending tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Position returns the 1-based position of a task id, or 0 when absent.
func (q *TaskQueue) Position(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.tasks {
		if t.ID == id {
			return i + 1
		}
	}
	return 0
}

// Snapshot returns a copy of the pending tasks in queue order.
func (q *TaskQueue) Snapshot() []*model.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*model.Task, len(q.tasks))
	copy(out, q.tasks)
	return out
}

// Clear drops all pending tasks and returns them, used by the shutdown
// sweep.
func (q *TaskQueue) Clear() []*model.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.tasks
	q.tasks = nil
	return out
}

// Wake is signalled (best effort) whenever a task is enqueued, so the
// worker can block on it instead of busy-polling.
func (q *TaskQueue) Wake() <-chan struct{} {
	return q.wake
}

func (q *TaskQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *TaskQueue) popHead() (*model.Task, bool) {
	if len(q.tasks) == 0 {
		return nil, false
	}
	head := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return head, true
}
