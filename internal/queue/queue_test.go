package queue

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisperq/whisperq/internal/model"
)

func task(id string) *model.Task {
	return &model.Task{ID: id, InputPath: id + ".wav"}
}

func TestEnqueueReturnsPosition(t *testing.T) {
	q := New()
	assert.Equal(t, 1, q.Enqueue(task("a")))
	assert.Equal(t, 2, q.Enqueue(task("b")))
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 2, q.Position("b"))
	assert.Equal(t, 0, q.Position("missing"))
}

func TestEnqueueStampsTime(t *testing.T) {
	q := New()
	before := time.Now()
	in := task("a")
	q.Enqueue(in)

	got, ok := q.Dequeue()
	require.True(t, ok)
	assert.False(t, got.EnqueuedAt.IsZero())
	assert.False(t, got.EnqueuedAt.Before(before))
}

func TestFIFOOrder(t *testing.T) {
	q := New()
	for i := 0; i < 10; i++ {
		q.Enqueue(task(fmt.Sprintf("t%02d", i)))
	}
	for i := 0; i < 10; i++ {
		got, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("t%02d", i), got.ID)
	}
	_, ok := q.Dequeue()
	assert.False(t, ok)
}

// Concurrent producers must not lose or duplicate elements.
func TestConcurrentEnqueue(t *testing.T) {
	q := New()
	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Enqueue(task(fmt.Sprintf("t%03d", i)))
		}(i)
	}
	wg.Wait()

	require.Equal(t, n, q.Len())
	seen := make(map[string]bool, n)
	for {
		got, ok := q.Dequeue()
		if !ok {
			break
		}
		require.False(t, seen[got.ID], "duplicate %s", got.ID)
		seen[got.ID] = true
	}
	assert.Len(t, seen, n)
}

func TestWakeSignal(t *testing.T) {
	q := New()
	select {
	case <-q.Wake():
		t.Fatal("wake should be empty before enqueue")
	default:
	}

	q.Enqueue(task("a"))
	select {
	case <-q.Wake():
	default:
		t.Fatal("expected wake signal after enqueue")
	}
}

func TestTransferMovesOwnership(t *testing.T) {
	q := New()
	reg := NewRegistry()
	q.Enqueue(task("a"))
	q.Enqueue(task("b"))

	got, ok := q.Transfer(reg)
	require.True(t, ok)
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, model.TaskStatusProcessing, got.Status)
	assert.False(t, got.StartedAt.IsZero())

	active, ok := reg.Active()
	require.True(t, ok)
	assert.Equal(t, "a", active.ID)
	assert.Equal(t, 1, q.Len())

	// A second transfer must fail while a task is active and must not
	// drop the queued head.
	_, ok = q.Transfer(reg)
	assert.False(t, ok)
	assert.Equal(t, 1, q.Len())

	reg.Clear("a")
	got, ok = q.Transfer(reg)
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)
}

func TestRegistrySingleEntry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Begin(task("a")))
	assert.Error(t, reg.Begin(task("b")))

	// Clearing an unknown id leaves the active entry in place.
	reg.Clear("b")
	_, ok := reg.Active()
	assert.True(t, ok)

	reg.Clear("a")
	_, ok = reg.Active()
	assert.False(t, ok)
	assert.Zero(t, reg.Elapsed())

	// Clear is idempotent.
	reg.Clear("a")
}

func TestClearDrainsQueue(t *testing.T) {
	q := New()
	q.Enqueue(task("a"))
	q.Enqueue(task("b"))

	dropped := q.Clear()
	assert.Len(t, dropped, 2)
	assert.Equal(t, 0, q.Len())
}
