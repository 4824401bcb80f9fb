package resource

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog/log"

	apperrors "github.com/whisperq/whisperq/internal/errors"
	"github.com/whisperq/whisperq/internal/speech"
)

// Lease is an acquired inference context bound to a device. Its
// lifetime is scoped to one task; Release returns it.
type Lease struct {
	Model  string
	Device speech.Device
	GPUIDs []int

	mu       sync.Mutex
	mctx     speech.ModelContext
	released bool
}

// Context returns the model context, or nil after release.
func (l *Lease) Context() speech.ModelContext {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mctx
}

// Manager owns acquisition and release of inference contexts. Exactly
// one acquire/release pair runs per task; Release is idempotent and
// never fails, because it runs inside cleanup paths where an error
// would mask the task's real outcome.
type Manager struct {
	engine speech.Engine
}

// NewManager creates a manager over the given engine.
func NewManager(engine speech.Engine) *Manager {
	return &Manager{engine: engine}
}

// SelectDevice implements the device rule: the first requested GPU id,
// or the CPU fallback when none are requested.
func SelectDevice(gpuIDs []int) speech.Device {
	if len(gpuIDs) == 0 {
		return speech.DeviceCPU
	}
	return speech.CUDADevice(gpuIDs[0])
}

// Acquire loads the named model for the selected device and returns a
// lease. Failures are reported as model-load errors, fatal to the task
// and never retried.
func (m *Manager) Acquire(ctx context.Context, modelName string, gpuIDs []int) (*Lease, error) {
	device := SelectDevice(gpuIDs)
	log.Info().Str("model", modelName).Str("device", string(device)).Msg("loading model")

	mctx, err := m.engine.LoadModel(ctx, modelName, device)
	if err != nil {
		return nil, apperrors.ModelLoad(err, "load model %s on %s", modelName, device)
	}

	return &Lease{
		Model:  modelName,
		Device: device,
		GPUIDs: gpuIDs,
		mctx:   mctx,
	}, nil
}

// Release closes the lease's model context, drops the owning reference
// and forces a memory reclamation pass for every requested device id.
// Safe to call multiple times and with a nil lease; internal errors are
// logged, never propagated.
func (m *Manager) Release(l *Lease) {
	if l == nil {
		return
	}

	l.mu.Lock()
	mctx := l.mctx
	alreadyReleased := l.released
	l.mctx = nil
	l.released = true
	l.mu.Unlock()

	if alreadyReleased {
		return
	}

	if mctx != nil {
		if err := mctx.Close(); err != nil {
			log.Warn().Err(err).Str("model", l.Model).Msg("closing model context failed")
		}
	}

	m.reclaim(l.GPUIDs)
	log.Info().Str("model", l.Model).Str("device", string(l.Device)).Msg("released inference context")
}

// ReclaimAll runs the device reclamation sweep without a lease, used by
// the shutdown path.
func (m *Manager) ReclaimAll(gpuIDs []int) {
	m.reclaim(gpuIDs)
}

func (m *Manager) reclaim(gpuIDs []int) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("device reclamation panicked")
		}
	}()

	if reclaimer, ok := m.engine.(speech.DeviceReclaimer); ok {
		for _, id := range gpuIDs {
			reclaimer.ReclaimDevice(speech.CUDADevice(id))
		}
		if len(gpuIDs) == 0 {
			reclaimer.ReclaimDevice(speech.DeviceCPU)
		}
	}

	runtime.GC()
	debug.FreeOSMemory()
}
