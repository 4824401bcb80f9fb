package resource

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/whisperq/whisperq/internal/errors"
	"github.com/whisperq/whisperq/internal/speech"
)

type fakeContext struct {
	closeCalls int
	closeErr   error
}

func (f *fakeContext) DetectLanguage(context.Context, []float32) (string, map[string]float32, error) {
	return "en", map[string]float32{"en": 1}, nil
}

func (f *fakeContext) Transcribe(context.Context, []float32, speech.Options) (*speech.Result, error) {
	return &speech.Result{Text: "ok"}, nil
}

func (f *fakeContext) Close() error {
	f.closeCalls++
	return f.closeErr
}

type fakeEngine struct {
	loadErr    error
	lastModel  string
	lastDevice speech.Device
	reclaimed  []speech.Device
	ctx        *fakeContext
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) LoadModel(_ context.Context, model string, device speech.Device) (speech.ModelContext, error) {
	f.lastModel = model
	f.lastDevice = device
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	f.ctx = &fakeContext{}
	return f.ctx, nil
}

func (f *fakeEngine) ReclaimDevice(device speech.Device) {
	f.reclaimed = append(f.reclaimed, device)
}

func TestSelectDevice(t *testing.T) {
	assert.Equal(t, speech.DeviceCPU, SelectDevice(nil))
	assert.Equal(t, speech.Device("cuda:0"), SelectDevice([]int{0, 1}))
	assert.Equal(t, speech.Device("cuda:3"), SelectDevice([]int{3}))
}

func TestAcquireSuccess(t *testing.T) {
	engine := &fakeEngine{}
	m := NewManager(engine)

	lease, err := m.Acquire(context.Background(), "large-v3", []int{1})
	require.NoError(t, err)
	assert.Equal(t, "large-v3", engine.lastModel)
	assert.Equal(t, speech.Device("cuda:1"), engine.lastDevice)
	assert.NotNil(t, lease.Context())
}

func TestAcquireFailureIsModelLoadError(t *testing.T) {
	engine := &fakeEngine{loadErr: errors.New("out of memory")}
	m := NewManager(engine)

	_, err := m.Acquire(context.Background(), "large-v3", nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindModelLoad, apperrors.KindOf(err))
}

func TestReleaseClosesExactlyOnce(t *testing.T) {
	engine := &fakeEngine{}
	m := NewManager(engine)

	lease, err := m.Acquire(context.Background(), "base", []int{0, 1})
	require.NoError(t, err)

	m.Release(lease)
	m.Release(lease)
	m.Release(lease)

	assert.Equal(t, 1, engine.ctx.closeCalls)
	assert.Nil(t, lease.Context())
	// One reclamation pass per requested device id, once.
	assert.Equal(t, []speech.Device{"cuda:0", "cuda:1"}, engine.reclaimed)
}

func TestReleaseNeverFailsOnCloseError(t *testing.T) {
	engine := &fakeEngine{}
	m := NewManager(engine)

	lease, err := m.Acquire(context.Background(), "base", nil)
	require.NoError(t, err)
	engine.ctx.closeErr = errors.New("device gone")

	// Must not panic or propagate.
	m.Release(lease)
	assert.Equal(t, 1, engine.ctx.closeCalls)
	assert.Equal(t, []speech.Device{speech.DeviceCPU}, engine.reclaimed)
}

func TestReleaseNilLease(t *testing.T) {
	m := NewManager(&fakeEngine{})
	m.Release(nil)
}
