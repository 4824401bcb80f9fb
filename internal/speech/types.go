package speech

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SampleRate is the PCM rate every engine consumes.
const SampleRate = 16000

// Device identifies the compute target a model is bound to.
type Device string

// DeviceCPU is the fallback target when no GPU is requested.
const DeviceCPU Device = "cpu"

// CUDADevice names the CUDA target for a GPU id.
func CUDADevice(id int) Device {
	return Device(fmt.Sprintf("cuda:%d", id))
}

// Options configures a transcription request.
type Options struct {
	Language      string // empty lets the engine detect the language
	Translate     bool
	Threads       int
	InitialPrompt string
}

// Segment is a portion of transcribed text with timestamps relative to
// the audio handed to Transcribe.
type Segment struct {
	ID    int           `json:"id"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// Result holds the transcription outcome for one audio window.
type Result struct {
	Text     string        `json:"text"`
	Language string        `json:"language"`
	Duration time.Duration `json:"duration"`
	Segments []Segment     `json:"segments"`
}

// ErrDetectUnsupported is returned by engines that cannot detect a
// language without transcribing; callers fall back to engine-side
// auto-detection.
var ErrDetectUnsupported = errors.New("language detection not supported by engine")

// ModelContext is a loaded model bound to a device. Its lifetime is
// scoped to one task; Close must be safe to call more than once.
type ModelContext interface {
	// DetectLanguage inspects a leading audio sample and returns the
	// winning language code with a probability map.
	DetectLanguage(ctx context.Context, sample []float32) (string, map[string]float32, error)
	// Transcribe converts one audio window into text.
	Transcribe(ctx context.Context, samples []float32, opts Options) (*Result, error)
	Close() error
}

// Engine creates model contexts for named models on a device.
type Engine interface {
	Name() string
	LoadModel(ctx context.Context, model string, device Device) (ModelContext, error)
}

// DeviceReclaimer is implemented by engines that can force device-memory
// reclamation after a context is closed. Best effort, must not panic.
type DeviceReclaimer interface {
	ReclaimDevice(device Device)
}
