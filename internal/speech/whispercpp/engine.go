//go:build cgo

package whispercpp

/*
#cgo CFLAGS: -I${SRCDIR}/../../../third_party/whisper/include
#cgo LDFLAGS: -L${SRCDIR}/../../../third_party/whisper/lib -lwhisper -lggml -lstdc++ -lm
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/whisperq/whisperq/internal/speech"
)

// Config describes the whisper.cpp backend.
type Config struct {
	// ModelDir holds ggml model files named ggml-<model>.bin.
	ModelDir string
	// Threads for decoding; <=0 uses all CPUs.
	Threads int
}

// Engine loads whisper.cpp models. The compute device is fixed at
// library build time, so the requested device is informational here.
type Engine struct {
	cfg Config
}

// New creates the whisper.cpp engine.
func New(cfg Config) (*Engine, error) {
	if strings.TrimSpace(cfg.ModelDir) == "" {
		return nil, errors.New("model directory is required")
	}
	return &Engine{cfg: cfg}, nil
}

// Name implements speech.Engine.
func (e *Engine) Name() string { return "whispercpp" }

// LoadModel loads the named ggml model into memory.
func (e *Engine) LoadModel(ctx context.Context, name string, device speech.Device) (speech.ModelContext, error) {
	if ctx != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	path := e.modelPath(name)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model %s not available: %w", name, err)
	}

	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("load whisper model %s: %w", name, err)
	}

	return &modelContext{
		model:   model,
		threads: e.cfg.Threads,
		device:  device,
	}, nil
}

func (e *Engine) modelPath(name string) string {
	if filepath.IsAbs(name) || strings.ContainsRune(name, os.PathSeparator) {
		return name
	}
	if !strings.HasPrefix(name, "ggml-") {
		name = "ggml-" + name
	}
	if !strings.HasSuffix(name, ".bin") {
		name += ".bin"
	}
	return filepath.Join(e.cfg.ModelDir, name)
}

type modelContext struct {
	mu      sync.Mutex
	model   whisper.Model
	threads int
	device  speech.Device
}

// DetectLanguage runs a short decode over the sample and reports the
// model's language pick.
func (m *modelContext) DetectLanguage(ctx context.Context, sample []float32) (string, map[string]float32, error) {
	res, err := m.Transcribe(ctx, sample, speech.Options{})
	if err != nil {
		return "", nil, err
	}
	if res.Language == "" || res.Language == "auto" {
		return "", nil, errors.New("language detection produced no result")
	}
	// The bindings expose only the winning language, not the full
	// probability distribution.
	return res.Language, map[string]float32{res.Language: 1}, nil
}

// Transcribe decodes one window of 16 kHz mono samples.
func (m *modelContext) Transcribe(ctx context.Context, samples []float32, opts speech.Options) (*speech.Result, error) {
	if len(samples) == 0 {
		return nil, errors.New("empty audio samples")
	}

	m.mu.Lock()
	model := m.model
	m.mu.Unlock()
	if model == nil {
		return nil, errors.New("model context closed")
	}
	if ctx != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	wctx, err := model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create whisper context: %w", err)
	}

	threads := opts.Threads
	if threads <= 0 {
		threads = m.threads
	}
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	language := "auto"
	if lang := strings.TrimSpace(opts.Language); lang != "" {
		language = lang
	}
	if err := wctx.SetLanguage(language); err != nil {
		return nil, err
	}
	wctx.SetTranslate(opts.Translate)
	if prompt := strings.TrimSpace(opts.InitialPrompt); prompt != "" {
		wctx.SetInitialPrompt(prompt)
	}

	var encoderCb whisper.EncoderBeginCallback
	if ctx != nil {
		encoderCb = func() bool {
			return ctx.Err() == nil
		}
	}

	if err := wctx.Process(samples, encoderCb, nil, nil); err != nil {
		return nil, err
	}
	if ctx != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	segments := make([]speech.Segment, 0)
	var text strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		segments = append(segments, speech.Segment{
			ID:    seg.Num,
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
		if text.Len() > 0 {
			text.WriteByte(' ')
		}
		text.WriteString(strings.TrimSpace(seg.Text))
	}

	detected := wctx.DetectedLanguage()
	if detected == "" {
		detected = language
	}

	return &speech.Result{
		Text:     strings.TrimSpace(text.String()),
		Language: detected,
		Duration: time.Duration(float64(len(samples)) / float64(whisper.SampleRate) * float64(time.Second)),
		Segments: segments,
	}, nil
}

// Close releases the model. Safe to call more than once.
func (m *modelContext) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model == nil {
		return nil
	}
	err := m.model.Close()
	m.model = nil
	return err
}
