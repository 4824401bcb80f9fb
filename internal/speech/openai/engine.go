package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/whisperq/whisperq/internal/media"
	"github.com/whisperq/whisperq/internal/speech"
)

// DefaultModel is the hosted transcription model used when none is
// configured.
const DefaultModel = "whisper-1"

// Config describes the hosted transcription backend.
type Config struct {
	APIKey  string
	BaseURL string
	// Model overrides the API model; local ggml model names do not
	// apply to the hosted service.
	Model string
}

// Engine transcribes via the hosted audio transcription API. There is
// no local model to load, so acquisition is trivially cheap and the
// requested device is ignored.
type Engine struct {
	client openai.Client
	model  string
}

// New creates the hosted engine.
func New(cfg Config) (*Engine, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("api key is required for the hosted speech backend")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}

	return &Engine{client: openai.NewClient(opts...), model: model}, nil
}

// Name implements speech.Engine.
func (e *Engine) Name() string { return "openai" }

// LoadModel returns a context bound to the configured API model.
func (e *Engine) LoadModel(ctx context.Context, _ string, _ speech.Device) (speech.ModelContext, error) {
	if ctx != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return &modelContext{client: e.client, model: e.model}, nil
}

type modelContext struct {
	client openai.Client
	model  string
}

// DetectLanguage is not offered by the transcription API.
func (m *modelContext) DetectLanguage(context.Context, []float32) (string, map[string]float32, error) {
	return "", nil, speech.ErrDetectUnsupported
}

// Transcribe uploads one window as WAV and returns the hosted result.
func (m *modelContext) Transcribe(ctx context.Context, samples []float32, opts speech.Options) (*speech.Result, error) {
	if len(samples) == 0 {
		return nil, errors.New("empty audio samples")
	}

	wav := media.EncodeWAV(samples, speech.SampleRate)
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: openai.AudioModel(m.model),
	}
	if lang := strings.TrimSpace(opts.Language); lang != "" {
		params.Language = openai.String(lang)
	}
	if prompt := strings.TrimSpace(opts.InitialPrompt); prompt != "" {
		params.Prompt = openai.String(prompt)
	}

	resp, err := m.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("hosted transcription: %w", err)
	}

	duration := time.Duration(media.Duration(samples) * float64(time.Second))
	text := strings.TrimSpace(resp.Text)

	// The json response format carries no timings; report the window as
	// a single segment.
	var segments []speech.Segment
	if text != "" {
		segments = []speech.Segment{{Start: 0, End: duration, Text: text}}
	}

	return &speech.Result{
		Text:     text,
		Language: opts.Language,
		Duration: duration,
		Segments: segments,
	}, nil
}

// Close is a no-op; the API client holds no per-task state.
func (m *modelContext) Close() error { return nil }
