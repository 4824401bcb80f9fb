package worker

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/whisperq/whisperq/internal/errors"
	"github.com/whisperq/whisperq/internal/index"
	"github.com/whisperq/whisperq/internal/media"
	"github.com/whisperq/whisperq/internal/model"
	"github.com/whisperq/whisperq/internal/queue"
	"github.com/whisperq/whisperq/internal/resource"
	"github.com/whisperq/whisperq/internal/segment"
	"github.com/whisperq/whisperq/internal/speech"
)

// detectSampleSeconds bounds the audio handed to language detection.
const detectSampleSeconds = 30.0

// defaultPollInterval is the fallback wake-up period for the cases the
// queue wake signal cannot cover, such as a task enqueued between a
// drain and the select.
const defaultPollInterval = time.Second

// AudioLoader decodes an input media file into mono 16 kHz PCM.
type AudioLoader interface {
	DecodePCM(ctx context.Context, path string) ([]float32, error)
}

// TranscriptSink receives completed transcripts for search indexing.
// Sink failures never fail the task; the transcript file is already on
// disk by the time the sink runs.
type TranscriptSink interface {
	Add(t *index.Transcript) error
}

// Config wires the worker's collaborators.
type Config struct {
	Queue     *queue.TaskQueue
	Registry  *queue.ActiveTaskRegistry
	Resources *resource.Manager
	Loader    AudioLoader
	Planner   segment.Planner
	Merger    segment.Merger
	Notifier  Notifier
	Sink      TranscriptSink

	PollInterval time.Duration
}

// Worker drains the task queue one task at a time. It is the only
// goroutine that runs inference, which is what serializes model and
// device usage.
type Worker struct {
	queue    *queue.TaskQueue
	registry *queue.ActiveTaskRegistry
	res      *resource.Manager
	loader   AudioLoader
	planner  segment.Planner
	merger   segment.Merger
	notifier Notifier
	sink     TranscriptSink

	pollInterval time.Duration
}

// New creates a worker. Notifier and Sink are optional.
func New(cfg Config) *Worker {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Worker{
		queue:        cfg.Queue,
		registry:     cfg.Registry,
		res:          cfg.Resources,
		loader:       cfg.Loader,
		planner:      cfg.Planner,
		merger:       cfg.Merger,
		notifier:     notifier,
		sink:         cfg.Sink,
		pollInterval: interval,
	}
}

// Run blocks, processing tasks until the context is cancelled. Between
// tasks it sleeps on the queue wake signal with a ticker fallback.
func (w *Worker) Run(ctx context.Context) {
	log.Info().Msg("transcription worker started")
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		for w.ProcessNext(ctx) {
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("transcription worker stopped")
			return
		case <-w.queue.Wake():
		case <-ticker.C:
		}
	}
}

// ProcessNext claims and runs the head task. Returns false when the
// queue was empty or another task was already active.
func (w *Worker) ProcessNext(ctx context.Context) bool {
	task, ok := w.queue.Transfer(w.registry)
	if !ok {
		return false
	}
	w.process(ctx, task)
	w.announceNext()
	return true
}

// process runs one task end to end. The deferred cleanup releases the
// inference context and clears the active registry on every exit path,
// success and failure alike.
func (w *Worker) process(ctx context.Context, task *model.Task) {
	log.Info().
		Str("task", task.ID).
		Str("file", task.FileName()).
		Str("model", task.Model).
		Msg("processing task")

	var lease *resource.Lease
	defer func() {
		w.res.Release(lease)
		w.registry.Clear(task.ID)
	}()

	w.emitUpdate(task, TaskUpdate{
		Status:   model.TaskStatusProcessing,
		Progress: 5,
		Message:  "loading model " + task.Model,
	})

	lease, err := w.res.Acquire(ctx, task.Model, task.GPUIDs)
	if err != nil {
		w.fail(task, err)
		return
	}

	samples, err := w.loader.DecodePCM(ctx, task.InputPath)
	if err != nil {
		w.fail(task, apperrors.Inference(err, "decode %s", task.FileName()))
		return
	}

	totalSeconds := media.Duration(samples)
	windows := w.planner.Plan(totalSeconds)
	if len(windows) == 0 {
		w.fail(task, apperrors.Inference(nil, "%s contains no audio", task.FileName()))
		return
	}

	language := w.resolveLanguage(ctx, lease.Context(), task, samples)
	w.emitUpdate(task, TaskUpdate{
		Status:   model.TaskStatusProcessing,
		Progress: 10,
		Language: language,
		Message:  "transcribing",
	})

	merged, err := w.transcribe(ctx, lease.Context(), task, samples, windows, language)
	if err != nil {
		w.fail(task, err)
		return
	}
	merged.Duration = time.Duration(totalSeconds * float64(time.Second))

	if err := os.WriteFile(task.OutputPath, []byte(merged.Text), 0o644); err != nil {
		w.fail(task, apperrors.Persistence(err, "write transcript %s", task.OutputFileName()))
		return
	}

	w.indexTranscript(task, merged, totalSeconds)

	task.Status = model.TaskStatusCompleted
	elapsed := int(time.Since(task.StartedAt).Seconds())
	log.Info().
		Str("task", task.ID).
		Str("output", task.OutputFileName()).
		Int("elapsed_seconds", elapsed).
		Msg("task completed")
	w.emitUpdate(task, TaskUpdate{
		Status:         model.TaskStatusCompleted,
		Progress:       100,
		Language:       merged.Language,
		OutputFile:     task.OutputFileName(),
		ElapsedSeconds: elapsed,
		Message:        "transcription complete",
	})
}

// transcribe runs the windowed pass. A failing window triggers exactly
// one whole-file attempt before the task fails.
func (w *Worker) transcribe(ctx context.Context, mctx speech.ModelContext, task *model.Task, samples []float32, windows []segment.Window, language string) (*speech.Result, error) {
	opts := speech.Options{Language: language}
	results := make([]*speech.Result, len(windows))

	for k, win := range windows {
		res, err := mctx.Transcribe(ctx, media.Slice(samples, win.Start, win.End), opts)
		if err != nil {
			log.Warn().
				Err(err).
				Str("task", task.ID).
				Int("window", win.Index).
				Msg("window transcription failed, retrying whole file")
			whole, wholeErr := mctx.Transcribe(ctx, samples, opts)
			if wholeErr != nil {
				return nil, apperrors.Inference(wholeErr, "transcribe %s", task.FileName())
			}
			return whole, nil
		}
		results[k] = res

		w.emitUpdate(task, TaskUpdate{
			Status:   model.TaskStatusProcessing,
			Progress: progressPercent(k+1, len(windows)),
			Message:  "transcribing",
		})
	}

	return w.merger.Merge(results, language), nil
}

// resolveLanguage pins the language for all windows, so the transcript
// cannot switch languages at a window boundary. Detection failures fall
// back to engine-side auto-detection.
func (w *Worker) resolveLanguage(ctx context.Context, mctx speech.ModelContext, task *model.Task, samples []float32) string {
	if task.Language != "" && task.Language != "auto" {
		return task.Language
	}

	sample := media.Slice(samples, 0, detectSampleSeconds)
	lang, probs, err := mctx.DetectLanguage(ctx, sample)
	if err != nil {
		if err == speech.ErrDetectUnsupported {
			log.Debug().Str("task", task.ID).Msg("engine has no language detection, deferring to auto")
		} else {
			log.Warn().Err(err).Str("task", task.ID).Msg("language detection failed, deferring to auto")
		}
		return ""
	}

	log.Info().
		Str("task", task.ID).
		Str("language", lang).
		Float32("probability", probs[lang]).
		Msg("detected language")
	return lang
}

func (w *Worker) indexTranscript(task *model.Task, merged *speech.Result, totalSeconds float64) {
	if w.sink == nil {
		return
	}
	err := w.sink.Add(&index.Transcript{
		TaskID:      task.ID,
		File:        task.FileName(),
		Output:      task.OutputFileName(),
		Language:    merged.Language,
		Duration:    totalSeconds,
		Text:        merged.Text,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Warn().Err(err).Str("task", task.ID).Msg("indexing transcript failed")
	}
}

func (w *Worker) fail(task *model.Task, err error) {
	task.Status = model.TaskStatusFailed
	log.Error().
		Err(err).
		Str("task", task.ID).
		Str("file", task.FileName()).
		Str("kind", string(apperrors.KindOf(err))).
		Msg("task failed")

	w.emitUpdate(task, TaskUpdate{
		Status: model.TaskStatusFailed,
		Error:  err.Error(),
	})
	w.notifier.Emit(EventLogMessage, LogMessage{
		Level:   "error",
		Message: "transcription of " + task.FileName() + " failed: " + err.Error(),
	})
}

// announceNext tells the new head of the queue it is up next.
func (w *Worker) announceNext() {
	next, ok := w.queue.PeekHead()
	if !ok {
		return
	}
	w.emitUpdate(next, TaskUpdate{
		Status:   model.TaskStatusQueued,
		Position: 1,
		Message:  "next in queue",
	})
}

func (w *Worker) emitUpdate(task *model.Task, update TaskUpdate) {
	update.TaskID = task.ID
	update.Filename = task.FileName()
	w.notifier.Emit(EventTaskUpdate, update)
}

// progressPercent maps window completion onto the 15..95 band, floored
// to a multiple of five so observers see stable steps.
func progressPercent(done, total int) int {
	p := 15 + (80*done)/total
	if p > 95 {
		p = 95
	}
	return p - p%5
}
