package whisperq

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/whisperq/whisperq/internal/index"
	"github.com/whisperq/whisperq/internal/media"
	"github.com/whisperq/whisperq/internal/model"
	"github.com/whisperq/whisperq/internal/notify"
	"github.com/whisperq/whisperq/internal/queue"
	"github.com/whisperq/whisperq/internal/resource"
	"github.com/whisperq/whisperq/internal/segment"
	"github.com/whisperq/whisperq/internal/speech"
	speechopenai "github.com/whisperq/whisperq/internal/speech/openai"
	"github.com/whisperq/whisperq/internal/speech/whispercpp"
	"github.com/whisperq/whisperq/internal/whisperq/conf"
	whisperqhttp "github.com/whisperq/whisperq/internal/whisperq/http"
	"github.com/whisperq/whisperq/internal/worker"
	"github.com/whisperq/whisperq/pkg/util"
)

// App owns the service's long-lived components and their lifecycle.
type App struct {
	conf *conf.Config

	queue    *queue.TaskQueue
	registry *queue.ActiveTaskRegistry
	res      *resource.Manager
	worker   *worker.Worker
	hub      *notify.Hub
	idx      *index.Index
	http     *whisperqhttp.Service
	watcher  *fsnotify.Watcher
}

// New builds the application from configuration.
func New(cfg *conf.Config) (*App, error) {
	for _, dir := range []string{cfg.UploadDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	engine, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}

	idx, err := index.Open(cfg.IndexPath)
	if err != nil {
		return nil, err
	}

	app := &App{
		conf:     cfg,
		queue:    queue.New(),
		registry: queue.NewRegistry(),
		res:      resource.NewManager(engine),
		hub:      notify.NewHub(),
		idx:      idx,
	}

	decoder := media.NewDecoder()
	decoder.FFmpegPath = cfg.FFmpegPath
	planner := cfg.Planner()

	app.worker = worker.New(worker.Config{
		Queue:     app.queue,
		Registry:  app.registry,
		Resources: app.res,
		Loader:    decoder,
		Planner:   planner,
		Merger:    segment.NewMerger(cfg.MergePolicy(), planner),
		Notifier:  app.hub,
		Sink:      app.idx,
	})

	app.http = whisperqhttp.NewService(cfg, app.queue, app.registry, app.idx, app.hub, app)
	return app, nil
}

func newEngine(cfg *conf.Config) (speech.Engine, error) {
	switch strings.ToLower(cfg.Speech.Provider) {
	case "", "whispercpp":
		return whispercpp.New(whispercpp.Config{
			ModelDir: cfg.ModelDir,
			Threads:  cfg.Threads,
		})
	case "openai":
		return speechopenai.New(speechopenai.Config{
			APIKey:  cfg.Speech.APIKey,
			BaseURL: cfg.Speech.BaseURL,
			Model:   cfg.Speech.Model,
		})
	default:
		return nil, fmt.Errorf("unsupported speech provider: %s", cfg.Speech.Provider)
	}
}

// Submit creates and enqueues one task per file. Implements the HTTP
// layer's Submitter.
func (a *App) Submit(req model.SubmitRequest) ([]model.TaskReceipt, error) {
	receipts := make([]model.TaskReceipt, 0, len(req.Files))

	for _, name := range req.Files {
		id := model.NewTaskID()
		task := &model.Task{
			ID:         id,
			InputPath:  filepath.Join(a.conf.UploadDir, name),
			OutputPath: filepath.Join(a.conf.OutputDir, model.TranscriptFileName(name, id)),
			Model:      req.Model,
			Language:   req.Language,
			GPUIDs:     req.GPUs,
		}

		pos := a.queue.Enqueue(task)
		log.Info().
			Str("task", id).
			Str("file", name).
			Int("position", pos).
			Msg("task queued")

		a.hub.Emit(notify.EventTaskUpdate, worker.TaskUpdate{
			TaskID:   id,
			Filename: name,
			Status:   model.TaskStatusQueued,
			Position: pos,
		})
		receipts = append(receipts, model.TaskReceipt{TaskID: id, Filename: name, Position: pos})
	}

	return receipts, nil
}

// Run starts all components and blocks until a termination signal.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.watchUploads(ctx); err != nil {
		log.Warn().Err(err).Msg("uploads watcher disabled")
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		a.worker.Run(ctx)
	}()

	if err := a.http.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info().Str("signal", s.String()).Msg("shutting down")

	cancel()
	<-workerDone
	a.shutdown()
	return nil
}

// shutdown sweeps all held resources: pending tasks are dropped, the
// active lease is reclaimed, servers and the index are closed.
func (a *App) shutdown() {
	if a.watcher != nil {
		_ = a.watcher.Close()
	}

	dropped := a.queue.Clear()
	for _, t := range dropped {
		log.Info().Str("task", t.ID).Str("file", t.FileName()).Msg("dropping queued task")
	}
	if active, ok := a.registry.Active(); ok {
		a.registry.Clear(active.ID)
	}
	a.res.ReclaimAll(a.conf.DefaultGPUIDs)

	_ = a.http.Stop()
	a.hub.Close()
	if err := a.idx.Close(); err != nil {
		log.Warn().Err(err).Msg("closing transcript index failed")
	}
	log.Info().Msg("shutdown complete")
}

// watchUploads emits file events when media appears in or vanishes from
// the uploads directory outside the upload endpoint.
func (a *App) watchUploads(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(a.conf.UploadDir); err != nil {
		_ = watcher.Close()
		return err
	}
	a.watcher = watcher

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name := filepath.Base(event.Name)
				if !util.HasAllowedExtension(name, a.conf.AllowedExtensions) {
					continue
				}
				switch {
				case event.Op.Has(fsnotify.Create):
					log.Debug().Str("file", name).Msg("upload appeared")
					a.hub.Emit(notify.EventFileAdded, map[string]string{"name": name})
				case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
					log.Debug().Str("file", name).Msg("upload removed")
					a.hub.Emit(notify.EventFileRemoved, map[string]string{"name": name})
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("uploads watcher error")
			}
		}
	}()
	return nil
}
