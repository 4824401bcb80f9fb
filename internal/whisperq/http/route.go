package http

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	apperrors "github.com/whisperq/whisperq/internal/errors"
	"github.com/whisperq/whisperq/internal/model"
	"github.com/whisperq/whisperq/internal/notify"
	"github.com/whisperq/whisperq/pkg/util"
)

func (s *Service) initRouter() {
	s.router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	s.router.POST("/upload", s.handleUpload)
	s.router.GET("/download/:name", s.handleDownload)
	s.router.GET("/play/:name", s.handlePlay)
	if s.hub != nil {
		s.router.GET("/ws/status", func(c *gin.Context) { s.hub.Serve(c.Writer, c.Request) })
	}

	api := s.router.Group("/api")
	{
		api.POST("/queue", s.handleQueue)
		api.POST("/transcribe", s.handleTranscribe)
		api.GET("/uploads", s.handleListUploads)
		api.GET("/outputs", s.handleListOutputs)
		api.DELETE("/uploads/:name", s.handleDeleteUpload)
		api.DELETE("/outputs/:name", s.handleDeleteOutput)
		api.GET("/status", s.handleStatus)
		api.GET("/progress/:id", s.handleProgress)
		api.GET("/search", s.handleSearch)
	}
}

type savedFile struct {
	Name        string `json:"name"`
	SizeBytes   int64  `json:"size_bytes"`
	Fingerprint string `json:"fingerprint"`
}

// POST /upload
func (s *Service) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.conf.MaxContentBytes())

	form, err := c.MultipartForm()
	if err != nil {
		c.Error(apperrors.BadRequest("invalid multipart payload: %v", err))
		return
	}

	incoming := form.File["files"]
	if len(incoming) == 0 {
		incoming = form.File["file"]
	}
	if len(incoming) == 0 {
		c.Error(apperrors.BadRequest("no files in request"))
		return
	}

	saved := make([]savedFile, 0, len(incoming))
	rejected := make([]gin.H, 0)
	for _, fh := range incoming {
		entry, err := s.saveUpload(fh)
		if err != nil {
			rejected = append(rejected, gin.H{"name": fh.Filename, "error": err.Error()})
			continue
		}
		saved = append(saved, entry)
	}

	if len(saved) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"saved": saved, "rejected": rejected})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": saved, "rejected": rejected})
}

// saveUpload persists one multipart file into the uploads dir and
// fingerprints its content.
func (s *Service) saveUpload(fh *multipart.FileHeader) (savedFile, error) {
	name := util.SanitizeFilename(fh.Filename)
	if name == "" {
		return savedFile{}, apperrors.BadRequest("unusable filename %q", fh.Filename)
	}
	if max := s.conf.MaxFilenameLength; max > 0 && len(name) > max {
		return savedFile{}, apperrors.BadRequest("filename longer than %d characters", max)
	}
	if !util.HasAllowedExtension(name, s.conf.AllowedExtensions) {
		return savedFile{}, apperrors.BadRequest("extension of %q is not allowed", name)
	}

	src, err := fh.Open()
	if err != nil {
		return savedFile{}, apperrors.Persistence(err, "open uploaded file")
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(s.conf.UploadDir, name))
	if err != nil {
		return savedFile{}, apperrors.Persistence(err, "create upload %s", name)
	}
	defer dst.Close()

	digest := xxhash.New()
	size, err := io.Copy(io.MultiWriter(dst, digest), src)
	if err != nil {
		_ = os.Remove(dst.Name())
		return savedFile{}, apperrors.Persistence(err, "write upload %s", name)
	}

	entry := savedFile{Name: name, SizeBytes: size, Fingerprint: fmt.Sprintf("%016x", digest.Sum64())}
	log.Info().Str("file", name).Int64("bytes", size).Str("fingerprint", entry.Fingerprint).Msg("upload saved")
	if s.hub != nil {
		s.hub.Emit(notify.EventFileAdded, gin.H{"name": name, "size_bytes": size})
	}
	return entry, nil
}

// POST /api/queue
func (s *Service) handleQueue(c *gin.Context) {
	var req model.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.BadRequest("invalid request payload: %v", err))
		return
	}
	if len(req.Files) == 0 {
		c.Error(apperrors.BadRequest("no files selected"))
		return
	}
	s.applySubmitDefaults(&req)
	if !s.conf.IsSupportedModel(req.Model) {
		c.Error(apperrors.BadRequest("unsupported model %q", req.Model))
		return
	}

	for i, name := range req.Files {
		clean := util.SanitizeFilename(name)
		if clean == "" {
			c.Error(apperrors.BadRequest("unusable filename %q", name))
			return
		}
		if _, err := os.Stat(filepath.Join(s.conf.UploadDir, clean)); err != nil {
			c.Error(apperrors.NotFound("uploaded file %q not found", name))
			return
		}
		req.Files[i] = clean
	}

	receipts, err := s.submit.Submit(req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"tasks": receipts, "queue_length": s.queue.Len()})
}

// POST /api/transcribe
func (s *Service) handleTranscribe(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.conf.MaxContentBytes())

	fh, err := c.FormFile("file")
	if err != nil {
		c.Error(apperrors.BadRequest("file is required: %v", err))
		return
	}
	entry, err := s.saveUpload(fh)
	if err != nil {
		c.Error(err)
		return
	}

	req := model.SubmitRequest{
		Files:    []string{entry.Name},
		Model:    c.PostForm("model"),
		Language: c.PostForm("language"),
		GPUs:     util.ParseIntList(c.PostForm("gpus"), ","),
	}
	s.applySubmitDefaults(&req)
	if !s.conf.IsSupportedModel(req.Model) {
		c.Error(apperrors.BadRequest("unsupported model %q", req.Model))
		return
	}

	receipts, err := s.submit.Submit(req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"file": entry, "tasks": receipts, "queue_length": s.queue.Len()})
}

func (s *Service) applySubmitDefaults(req *model.SubmitRequest) {
	if req.Model == "" {
		req.Model = s.conf.DefaultModel
	}
	if req.Language == "" {
		req.Language = s.conf.DefaultLanguage
	}
	if len(req.GPUs) == 0 {
		req.GPUs = s.conf.DefaultGPUIDs
	}
}

type fileEntry struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	Modified  time.Time `json:"modified"`
}

// GET /api/uploads
func (s *Service) handleListUploads(c *gin.Context) {
	s.listDir(c, s.conf.UploadDir)
}

// GET /api/outputs
func (s *Service) handleListOutputs(c *gin.Context) {
	s.listDir(c, s.conf.OutputDir)
}

func (s *Service) listDir(c *gin.Context, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		c.Error(apperrors.Persistence(err, "list %s", dir))
		return
	}

	files := make([]fileEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileEntry{
			Name:      entry.Name(),
			SizeBytes: info.Size(),
			Modified:  info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Modified.After(files[j].Modified) })

	c.JSON(http.StatusOK, gin.H{"files": files})
}

// fileParam sanitizes the :name route parameter. An empty result would
// make filepath.Join resolve to the directory itself, so it is rejected
// before any path is built from it.
func fileParam(c *gin.Context) (string, bool) {
	raw := c.Param("name")
	name := util.SanitizeFilename(raw)
	if name == "" {
		c.Error(apperrors.BadRequest("unusable filename %q", raw))
		return "", false
	}
	return name, true
}

// GET /download/:name
func (s *Service) handleDownload(c *gin.Context) {
	name, ok := fileParam(c)
	if !ok {
		return
	}
	path := filepath.Join(s.conf.OutputDir, name)
	if _, err := os.Stat(path); err != nil {
		c.Error(apperrors.NotFound("transcript %q not found", name))
		return
	}
	c.FileAttachment(path, name)
}

// GET /play/:name
func (s *Service) handlePlay(c *gin.Context) {
	name, ok := fileParam(c)
	if !ok {
		return
	}
	path := filepath.Join(s.conf.UploadDir, name)
	if _, err := os.Stat(path); err != nil {
		c.Error(apperrors.NotFound("media %q not found", name))
		return
	}
	c.File(path)
}

// DELETE /api/uploads/:name
func (s *Service) handleDeleteUpload(c *gin.Context) {
	s.deleteFrom(c, s.conf.UploadDir)
}

// DELETE /api/outputs/:name
func (s *Service) handleDeleteOutput(c *gin.Context) {
	s.deleteFrom(c, s.conf.OutputDir)
}

func (s *Service) deleteFrom(c *gin.Context, dir string) {
	name, ok := fileParam(c)
	if !ok {
		return
	}
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		c.Error(apperrors.NotFound("file %q not found", name))
		return
	}
	if err := os.Remove(path); err != nil {
		c.Error(apperrors.Persistence(err, "delete %s", name))
		return
	}
	log.Info().Str("file", name).Msg("file deleted")
	if s.hub != nil {
		s.hub.Emit(notify.EventFileRemoved, gin.H{"name": name})
	}
	c.JSON(http.StatusOK, gin.H{"deleted": name})
}

// GET /api/status
func (s *Service) handleStatus(c *gin.Context) {
	views := make([]model.TaskView, 0)

	if active, ok := s.registry.Active(); ok {
		start := active.StartedAt
		views = append(views, model.TaskView{
			TaskID:         active.ID,
			Filename:       active.FileName(),
			Status:         active.Status,
			StartTime:      &start,
			ElapsedSeconds: int(s.registry.Elapsed().Seconds()),
		})
	}
	for i, t := range s.queue.Snapshot() {
		views = append(views, model.TaskView{
			TaskID:   t.ID,
			Filename: t.FileName(),
			Status:   t.Status,
			Position: i + 1,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks":        views,
		"queue_length": s.queue.Len(),
		"gpus":         s.conf.DefaultGPUIDs,
		"host":         hostStats(),
	})
}

func hostStats() gin.H {
	stats := gin.H{}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats["memory_percent"] = vm.UsedPercent
		stats["memory_total_mb"] = vm.Total / (1 << 20)
	}
	return stats
}

// GET /api/progress/:id
func (s *Service) handleProgress(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))

	if active, ok := s.registry.Active(); ok && active.ID == id {
		c.JSON(http.StatusOK, gin.H{
			"task_id":         id,
			"filename":        active.FileName(),
			"status":          active.Status,
			"elapsed_seconds": int(s.registry.Elapsed().Seconds()),
		})
		return
	}

	if pos := s.queue.Position(id); pos > 0 {
		c.JSON(http.StatusOK, gin.H{
			"task_id":  id,
			"status":   model.TaskStatusQueued,
			"position": pos,
		})
		return
	}

	c.Error(apperrors.NotFound("task %q not found", id))
}

// GET /api/search
func (s *Service) handleSearch(c *gin.Context) {
	if s.idx == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "search index not enabled"})
		return
	}

	params := struct {
		Query    string `form:"q"`
		Language string `form:"language"`
		Limit    int    `form:"limit"`
		Offset   int    `form:"offset"`
	}{}
	if err := c.BindQuery(&params); err != nil {
		c.Error(apperrors.BadRequest("invalid query: %v", err))
		return
	}

	hits, total, err := s.idx.Search(params.Query, params.Language, params.Offset, params.Limit)
	if err != nil {
		c.Error(err)
		return
	}

	results := make([]gin.H, 0, len(hits))
	for _, hit := range hits {
		results = append(results, gin.H{
			"task_id":      hit.Transcript.TaskID,
			"file":         hit.Transcript.File,
			"output":       hit.Transcript.Output,
			"language":     hit.Transcript.Language,
			"duration":     hit.Transcript.Duration,
			"completed_at": hit.Transcript.CompletedAt,
			"snippet":      hit.Snippet,
			"score":        hit.Score,
		})
	}

	c.JSON(http.StatusOK, gin.H{"total": total, "results": results})
}
