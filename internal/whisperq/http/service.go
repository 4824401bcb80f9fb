package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/whisperq/whisperq/internal/errors"
	"github.com/whisperq/whisperq/internal/index"
	"github.com/whisperq/whisperq/internal/model"
	"github.com/whisperq/whisperq/internal/notify"
	"github.com/whisperq/whisperq/internal/queue"
	"github.com/whisperq/whisperq/internal/whisperq/conf"
)

// Submitter turns uploaded files into queued tasks.
type Submitter interface {
	Submit(req model.SubmitRequest) ([]model.TaskReceipt, error)
}

// Service is the HTTP front of the transcription queue.
type Service struct {
	conf     *conf.Config
	queue    *queue.TaskQueue
	registry *queue.ActiveTaskRegistry
	idx      *index.Index
	hub      *notify.Hub
	submit   Submitter

	router *gin.Engine
	server *http.Server
}

// NewService assembles the router. The index and hub are optional.
func NewService(cfg *conf.Config, q *queue.TaskQueue, reg *queue.ActiveTaskRegistry, idx *index.Index, hub *notify.Hub, submit Submitter) *Service {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if err := router.SetTrustedProxies(nil); err != nil {
		log.Err(err).Msg("Failed to set trusted proxies")
	}

	router.Use(
		errors.RecoveryMiddleware(),
		errors.ErrorHandlerMiddleware(),
		gin.LoggerWithWriter(log.Logger),
		corsMiddleware(),
	)
	router.MaxMultipartMemory = 32 << 20

	s := &Service{
		conf:     cfg,
		queue:    q,
		registry: reg,
		idx:      idx,
		hub:      hub,
		submit:   submit,
		router:   router,
	}
	s.initRouter()
	return s
}

// Start runs the listener in the background.
func (s *Service) Start() error {
	s.server = &http.Server{
		Addr:    s.conf.Addr(),
		Handler: s.router,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Err(err).Msg("Failed to start HTTP server")
		}
	}()

	log.Info().Msg("Starting HTTP server on " + s.conf.Addr())
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Service) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		log.Debug().Err(err).Msg("Failed to shutdown HTTP server")
		return nil
	}

	log.Info().Msg("HTTP server stopped")
	return nil
}

// GetRouter exposes the router, used by tests.
func (s *Service) GetRouter() *gin.Engine {
	return s.router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
