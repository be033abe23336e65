// Package server exposes the chat core to the phone UI over HTTP and a
// websocket push channel.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"xiaoshouji/pkg/chat"
	"xiaoshouji/pkg/completion"
	"xiaoshouji/pkg/media"
	"xiaoshouji/pkg/metrics"
	"xiaoshouji/pkg/store"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type Server struct {
	svc    *chat.Service
	repo   *store.Repository
	images *media.ImageProcessor
	hub    *Hub
	engine *gin.Engine
}

func New(svc *chat.Service, images *media.ImageProcessor) *Server {
	if images == nil {
		images = media.NewImageProcessor(media.DefaultOptions)
	}
	s := &Server{
		svc:    svc,
		repo:   svc.Repository(),
		images: images,
		hub:    NewHub(),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/ws", func(c *gin.Context) { s.hub.Serve(c.Writer, c.Request) })

	api := r.Group("/api")
	{
		api.GET("/contacts", s.listContacts)
		api.POST("/contacts", s.createContact)
		api.PATCH("/contacts/:id", s.updateContact)
		api.DELETE("/contacts/:id", s.deleteContact)

		api.GET("/contacts/:id/settings", s.getSettings)
		api.PUT("/contacts/:id/settings", s.putSettings)

		api.GET("/contacts/:id/worldbook", s.getLocalLore)
		api.PUT("/contacts/:id/worldbook", s.putLocalLore)
		api.GET("/worldbook/:app", s.getGlobalLore)
		api.PUT("/worldbook/:app", s.putGlobalLore)

		api.GET("/contacts/:id/messages", s.listMessages)
		api.POST("/contacts/:id/messages", s.sendMessage)
		api.DELETE("/contacts/:id/messages", s.clearMessages)
		api.POST("/contacts/:id/regenerate", s.regenerate)
		api.POST("/contacts/:id/messages/:msgId/open", s.openRedPacket)

		api.GET("/active", s.getActive)
		api.PUT("/active", s.setActive)
	}
	return r
}

// Run serves on addr and relays push events until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.hub.Run(ctx, s.svc, s.repo.Broker())

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "success", Data: data})
}

func created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Code: 0, Message: "created", Data: data})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Code: -1, Message: msg})
}

// errorResponse maps domain errors onto HTTP statuses.
func errorResponse(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var apiErr *completion.APIError

	switch {
	case errors.Is(err, store.ErrContactNotFound), errors.Is(err, chat.ErrMessageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrBusy),
		errors.Is(err, chat.ErrAlreadyOpened):
		status = http.StatusConflict
	case errors.Is(err, chat.ErrEmptyInput),
		errors.Is(err, chat.ErrOwnRedPacket),
		errors.Is(err, chat.ErrNotRedPacket),
		errors.Is(err, media.ErrNotImage):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrEmptyReply), errors.As(err, &apiErr):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.JSON(status, Response{Code: -1, Message: err.Error()})
}
