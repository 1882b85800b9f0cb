// Package server exposes the capture controller over a small HTTP API.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NYU-robot-learning/AnySense/log"
	"github.com/NYU-robot-learning/AnySense/metrics"
	"github.com/NYU-robot-learning/AnySense/recording"
	"github.com/NYU-robot-learning/AnySense/runtime"
	"github.com/NYU-robot-learning/AnySense/session"
)

// DefaultShutdownTimeout bounds how long Run waits for open requests.
const DefaultShutdownTimeout = 5 * time.Second

// Controller is the part of runtime.Controller the API drives.
type Controller interface {
	Status() runtime.Status
	StartRecording(ctx context.Context) (session.Layout, error)
	StopRecording(ctx context.Context) (*recording.Summary, error)
	StartStreaming(ctx context.Context) error
	StopStreaming(ctx context.Context) error
	ResetSource(ctx context.Context) (uint64, error)
	DeleteLatestSession() (session.Entry, error)
}

// Options configures a Server.
type Options struct {
	// Token, when set, is required as a bearer token on every request.
	Token           string
	ShutdownTimeout time.Duration
	Logger          *log.Logger
}

// Server serves the control API.
type Server struct {
	ctrl    Controller
	catalog *session.Catalog
	metrics *metrics.Collector
	opts    Options
	router  *gin.Engine
}

// New builds the router. metrics may be nil.
func New(ctrl Controller, catalog *session.Catalog, m *metrics.Collector, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{ctrl: ctrl, catalog: catalog, metrics: m, opts: opts}
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLog)

	api := router.Group("/api/v1")
	if opts.Token != "" {
		api.Use(bearerAuth(opts.Token))
	}
	api.GET("/status", s.status)
	api.GET("/metrics", s.snapshot)
	api.POST("/recording/start", s.startRecording)
	api.POST("/recording/stop", s.stopRecording)
	api.POST("/streaming/start", s.startStreaming)
	api.POST("/streaming/stop", s.stopStreaming)
	api.POST("/source/reset", s.resetSource)
	api.GET("/sessions", s.listSessions)
	api.GET("/sessions/:name", s.inspectSession)
	api.DELETE("/sessions/latest", s.deleteLatest)

	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.opts.Logger.Info("control api listening", map[string]any{"addr": addr})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.opts.Logger.Debug("request", map[string]any{
		"method":   c.Request.Method,
		"path":     c.FullPath(),
		"status":   c.Writer.Status(),
		"duration": time.Since(start).String(),
	})
}

func bearerAuth(token string) gin.HandlerFunc {
	want := []byte("Bearer " + token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// RecordingResponse describes a started or stopped recording.
type RecordingResponse struct {
	Session  string            `json:"session"`
	Dir      string            `json:"dir"`
	Start    time.Time         `json:"start"`
	Stop     *time.Time        `json:"stop,omitempty"`
	Depth    *bool             `json:"depth,omitempty"`
	Counters *session.Counters `json:"counters,omitempty"`
}

func (s *Server) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, runtime.ErrInvalidTransition), errors.Is(err, recording.ErrAlreadyRunning):
		code = http.StatusConflict
	case errors.Is(err, session.ErrNoSessions), errors.Is(err, session.ErrNotFound):
		code = http.StatusNotFound
	}
	if code == http.StatusInternalServerError {
		s.opts.Logger.Error("request failed", map[string]any{
			"path":  c.FullPath(),
			"error": err.Error(),
		})
	}
	c.JSON(code, errorBody{Error: err.Error()})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Status())
}

func (s *Server) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) startRecording(c *gin.Context) {
	layout, err := s.ctrl.StartRecording(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, RecordingResponse{
		Session: layout.Name,
		Dir:     layout.Dir,
		Start:   layout.Start,
	})
}

func (s *Server) stopRecording(c *gin.Context) {
	summary, err := s.ctrl.StopRecording(c.Request.Context())
	if summary == nil {
		if err == nil {
			err = errors.New("recorder returned no summary")
		}
		s.fail(c, err)
		return
	}
	stop := summary.Stop
	depth := summary.Depth
	counters := summary.Counters
	resp := RecordingResponse{
		Session:  summary.Layout.Name,
		Dir:      summary.Layout.Dir,
		Start:    summary.Layout.Start,
		Stop:     &stop,
		Depth:    &depth,
		Counters: &counters,
	}
	if err != nil {
		// The session was finalized; report the partial failure alongside it.
		s.opts.Logger.Warn("recording stopped with errors", map[string]any{
			"session": summary.Layout.Name,
			"error":   err.Error(),
		})
		c.JSON(http.StatusMultiStatus, gin.H{"recording": resp, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) startStreaming(c *gin.Context) {
	if err := s.ctrl.StartStreaming(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Status())
}

func (s *Server) stopStreaming(c *gin.Context) {
	if err := s.ctrl.StopStreaming(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Status())
}

func (s *Server) listSessions(c *gin.Context) {
	entries, err := s.catalog.List()
	if err != nil {
		s.fail(c, err)
		return
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
			return
		}
		if limit > 0 && limit < len(entries) {
			entries = entries[:limit]
		}
	}
	if entries == nil {
		entries = []session.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) inspectSession(c *gin.Context) {
	details, err := s.catalog.Inspect(c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// ResetResponse reports the source generation after a reset.
type ResetResponse struct {
	Generation uint64 `json:"generation"`
}

func (s *Server) resetSource(c *gin.Context) {
	gen, err := s.ctrl.ResetSource(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ResetResponse{Generation: gen})
}

func (s *Server) deleteLatest(c *gin.Context) {
	entry, err := s.ctrl.DeleteLatestSession()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}
