package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/scriptsrunner/internal/dispatch"
	"github.com/mattjoyce/scriptsrunner/internal/events"
	"github.com/mattjoyce/scriptsrunner/internal/queue"
	"github.com/mattjoyce/scriptsrunner/internal/state"
)

// Orchestrator is the subset of dispatch.Orchestrator the API drives.
type Orchestrator interface {
	Scripts(ctx context.Context) ([]dispatch.ScriptView, error)
	Script(ctx context.Context, path string) (dispatch.ScriptView, error)
	Run(ctx context.Context, path string, mode state.Mode) (dispatch.RunOutcome, error)
	Cancel(path string) bool
	ForceReset(path string) bool
	Dequeue(path string) error
	ClearHistory(ctx context.Context, path string) (state.ScriptRecord, error)
	UpdateScript(ctx context.Context, path string, patch state.MetaPatch) (state.ScriptRecord, error)
	Rescan(ctx context.Context) error
	LastScanError() error
	Settings() state.Settings
	SaveSettings(ctx context.Context, patch state.SettingsPatch) (state.Settings, error)
	Snapshot() queue.Snapshot
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the bearer token required on every route except /healthz.
	// Empty disables authentication.
	APIKey string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	orch      Orchestrator
	hub       *events.Hub
	metrics   http.Handler
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. metrics may be nil.
func New(config Config, orch Orchestrator, hub *events.Hub, metrics http.Handler, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		orch:      orch,
		hub:       hub,
		metrics:   metrics,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx ends or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /events streams for as long as the client stays.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "auth", s.config.APIKey != "")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/scripts", s.handleListScripts)
		r.Get("/scripts/detail", s.handleGetScript)
		r.Post("/scripts/run", s.handleRun)
		r.Post("/scripts/cancel", s.handleCancel)
		r.Post("/scripts/reset", s.handleReset)
		r.Post("/scripts/dequeue", s.handleDequeue)
		r.Delete("/scripts/history", s.handleClearHistory)
		r.Patch("/scripts/meta", s.handleUpdateMeta)

		r.Get("/queue", s.handleQueue)
		r.Post("/rescan", s.handleRescan)

		r.Get("/settings", s.handleGetSettings)
		r.Patch("/settings", s.handleSaveSettings)

		r.Get("/events", s.handleEvents)
		r.Get("/openapi.json", s.handleOpenAPI)
		if s.metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.metrics)
		}
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
