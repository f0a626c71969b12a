package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/vkore/internal/events"
	"github.com/mattjoyce/vkore/internal/module"
	"github.com/mattjoyce/vkore/internal/scheduler"
	"github.com/mattjoyce/vkore/internal/state"
	"github.com/mattjoyce/vkore/internal/supervisor"
)

// ModuleRegistry looks up discovered modules.
type ModuleRegistry interface {
	Get(name string) (*module.Descriptor, bool)
	Len() int
}

// ModuleCatalog is the scheduler's view of modules plus manual launch.
type ModuleCatalog interface {
	Modules() []scheduler.ModuleStatus
	Trigger(ctx context.Context, name string) (*supervisor.Handle, error)
}

// ProcessTable exposes the supervisor's handle table and output logs.
type ProcessTable interface {
	Running(name string) int
	Snapshot() []supervisor.HandleInfo
	Output(name string) []supervisor.Line
}

// LaunchHistory reads persisted launches.
type LaunchHistory interface {
	Recent(ctx context.Context, module string, limit int) ([]state.Launch, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	APIKey string
}

// Deps are the components the API reads from. History may be nil.
type Deps struct {
	Registry  ModuleRegistry
	Catalog   ModuleCatalog
	Processes ProcessTable
	History   LaunchHistory
	Events    *events.Hub
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if deps.Events == nil {
		deps.Events = events.NewHub(256)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start over an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /events streams for as long as the client stays.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/openapi.json", s.handleOpenAPI)
		r.Get("/modules", s.handleListModules)
		r.Get("/modules/{module}", s.handleGetModule)
		r.Get("/modules/{module}/output", s.handleModuleOutput)
		r.Post("/modules/{module}/launch", s.handleLaunch)
		r.Get("/processes", s.handleProcesses)
		r.Get("/events", s.handleEvents)
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
