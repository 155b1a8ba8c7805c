package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/auth"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/dispatch"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/events"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/plugin"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/queue"
)

// Engine is the part of the dispatch engine the API drives.
type Engine interface {
	Enqueue(ctx context.Context, o op.Op) (*queue.Entry, error)
	Replace(ctx context.Context, id op.ID, o op.Op, expected uint64) (*queue.Entry, error)
	Get(ctx context.Context, id op.ID) (*queue.Entry, error)
	Children(ctx context.Context, id op.ID) ([]*queue.Entry, error)
	Depth(ctx context.Context) (map[queue.State]int, error)
	Deregister(ctx context.Context, name string) (int, error)
	Health() dispatch.Health
}

// PluginRegistry lists registered plugins.
type PluginRegistry interface {
	All() []plugin.Plugin
}

// EventSource is the read side of the event hub.
type EventSource interface {
	Subscribe(filter events.Filter) (<-chan events.Event, func())
	SnapshotSince(lastID int64, filter events.Filter) []events.Event
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is a single bearer token with full access.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// MaxTreeDepth bounds how far GET /ops/{id} descends into children.
	MaxTreeDepth int
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	engine    Engine
	registry  PluginRegistry
	events    EventSource
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, engine Engine, registry PluginRegistry, events EventSource, logger *slog.Logger) *Server {
	if config.MaxTreeDepth <= 0 {
		config.MaxTreeDepth = 8
	}
	return &Server{
		config:    config,
		engine:    engine,
		registry:  registry,
		events:    events,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// No write timeout: /events streams for as long as the client stays.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

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
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated liveness endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware(auth.New(s.config.APIKey, s.config.Tokens)))
		r.With(s.requireScopes(auth.ScopeOpsWrite)).Post("/ops", s.handleEnqueue)
		r.With(s.requireScopes(auth.ScopeOpsRead)).Get("/ops/{opID}", s.handleGetOp)
		r.With(s.requireScopes(auth.ScopeOpsWrite)).Put("/ops/{opID}", s.handleReplace)
		r.With(s.requireScopes(auth.ScopeOpsRead)).Get("/plugins", s.handleListPlugins)
		r.With(s.requireScopes(auth.ScopeOpsWrite)).Delete("/plugins/{name}", s.handleDeregister)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
