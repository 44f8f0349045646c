// Package server exposes the capture pipeline over HTTP: event
// ingestion, chunked artifact upload, session browsing, rule
// management, and offline replay.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/oselotti/capreplay/artifact"
	"github.com/oselotti/capreplay/capture"
	"github.com/oselotti/capreplay/observability"
	"github.com/oselotti/capreplay/replay"
	"github.com/oselotti/capreplay/rule"
	"github.com/oselotti/capreplay/trailstore"
)

// Config configures the HTTP server.
type Config struct {
	Addr string

	// ReadTimeout / WriteTimeout for the listener. Defaults: 30s / 60s.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8470"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Deps are the pipeline components the server fronts. Events, Metrics
// and Runs are optional observability hooks.
type Deps struct {
	Capture     *capture.Coordinator
	Reassembler *artifact.Reassembler
	Completion  *artifact.Completion
	Trails      *trailstore.Store
	Rules       *rule.Store
	Artifacts   *artifact.Store
	Engine      *replay.Engine

	Events  *observability.EventLogger
	Metrics *observability.MetricsManager
	Runs    *observability.RunLogger

	// Shield is an optional middleware stack (rate limiting, ingest
	// gate, security headers) applied ahead of the routes.
	Shield []func(http.Handler) http.Handler
}

// Server is the HTTP front of the capture pipeline.
type Server struct {
	cfg    Config
	logger *slog.Logger
	deps   Deps
	router *chi.Mux
	http   *http.Server
}

// New builds the server and mounts all routes.
func New(cfg Config, deps Deps) *Server {
	cfg.applyDefaults()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	for _, mw := range deps.Shield {
		r.Use(mw)
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		deps:   deps,
		router: r,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/events", s.handleIngestEvents)

		r.Post("/chunks", s.handlePutChunk)
		r.Post("/artifacts/{id}/complete", s.handleCompleteArtifact)
		r.Get("/artifacts/{id}", s.handleGetArtifact)

		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)

		r.Get("/rules", s.handleListRules)
		r.Post("/rules", s.handleDeriveRule)
		r.Get("/rules/{id}", s.handleGetRule)
		r.Delete("/rules/{id}", s.handleDeleteRule)
		r.Get("/rules/{id}/runs", s.handleRuleRuns)

		r.Post("/replay", s.handleReplay)
	})
}

// Handler returns the route tree, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving and blocks until the listener stops.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info("server: listening", "addr", s.cfg.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	s.logger.Info("server: stopping")
	return s.http.Shutdown(ctx)
}
