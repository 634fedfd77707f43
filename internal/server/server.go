// Package server exposes episodes, summaries and topic analysis as a
// read-only JSON API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"podpipe/internal/config"
	"podpipe/internal/core"
	"podpipe/internal/logger"
	"podpipe/internal/topics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store is the read side of the persistence backend
type Store interface {
	Ping(ctx context.Context) error
	GetEpisode(ctx context.Context, id int64) (*core.Episode, error)
	EpisodesByStatus(ctx context.Context, status core.Status) ([]core.Episode, error)
	GetTranscript(ctx context.Context, episodeID int64) (*core.Transcript, error)
	GetSummary(ctx context.Context, episodeID int64) (*core.Summary, error)
	ListSummaries(ctx context.Context, limit int) ([]core.EpisodeSummary, error)
	Stats(ctx context.Context) (*core.Stats, error)
}

// TopicAnalyzer produces cross-episode topic clusters
type TopicAnalyzer interface {
	Analyze(ctx context.Context, refresh bool) (*topics.Analysis, error)
}

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	store      Store
	topics     TopicAnalyzer
	config     config.Server
	log        *slog.Logger
	started    time.Time
}

// New creates a new HTTP server instance. analyzer may be nil, in which
// case /api/topics answers 503.
func New(store Store, analyzer TopicAnalyzer, cfg config.Server) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		store:   store,
		topics:  analyzer,
		config:  cfg,
		log:     logger.Get().With("component", "server"),
		started: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.config.CORS.Enabled {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Route("/episodes", func(r chi.Router) {
			r.Get("/", s.handleListEpisodes)
			r.Get("/{id}", s.handleGetEpisode)
		})
		r.Get("/summaries", s.handleListSummaries)
		r.Get("/topics", s.handleTopics)
	})
}

// Start listens until Shutdown is called
func (s *Server) Start() error {
	s.log.Info("Starting HTTP server",
		"addr", s.httpServer.Addr,
		"read_timeout", s.config.ReadTimeout,
		"write_timeout", s.config.WriteTimeout,
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server gracefully...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("HTTP server stopped")
	return nil
}

// Router returns the chi router instance (useful for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
