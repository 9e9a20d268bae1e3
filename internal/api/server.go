package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Server is the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server with all routes registered.
func NewServer(handler *Handler, cfg domain.ServerConfig) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		handler: handler,
		config:  cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(CORSMiddleware)
	s.router.Use(RecoverMiddleware)
	s.router.Use(TracingMiddleware)
	s.router.Use(LoggingMiddleware)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Compress(5))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handler.Health)
	s.router.Get("/ready", s.handler.Ready)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/score", s.handler.Score)
		r.Post("/ingest", s.handler.Ingest)

		r.Get("/results/{id}", s.handler.GetResult)
		r.Get("/transactions/{id}/result", s.handler.GetTransactionResult)
		r.Get("/alerts", s.handler.ListAlerts)

		r.Get("/metrics", s.handler.GetAllMetrics)
		r.Get("/metrics/{granularity}", s.handler.GetMetrics)

		r.Route("/models", func(r chi.Router) {
			r.Get("/", s.handler.ListModels)
			r.Post("/", s.handler.RegisterModel)
			r.Get("/{id}", s.handler.GetModel)
			r.Delete("/{id}", s.handler.DeregisterModel)
			r.Put("/{id}/weight", s.handler.UpdateModelWeight)
			r.Put("/{id}/activate", s.handler.ActivateModel)
			r.Put("/{id}/deactivate", s.handler.DeactivateModel)
		})
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("starting API server", "addr", addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	slog.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router exposes the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler exposes the underlying handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
