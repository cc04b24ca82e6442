package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-clinical/bedside/internal/catalog"
	"github.com/opensource-clinical/bedside/internal/domain"
	"github.com/opensource-clinical/bedside/internal/scoring"
	"github.com/opensource-clinical/bedside/internal/usage"
	"github.com/opensource-clinical/bedside/internal/worker"
)

// Dependencies are the components the API serves from. Only Registry is
// required; endpoints that need a missing component answer 503.
type Dependencies struct {
	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Registry   *scoring.Registry
	Loader     *catalog.Loader
	Usage      *usage.Service
	Worker     *worker.Worker
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg *domain.Config, deps Dependencies, version string) *Server {
	handler := NewHandler(deps, cfg.Instruments.AllowCustom, cfg.Cache.CatalogTTL, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Route("/instruments", func(r chi.Router) {
		// Catalog
		r.Get("/", handler.ListInstruments)
		r.Post("/", handler.CreateInstrument)
		r.Post("/reload", handler.ReloadInstruments)

		// Single instrument
		r.Get("/{id}", handler.GetInstrument)
		r.Delete("/{id}", handler.DeleteInstrument)
		r.Post("/{id}/evaluate", handler.Evaluate)
		r.Get("/{id}/usage", handler.GetUsage)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg.Server,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
