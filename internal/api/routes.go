// Package api provides the REST API of the execution gateway.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ronai/codegate/internal/audit"
	"github.com/ronai/codegate/internal/config"
	"github.com/ronai/codegate/internal/events"
	"github.com/ronai/codegate/internal/export"
	"github.com/ronai/codegate/internal/generate"
	"github.com/ronai/codegate/internal/sandbox"
	"github.com/ronai/codegate/pkg/auth"
)

// Publisher announces finished executions.
type Publisher interface {
	PublishExecution(ctx context.Context, event events.ExecutionEvent) error
}

// Deps are the collaborators behind the routes. Store, Publisher and
// Generator may be nil.
type Deps struct {
	Runner    sandbox.Runner
	Store     audit.Store
	Publisher Publisher
	Exporter  *export.Exporter
	Generator generate.Generator
}

// Server is the HTTP server for the gateway API.
type Server struct {
	config    *config.Config
	validator *auth.TokenValidator
	router    chi.Router
	handler   *Handler
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		config:    cfg,
		validator: auth.NewTokenValidator(cfg.Auth.ServiceToken),
	}

	s.handler = NewHandler(cfg, deps)
	s.router = s.setupRoutes()

	return s
}

// setupRoutes configures the router with all API routes.
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))
	if s.config.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
	}

	r.Get("/health", s.handler.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/execute-code", s.handler.ExecuteCode)
		r.With(s.AuthMiddleware).Post("/execute-python", s.handler.ExecutePython)
		r.Post("/export-component", s.handler.ExportComponent)
		r.Get("/test-gemini", s.handler.TestGemini)
		r.Get("/executions", s.handler.ListExecutions)
	})

	return r
}

// AuthMiddleware requires the service token when one is configured.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.validator.ValidateToken(auth.ExtractToken(r)); err != nil {
			errorResponse(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the chi router for custom configuration.
func (s *Server) Router() chi.Router {
	return s.router
}
