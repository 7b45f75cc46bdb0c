package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/msme-risk/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer wires the routes over deps.
func NewServer(cfg domain.ServerConfig, deps Dependencies) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// No tenant required
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(deps.Cache, cfg.RateLimit, time.Duration(cfg.RateLimitWindow)*time.Second))
			r.Post("/assess", handler.Assess)
			r.Post("/assess/async", handler.AssessAsync)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", handler.ListRules)
			r.Post("/", handler.CreateRule)
			r.Post("/reload", handler.ReloadRules)
			r.Get("/{id}", handler.GetRule)
			r.Delete("/{id}", handler.DeleteRule)
		})

		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", handler.ListProfiles)
			r.Post("/", handler.CreateProfile)
			r.Post("/reload", handler.ReloadProfiles)
			r.Get("/{name}", handler.GetProfile)
			r.Delete("/{name}", handler.DeleteProfile)
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		router:  router,
		handler: handler,
		server:  srv,
		config:  cfg,
	}
}

// Start listens until Shutdown. It returns http.ErrServerClosed after a clean shutdown.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
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
