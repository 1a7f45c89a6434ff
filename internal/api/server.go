package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/analyzer"
	"github.com/opensource-finance/kestrel/internal/blacklist"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// Deps bundles the services the server exposes.
type Deps struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Evaluator *risk.Evaluator
	Analyzer  *analyzer.Analyzer
	Blacklist *blacklist.Service
	Alerts    *alert.Service
	Engine    *rules.Engine
	Version   string
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no user required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (user required)
	router.Route("/", func(r chi.Router) {
		r.Use(UserMiddleware)

		// Pre-transaction evaluation
		r.Post("/assess", handler.Assess)

		// Transaction recording and post-transaction analysis
		r.Post("/transactions", handler.RecordTransaction)
		r.Get("/transactions/{id}", handler.GetTransaction)
		r.Post("/transactions/{id}/analyze", handler.AnalyzeTransaction)
		r.Get("/transactions/{id}/analyses", handler.ListAnalyses)
		r.Get("/analyses/{id}", handler.GetAnalysis)

		// Blacklist registry
		r.Post("/blacklist/report", handler.ReportBlacklist)
		r.Get("/blacklist/{identifier}", handler.GetBlacklistEntry)

		// Contact directory
		r.Post("/contacts", handler.CreateContact)
		r.Get("/contacts", handler.ListContacts)

		// Alerts
		r.Get("/alerts", handler.ListAlerts)
		r.Post("/alerts/{id}/status", handler.UpdateAlertStatus)

		// Custom rule management
		r.Get("/rules", handler.ListRules)
		r.Post("/rules", handler.CreateRule)
		r.Post("/rules/reload", handler.ReloadRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
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
