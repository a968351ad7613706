// Package server provides the HTTP server and routing for the ledger
// engine.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/folioledger/folioledger/internal/di"
	cashflowhandlers "github.com/folioledger/folioledger/internal/modules/cashflows/handlers"
	fundhandlers "github.com/folioledger/folioledger/internal/modules/funds/handlers"
	portfoliohandlers "github.com/folioledger/folioledger/internal/modules/portfolio/handlers"
	pricinghandlers "github.com/folioledger/folioledger/internal/modules/pricing/handlers"
	snapshothandlers "github.com/folioledger/folioledger/internal/modules/snapshots/handlers"
	tradinghandlers "github.com/folioledger/folioledger/internal/modules/trading/handlers"
	runhandlers "github.com/folioledger/folioledger/internal/runs/handlers"
)

// Server is the HTTP front of the engine
type Server struct {
	router         *chi.Mux
	server         *http.Server
	container      *di.Container
	systemHandlers *SystemHandlers
	log            zerolog.Logger
}

// New creates a new HTTP server over an initialized container
func New(container *di.Container) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		container:      container,
		systemHandlers: NewSystemHandlers(container, container.Log),
		log:            container.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware(container.Config.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", container.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes registers all module routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.systemHandlers.HandleHealth)

	c := s.container
	s.router.Route("/api", func(r chi.Router) {
		tradinghandlers.NewHandler(c.Matcher, c.TradeRepo, c.Log).RegisterRoutes(r)
		portfoliohandlers.NewHandler(c.PortfolioRepo, c.Ledger, c.Log).RegisterRoutes(r)
		cashflowhandlers.NewHandler(c.CashFlowRepo, c.Log).RegisterRoutes(r)
		pricinghandlers.NewHandler(c.PricingService, c.Log).RegisterRoutes(r)
		snapshothandlers.NewHandler(c.Aggregator, c.SnapshotRepo, c.Log).RegisterRoutes(r)
		fundhandlers.NewHandler(c.FundService, c.Log).RegisterRoutes(r)
		runhandlers.NewHandler(c.RunRepo, c.Log).RegisterRoutes(r)

		r.Route("/system", func(r chi.Router) {
			r.Get("/health", s.systemHandlers.HandleHealth)
			r.Get("/stats", s.systemHandlers.HandleStats)
			r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
		})
	})
}

// loggingMiddleware logs requests with zerolog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Msg("Request")
	})
}

// Start begins serving HTTP requests, blocking until the server stops
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
