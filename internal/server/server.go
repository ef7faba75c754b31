package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/clinicore/caretrace/internal/api/ws"
	"github.com/clinicore/caretrace/internal/auth"
	"github.com/clinicore/caretrace/internal/compliance"
	"github.com/clinicore/caretrace/internal/config"
	"github.com/clinicore/caretrace/internal/ledger"
	"github.com/clinicore/caretrace/internal/server/middleware"
	"github.com/clinicore/caretrace/internal/session"
)

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	wsHub      *ws.Hub
	cfg        *config.Config
}

// New creates a Server with all routes wired. ctx bounds the background
// cleanup goroutines spawned by the rate-limit middleware.
func New(
	ctx context.Context,
	cfg *config.Config,
	credentials *auth.Verifier,
	sessions *session.Manager,
	audit *ledger.Service,
	chain *ledger.Verifier,
	aggregator *compliance.Aggregator,
	alerts ws.AlertSource,
) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Token", "X-PHI-Access", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	hub := ws.NewHub(alerts)

	s := &Server{
		router: router,
		wsHub:  hub,
		cfg:    cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	// Mount API routes on /api/v1 with three sub-groups:
	// 1. Public group for login and session checks, rate limited by IP.
	// 2. Clinical group for event intake by authenticated callers.
	// 3. Operator group for ledger reads, compliance and forced termination.
	router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(ctx, 10, 30))

			publicConfig := huma.DefaultConfig("CareTrace Session API", "1.0.0")
			publicConfig.Servers = []*huma.Server{
				{URL: "/api/v1"},
			}
			publicAPI := humachi.New(r, publicConfig)
			registerPublicRoutes(publicAPI, credentials, sessions, audit)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT.Secret, sessions))
			r.Use(middleware.RateLimit(ctx, 100, 200))

			clinicalConfig := huma.DefaultConfig("CareTrace Audit API", "1.0.0")
			clinicalConfig.Servers = []*huma.Server{
				{URL: "/api/v1"},
			}
			clinicalAPI := humachi.New(r, clinicalConfig)
			registerClinicalRoutes(clinicalAPI, audit)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT.Secret, sessions))
			r.Use(middleware.RequireOperator)
			r.Use(middleware.RateLimit(ctx, 20, 40))

			operatorConfig := huma.DefaultConfig("CareTrace Compliance API", "1.0.0")
			operatorConfig.Servers = []*huma.Server{
				{URL: "/api/v1"},
			}
			operatorAPI := humachi.New(r, operatorConfig)
			registerOperatorRoutes(operatorAPI, sessions, audit, chain, aggregator)
		})
	})

	// WebSocket alert stream for operator consoles.
	router.Route("/ws", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT.Secret, sessions))
		r.Use(middleware.RequireOperator)
		registerWSRoutes(r, hub)
	})

	// Health check (unauthenticated).
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
