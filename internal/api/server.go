// Package api serves the full HTTP surface of spec §6.2 over the trading
// core's internal subsystems: portfolio/approval/rule/risk reads, the
// owner-gated mutating endpoints, the SSE live stream, and the Monte Carlo
// projection endpoint.
//
// Grounded on the teacher's internal/api/{server,handlers}.go shape
// (NewServer builds a router + handler set, Start/Stop own the
// http.Server lifecycle) generalized from its single dashboard-snapshot
// surface to the full endpoint table, with routing swapped from raw
// http.ServeMux to go-chi/chi/v5 + go-chi/cors — both direct dependencies
// of aristath-sentinel/trader-go's internal/server/server.go, whose
// route-group + middleware layering this package follows closely.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"goldcore/internal/approval"
	"goldcore/internal/config"
	"goldcore/internal/eventbus"
	"goldcore/internal/exchange"
	"goldcore/internal/optimizer"
	"goldcore/internal/orchestrator"
	"goldcore/internal/risk"
	"goldcore/internal/rules"
	"goldcore/internal/scheduler"
	"goldcore/internal/store"
)

// Server wires every subsystem the HTTP surface reads from or mutates.
type Server struct {
	cfg          config.Config
	store        *store.Store
	bus          *eventbus.Bus
	risk         *risk.Manager
	workflow     *approval.Workflow
	scheduler    *scheduler.Scheduler
	optimizer    *optimizer.Optimizer
	evaluator    *rules.Evaluator
	orchestrator *orchestrator.Orchestrator
	exchange     exchange.Client
	log          zerolog.Logger
	router       chi.Router
	server       *http.Server
	startedAt    time.Time
}

// Deps collects Server's collaborators.
type Deps struct {
	Config       config.Config
	Store        *store.Store
	Bus          *eventbus.Bus
	Risk         *risk.Manager
	Workflow     *approval.Workflow
	Scheduler    *scheduler.Scheduler
	Optimizer    *optimizer.Optimizer
	Evaluator    *rules.Evaluator
	Orchestrator *orchestrator.Orchestrator
	Exchange     exchange.Client
	Log          zerolog.Logger
}

// NewServer builds the router and binds every handler. Start has not been
// called yet; callers control the listen lifecycle separately so tests can
// exercise handlers directly via httptest without opening a socket.
func NewServer(d Deps) *Server {
	s := &Server{
		cfg:          d.Config,
		store:        d.Store,
		bus:          d.Bus,
		risk:         d.Risk,
		workflow:     d.Workflow,
		scheduler:    d.Scheduler,
		optimizer:    d.Optimizer,
		evaluator:    d.Evaluator,
		orchestrator: d.Orchestrator,
		exchange:     d.Exchange,
		log:          d.Log.With().Str("component", "api").Logger(),
		startedAt:    time.Now().UTC(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", ownerHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.routes(r)
	s.router = r

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.API.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/health/full", s.handleHealthFull)
	r.Get("/status", s.handleStatus)

	r.Route("/portfolio", func(r chi.Router) {
		r.Get("/current", s.handlePortfolioCurrent)
		r.Post("/snapshot", s.requireOwner(s.handlePortfolioSnapshot))
		r.Post("/snapshot/force", s.handlePortfolioSnapshotForce)
		r.Get("/changes", s.handlePortfolioChanges)
	})

	r.Route("/approvals", func(r chi.Router) {
		r.Get("/", s.handleApprovalsList)
		r.Get("/pending", s.handleApprovalsPending)
		r.Post("/", s.handleApprovalsCreate)
		r.Patch("/{id}", s.requireOwner(s.handleApprovalsPatch))
	})

	r.Route("/kill-switch", func(r chi.Router) {
		r.Get("/", s.handleKillSwitchGet)
		r.Post("/", s.requireOwner(s.handleKillSwitchSet))
	})

	r.Route("/objectives", func(r chi.Router) {
		r.Get("/", s.handleObjectivesGet)
		r.Put("/", s.requireOwner(s.handleObjectivesPut))
	})

	r.Route("/rules", func(r chi.Router) {
		r.Get("/", s.handleRulesList)
		r.Post("/", s.requireOwner(s.handleRulesCreate))
		r.Post("/optimize", s.requireOwner(s.handleRulesOptimize))
		r.Post("/evaluate", s.requireOwner(s.handleRulesEvaluate))
		r.Post("/{id}/activate", s.requireOwner(s.handleRuleActivate))
		r.Get("/{id}/metrics", s.handleRuleMetrics)
		r.Post("/{id}/backtest", s.requireOwner(s.handleRuleBacktest))
	})

	r.Get("/risk/state", s.handleRiskState)
	r.Get("/live", s.bus.ServeHTTP)
	r.Post("/monte-carlo", s.handleMonteCarlo)
}

// Start begins serving. Blocks until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.API.Port).Msg("http api starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully drains in-flight requests within the given context.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info().Msg("http api stopping")
	return s.server.Shutdown(ctx)
}

// Handler exposes the built router for tests (httptest.NewServer/NewRequest
// without binding a real port).
func (s *Server) Handler() http.Handler { return s.router }
