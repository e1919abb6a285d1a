// Package server provides the public entry point for initializing the
// yieldcouncil decision engine server.
//
// This package exists in pkg/ (not internal/) so that deployment wrappers
// can import it and compose the full server with their own middleware.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/yieldcouncil/yieldcouncil/internal/api"
	"github.com/yieldcouncil/yieldcouncil/internal/api/handlers"
	"github.com/yieldcouncil/yieldcouncil/internal/config"
	"github.com/yieldcouncil/yieldcouncil/internal/eligibility"
	"github.com/yieldcouncil/yieldcouncil/internal/engine"
	"github.com/yieldcouncil/yieldcouncil/internal/inputs"
	"github.com/yieldcouncil/yieldcouncil/internal/ledger"
	"github.com/yieldcouncil/yieldcouncil/internal/plan"
	"github.com/yieldcouncil/yieldcouncil/internal/risk"
	"github.com/yieldcouncil/yieldcouncil/internal/sources"
	"github.com/yieldcouncil/yieldcouncil/internal/telemetry"
	"github.com/yieldcouncil/yieldcouncil/internal/validate"
	"github.com/yieldcouncil/yieldcouncil/internal/voting"
)

// Server holds the initialized decision engine service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Engine is the decision engine. Exposed so embedders can trigger
	// cycles directly (schedulers, cron wrappers).
	Engine *engine.Engine

	// Ledger is the decision ledger; Close flushes its final snapshot.
	Ledger ledger.Ledger

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration and
// returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the decision engine with an explicit
// configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	l := ledger.NewMemoryLedger(cfg.Ledger.Capacity, cfg.Ledger.DataDir)

	// Collaborator clients. A missing URL leaves the source nil; the
	// aggregator degrades it to a permanently unavailable input.
	var strategy inputs.StrategySource
	if cfg.Sources.StrategyURL != "" {
		strategy = sources.NewStrategyClient(cfg.Sources.StrategyURL, cfg.Sources.HTTPTimeout)
	}
	var signal inputs.SignalSource
	if cfg.Sources.SignalURL != "" {
		signal = sources.NewSignalClient(cfg.Sources.SignalURL, cfg.Sources.HTTPTimeout)
	}
	var liquidity inputs.LiquidityRiskProvider
	var technical inputs.TechnicalRiskProvider
	if cfg.Sources.RiskFeedURL != "" {
		feed := sources.NewRiskFeedClient(cfg.Sources.RiskFeedURL, cfg.Sources.HTTPTimeout)
		liquidity, technical = feed, feed
	}

	emergencies, err := sources.ParseEmergencyURLs(cfg.Sources.EmergencyURLs, cfg.Sources.HTTPTimeout)
	if err != nil {
		return nil, fmt.Errorf("emergency predicates: %w", err)
	}
	if cfg.Eligibility.MaintenanceMode {
		emergencies = append([]eligibility.EmergencyPredicate{
			sources.StaticPredicate{PredicateName: "maintenance_mode", Triggered: true},
		}, emergencies...)
	}
	var market eligibility.MarketSuitabilityPredicate
	if cfg.Sources.MarketURL != "" {
		market = sources.NewMarketClient(cfg.Sources.MarketURL, cfg.Sources.HTTPTimeout)
	}

	assessor := risk.NewAssessor(cfg.Risk)
	aggregator := inputs.NewAggregator(strategy, signal, liquidity, technical, assessor, cfg.Gather, cfg.Risk)
	gate := eligibility.NewGate(l, cfg.Eligibility, emergencies, market)
	votingEngine := voting.NewEngine(cfg.Voting, cfg.Thresholds.ConsensusThreshold)
	validator := validate.NewValidator(cfg.Thresholds)
	planner := plan.NewPlanner(cfg.Plan)

	e, err := engine.New(cfg, gate, aggregator, votingEngine, validator, planner, l)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("max_rounds", cfg.Voting.MaxRounds).
		Float64("min_confidence", cfg.Thresholds.MinimumConfidence).
		Float64("consensus_threshold", cfg.Thresholds.ConsensusThreshold).
		Float64("risk_ceiling", cfg.Thresholds.RiskCeiling).
		Str("lock_mode", string(cfg.LockMode)).
		Msg("✅ Decision engine initialized")

	h := handlers.New(e, l)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Engine:       e,
		Ledger:       l,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
