// Command server is the trading core's process entrypoint: it loads
// configuration, wires every subsystem (store, exchange client, risk
// pipeline, rules engine, approval workflow, scheduler, optimizer, HTTP
// API), starts them, and blocks until an interrupt or terminate signal asks
// for a graceful shutdown.
//
// Grounded on the teacher's cmd/bot/main.go almost directly: load config,
// build a logger, construct the long-running subsystems, start them,
// block on os/signal, then stop in reverse dependency order.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"goldcore/internal/api"
	"goldcore/internal/approval"
	"goldcore/internal/config"
	"goldcore/internal/eventbus"
	"goldcore/internal/exchange"
	"goldcore/internal/logging"
	"goldcore/internal/optimizer"
	"goldcore/internal/orchestrator"
	"goldcore/internal/risk"
	"goldcore/internal/rules"
	"goldcore/internal/scheduler"
	"goldcore/internal/store"
	"goldcore/pkg/domain"
)

func main() {
	configPath := flag.String("config", envOr("GOLDCORE_CONFIG", "configs/config.yaml"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// No logger exists yet; a startup-fatal config error goes to stderr
		// and exits non-zero per §6.4/§7's "startup fatal" contract.
		os.Stderr.WriteString("config load failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		os.Stderr.WriteString("config invalid: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty})
	logging.SetGlobalLogger(log)

	if cfg.Owner.ID == "" {
		log.Warn().Msg("no owner configured: every trade is forced into dry-run, auto-execute is disabled")
	}

	st, err := store.Open(cfg.Store.DBPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	bus := eventbus.New(log)
	busDone := make(chan struct{})
	go bus.Run(busDone)

	client := buildExchangeClient(*cfg, log)

	riskMgr := risk.New(cfg.Risk, st, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go riskMgr.Run(ctx)

	workflow := approval.New(st, bus, riskMgr, client, *cfg, log)
	evaluator := rules.NewEvaluator(log)

	var sched *scheduler.Scheduler
	orch := orchestrator.New(st, evaluator, riskMgr, workflow, bus, schedulerPriceSource{&sched}, log)

	sched = scheduler.New(
		scheduler.Config{
			PortfolioInterval:   cfg.Scheduler.PortfolioInterval,
			PriceInterval:       cfg.Scheduler.PriceInterval,
			RulesTickInterval:   cfg.Scheduler.RulesTickInterval,
			PortfolioMinFloor:   cfg.Scheduler.PortfolioMinFloor,
			PortfolioMaxCeil:    cfg.Scheduler.PortfolioMaxCeil,
			VolatilityThreshold: cfg.Scheduler.VolatilityThreshold,
		},
		client, st, log,
		func(tickCtx context.Context) {
			if _, err := orch.Tick(tickCtx, nil, false); err != nil {
				log.Error().Err(err).Msg("rules tick failed")
			}
		},
		bus.Alert,
		bus.Publish,
	)

	opt := optimizer.New(cfg.Optimizer, st, bus, log)

	apiServer := api.NewServer(api.Deps{
		Config:       *cfg,
		Store:        st,
		Bus:          bus,
		Risk:         riskMgr,
		Workflow:     workflow,
		Scheduler:    sched,
		Optimizer:    opt,
		Evaluator:    evaluator,
		Orchestrator: orch,
		Exchange:     client,
		Log:          log,
	})

	sched.Start(ctx)

	if !cfg.LightMode {
		if err := opt.Start(ctx); err != nil {
			log.Error().Err(err).Msg("optimizer failed to start")
		}
	} else {
		log.Info().Msg("light mode: background optimizer disabled")
	}

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("api server failed")
		}
	}()

	log.Info().Bool("dry_run", cfg.DryRun || cfg.Owner.ID == "").Msg("goldcore trading core started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api server shutdown error")
	}

	cancel()
	sched.Wait()
	opt.Stop()

	if err := riskMgr.Persist(st); err != nil {
		log.Error().Err(err).Msg("failed to persist risk state on shutdown")
	}
	close(busDone)

	log.Info().Msg("goldcore trading core stopped cleanly")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// buildExchangeClient selects a REST adapter when credentials are
// configured, otherwise a deterministic paper client seeded with a small
// starting book — matching the owner-unconfigured degraded dry-run mode
// the rest of the core already enforces.
func buildExchangeClient(cfg config.Config, log zerolog.Logger) exchange.Client {
	if cfg.Exchange.APIKey != "" && cfg.Exchange.Secret != "" && cfg.Exchange.BaseURL != "" {
		return exchange.NewRESTClient(cfg.Exchange.BaseURL, cfg.Exchange.APIKey, cfg.Exchange.Secret, cfg.DryRun, log)
	}
	log.Warn().Msg("no exchange credentials configured: using paper trading client")
	balances := map[domain.Asset]decimal.Decimal{
		"BTC":  decimal.NewFromFloat(0.5),
		"XRP":  decimal.NewFromInt(1000),
		"USDC": decimal.NewFromInt(5000),
	}
	prices := map[domain.Asset]decimal.Decimal{
		"BTC":  decimal.NewFromInt(60000),
		"XRP":  decimal.NewFromFloat(0.5),
		"USDC": decimal.NewFromInt(1),
	}
	return exchange.NewPaperClient(balances, prices)
}

// schedulerPriceSource adapts a not-yet-constructed *scheduler.Scheduler to
// orchestrator.PriceSource: the orchestrator and scheduler are mutually
// referential (the scheduler's rules-tick callback drives the orchestrator,
// the orchestrator reads the scheduler's live price series), so the pointer
// is filled in after scheduler.New returns.
type schedulerPriceSource struct {
	sched **scheduler.Scheduler
}

func (p schedulerPriceSource) PriceSeries(asset domain.Asset) []decimal.Decimal {
	return (*p.sched).PriceSeries(asset)
}

func (p schedulerPriceSource) PriceChangePct(asset domain.Asset, windowMins int) (decimal.Decimal, bool) {
	return (*p.sched).PriceChangePct(asset, windowMins)
}
