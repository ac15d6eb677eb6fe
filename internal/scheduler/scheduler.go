// Package scheduler runs the periodic ingestion jobs that keep portfolio
// balances, spot prices, and collateral fresh. It owns a small pool of
// worker tasks, one per periodic job; each job is serialized against
// itself (no overlapping portfolio fetches) but the jobs run concurrently
// with each other, grounded on the teacher's engine.Engine select-loop and
// per-goroutine ownership discipline.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"goldcore/internal/exchange"
	"goldcore/internal/store"
	"goldcore/pkg/domain"
)

// RulesTickFunc is invoked on every rules-tick interval. The scheduler
// itself knows nothing about the rule DSL; it only provides cadence.
type RulesTickFunc func(ctx context.Context)

// AlertFunc publishes an alert to the event bus. Injected rather than an
// *eventbus.Bus field directly so this package stays a leaf beneath
// eventbus in the build order.
type AlertFunc func(domain.Alert)

// PublishFunc publishes a domain event to the event bus.
type PublishFunc func(domain.Event)

// Config controls scheduler cadence and adaptive bounds.
type Config struct {
	PortfolioInterval   time.Duration
	PriceInterval       time.Duration
	RulesTickInterval   time.Duration
	PortfolioMinFloor   time.Duration
	PortfolioMaxCeil    time.Duration
	VolatilityThreshold float64
	// Assets lists the symbols to poll prices for and to seed baselines
	// from on bootstrap. BTC and XRP are always included.
	Assets []domain.Asset
}

// Scheduler runs the three ingestion tasks against an exchange Client and
// persists results via the Store. It survives store outages (falls back to
// an in-memory "last good" snapshot) and exchange outages (skips the tick).
type Scheduler struct {
	cfg    Config
	client exchange.Client
	store  *store.Store
	log    zerolog.Logger

	onRulesTick RulesTickFunc
	alert       AlertFunc
	publish     PublishFunc

	series *priceSeries

	mu                sync.Mutex
	portfolioCadence  time.Duration
	lastSnapshot      *domain.Snapshot
	lastPortfolioTime time.Time

	wg sync.WaitGroup
}

// New builds a Scheduler. onRulesTick, alert, and publish must be non-nil.
func New(cfg Config, client exchange.Client, st *store.Store, log zerolog.Logger, onRulesTick RulesTickFunc, alert AlertFunc, publish PublishFunc) *Scheduler {
	assets := cfg.Assets
	if !containsAsset(assets, "BTC") {
		assets = append(assets, "BTC")
	}
	if !containsAsset(assets, "XRP") {
		assets = append(assets, "XRP")
	}
	cfg.Assets = assets

	return &Scheduler{
		cfg:              cfg,
		client:           client,
		store:            st,
		log:              log.With().Str("component", "scheduler").Logger(),
		onRulesTick:      onRulesTick,
		alert:            alert,
		publish:          publish,
		series:           newPriceSeries(24 * time.Hour),
		portfolioCadence: cfg.PortfolioInterval,
	}
}

func containsAsset(assets []domain.Asset, a domain.Asset) bool {
	for _, x := range assets {
		if x == a {
			return true
		}
	}
	return false
}

// Start launches the three periodic tasks in their own goroutines. It
// blocks only long enough to run the bootstrap check; callers should call
// Start in a goroutine if they want it non-blocking, matching the teacher's
// Engine.Start contract.
func (s *Scheduler) Start(ctx context.Context) {
	s.bootstrap(ctx)

	s.wg.Add(3)
	go s.runPortfolioLoop(ctx)
	go s.runPriceLoop(ctx)
	go s.runRulesTickLoop(ctx)
}

// Wait blocks until every periodic task has exited (ctx cancellation).
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// bootstrap seeds a first snapshot and default baselines if the store is
// empty, per the "first cycle after start" contract.
func (s *Scheduler) bootstrap(ctx context.Context) {
	latest, err := s.store.Snapshots.Latest()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to check snapshot store during bootstrap")
		return
	}
	if latest != nil {
		return
	}

	balances, err := s.client.GetAllBalances(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("bootstrap: failed to fetch balances")
		return
	}
	prices, err := s.client.GetSpotPrices(ctx, s.cfg.Assets)
	if err != nil {
		s.log.Error().Err(err).Msg("bootstrap: failed to fetch prices")
	}

	snap := buildSnapshot(balances, prices, "bootstrap")
	if _, err := s.store.Snapshots.Insert(snap); err != nil {
		s.log.Error().Err(err).Msg("bootstrap: failed to write snapshot")
		return
	}

	now := time.Now().UTC()
	btcBaseline := balances["BTC"]
	if err := s.store.Baselines.Upsert(domain.Baseline{Asset: "BTC", Quantity: btcBaseline, UpdatedAt: now}); err != nil {
		s.log.Error().Err(err).Msg("bootstrap: failed to seed BTC baseline")
	}

	xrpBaseline := balances["XRP"]
	floor := decimal.NewFromInt(10)
	if xrpBaseline.LessThan(floor) {
		xrpBaseline = floor
	}
	if err := s.store.Baselines.Upsert(domain.Baseline{Asset: "XRP", Quantity: xrpBaseline, UpdatedAt: now}); err != nil {
		s.log.Error().Err(err).Msg("bootstrap: failed to seed XRP baseline")
	}

	s.log.Info().Str("btc_baseline", btcBaseline.String()).Str("xrp_baseline", xrpBaseline.String()).Msg("seeded bootstrap snapshot and baselines")
}

func buildSnapshot(balances, prices map[domain.Asset]decimal.Decimal, reason string) domain.Snapshot {
	total := decimal.Zero
	for asset, qty := range balances {
		if price, ok := prices[asset]; ok {
			total = total.Add(qty.Mul(price))
		}
	}
	return domain.Snapshot{
		Timestamp: time.Now().UTC(),
		Balances:  balances,
		Prices:    prices,
		TotalUSD:  total,
		Reason:    reason,
	}
}

// runPortfolioLoop polls balances and collateral. Cadence adapts to
// realized volatility: halved (floor) when volatile, doubled (ceiling)
// when quiescent. Each fetch is serialized against itself by running the
// whole loop in a single goroutine with no concurrent timers.
func (s *Scheduler) runPortfolioLoop(ctx context.Context) {
	defer s.wg.Done()
	s.mu.Lock()
	interval := s.portfolioCadence
	s.mu.Unlock()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.portfolioCycle(ctx)
			next := s.adaptPortfolioCadence()
			timer.Reset(next)
		}
	}
}

func (s *Scheduler) portfolioCycle(ctx context.Context) {
	balances, err := s.client.GetAllBalances(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("portfolio cycle: balances fetch failed, skipping tick")
		s.alert(domain.Alert{Type: domain.AlertDataFetchError, Severity: domain.SeverityWarning, Message: "balances fetch failed: " + err.Error()})
		return
	}

	collateral, err := s.client.GetCollateral(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("portfolio cycle: collateral fetch failed, skipping tick")
		s.alert(domain.Alert{Type: domain.AlertDataFetchError, Severity: domain.SeverityWarning, Message: "collateral fetch failed: " + err.Error()})
		return
	}

	prices := s.series.latestAll()
	snap := buildSnapshot(balances, prices, "portfolio")

	if _, err := s.store.Snapshots.Insert(snap); err != nil {
		s.log.Error().Err(err).Msg("portfolio cycle: failed to persist snapshot, falling back to in-memory cache")
	}
	if err := s.store.Collateral.Replace(collateral); err != nil {
		s.log.Error().Err(err).Msg("portfolio cycle: failed to persist collateral")
	}

	s.mu.Lock()
	s.lastSnapshot = &snap
	s.lastPortfolioTime = time.Now()
	s.mu.Unlock()

	s.publish(domain.Event{Type: domain.EventPortfolioUpdated, Data: snap, Timestamp: time.Now()})
}

// adaptPortfolioCadence recomputes the cadence from realized volatility
// over the last hour of the price series and returns the next interval to
// wait.
func (s *Scheduler) adaptPortfolioCadence() time.Duration {
	vol := s.series.realizedVolatility(time.Hour)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case vol > s.cfg.VolatilityThreshold:
		s.portfolioCadence = s.portfolioCadence / 2
		if s.portfolioCadence < s.cfg.PortfolioMinFloor {
			s.portfolioCadence = s.cfg.PortfolioMinFloor
		}
	default:
		s.portfolioCadence = s.portfolioCadence * 2
		if s.portfolioCadence > s.cfg.PortfolioMaxCeil {
			s.portfolioCadence = s.cfg.PortfolioMaxCeil
		}
	}
	return s.portfolioCadence
}

// runPriceLoop polls spot prices on a fixed cadence (not adaptive — only
// the portfolio poll adapts).
func (s *Scheduler) runPriceLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PriceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.priceCycle(ctx)
		}
	}
}

func (s *Scheduler) priceCycle(ctx context.Context) {
	prices, err := s.client.GetSpotPrices(ctx, s.cfg.Assets)
	if err != nil {
		s.log.Warn().Err(err).Msg("price cycle: fetch failed, skipping tick")
		s.alert(domain.Alert{Type: domain.AlertDataFetchError, Severity: domain.SeverityWarning, Message: "price fetch failed: " + err.Error()})
		return
	}

	now := time.Now().UTC()
	for asset, price := range prices {
		s.series.append(asset, now, price)
	}
	s.publish(domain.Event{Type: domain.EventPriceUpdate, Data: prices, Timestamp: now})
}

// runRulesTickLoop fires onRulesTick on a fixed cadence.
func (s *Scheduler) runRulesTickLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.RulesTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.onRulesTick(ctx)
		}
	}
}

// PriceSeries exposes the rolling closing-price series for the indicators
// package (§4.2's resolved indicator source-of-truth).
func (s *Scheduler) PriceSeries(asset domain.Asset) []decimal.Decimal {
	return s.series.closes(asset)
}

// PriceChangePct reports the fractional price move of asset over the
// trailing windowMins, backing the rules engine's priceChangePct condition
// against the same closing-price series the indicators read from.
func (s *Scheduler) PriceChangePct(asset domain.Asset, windowMins int) (decimal.Decimal, bool) {
	return s.series.changePct(asset, time.Now().UTC(), windowMins)
}

// LatestSnapshot returns the most recent in-memory snapshot, falling back
// to the durable store if the process just started and has no cached
// value yet.
func (s *Scheduler) LatestSnapshot() (*domain.Snapshot, error) {
	s.mu.Lock()
	cached := s.lastSnapshot
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	return s.store.Snapshots.Latest()
}
