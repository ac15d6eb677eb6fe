package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldcore/internal/exchange"
	"goldcore/internal/store"
	"goldcore/pkg/domain"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "scheduler_test.db")
	st, err := store.Open(dbPath, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

type recorder struct {
	mu     sync.Mutex
	alerts []domain.Alert
	events []domain.Event
	ticks  int
}

func (r *recorder) alert(a domain.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *recorder) publish(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) tick(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks++
}

func TestBootstrapSeedsSnapshotAndBaselines(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	client := exchange.NewPaperClient(
		map[domain.Asset]decimal.Decimal{"BTC": decimal.NewFromFloat(0.8), "XRP": decimal.NewFromFloat(4)},
		map[domain.Asset]decimal.Decimal{"BTC": decimal.NewFromFloat(70000), "XRP": decimal.NewFromFloat(0.5)},
	)
	rec := &recorder{}
	s := New(Config{
		PortfolioInterval: time.Hour,
		PriceInterval:     time.Hour,
		RulesTickInterval: time.Hour,
		PortfolioMinFloor: time.Minute,
		PortfolioMaxCeil:  time.Hour,
	}, client, st, zerolog.Nop(), rec.tick, rec.alert, rec.publish)

	s.bootstrap(context.Background())

	latest, err := st.Snapshots.Latest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "bootstrap", latest.Reason)

	btc, err := st.Baselines.Get("BTC")
	require.NoError(t, err)
	require.NotNil(t, btc)
	assert.True(t, btc.Quantity.Equal(decimal.NewFromFloat(0.8)))

	xrp, err := st.Baselines.Get("XRP")
	require.NoError(t, err)
	require.NotNil(t, xrp)
	assert.True(t, xrp.Quantity.Equal(decimal.NewFromInt(10)), "XRP baseline floors at 10 when balance is below it")
}

func TestBootstrapSkippedWhenSnapshotExists(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	_, err := st.Snapshots.Insert(domain.Snapshot{
		Timestamp: time.Now().UTC(),
		Balances:  map[domain.Asset]decimal.Decimal{},
		Prices:    map[domain.Asset]decimal.Decimal{},
		TotalUSD:  decimal.Zero,
		Reason:    "prior",
	})
	require.NoError(t, err)

	client := exchange.NewPaperClient(nil, nil)
	rec := &recorder{}
	s := New(Config{}, client, st, zerolog.Nop(), rec.tick, rec.alert, rec.publish)

	s.bootstrap(context.Background())

	baseline, err := st.Baselines.Get("BTC")
	require.NoError(t, err)
	assert.Nil(t, baseline, "bootstrap must not re-seed when a snapshot already exists")
}

func TestPriceCycleAppendsSeriesAndPublishes(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	client := exchange.NewPaperClient(nil, map[domain.Asset]decimal.Decimal{"BTC": decimal.NewFromFloat(70000)})
	rec := &recorder{}
	s := New(Config{Assets: []domain.Asset{"BTC"}}, client, st, zerolog.Nop(), rec.tick, rec.alert, rec.publish)

	s.priceCycle(context.Background())

	closes := s.PriceSeries("BTC")
	require.Len(t, closes, 1)
	assert.True(t, closes[0].Equal(decimal.NewFromFloat(70000)))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 1)
	assert.Equal(t, domain.EventPriceUpdate, rec.events[0].Type)
}

func TestPortfolioCycleSkipsOnExchangeFailure(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	client := &failingClient{}
	rec := &recorder{}
	s := New(Config{}, client, st, zerolog.Nop(), rec.tick, rec.alert, rec.publish)

	s.portfolioCycle(context.Background())

	latest, err := st.Snapshots.Latest()
	require.NoError(t, err)
	assert.Nil(t, latest, "failed fetch must not write a snapshot")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.alerts, 1)
	assert.Equal(t, domain.AlertDataFetchError, rec.alerts[0].Type)
}

type failingClient struct{}

func (f *failingClient) GetAllBalances(ctx context.Context) (map[domain.Asset]decimal.Decimal, error) {
	return nil, assertErr{}
}
func (f *failingClient) GetSpotPrices(ctx context.Context, assets []domain.Asset) (map[domain.Asset]decimal.Decimal, error) {
	return nil, assertErr{}
}
func (f *failingClient) GetCollateral(ctx context.Context) ([]domain.CollateralRecord, error) {
	return nil, assertErr{}
}
func (f *failingClient) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, assertErr{}
}

type assertErr struct{}

func (assertErr) Error() string { return "simulated exchange outage" }

func TestAdaptPortfolioCadenceHalvesOnHighVolatility(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	client := exchange.NewPaperClient(nil, nil)
	rec := &recorder{}
	s := New(Config{
		PortfolioInterval:   5 * time.Minute,
		PortfolioMinFloor:   time.Minute,
		PortfolioMaxCeil:    15 * time.Minute,
		VolatilityThreshold: 0.01,
	}, client, st, zerolog.Nop(), rec.tick, rec.alert, rec.publish)

	now := time.Now()
	s.series.append("BTC", now.Add(-45*time.Minute), decimal.NewFromInt(100))
	s.series.append("BTC", now.Add(-30*time.Minute), decimal.NewFromInt(200))
	s.series.append("BTC", now, decimal.NewFromInt(100))

	next := s.adaptPortfolioCadence()
	assert.Equal(t, 150*time.Second, next, "5m halved once by a volatile swing")
}

func TestAdaptPortfolioCadenceDoublesWhenQuiescent(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	client := exchange.NewPaperClient(nil, nil)
	rec := &recorder{}
	s := New(Config{
		PortfolioInterval:   5 * time.Minute,
		PortfolioMinFloor:   time.Minute,
		PortfolioMaxCeil:    15 * time.Minute,
		VolatilityThreshold: 0.5,
	}, client, st, zerolog.Nop(), rec.tick, rec.alert, rec.publish)

	now := time.Now()
	s.series.append("BTC", now.Add(-30*time.Minute), decimal.NewFromInt(100))
	s.series.append("BTC", now, decimal.NewFromInt(101))

	next := s.adaptPortfolioCadence()
	assert.Equal(t, 10*time.Minute, next, "5m doubled when volatility is under threshold")
}
