package optimizer

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

	"goldcore/internal/config"
	"goldcore/internal/eventbus"
	"goldcore/internal/store"
	"goldcore/pkg/domain"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "optimizer_test.db")
	st, err := store.Open(dbPath, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

type alertRecorder struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (a *alertRecorder) record(e domain.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if alert, ok := e.Data.(domain.Alert); ok {
		a.alerts = append(a.alerts, alert)
	}
}

func (a *alertRecorder) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

func seedSnapshots(t *testing.T, st *store.Store, n int) {
	t.Helper()
	base := time.Now().UTC().Add(-time.Duration(n) * time.Hour)
	price := decimal.NewFromInt(100)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			price = price.Sub(decimal.NewFromInt(1))
		} else {
			price = price.Add(decimal.NewFromInt(2))
		}
		_, err := st.Snapshots.Insert(domain.Snapshot{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Balances:  map[domain.Asset]decimal.Decimal{"ETH": decimal.Zero, "USDC": decimal.NewFromInt(10000)},
			Prices:    map[domain.Asset]decimal.Decimal{"ETH": price},
			TotalUSD:  decimal.NewFromInt(10000),
		})
		require.NoError(t, err)
	}
}

func TestRunNightlyAlwaysAlertsWithCandidateSummary(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	seedSnapshots(t, st, 30)
	require.NoError(t, st.Rules.Insert(dipBuyRule()))

	bus := eventbus.New(zerolog.Nop())
	done := make(chan struct{})
	go bus.Run(done)
	t.Cleanup(func() { close(done) })

	rec := &alertRecorder{}
	bus.On(domain.EventAlert, rec.record)

	o := New(config.OptimizerConfig{WindowDays: 30, ImprovementThreshold: 1e9, FeeRate: 0.001, Seed: 42, Schedule: "0 2 * * *"}, st, bus, zerolog.Nop())
	require.NoError(t, o.RunNightly(context.Background()))

	deadline := time.Now().Add(time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 1, rec.count())
}

func TestRunNightlyPersistsImprovedCandidateAsDisabledVersion(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	seedSnapshots(t, st, 30)
	rule := dipBuyRule()
	require.NoError(t, st.Rules.Insert(rule))

	bus := eventbus.New(zerolog.Nop())
	done := make(chan struct{})
	go bus.Run(done)
	t.Cleanup(func() { close(done) })

	// A threshold of zero means any positive improvement over a non-positive
	// baseline qualifies, which a bounded random search will very likely
	// surface at least once across 8 seeded candidates.
	o := New(config.OptimizerConfig{WindowDays: 30, ImprovementThreshold: 0, FeeRate: 0.001, Seed: 7, Schedule: "0 2 * * *"}, st, bus, zerolog.Nop())
	require.NoError(t, o.RunNightly(context.Background()))

	history, err := st.Rules.History(rule.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(history), 1)
	for _, v := range history {
		if v.Version > rule.Version {
			assert.False(t, v.Enabled, "proposed rule versions must stay disabled pending owner activation")
		}
	}
}

func TestRunNightlySkipsWhenInsufficientHistory(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	require.NoError(t, st.Rules.Insert(dipBuyRule()))

	bus := eventbus.New(zerolog.Nop())
	done := make(chan struct{})
	go bus.Run(done)
	t.Cleanup(func() { close(done) })

	o := New(config.OptimizerConfig{WindowDays: 30, ImprovementThreshold: 0.1, FeeRate: 0.001, Seed: 1, Schedule: "0 2 * * *"}, st, bus, zerolog.Nop())
	assert.NoError(t, o.RunNightly(context.Background()))
}

func TestHashRuleIDIsStableAndNonNegative(t *testing.T) {
	t.Parallel()
	a := hashRuleID("dip-buy")
	b := hashRuleID("dip-buy")
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, int32(0))
}
