package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldcore/internal/approval"
	"goldcore/internal/config"
	"goldcore/internal/eventbus"
	"goldcore/internal/exchange"
	"goldcore/internal/risk"
	"goldcore/internal/rules"
	"goldcore/internal/store"
	"goldcore/pkg/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "orchestrator_test.db")
	st, err := store.Open(dbPath, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

type staticPrices struct{}

func (staticPrices) PriceSeries(asset domain.Asset) []decimal.Decimal { return nil }
func (staticPrices) PriceChangePct(asset domain.Asset, windowMins int) (decimal.Decimal, bool) {
	return decimal.Zero, false
}

func newTestOrchestrator(t *testing.T, st *store.Store) *Orchestrator {
	t.Helper()
	bus := eventbus.New(zerolog.Nop())
	done := make(chan struct{})
	go bus.Run(done)
	t.Cleanup(func() { close(done) })

	riskCfg := config.RiskConfig{MinTradeUSD: 1, DailyLossLimit: 100000, MaxPositionPct: 1, CollateralLTVWarn: 0.7}
	riskMgr := risk.New(riskCfg, nil, zerolog.Nop())

	cfg := config.Config{Owner: config.OwnerConfig{ID: "owner1"}, MFA: config.MFAConfig{ThresholdUSD: 5000, Expiry: 5 * time.Minute}}
	client := exchange.NewPaperClient(map[domain.Asset]decimal.Decimal{"ETH": dec("10")}, map[domain.Asset]decimal.Decimal{"ETH": dec("3000")})
	workflow := approval.New(st, bus, riskMgr, client, cfg, zerolog.Nop())
	evaluator := rules.NewEvaluator(zerolog.Nop())

	return New(st, evaluator, riskMgr, workflow, bus, staticPrices{}, zerolog.Nop())
}

func seedSnapshot(t *testing.T, st *store.Store) {
	t.Helper()
	_, err := st.Snapshots.Insert(domain.Snapshot{
		Timestamp: time.Now().UTC(),
		Balances:  map[domain.Asset]decimal.Decimal{"ETH": dec("10")},
		Prices:    map[domain.Asset]decimal.Decimal{"ETH": dec("3000")},
		TotalUSD:  dec("30000"),
		Reason:    "test",
	})
	require.NoError(t, err)
}

// A rule-less tick with no enabled rules produces no intents and no error.
func TestTickWithNoRulesIsANoop(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	seedSnapshot(t, st)
	orch := newTestOrchestrator(t, st)

	result, err := orch.Tick(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Empty(t, result.Intents)
	assert.Empty(t, result.Decisions)
}

// A manually-submitted Intent that clears the risk pipeline is routed to a
// pending approval.
func TestSubmitRoutesAcceptedIntent(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	seedSnapshot(t, st)
	orch := newTestOrchestrator(t, st)

	intent := domain.Intent{
		Source:    domain.IntentSourceManual,
		Action:    domain.Action{Kind: domain.ActionEnter, Symbol: "ETH"},
		Quantity:  dec("1"),
		Price:     dec("3000"),
		CreatedAt: time.Now().UTC(),
	}
	decision, err := orch.Submit(context.Background(), intent)
	require.NoError(t, err)
	require.True(t, decision.Accepted)
	require.NotNil(t, decision.Approval)
	assert.Equal(t, domain.ApprovalPending, decision.Approval.Status)
}

// An intent that fails the minimum trade size guardrail is rejected and
// never reaches the workflow.
func TestSubmitRejectsBelowMinimumTradeSize(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	seedSnapshot(t, st)
	orch := newTestOrchestrator(t, st)

	intent := domain.Intent{
		RuleID:    "r1",
		Source:    domain.IntentSourceRule,
		Action:    domain.Action{Kind: domain.ActionEnter, Symbol: "ETH"},
		Quantity:  dec("0.0001"),
		Price:     dec("3000"),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.Rules.Insert(domain.Rule{
		ID:      "r1",
		Version: 1,
		Name:    "tiny",
		Enabled: true,
		Risk:    domain.RiskBlock{MaxPositionPct: dec("1")},
		Trigger: domain.Trigger{Type: domain.TriggerEvent, On: domain.EventKindManual},
	}))

	decision, err := orch.Submit(context.Background(), intent)
	require.NoError(t, err)
	assert.False(t, decision.Accepted)
	assert.Nil(t, decision.Approval)
	assert.NotEmpty(t, decision.Reason)
}

// A dry-run tick never mutates the approvals table even for an accepted
// intent, since /rules/evaluate must be side-effect free.
func TestTickDryRunDoesNotRoute(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	seedSnapshot(t, st)
	orch := newTestOrchestrator(t, st)

	intent := domain.Intent{
		Source:    domain.IntentSourceManual,
		Action:    domain.Action{Kind: domain.ActionEnter, Symbol: "ETH"},
		Quantity:  dec("1"),
		Price:     dec("3000"),
		CreatedAt: time.Now().UTC(),
	}
	decision := orch.decide(context.Background(), intent, domain.Rule{}, risk.EvalContext{
		Now:               time.Now().UTC(),
		Balances:          map[domain.Asset]decimal.Decimal{"ETH": dec("10")},
		Baselines:         map[domain.Asset]decimal.Decimal{},
		Collateral:        map[domain.Asset]domain.CollateralRecord{},
		PortfolioValueUSD: dec("30000"),
	}, true)
	assert.True(t, decision.Accepted)
	assert.Nil(t, decision.Approval)

	approvals, err := st.Approvals.List()
	require.NoError(t, err)
	assert.Empty(t, approvals)
}
