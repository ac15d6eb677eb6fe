package rules

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldcore/pkg/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func baseContext() Context {
	return Context{
		Now:               time.Now().UTC(),
		Balances:          map[domain.Asset]decimal.Decimal{"ETH": dec("10"), "USDC": dec("5000")},
		Prices:            map[domain.Asset]decimal.Decimal{"ETH": dec("3000")},
		Baselines:         map[domain.Asset]decimal.Decimal{},
		PortfolioValueUSD: dec("35000"),
		Collateral:        map[domain.Asset]domain.CollateralRecord{},
		PriceChange: func(asset domain.Asset, windowMins int) (decimal.Decimal, bool) {
			return decimal.Zero, false
		},
		Indicator: func(asset domain.Asset, name domain.IndicatorName, params map[string]int) (*float64, error) {
			return nil, nil
		},
	}
}

// An interval-trigger rule whose condition passes emits one Intent and
// records lastFire.
func TestTickEmitsIntentWhenConditionPasses(t *testing.T) {
	ctx := baseContext()
	rule := domain.Rule{
		ID:      "r1",
		Name:    "enter eth",
		Enabled: true,
		Trigger: domain.Trigger{Type: domain.TriggerInterval, Every: time.Minute},
		Conditions: []domain.Condition{
			{Kind: domain.ConditionBalance, Symbol: "USDC", Cmp: domain.CmpGT, Value: dec("1000")},
		},
		Actions: []domain.Action{{Kind: domain.ActionEnter, Symbol: "ETH", AllocationPct: dec("0.1")}},
	}

	e := NewEvaluator(zerolog.Nop())
	intents, alerts := e.Tick(ctx, []domain.Rule{rule})

	require.Len(t, intents, 1)
	assert.Empty(t, alerts)
	assert.Equal(t, "r1", intents[0].RuleID)
	assert.Equal(t, domain.ActionEnter, intents[0].Action.Kind)
	// usdcFree(5000) * 0.1 / price(3000)
	assert.True(t, intents[0].Quantity.Equal(dec("5000").Mul(dec("0.1")).Div(dec("3000"))))

	e.mu.Lock()
	_, fired := e.lastFire["r1"]
	e.mu.Unlock()
	assert.True(t, fired)
}

// A second tick before the interval elapses does not re-fire the rule.
func TestTriggerReadyRespectsInterval(t *testing.T) {
	ctx := baseContext()
	rule := domain.Rule{
		ID:      "r1",
		Name:    "alert",
		Enabled: true,
		Trigger: domain.Trigger{Type: domain.TriggerInterval, Every: time.Hour},
		Actions: []domain.Action{{Kind: domain.ActionAlertOnly, Message: "hi"}},
	}

	e := NewEvaluator(zerolog.Nop())
	intents, _ := e.Tick(ctx, []domain.Rule{rule})
	require.Len(t, intents, 1)

	ctx.Now = ctx.Now.Add(time.Minute)
	intents, _ = e.Tick(ctx, []domain.Rule{rule})
	assert.Empty(t, intents)
}

// An indicator reading of NaN or Inf raises an indicator_anomaly alert and
// the condition is treated as failed, not as a crash.
func TestIndicatorAnomalyAlertsOnNaN(t *testing.T) {
	ctx := baseContext()
	nan := math.NaN()
	ctx.Indicator = func(asset domain.Asset, name domain.IndicatorName, params map[string]int) (*float64, error) {
		return &nan, nil
	}

	rule := domain.Rule{
		ID:      "r1",
		Name:    "rsi rule",
		Enabled: true,
		Trigger: domain.Trigger{Type: domain.TriggerInterval, Every: time.Minute},
		Conditions: []domain.Condition{
			{Kind: domain.ConditionIndicator, Symbol: "ETH", Indicator: domain.IndicatorRSI, Cmp: domain.CmpGT, Value: dec("70")},
		},
		Actions: []domain.Action{{Kind: domain.ActionAlertOnly, Message: "overbought"}},
	}

	e := NewEvaluator(zerolog.Nop())
	intents, alerts := e.Tick(ctx, []domain.Rule{rule})

	assert.Empty(t, intents)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertIndicatorAnomaly, alerts[0].Type)
}

// A priceChangePct condition with insufficient samples (ok=false) fails
// silently: no alert, condition simply doesn't pass.
func TestPriceChangeMissingDataFailsSilently(t *testing.T) {
	ctx := baseContext()
	rule := domain.Rule{
		ID:      "r1",
		Name:    "momentum",
		Enabled: true,
		Trigger: domain.Trigger{Type: domain.TriggerInterval, Every: time.Minute},
		Conditions: []domain.Condition{
			{Kind: domain.ConditionPriceChangePct, Symbol: "ETH", WindowMins: 60, Cmp: domain.CmpGT, Value: dec("0.05")},
		},
		Actions: []domain.Action{{Kind: domain.ActionAlertOnly, Message: "moving"}},
	}

	e := NewEvaluator(zerolog.Nop())
	intents, alerts := e.Tick(ctx, []domain.Rule{rule})

	assert.Empty(t, intents)
	assert.Empty(t, alerts)
}

// An exit action against a zero balance emits no Intent at all, per the
// empty-portfolio edge case.
func TestExitActionOnEmptyBalanceEmitsNoIntent(t *testing.T) {
	ctx := baseContext()
	ctx.Balances["ETH"] = decimal.Zero

	rule := domain.Rule{
		ID:      "r1",
		Name:    "exit eth",
		Enabled: true,
		Trigger: domain.Trigger{Type: domain.TriggerInterval, Every: time.Minute},
		Actions: []domain.Action{{Kind: domain.ActionExit, Symbol: "ETH", AllocationPct: dec("1")}},
	}

	e := NewEvaluator(zerolog.Nop())
	intents, alerts := e.Tick(ctx, []domain.Rule{rule})

	assert.Empty(t, intents)
	assert.Empty(t, alerts)

	e.mu.Lock()
	_, fired := e.lastFire["r1"]
	e.mu.Unlock()
	assert.True(t, fired, "the rule still fired even though its exit action produced no intent")
}

// A disabled kill switch lets evaluation proceed as normal; an enabled one
// suppresses every rule regardless of trigger/condition state.
func TestKillSwitchSuppressesAllRules(t *testing.T) {
	ctx := baseContext()
	ctx.KillSwitchEnabled = true

	rule := domain.Rule{
		ID:      "r1",
		Name:    "alert",
		Enabled: true,
		Trigger: domain.Trigger{Type: domain.TriggerInterval, Every: time.Minute},
		Actions: []domain.Action{{Kind: domain.ActionAlertOnly, Message: "hi"}},
	}

	e := NewEvaluator(zerolog.Nop())
	intents, alerts := e.Tick(ctx, []domain.Rule{rule})
	assert.Nil(t, intents)
	assert.Nil(t, alerts)
}
