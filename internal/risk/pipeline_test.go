package risk

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldcore/internal/config"
	"goldcore/pkg/domain"
)

func testConfig() config.RiskConfig {
	return config.RiskConfig{
		MinTradeUSD:       10,
		DailyLossLimit:    1000,
		MaxPositionPct:    0.5,
		CollateralLTVWarn: 0.7,
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func baseCtx(now time.Time) EvalContext {
	return EvalContext{
		Now:               now,
		Balances:          map[domain.Asset]decimal.Decimal{"BTC": dec("0.8")},
		Baselines:         map[domain.Asset]decimal.Decimal{"BTC": dec("0.5")},
		Collateral:        map[domain.Asset]domain.CollateralRecord{},
		PortfolioValueUSD: dec("100000"),
		Objectives: domain.Objectives{
			CoreAssets: map[domain.Asset]domain.CoreAssetPolicy{
				"BTC": {Baseline: dec("0.5")},
			},
		},
	}
}

// Scenario A — profit-take respects baseline: exit BTC allocationPct=50%
// on a 0.8 balance with a 0.5 baseline clamps to 0.3, not 0.4.
func TestEvaluateClampsExitToBaseline(t *testing.T) {
	t.Parallel()
	m := New(testConfig(), nil, zerolog.Nop())
	now := time.Now()

	intent := domain.Intent{
		RuleID: "r1",
		Action: domain.Action{Kind: domain.ActionExit, Symbol: "BTC"},
		Quantity: dec("0.4"),
		Price:    dec("70000"),
	}
	rb := domain.RiskBlock{
		MaxPositionPct: dec("1"),
		Guardrails:     map[domain.Guardrail]struct{}{domain.GuardrailBaselineProtection: {}},
	}

	d := m.Evaluate(intent, rb, baseCtx(now))
	require.True(t, d.Accepted)
	assert.True(t, d.ClampedQty.Equal(dec("0.3")), "got %s", d.ClampedQty)
	assert.NotEmpty(t, d.Warnings)
}

// Scenario B — collateral-locked BTC cannot be sold.
func TestEvaluateRejectsCollateralLockedSell(t *testing.T) {
	t.Parallel()
	m := New(testConfig(), nil, zerolog.Nop())
	now := time.Now()

	ctx := baseCtx(now)
	ctx.Balances["BTC"] = dec("2.0")
	ctx.Baselines["BTC"] = dec("0.1")
	ctx.Collateral["BTC"] = domain.CollateralRecord{Asset: "BTC", Locked: dec("1.8"), LTV: dec("0.2")}

	intent := domain.Intent{
		RuleID:   "r1",
		Action:   domain.Action{Kind: domain.ActionExit, Symbol: "BTC"},
		Quantity: dec("0.5"),
		Price:    dec("70000"),
	}
	rb := domain.RiskBlock{
		Guardrails: map[domain.Guardrail]struct{}{
			domain.GuardrailBaselineProtection:   {},
			domain.GuardrailCollateralProtection: {},
		},
	}

	d := m.Evaluate(intent, rb, ctx)
	require.False(t, d.Accepted)
	require.Len(t, d.RejectionChain, 1)
	assert.Contains(t, d.RejectionChain[0], "collateralProtection")
	assert.Contains(t, d.RejectionChain[0], "free=0.2")
	assert.Equal(t, domain.SeverityWarning, d.Severity)
}

// Scenario D — velocity throttle: five recent executions block a sixth.
func TestEvaluateVelocityThrottle(t *testing.T) {
	t.Parallel()
	m := New(testConfig(), nil, zerolog.Nop())
	now := time.Now()

	for i := 0; i < 5; i++ {
		m.ReserveAndRecord("", "BTC", now.Add(time.Duration(-i)*time.Minute), decimal.Zero)
	}

	intent := domain.Intent{
		Action:   domain.Action{Kind: domain.ActionExit, Symbol: "ETH"},
		Quantity: dec("1"),
		Price:    dec("3000"),
	}
	d := m.Evaluate(intent, domain.RiskBlock{}, baseCtx(now))
	require.False(t, d.Accepted)
	assert.Contains(t, d.RejectionChain[0], "throttleVelocity")
}

func TestEvaluatePerAssetVelocityThrottle(t *testing.T) {
	t.Parallel()
	m := New(testConfig(), nil, zerolog.Nop())
	now := time.Now()

	for i := 0; i < 3; i++ {
		m.ReserveAndRecord("", "ETH", now.Add(time.Duration(-i)*time.Minute), decimal.Zero)
	}

	intent := domain.Intent{
		Action:   domain.Action{Kind: domain.ActionExit, Symbol: "ETH"},
		Quantity: dec("1"),
		Price:    dec("3000"),
	}
	d := m.Evaluate(intent, domain.RiskBlock{}, baseCtx(now))
	require.False(t, d.Accepted)
	assert.Contains(t, d.RejectionChain[0], "throttleVelocity")
}

func TestEvaluateCooldownRejectsRepeatFire(t *testing.T) {
	t.Parallel()
	m := New(testConfig(), nil, zerolog.Nop())
	now := time.Now()
	m.ReserveAndRecord("r1", "ETH", now.Add(-5*time.Second), decimal.Zero)

	intent := domain.Intent{
		RuleID:   "r1",
		Action:   domain.Action{Kind: domain.ActionExit, Symbol: "ETH"},
		Quantity: dec("1"),
		Price:    dec("3000"),
	}
	rb := domain.RiskBlock{CooldownSecs: 60}
	d := m.Evaluate(intent, rb, baseCtx(now))
	require.False(t, d.Accepted)
	assert.Contains(t, d.RejectionChain[0], "cooldown")
}

func TestEvaluateKillSwitchRejectsAll(t *testing.T) {
	t.Parallel()
	m := New(testConfig(), nil, zerolog.Nop())
	ctx := baseCtx(time.Now())
	ctx.KillSwitchEnabled = true

	intent := domain.Intent{Action: domain.Action{Kind: domain.ActionExit, Symbol: "BTC"}, Quantity: dec("0.1"), Price: dec("70000")}
	d := m.Evaluate(intent, domain.RiskBlock{}, ctx)
	require.False(t, d.Accepted)
	assert.Contains(t, d.RejectionChain[0], "kill_switch")
}

func TestReserveAndRecordTripsCircuitBreaker(t *testing.T) {
	t.Parallel()
	m := New(testConfig(), nil, zerolog.Nop())
	now := time.Now()

	m.ReserveAndRecord("r1", "BTC", now, dec("-1500"))
	snap := m.Snapshot()
	assert.Equal(t, domain.CircuitTripped, snap.CircuitBreaker)
	assert.True(t, m.TookCriticalTrip())
	assert.False(t, m.TookCriticalTrip(), "should only fire once per trip")

	intent := domain.Intent{Action: domain.Action{Kind: domain.ActionExit, Symbol: "BTC"}, Quantity: dec("0.1"), Price: dec("70000")}
	d := m.Evaluate(intent, domain.RiskBlock{}, baseCtx(now))
	require.False(t, d.Accepted)
	assert.Contains(t, d.RejectionChain[0], "circuitDrawdown")
}

func TestMinimumTradeSizeRejected(t *testing.T) {
	t.Parallel()
	m := New(testConfig(), nil, zerolog.Nop())
	now := time.Now()

	intent := domain.Intent{
		Action:   domain.Action{Kind: domain.ActionEnter, Symbol: "ETH"},
		Quantity: dec("0.0001"),
		Price:    dec("3000"),
	}
	d := m.Evaluate(intent, domain.RiskBlock{}, baseCtx(now))
	require.False(t, d.Accepted)
	assert.Contains(t, d.RejectionChain[0], "minTradeSize")
}
