// Package optimizer replays a Rule against historical snapshots to score its
// performance, and runs a nightly seeded local-search pass that proposes
// parameter tweaks when they beat the live rule by a wide enough margin.
//
// Grounded on the teacher's pkg/formulas (Sharpe, max-drawdown, returns) and
// internal/scheduler's cron-registration idiom (robfig/cron/v3), both
// pulled from the sibling trader-go reference rather than the teacher
// itself — the teacher has no backtesting surface of its own (a
// market-making bot has no "historical rule replay" concept), so this
// package is grounded entirely on the wider pack.
package optimizer

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"goldcore/internal/indicators"
	"goldcore/internal/rules"
	"goldcore/pkg/domain"
)

// riskFreeRate anchors the Sharpe ratio; the backtester has no notion of a
// configurable risk-free rate, so it follows the formulas package's example
// convention of 0.
const riskFreeRate = 0.0

// Backtest replays rule against a time-ordered sequence of snapshots,
// filling every triggered enter/exit at the NEXT snapshot's price for that
// asset (never the price that triggered the signal, which would be
// lookahead), deducting feeRate of notional on every fill. The first
// snapshot seeds starting balances and cash; everything after is simulated
// forward, independent of the live store.
func Backtest(rule domain.Rule, snapshots []domain.Snapshot, feeRate float64) (domain.RuleMetrics, error) {
	if len(snapshots) < 2 {
		return domain.RuleMetrics{}, fmt.Errorf("backtest requires at least 2 snapshots, got %d", len(snapshots))
	}

	asset, ok := primaryAsset(rule)
	if !ok {
		return domain.RuleMetrics{}, fmt.Errorf("rule %s has no enter/exit action to backtest", rule.ID)
	}

	ev := rules.NewEvaluator(zerolog.Nop())
	closes := make([]decimal.Decimal, 0, len(snapshots))

	cash := snapshots[0].Balances["USDC"]
	position := snapshots[0].Balances[asset]

	var equity []float64
	var pending []domain.Intent
	trades, wins := 0, 0
	var lastEntryPrice decimal.Decimal
	holding := position.IsPositive()

	fee := decimal.NewFromFloat(feeRate)

	for i, snap := range snapshots {
		price := snap.Prices[asset]
		closes = append(closes, price)

		for _, intent := range pending {
			notional := intent.Quantity.Mul(price)
			cost := notional.Mul(fee)
			switch intent.Action.Kind {
			case domain.ActionEnter:
				total := notional.Add(cost)
				if total.GreaterThan(cash) || intent.Quantity.IsZero() {
					continue
				}
				cash = cash.Sub(total)
				position = position.Add(intent.Quantity)
				lastEntryPrice = price
				holding = true
				trades++
			case domain.ActionExit:
				qty := intent.Quantity
				if qty.GreaterThan(position) {
					qty = position
				}
				if qty.IsZero() {
					continue
				}
				proceeds := qty.Mul(price).Sub(cost)
				cash = cash.Add(proceeds)
				position = position.Sub(qty)
				if holding && price.GreaterThan(lastEntryPrice) {
					wins++
				}
				if position.IsZero() {
					holding = false
				}
			}
		}
		pending = nil

		eqDecimal := cash.Add(position.Mul(price))
		eq, _ := eqDecimal.Float64()
		equity = append(equity, eq)

		if i == len(snapshots)-1 {
			break
		}

		ctx := rules.Context{
			Now:               snap.Timestamp,
			Balances:          map[domain.Asset]decimal.Decimal{asset: position, "USDC": cash},
			Prices:            map[domain.Asset]decimal.Decimal{asset: price},
			Baselines:         map[domain.Asset]decimal.Decimal{},
			PortfolioValueUSD: eqDecimal,
			Indicator: func(_ domain.Asset, name domain.IndicatorName, params map[string]int) (*float64, error) {
				return indicators.Value(closes, name, params)
			},
			PriceChange: func(_ domain.Asset, windowMins int) (decimal.Decimal, bool) {
				return priceChangeAt(snapshots, i, windowMins)
			},
		}

		intents, _ := ev.Tick(ctx, []domain.Rule{rule})
		pending = intents
	}

	returns := dailyReturns(equity)
	metrics := domain.RuleMetrics{
		RuleID:      rule.ID,
		RuleVersion: rule.Version,
		WindowStart: snapshots[0].Timestamp,
		WindowEnd:   snapshots[len(snapshots)-1].Timestamp,
		Trades:      trades,
		Sharpe:      sharpeRatio(returns),
		MaxDrawdown: maxDrawdown(equity),
		TotalReturn: decimal.NewFromFloat(totalReturn(equity)),
	}
	if trades > 0 {
		metrics.WinRate = decimal.NewFromFloat(float64(wins) / float64(trades))
	}
	return metrics, nil
}

// primaryAsset returns the symbol the rule's first enter/exit action
// targets — the single asset this backtester simulates.
func primaryAsset(rule domain.Rule) (domain.Asset, bool) {
	for _, a := range rule.Actions {
		if a.Kind == domain.ActionEnter || a.Kind == domain.ActionExit {
			return a.Symbol, true
		}
	}
	return "", false
}

// priceChangeAt mirrors the live PriceChangeFunc contract against the
// historical snapshot series: the percentage move in the asset's price over
// the trailing windowMins ending at snapshots[i].
func priceChangeAt(snapshots []domain.Snapshot, i, windowMins int) (decimal.Decimal, bool) {
	now := snapshots[i].Timestamp
	target := now.Add(-time.Duration(windowMins) * time.Minute)
	j := i
	for j > 0 && snapshots[j].Timestamp.After(target) {
		j--
	}
	if j == i {
		return decimal.Zero, false
	}
	for sym := range snapshots[i].Prices {
		from := snapshots[j].Prices[sym]
		to := snapshots[i].Prices[sym]
		if from.IsZero() {
			continue
		}
		return to.Sub(from).Div(from), true
	}
	return decimal.Zero, false
}

func dailyReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		out = append(out, (equity[i]-equity[i-1])/equity[i-1])
	}
	return out
}

// sharpeRatio mirrors formulas.CalculateSharpeRatio, annualizing by the
// number of samples rather than a fixed trading-day count since a backtest
// window may be sampled at any cadence.
func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := stat.Mean(returns, nil)
	sd := stat.StdDev(returns, nil)
	if sd == 0 {
		return 0
	}
	periodic := riskFreeRate / float64(len(returns))
	return (mean - periodic) / sd * math.Sqrt(float64(len(returns)))
}

// maxDrawdown mirrors formulas.CalculateMaxDrawdown.
func maxDrawdown(equity []float64) float64 {
	if len(equity) < 2 {
		return 0
	}
	peak := equity[0]
	worst := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func totalReturn(equity []float64) float64 {
	if len(equity) < 2 || equity[0] == 0 {
		return 0
	}
	return (equity[len(equity)-1] - equity[0]) / equity[0]
}

