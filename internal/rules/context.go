package rules

import (
	"time"

	"github.com/shopspring/decimal"

	"goldcore/pkg/domain"
)

// PriceChangeFunc reports the percentage change in an asset's price over
// the trailing window (e.g. 0.05 for a 5% rise), or ok=false if there are
// not enough samples to compute it.
type PriceChangeFunc func(asset domain.Asset, windowMins int) (pct decimal.Decimal, ok bool)

// IndicatorFunc computes one technical indicator's current reading.
// Returns (nil, nil) for "insufficient data" — not an error.
type IndicatorFunc func(asset domain.Asset, name domain.IndicatorName, params map[string]int) (*float64, error)

// Context is the evaluation context built fresh for each scheduler tick.
// Indicator lookups are memoized within one Context's lifetime by the
// Evaluator, per the "memoized per tick" requirement.
type Context struct {
	Now               time.Time
	Balances          map[domain.Asset]decimal.Decimal
	Prices            map[domain.Asset]decimal.Decimal
	Baselines         map[domain.Asset]decimal.Decimal
	PortfolioValueUSD decimal.Decimal
	Objectives        domain.Objectives
	Collateral        map[domain.Asset]domain.CollateralRecord
	KillSwitchEnabled bool

	// FiredEvent is the trigger event kind that occurred this tick, if any
	// (nil on a plain interval-driven tick).
	FiredEvent *domain.TriggerEventKind

	PriceChange PriceChangeFunc
	Indicator   IndicatorFunc
}
