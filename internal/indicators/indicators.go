// Package indicators computes RSI, EMA, SMA, and MACD-histogram values over
// a rolling closing-price series. Per the resolved indicator source-of-truth
// (closing prices sampled once per price-poll interval, retained 24h), all
// math here operates on float64 — precision loss at this boundary is
// acceptable because indicator output only ever feeds comparator
// conditions, never balance or trade-quantity arithmetic.
package indicators

import (
	"fmt"

	talib "github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"goldcore/pkg/domain"
)

// Default lookback lengths, used when a condition's Params map omits
// "length" (or the MACD-specific keys).
const (
	defaultRSILength  = 14
	defaultEMALength  = 20
	defaultSMALength  = 20
	defaultMACDFast   = 12
	defaultMACDSlow   = 26
	defaultMACDSignal = 9
)

func toFloats(closes []decimal.Decimal) []float64 {
	out := make([]float64, len(closes))
	for i, c := range closes {
		f, _ := c.Float64()
		out[i] = f
	}
	return out
}

func lastNonNaN(series []float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	v := series[len(series)-1]
	if v != v { // NaN check without importing math
		return nil
	}
	return &v
}

func paramOr(params map[string]int, key string, fallback int) int {
	if params == nil {
		return fallback
	}
	if v, ok := params[key]; ok && v > 0 {
		return v
	}
	return fallback
}

// Value computes one indicator's current reading over a closing-price
// series (oldest first). Returns (nil, nil) — not an error — when the
// series is too short for the requested lookback; the rules engine treats
// a nil indicator reading as "condition not satisfied" rather than a fault.
func Value(closes []decimal.Decimal, name domain.IndicatorName, params map[string]int) (*float64, error) {
	floats := toFloats(closes)

	switch name {
	case domain.IndicatorRSI:
		length := paramOr(params, "length", defaultRSILength)
		if len(floats) < length+1 {
			return nil, nil
		}
		return lastNonNaN(talib.Rsi(floats, length)), nil

	case domain.IndicatorEMA:
		length := paramOr(params, "length", defaultEMALength)
		if len(floats) < length {
			return nil, nil
		}
		return lastNonNaN(talib.Ema(floats, length)), nil

	case domain.IndicatorSMA:
		length := paramOr(params, "length", defaultSMALength)
		if len(floats) < length {
			return nil, nil
		}
		return lastNonNaN(talib.Sma(floats, length)), nil

	case domain.IndicatorMACDHist:
		fast := paramOr(params, "fast", defaultMACDFast)
		slow := paramOr(params, "slow", defaultMACDSlow)
		signal := paramOr(params, "signal", defaultMACDSignal)
		if len(floats) < slow+signal {
			return nil, nil
		}
		_, _, hist := talib.Macd(floats, fast, slow, signal)
		return lastNonNaN(hist), nil

	default:
		return nil, fmt.Errorf("unknown indicator %q", name)
	}
}
