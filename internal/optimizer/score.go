package optimizer

import "goldcore/pkg/domain"

// Weights for the composite candidate-ranking score: reward risk-adjusted
// return and win rate, penalize drawdown.
const (
	weightSharpe   = 0.5
	weightDrawdown = 0.3
	weightWinRate  = 0.2
)

// Score combines a backtest's Sharpe ratio, max drawdown, and win rate into
// a single ranking number, higher is better.
func Score(m domain.RuleMetrics) float64 {
	winRate, _ := m.WinRate.Float64()
	return weightSharpe*m.Sharpe - weightDrawdown*m.MaxDrawdown + weightWinRate*winRate
}

// Improvement returns the fractional improvement of candidate over baseline
// scores. For a baseline score of zero (or negative) it returns the absolute
// difference candidate - baseline when the candidate is higher, and 0
// otherwise, rather than dividing by zero.
func Improvement(baseline, candidate float64) float64 {
	if baseline <= 0 {
		if candidate > baseline {
			return candidate - baseline
		}
		return 0
	}
	return (candidate - baseline) / baseline
}
