package optimizer

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// MonteCarloResult summarizes a bootstrap resample of a return series: the
// distribution of terminal equity multiples across resampled paths, plus
// percentile bands for the dashboard's projection chart.
type MonteCarloResult struct {
	Runs           int       `json:"runs"`
	MeanReturn     float64   `json:"meanReturn"`
	StdDevReturn   float64   `json:"stdDevReturn"`
	TerminalValues []float64 `json:"terminalValues"`
	P05            float64   `json:"p05"`
	P50            float64   `json:"p50"`
	P95            float64   `json:"p95"`
}

// MonteCarlo resamples dailyReturns with replacement runs times (each
// resample as long as the original series) and compounds each resampled
// path into a terminal equity multiple starting from 1.0. It backs the
// `/monte-carlo` endpoint — a UI-facing projection, not a trading decision,
// seeded deterministically so repeated calls with the same seed reproduce
// the same distribution.
func MonteCarlo(returns []float64, runs int, seed int64) (MonteCarloResult, error) {
	if len(returns) == 0 {
		return MonteCarloResult{}, fmt.Errorf("monte carlo requires at least one historical return")
	}
	if runs <= 0 {
		runs = 1000
	}

	src := rand.New(rand.NewSource(seed))
	terminals := make([]float64, runs)
	for i := 0; i < runs; i++ {
		equity := 1.0
		for j := 0; j < len(returns); j++ {
			r := returns[src.Intn(len(returns))]
			equity *= 1 + r
		}
		terminals[i] = equity
	}

	sorted := append([]float64(nil), terminals...)
	sort.Float64s(sorted)

	return MonteCarloResult{
		Runs:           runs,
		MeanReturn:     stat.Mean(terminals, nil),
		StdDevReturn:   stat.StdDev(terminals, nil),
		TerminalValues: terminals,
		P05:            percentile(sorted, 0.05),
		P50:            percentile(sorted, 0.50),
		P95:            percentile(sorted, 0.95),
	}, nil
}

// percentile expects sorted ascending input.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
