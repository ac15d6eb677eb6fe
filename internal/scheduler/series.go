package scheduler

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"goldcore/pkg/domain"
)

type pricePoint struct {
	at    time.Time
	price decimal.Decimal
}

// priceSeries is the rolling per-asset closing-price history the
// scheduler's price cycle appends to. Retained for a fixed window (default
// 24h); older points are pruned on every append.
type priceSeries struct {
	mu      sync.Mutex
	retain  time.Duration
	byAsset map[domain.Asset][]pricePoint
}

func newPriceSeries(retain time.Duration) *priceSeries {
	return &priceSeries{retain: retain, byAsset: make(map[domain.Asset][]pricePoint)}
}

func (s *priceSeries) append(asset domain.Asset, at time.Time, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pts := append(s.byAsset[asset], pricePoint{at: at, price: price})
	cutoff := at.Add(-s.retain)
	start := 0
	for start < len(pts) && pts[start].at.Before(cutoff) {
		start++
	}
	s.byAsset[asset] = pts[start:]
}

// closes returns the retained closing prices for an asset, oldest first.
func (s *priceSeries) closes(asset domain.Asset) []decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	pts := s.byAsset[asset]
	out := make([]decimal.Decimal, len(pts))
	for i, p := range pts {
		out[i] = p.price
	}
	return out
}

// latestAll returns the most recent retained price for every tracked
// asset, used to price a portfolio cycle's balances without an extra
// exchange round-trip.
func (s *priceSeries) latestAll() map[domain.Asset]decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[domain.Asset]decimal.Decimal, len(s.byAsset))
	for asset, pts := range s.byAsset {
		if len(pts) == 0 {
			continue
		}
		out[asset] = pts[len(pts)-1].price
	}
	return out
}

// changePct returns the fractional price change for an asset between the
// most recent point at or before `now - windowMins` and the most recent
// point at or before `now`. ok is false when there are fewer than two
// points spanning the window.
func (s *priceSeries) changePct(asset domain.Asset, now time.Time, windowMins int) (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pts := s.byAsset[asset]
	if len(pts) < 2 {
		return decimal.Zero, false
	}

	target := now.Add(-time.Duration(windowMins) * time.Minute)
	var from, to pricePoint
	haveFrom, haveTo := false, false
	for _, p := range pts {
		if !p.at.After(now) {
			to = p
			haveTo = true
		}
		if !p.at.After(target) {
			from = p
			haveFrom = true
		}
	}
	if !haveFrom || !haveTo || from.price.IsZero() {
		return decimal.Zero, false
	}
	return to.price.Sub(from.price).Div(from.price), true
}

// realizedVolatility computes the standard deviation of simple returns
// across every tracked asset's points falling within the trailing window,
// combined into one aggregate figure the portfolio cadence adapts on. An
// asset with fewer than two points in the window contributes nothing.
func (s *priceSeries) realizedVolatility(window time.Duration) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var returns []float64
	cutoff := time.Now().Add(-window)
	for _, pts := range s.byAsset {
		var recent []pricePoint
		for _, p := range pts {
			if p.at.After(cutoff) {
				recent = append(recent, p)
			}
		}
		for i := 1; i < len(recent); i++ {
			prev, _ := recent[i-1].price.Float64()
			cur, _ := recent[i].price.Float64()
			if prev == 0 {
				continue
			}
			returns = append(returns, (cur-prev)/prev)
		}
	}

	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var sqDiff float64
	for _, r := range returns {
		d := r - mean
		sqDiff += d * d
	}
	return math.Sqrt(sqDiff / float64(len(returns)-1))
}
