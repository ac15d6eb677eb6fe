package exchange

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"goldcore/pkg/domain"
)

// PaperClient is a deterministic in-memory Client used for dry-run mode and
// tests. Balances and prices are seeded by the caller and mutated locally on
// PlaceOrder; no network calls are made.
type PaperClient struct {
	mu         sync.Mutex
	balances   map[domain.Asset]decimal.Decimal
	prices     map[domain.Asset]decimal.Decimal
	collateral []domain.CollateralRecord
}

// NewPaperClient builds a PaperClient seeded with the given balances and
// prices.
func NewPaperClient(balances, prices map[domain.Asset]decimal.Decimal) *PaperClient {
	return &PaperClient{balances: balances, prices: prices}
}

// SetCollateral overrides the collateral set returned by GetCollateral.
func (p *PaperClient) SetCollateral(records []domain.CollateralRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collateral = records
}

// GetAllBalances returns a copy of the seeded balance map.
func (p *PaperClient) GetAllBalances(ctx context.Context) (map[domain.Asset]decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[domain.Asset]decimal.Decimal, len(p.balances))
	for k, v := range p.balances {
		out[k] = v
	}
	return out, nil
}

// GetSpotPrices returns the seeded price for each requested asset, omitting
// assets with no known price (matching the "missing price" edge case the
// rules engine must tolerate).
func (p *PaperClient) GetSpotPrices(ctx context.Context, assets []domain.Asset) (map[domain.Asset]decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[domain.Asset]decimal.Decimal, len(assets))
	for _, a := range assets {
		if price, ok := p.prices[a]; ok {
			out[a] = price
		}
	}
	return out, nil
}

// GetCollateral returns the seeded collateral set.
func (p *PaperClient) GetCollateral(ctx context.Context) ([]domain.CollateralRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.CollateralRecord(nil), p.collateral...), nil
}

// PlaceOrder fills instantly at the seeded spot price and never touches a
// real exchange. A non-dry-run order adjusts the local balance map; a
// dry-run order leaves it untouched.
func (p *PaperClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price := p.prices[req.Symbol]
	if !req.DryRun {
		switch req.Side {
		case domain.SideSell:
			p.balances[req.Symbol] = p.balances[req.Symbol].Sub(req.Quantity)
		case domain.SideBuy:
			p.balances[req.Symbol] = p.balances[req.Symbol].Add(req.Quantity)
		}
	}

	return OrderResult{
		OrderID:      "paper",
		FillQuantity: req.Quantity,
		FillPrice:    price,
		Fees:         decimal.Zero,
		Status:       domain.OrderStatusFilled,
	}, nil
}
