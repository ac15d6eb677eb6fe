package approval

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"goldcore/internal/store"
	"goldcore/pkg/domain"
)

// openLot records a buy fill as a new FIFO cost-basis lot.
func openLot(st *store.Store, asset domain.Asset, qty, price decimal.Decimal, executionID int64, now time.Time) error {
	if qty.IsZero() {
		return nil
	}
	_, err := st.Lots.Open(domain.Lot{
		Asset:       asset,
		Quantity:    qty,
		OriginalQty: qty,
		CostBasis:   price,
		OpenedAt:    now,
		ExecutionID: executionID,
	})
	if err != nil {
		return fmt.Errorf("open cost-basis lot: %w", err)
	}
	return nil
}

// closeFIFO consumes open lots for asset oldest-first to cover a sell of
// qty at sellPrice, returning the realized PnL in USD. Lots are reduced in
// place (never deleted) so a restart replays the same remaining quantities.
func closeFIFO(st *store.Store, asset domain.Asset, qty, sellPrice decimal.Decimal) (decimal.Decimal, error) {
	if qty.IsZero() {
		return decimal.Zero, nil
	}
	lots, err := st.Lots.OpenLotsFIFO(asset)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load open lots: %w", err)
	}

	remaining := qty
	realized := decimal.Zero
	for _, lot := range lots {
		if remaining.IsZero() {
			break
		}
		take := lot.Quantity
		if take.GreaterThan(remaining) {
			take = remaining
		}
		realized = realized.Add(sellPrice.Sub(lot.CostBasis).Mul(take))
		remaining = remaining.Sub(take)
		left := lot.Quantity.Sub(take)
		if err := st.Lots.ReduceQuantity(lot.ID, left.String()); err != nil {
			return realized, fmt.Errorf("reduce lot %d: %w", lot.ID, err)
		}
	}
	// A sell exceeding all open lots (e.g. a deposit predating lot tracking)
	// realizes the excess at zero cost basis rather than erroring — the
	// invariant this protects (never sell below baseline) is enforced by
	// the risk pipeline, not here.
	if remaining.IsPositive() {
		realized = realized.Add(sellPrice.Mul(remaining))
	}
	return realized, nil
}
