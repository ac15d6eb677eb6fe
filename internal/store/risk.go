package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"goldcore/pkg/domain"
)

// RiskRepo persists the rolling risk-state snapshot. Kept as a single-row
// JSON blob: the structure's shape (maps of counters) doesn't benefit from
// relational decomposition, and the canonical copy lives in memory guarded
// by internal/risk's mutex — this table exists purely so a restart doesn't
// reset counters to zero mid-day.
type RiskRepo struct{ baseRepo }

// Save overwrites the persisted risk state.
func (r *RiskRepo) Save(s domain.RiskState) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal risk state: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT INTO risk_state (id, state_json) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET state_json = excluded.state_json`,
		string(b),
	)
	if err != nil {
		return fmt.Errorf("save risk state: %w", err)
	}
	return nil
}

// Load returns the persisted risk state, or nil if never saved.
func (r *RiskRepo) Load() (*domain.RiskState, error) {
	row := r.db.QueryRow(`SELECT state_json FROM risk_state WHERE id = 1`)
	var blob string
	if err := row.Scan(&blob); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("load risk state: %w", err)
	}
	var s domain.RiskState
	if err := json.Unmarshal([]byte(blob), &s); err != nil {
		return nil, fmt.Errorf("unmarshal risk state: %w", err)
	}
	return &s, nil
}

// LotRepo persists per-asset FIFO cost-basis lots.
type LotRepo struct{ baseRepo }

// Open inserts a new lot and returns its assigned id.
func (r *LotRepo) Open(l domain.Lot) (int64, error) {
	res, err := r.db.Exec(
		`INSERT INTO lots (asset, quantity, original_qty, cost_basis, opened_at, execution_id) VALUES (?, ?, ?, ?, ?, ?)`,
		string(l.Asset), l.Quantity.String(), l.OriginalQty.String(), l.CostBasis.String(),
		l.OpenedAt.UTC().Format(time.RFC3339Nano), l.ExecutionID,
	)
	if err != nil {
		return 0, fmt.Errorf("open lot: %w", err)
	}
	return res.LastInsertId()
}

// ReduceQuantity sets a lot's remaining quantity after a partial or full
// close.
func (r *LotRepo) ReduceQuantity(id int64, remaining string) error {
	_, err := r.db.Exec(`UPDATE lots SET quantity = ? WHERE id = ?`, remaining, id)
	if err != nil {
		return fmt.Errorf("reduce lot: %w", err)
	}
	return nil
}

// OpenLotsFIFO returns every lot with remaining quantity > 0 for an asset,
// oldest first — the order FIFO closing consumes them in.
func (r *LotRepo) OpenLotsFIFO(asset domain.Asset) ([]domain.Lot, error) {
	rows, err := r.db.Query(
		`SELECT id, asset, quantity, original_qty, cost_basis, opened_at, execution_id
		 FROM lots WHERE asset = ? AND quantity != '0' ORDER BY id ASC`, string(asset),
	)
	if err != nil {
		return nil, fmt.Errorf("query open lots: %w", err)
	}
	defer rows.Close()

	var out []domain.Lot
	for rows.Next() {
		var l domain.Lot
		var quantity, originalQty, costBasis, openedAt string
		if err := rows.Scan(&l.ID, &l.Asset, &quantity, &originalQty, &costBasis, &openedAt, &l.ExecutionID); err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		if l.Quantity, err = parseDecimal(quantity); err != nil {
			return nil, err
		}
		if l.OriginalQty, err = parseDecimal(originalQty); err != nil {
			return nil, err
		}
		if l.CostBasis, err = parseDecimal(costBasis); err != nil {
			return nil, err
		}
		if l.OpenedAt, err = time.Parse(time.RFC3339Nano, openedAt); err != nil {
			return nil, fmt.Errorf("parse lot opened_at: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
