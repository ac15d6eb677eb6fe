package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"goldcore/pkg/domain"
)

// SnapshotRepo persists immutable portfolio Snapshots.
type SnapshotRepo struct{ baseRepo }

// Insert writes a new snapshot and returns its assigned id.
func (r *SnapshotRepo) Insert(s domain.Snapshot) (int64, error) {
	balances, err := json.Marshal(s.Balances)
	if err != nil {
		return 0, fmt.Errorf("marshal balances: %w", err)
	}
	prices, err := json.Marshal(s.Prices)
	if err != nil {
		return 0, fmt.Errorf("marshal prices: %w", err)
	}
	res, err := r.db.Exec(
		`INSERT INTO snapshots (timestamp, balances_json, prices_json, total_usd, reason) VALUES (?, ?, ?, ?, ?)`,
		s.Timestamp.UTC().Format(time.RFC3339Nano), string(balances), string(prices), s.TotalUSD.String(), s.Reason,
	)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return res.LastInsertId()
}

// Latest returns the most recently written snapshot, or nil if the store is
// empty.
func (r *SnapshotRepo) Latest() (*domain.Snapshot, error) {
	row := r.db.QueryRow(`SELECT id, timestamp, balances_json, prices_json, total_usd, reason FROM snapshots ORDER BY id DESC LIMIT 1`)
	s, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return s, nil
}

// Since returns every snapshot recorded strictly after the given time,
// ascending by timestamp, for diffing and backtesting.
func (r *SnapshotRepo) Since(t time.Time) ([]domain.Snapshot, error) {
	rows, err := r.db.Query(
		`SELECT id, timestamp, balances_json, prices_json, total_usd, reason FROM snapshots WHERE timestamp > ? ORDER BY timestamp ASC`,
		t.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner) (*domain.Snapshot, error) {
	var s domain.Snapshot
	var ts, totalUSD, balancesJSON, pricesJSON string
	if err := row.Scan(&s.ID, &ts, &balancesJSON, &pricesJSON, &totalUSD, &s.Reason); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	s.Timestamp = t
	total, err := decimal.NewFromString(totalUSD)
	if err != nil {
		return nil, fmt.Errorf("parse total_usd: %w", err)
	}
	s.TotalUSD = total
	if err := json.Unmarshal([]byte(balancesJSON), &s.Balances); err != nil {
		return nil, fmt.Errorf("unmarshal balances: %w", err)
	}
	if err := json.Unmarshal([]byte(pricesJSON), &s.Prices); err != nil {
		return nil, fmt.Errorf("unmarshal prices: %w", err)
	}
	return &s, nil
}

// BaselineRepo persists per-asset protected-quantity floors.
type BaselineRepo struct{ baseRepo }

// Upsert replaces the stored baseline for an asset. Callers are responsible
// for enforcing the monotonic-non-decreasing invariant before calling this;
// the repository itself performs no clamping.
func (r *BaselineRepo) Upsert(b domain.Baseline) error {
	_, err := r.db.Exec(
		`INSERT INTO baselines (asset, quantity, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(asset) DO UPDATE SET quantity = excluded.quantity, updated_at = excluded.updated_at`,
		string(b.Asset), b.Quantity.String(), b.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert baseline: %w", err)
	}
	return nil
}

// Get returns the baseline for an asset, or nil if none has been seeded yet.
func (r *BaselineRepo) Get(asset domain.Asset) (*domain.Baseline, error) {
	row := r.db.QueryRow(`SELECT asset, quantity, updated_at FROM baselines WHERE asset = ?`, string(asset))
	var b domain.Baseline
	var qty, updatedAt string
	if err := row.Scan(&b.Asset, &qty, &updatedAt); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get baseline: %w", err)
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return nil, fmt.Errorf("parse baseline quantity: %w", err)
	}
	b.Quantity = q
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse baseline updated_at: %w", err)
	}
	b.UpdatedAt = t
	return &b, nil
}

// All returns every seeded baseline, keyed by asset.
func (r *BaselineRepo) All() (map[domain.Asset]domain.Baseline, error) {
	rows, err := r.db.Query(`SELECT asset, quantity, updated_at FROM baselines`)
	if err != nil {
		return nil, fmt.Errorf("query baselines: %w", err)
	}
	defer rows.Close()

	out := map[domain.Asset]domain.Baseline{}
	for rows.Next() {
		var b domain.Baseline
		var qty, updatedAt string
		if err := rows.Scan(&b.Asset, &qty, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan baseline: %w", err)
		}
		q, err := decimal.NewFromString(qty)
		if err != nil {
			return nil, fmt.Errorf("parse baseline quantity: %w", err)
		}
		b.Quantity = q
		t, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse baseline updated_at: %w", err)
		}
		b.UpdatedAt = t
		out[b.Asset] = b
	}
	return out, rows.Err()
}

// CollateralRepo persists the latest collateral record per asset. Each
// refresh replaces the prior row for that asset; never additive.
type CollateralRepo struct{ baseRepo }

// Replace overwrites the full collateral record set within one transaction,
// matching the scheduler's delete-then-insert cycle semantics.
func (r *CollateralRepo) Replace(records []domain.CollateralRecord) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin collateral replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM collateral`); err != nil {
		return fmt.Errorf("clear collateral: %w", err)
	}
	for _, c := range records {
		if _, err := tx.Exec(
			`INSERT INTO collateral (asset, locked, ltv, health, as_of) VALUES (?, ?, ?, ?, ?)`,
			string(c.Asset), c.Locked.String(), c.LTV.String(), c.Health.String(), c.AsOf.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert collateral: %w", err)
		}
	}
	return tx.Commit()
}

// All returns the current collateral record set, keyed by asset.
func (r *CollateralRepo) All() (map[domain.Asset]domain.CollateralRecord, error) {
	rows, err := r.db.Query(`SELECT asset, locked, ltv, health, as_of FROM collateral`)
	if err != nil {
		return nil, fmt.Errorf("query collateral: %w", err)
	}
	defer rows.Close()

	out := map[domain.Asset]domain.CollateralRecord{}
	for rows.Next() {
		var c domain.CollateralRecord
		var locked, ltv, health, asOf string
		if err := rows.Scan(&c.Asset, &locked, &ltv, &health, &asOf); err != nil {
			return nil, fmt.Errorf("scan collateral: %w", err)
		}
		if c.Locked, err = decimal.NewFromString(locked); err != nil {
			return nil, fmt.Errorf("parse collateral locked: %w", err)
		}
		if c.LTV, err = decimal.NewFromString(ltv); err != nil {
			return nil, fmt.Errorf("parse collateral ltv: %w", err)
		}
		if c.Health, err = decimal.NewFromString(health); err != nil {
			return nil, fmt.Errorf("parse collateral health: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, asOf)
		if err != nil {
			return nil, fmt.Errorf("parse collateral as_of: %w", err)
		}
		c.AsOf = t
		out[c.Asset] = c
	}
	return out, rows.Err()
}
