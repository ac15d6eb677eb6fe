package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"goldcore/pkg/domain"
)

// ObjectivesRepo persists the owner's singleton policy document.
type ObjectivesRepo struct{ baseRepo }

// Put replaces the singleton Objectives row.
func (r *ObjectivesRepo) Put(o domain.Objectives) error {
	coreAssets, err := json.Marshal(o.CoreAssets)
	if err != nil {
		return fmt.Errorf("marshal core assets: %w", err)
	}
	approvalsReq, err := json.Marshal(o.ApprovalsRequired)
	if err != nil {
		return fmt.Errorf("marshal approvals required: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT INTO objectives (id, core_assets_json, approvals_required_json, dry_run_default, updated_at)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET core_assets_json=excluded.core_assets_json,
		   approvals_required_json=excluded.approvals_required_json,
		   dry_run_default=excluded.dry_run_default, updated_at=excluded.updated_at`,
		string(coreAssets), string(approvalsReq), o.DryRunDefault, o.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put objectives: %w", err)
	}
	return nil
}

// Get returns the Objectives singleton, or nil if never set.
func (r *ObjectivesRepo) Get() (*domain.Objectives, error) {
	row := r.db.QueryRow(`SELECT core_assets_json, approvals_required_json, dry_run_default, updated_at FROM objectives WHERE id = 1`)
	var coreAssets, approvalsReq, updatedAt string
	var o domain.Objectives
	if err := row.Scan(&coreAssets, &approvalsReq, &o.DryRunDefault, &updatedAt); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get objectives: %w", err)
	}
	if err := json.Unmarshal([]byte(coreAssets), &o.CoreAssets); err != nil {
		return nil, fmt.Errorf("unmarshal core assets: %w", err)
	}
	if err := json.Unmarshal([]byte(approvalsReq), &o.ApprovalsRequired); err != nil {
		return nil, fmt.Errorf("unmarshal approvals required: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse objectives updated_at: %w", err)
	}
	o.UpdatedAt = t
	return &o, nil
}

// KillSwitchRepo persists the global halt flag singleton.
type KillSwitchRepo struct{ baseRepo }

// Put replaces the singleton kill-switch row.
func (r *KillSwitchRepo) Put(k domain.KillSwitch) error {
	_, err := r.db.Exec(
		`INSERT INTO killswitch (id, enabled, reason, set_by, set_at) VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET enabled=excluded.enabled, reason=excluded.reason,
		   set_by=excluded.set_by, set_at=excluded.set_at`,
		k.Enabled, k.Reason, k.SetBy, k.SetAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put killswitch: %w", err)
	}
	return nil
}

// Get returns the current kill-switch state, defaulting to disabled if
// never set.
func (r *KillSwitchRepo) Get() (domain.KillSwitch, error) {
	row := r.db.QueryRow(`SELECT enabled, reason, set_by, set_at FROM killswitch WHERE id = 1`)
	var k domain.KillSwitch
	var setAt string
	if err := row.Scan(&k.Enabled, &k.Reason, &k.SetBy, &setAt); err == sql.ErrNoRows {
		return domain.KillSwitch{Enabled: false}, nil
	} else if err != nil {
		return domain.KillSwitch{}, fmt.Errorf("get killswitch: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, setAt)
	if err != nil {
		return domain.KillSwitch{}, fmt.Errorf("parse killswitch set_at: %w", err)
	}
	k.SetAt = t
	return k, nil
}
