package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"goldcore/pkg/domain"
)

// ApprovalRepo persists Approval decision records.
type ApprovalRepo struct{ baseRepo }

// Insert writes a new approval.
func (r *ApprovalRepo) Insert(a domain.Approval) error {
	action, err := json.Marshal(a.Action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	intent, err := json.Marshal(a.Intent)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}
	var mfaJSON, execJSON sql.NullString
	if a.MFA != nil {
		b, err := json.Marshal(a.MFA)
		if err != nil {
			return fmt.Errorf("marshal mfa: %w", err)
		}
		mfaJSON = sql.NullString{String: string(b), Valid: true}
	}
	if a.Execution != nil {
		b, err := json.Marshal(a.Execution)
		if err != nil {
			return fmt.Errorf("marshal execution: %w", err)
		}
		execJSON = sql.NullString{String: string(b), Valid: true}
	}
	var actedAt sql.NullString
	if a.ActedAt != nil {
		actedAt = sql.NullString{String: a.ActedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	_, err = r.db.Exec(
		`INSERT INTO approvals (id, source, action_json, intent_json, status, acted_by, acted_at, mfa_json, execution_json, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Source, string(action), string(intent), a.Status, a.ActedBy, actedAt, mfaJSON, execJSON,
		a.CreatedAt.UTC().Format(time.RFC3339Nano), a.ExpiresAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

// UpdateStatus moves an approval to a new status, optionally recording who
// acted and attaching an execution result. Callers validate the transition
// with domain.CanTransition before calling this.
func (r *ApprovalRepo) UpdateStatus(id string, status domain.ApprovalStatus, actedBy string, actedAt time.Time) error {
	_, err := r.db.Exec(
		`UPDATE approvals SET status = ?, acted_by = ?, acted_at = ? WHERE id = ?`,
		status, actedBy, actedAt.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("update approval status: %w", err)
	}
	return nil
}

// AttachExecution records the execution result payload on an approval after
// the executor runs.
func (r *ApprovalRepo) AttachExecution(id string, exec domain.Execution) error {
	b, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	_, err = r.db.Exec(`UPDATE approvals SET execution_json = ? WHERE id = ?`, string(b), id)
	if err != nil {
		return fmt.Errorf("attach execution: %w", err)
	}
	return nil
}

// Get returns a single approval by id.
func (r *ApprovalRepo) Get(id string) (*domain.Approval, error) {
	row := r.db.QueryRow(
		`SELECT id, source, action_json, intent_json, status, acted_by, acted_at, mfa_json, execution_json, created_at, expires_at
		 FROM approvals WHERE id = ?`, id,
	)
	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	return a, nil
}

// List returns every approval, newest first.
func (r *ApprovalRepo) List() ([]domain.Approval, error) {
	return r.query(`SELECT id, source, action_json, intent_json, status, acted_by, acted_at, mfa_json, execution_json, created_at, expires_at FROM approvals ORDER BY created_at DESC`)
}

// Pending returns approvals currently awaiting a decision.
func (r *ApprovalRepo) Pending() ([]domain.Approval, error) {
	return r.query(
		`SELECT id, source, action_json, intent_json, status, acted_by, acted_at, mfa_json, execution_json, created_at, expires_at
		 FROM approvals WHERE status = ? ORDER BY created_at ASC`, domain.ApprovalPending,
	)
}

// Expirable returns pending and deferred approvals whose TTL has
// elapsed as of `now`, for the background expiry sweep.
func (r *ApprovalRepo) Expirable(now time.Time) ([]domain.Approval, error) {
	return r.query(
		`SELECT id, source, action_json, intent_json, status, acted_by, acted_at, mfa_json, execution_json, created_at, expires_at
		 FROM approvals WHERE status IN (?, ?) AND expires_at <= ?`,
		domain.ApprovalPending, domain.ApprovalDeferred, now.UTC().Format(time.RFC3339Nano),
	)
}

func (r *ApprovalRepo) query(q string, args ...interface{}) ([]domain.Approval, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query approvals: %w", err)
	}
	defer rows.Close()

	var out []domain.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanApproval(row rowScanner) (*domain.Approval, error) {
	var a domain.Approval
	var actionJSON, intentJSON, createdAt, expiresAt string
	var actedAt, mfaJSON, execJSON sql.NullString
	if err := row.Scan(&a.ID, &a.Source, &actionJSON, &intentJSON, &a.Status, &a.ActedBy, &actedAt, &mfaJSON, &execJSON, &createdAt, &expiresAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(actionJSON), &a.Action); err != nil {
		return nil, fmt.Errorf("unmarshal action: %w", err)
	}
	if err := json.Unmarshal([]byte(intentJSON), &a.Intent); err != nil {
		return nil, fmt.Errorf("unmarshal intent: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	a.CreatedAt = t
	t, err = time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	a.ExpiresAt = t
	if actedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, actedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse acted_at: %w", err)
		}
		a.ActedAt = &t
	}
	if mfaJSON.Valid {
		var m domain.MFAChallenge
		if err := json.Unmarshal([]byte(mfaJSON.String), &m); err != nil {
			return nil, fmt.Errorf("unmarshal mfa: %w", err)
		}
		a.MFA = &m
	}
	if execJSON.Valid {
		var e domain.Execution
		if err := json.Unmarshal([]byte(execJSON.String), &e); err != nil {
			return nil, fmt.Errorf("unmarshal execution: %w", err)
		}
		a.Execution = &e
	}
	return &a, nil
}

// ExecutionRepo persists immutable Execution attempts.
type ExecutionRepo struct{ baseRepo }

// Insert writes an execution and returns its assigned id.
func (r *ExecutionRepo) Insert(e domain.Execution) (int64, error) {
	res, err := r.db.Exec(
		`INSERT INTO executions (approval_id, asset, side, quantity, fill_quantity, fill_price, fees, status, error, dry_run, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ApprovalID, string(e.Asset), e.Side, e.Quantity.String(), e.FillQuantity.String(), e.FillPrice.String(),
		e.Fees.String(), e.Status, e.Error, e.DryRun, e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert execution: %w", err)
	}
	return res.LastInsertId()
}

// ForApproval returns every execution attempt recorded for an approval.
func (r *ExecutionRepo) ForApproval(approvalID string) ([]domain.Execution, error) {
	rows, err := r.db.Query(
		`SELECT id, approval_id, asset, side, quantity, fill_quantity, fill_price, fees, status, error, dry_run, created_at
		 FROM executions WHERE approval_id = ? ORDER BY id ASC`, approvalID,
	)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanExecution(row rowScanner) (*domain.Execution, error) {
	var e domain.Execution
	var quantity, fillQty, fillPrice, fees, createdAt string
	if err := row.Scan(&e.ID, &e.ApprovalID, &e.Asset, &e.Side, &quantity, &fillQty, &fillPrice, &fees, &e.Status, &e.Error, &e.DryRun, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if e.Quantity, err = parseDecimal(quantity); err != nil {
		return nil, err
	}
	if e.FillQuantity, err = parseDecimal(fillQty); err != nil {
		return nil, err
	}
	if e.FillPrice, err = parseDecimal(fillPrice); err != nil {
		return nil, err
	}
	if e.Fees, err = parseDecimal(fees); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse execution created_at: %w", err)
	}
	e.CreatedAt = t
	return &e, nil
}
