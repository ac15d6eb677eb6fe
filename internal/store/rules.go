package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"goldcore/pkg/domain"
)

// RuleRepo persists Rules and their full version history. Editing a rule
// inserts a new version row rather than mutating the old one.
type RuleRepo struct{ baseRepo }

// Insert writes a new (id, version) row. The caller is responsible for
// bumping Version on edit.
func (r *RuleRepo) Insert(rule domain.Rule) error {
	trigger, err := json.Marshal(rule.Trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("marshal conditions: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	risk, err := json.Marshal(rule.Risk)
	if err != nil {
		return fmt.Errorf("marshal risk block: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT INTO rules (id, version, name, enabled, trigger_json, conditions_json, actions_json, risk_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.Version, rule.Name, rule.Enabled, string(trigger), string(conditions), string(actions), string(risk),
		rule.CreatedAt.UTC().Format(time.RFC3339Nano), rule.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// SetEnabled flips the enabled flag on the latest version of a rule
// (disabling is the spec's soft delete — history is retained).
func (r *RuleRepo) SetEnabled(id string, enabled bool) error {
	latest, err := r.Latest(id)
	if err != nil {
		return err
	}
	if latest == nil {
		return fmt.Errorf("rule %s not found", id)
	}
	_, err = r.db.Exec(
		`UPDATE rules SET enabled = ?, updated_at = ? WHERE id = ? AND version = ?`,
		enabled, time.Now().UTC().Format(time.RFC3339Nano), id, latest.Version,
	)
	if err != nil {
		return fmt.Errorf("set rule enabled: %w", err)
	}
	return nil
}

// Latest returns the highest-versioned row for a rule id, or nil if unknown.
func (r *RuleRepo) Latest(id string) (*domain.Rule, error) {
	row := r.db.QueryRow(
		`SELECT id, version, name, enabled, trigger_json, conditions_json, actions_json, risk_json, created_at, updated_at
		 FROM rules WHERE id = ? ORDER BY version DESC LIMIT 1`, id,
	)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest rule: %w", err)
	}
	return rule, nil
}

// ListEnabled returns the latest version of every enabled rule, ascending by
// id for the Rules Engine's stable evaluation order.
func (r *RuleRepo) ListEnabled() ([]domain.Rule, error) {
	rows, err := r.db.Query(`
		SELECT r.id, r.version, r.name, r.enabled, r.trigger_json, r.conditions_json, r.actions_json, r.risk_json, r.created_at, r.updated_at
		FROM rules r
		INNER JOIN (SELECT id, MAX(version) AS version FROM rules GROUP BY id) latest
			ON r.id = latest.id AND r.version = latest.version
		WHERE r.enabled = 1
		ORDER BY r.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query enabled rules: %w", err)
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

// ListLatest returns the latest version of every rule regardless of
// enabled state, ascending by id — the full roster an owner needs to see
// to activate or deactivate a proposed version.
func (r *RuleRepo) ListLatest() ([]domain.Rule, error) {
	rows, err := r.db.Query(`
		SELECT r.id, r.version, r.name, r.enabled, r.trigger_json, r.conditions_json, r.actions_json, r.risk_json, r.created_at, r.updated_at
		FROM rules r
		INNER JOIN (SELECT id, MAX(version) AS version FROM rules GROUP BY id) latest
			ON r.id = latest.id AND r.version = latest.version
		ORDER BY r.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query latest rules: %w", err)
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

// History returns every version of a rule, ascending.
func (r *RuleRepo) History(id string) ([]domain.Rule, error) {
	rows, err := r.db.Query(
		`SELECT id, version, name, enabled, trigger_json, conditions_json, actions_json, risk_json, created_at, updated_at
		 FROM rules WHERE id = ? ORDER BY version ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("query rule history: %w", err)
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

func scanRule(row rowScanner) (*domain.Rule, error) {
	var rule domain.Rule
	var triggerJSON, conditionsJSON, actionsJSON, riskJSON, createdAt, updatedAt string
	if err := row.Scan(&rule.ID, &rule.Version, &rule.Name, &rule.Enabled,
		&triggerJSON, &conditionsJSON, &actionsJSON, &riskJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(triggerJSON), &rule.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshal trigger: %w", err)
	}
	if err := json.Unmarshal([]byte(conditionsJSON), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshal conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(actionsJSON), &rule.Actions); err != nil {
		return nil, fmt.Errorf("unmarshal actions: %w", err)
	}
	if err := json.Unmarshal([]byte(riskJSON), &rule.Risk); err != nil {
		return nil, fmt.Errorf("unmarshal risk block: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	rule.CreatedAt = t
	t, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	rule.UpdatedAt = t
	return &rule, nil
}

// RuleMetricsRepo appends per-window evaluation outcomes. Never mutated.
type RuleMetricsRepo struct{ baseRepo }

// Append writes one metrics row.
func (r *RuleMetricsRepo) Append(m domain.RuleMetrics) error {
	_, err := r.db.Exec(
		`INSERT INTO rule_metrics (rule_id, rule_version, window_start, window_end, trades, win_rate, sharpe, max_drawdown, total_return)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RuleID, m.RuleVersion, m.WindowStart.UTC().Format(time.RFC3339Nano), m.WindowEnd.UTC().Format(time.RFC3339Nano),
		m.Trades, m.WinRate.String(), m.Sharpe, m.MaxDrawdown, m.TotalReturn.String(),
	)
	if err != nil {
		return fmt.Errorf("append rule metrics: %w", err)
	}
	return nil
}

// ForRule returns all recorded metrics windows for a rule id, ascending.
func (r *RuleMetricsRepo) ForRule(id string) ([]domain.RuleMetrics, error) {
	rows, err := r.db.Query(
		`SELECT rule_id, rule_version, window_start, window_end, trades, win_rate, sharpe, max_drawdown, total_return
		 FROM rule_metrics WHERE rule_id = ? ORDER BY window_start ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("query rule metrics: %w", err)
	}
	defer rows.Close()

	var out []domain.RuleMetrics
	for rows.Next() {
		var m domain.RuleMetrics
		var windowStart, windowEnd, winRate, totalReturn string
		if err := rows.Scan(&m.RuleID, &m.RuleVersion, &windowStart, &windowEnd, &m.Trades, &winRate, &m.Sharpe, &m.MaxDrawdown, &totalReturn); err != nil {
			return nil, fmt.Errorf("scan rule metrics: %w", err)
		}
		if m.WindowStart, err = time.Parse(time.RFC3339Nano, windowStart); err != nil {
			return nil, fmt.Errorf("parse window_start: %w", err)
		}
		if m.WindowEnd, err = time.Parse(time.RFC3339Nano, windowEnd); err != nil {
			return nil, fmt.Errorf("parse window_end: %w", err)
		}
		if m.WinRate, err = decimal.NewFromString(winRate); err != nil {
			return nil, fmt.Errorf("parse win_rate: %w", err)
		}
		if m.TotalReturn, err = decimal.NewFromString(totalReturn); err != nil {
			return nil, fmt.Errorf("parse total_return: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
