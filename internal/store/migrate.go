package store

// schema is applied idempotently on every Open. Structured sub-documents
// (balance/price maps, conditions, actions, risk blocks) are stored as JSON
// text columns; fields the rest of the system filters or sorts on (status,
// timestamps, ids) are real columns.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		balances_json TEXT NOT NULL,
		prices_json TEXT NOT NULL,
		total_usd TEXT NOT NULL,
		reason TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON snapshots(timestamp)`,

	`CREATE TABLE IF NOT EXISTS baselines (
		asset TEXT PRIMARY KEY,
		quantity TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS collateral (
		asset TEXT PRIMARY KEY,
		locked TEXT NOT NULL,
		ltv TEXT NOT NULL,
		health TEXT NOT NULL,
		as_of TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS objectives (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		core_assets_json TEXT NOT NULL,
		approvals_required_json TEXT NOT NULL,
		dry_run_default INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS killswitch (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		enabled INTEGER NOT NULL,
		reason TEXT NOT NULL,
		set_by TEXT NOT NULL,
		set_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS rules (
		id TEXT NOT NULL,
		version INTEGER NOT NULL,
		name TEXT NOT NULL,
		enabled INTEGER NOT NULL,
		trigger_json TEXT NOT NULL,
		conditions_json TEXT NOT NULL,
		actions_json TEXT NOT NULL,
		risk_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (id, version)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_id ON rules(id)`,

	`CREATE TABLE IF NOT EXISTS rule_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rule_id TEXT NOT NULL,
		rule_version INTEGER NOT NULL,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		trades INTEGER NOT NULL,
		win_rate TEXT NOT NULL,
		sharpe REAL NOT NULL,
		max_drawdown REAL NOT NULL,
		total_return TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rule_metrics_rule ON rule_metrics(rule_id)`,

	`CREATE TABLE IF NOT EXISTS approvals (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		action_json TEXT NOT NULL,
		intent_json TEXT NOT NULL,
		status TEXT NOT NULL,
		acted_by TEXT NOT NULL DEFAULT '',
		acted_at TEXT,
		mfa_json TEXT,
		execution_json TEXT,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status)`,

	`CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		approval_id TEXT NOT NULL,
		asset TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		fill_quantity TEXT NOT NULL,
		fill_price TEXT NOT NULL,
		fees TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		dry_run INTEGER NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_approval ON executions(approval_id)`,

	`CREATE TABLE IF NOT EXISTS risk_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		state_json TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS lots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		asset TEXT NOT NULL,
		quantity TEXT NOT NULL,
		original_qty TEXT NOT NULL,
		cost_basis TEXT NOT NULL,
		opened_at TEXT NOT NULL,
		execution_id INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lots_asset ON lots(asset, id)`,
}

func (s *Store) migrate() error {
	for _, stmt := range schema {
		if _, err := s.conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
