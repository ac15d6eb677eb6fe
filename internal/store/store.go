// Package store provides durable, SQLite-backed persistence for every
// entity in the trading core: snapshots, objectives, baselines, collateral,
// rules and their version history, approvals, executions, risk state, cost
// basis lots, and rule metrics.
//
// The connection uses the pure-Go modernc.org/sqlite driver with WAL
// journaling so readers are never blocked behind a writer. Schema creation
// is idempotent (CREATE TABLE IF NOT EXISTS) and runs on every Open, mirroring
// the crash-safety discipline of an atomic temp-file-then-rename write: a
// partially applied migration never corrupts existing data because every
// statement is additive and re-runnable.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Store wraps the database connection and exposes one repository per
// entity family.
type Store struct {
	conn *sql.DB
	log  zerolog.Logger

	Snapshots   *SnapshotRepo
	Baselines   *BaselineRepo
	Collateral  *CollateralRepo
	Objectives  *ObjectivesRepo
	KillSwitch  *KillSwitchRepo
	Rules       *RuleRepo
	RuleMetrics *RuleMetricsRepo
	Approvals   *ApprovalRepo
	Executions  *ExecutionRepo
	Risk        *RiskRepo
	Lots        *LotRepo
}

// Open creates the database directory if needed, opens the SQLite
// connection in WAL mode, and applies the schema.
func Open(dbPath string, log zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)

	s := &Store{conn: conn, log: log.With().Str("component", "store").Logger()}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.Snapshots = &SnapshotRepo{base(conn, log, "snapshots")}
	s.Baselines = &BaselineRepo{base(conn, log, "baselines")}
	s.Collateral = &CollateralRepo{base(conn, log, "collateral")}
	s.Objectives = &ObjectivesRepo{base(conn, log, "objectives")}
	s.KillSwitch = &KillSwitchRepo{base(conn, log, "killswitch")}
	s.Rules = &RuleRepo{base(conn, log, "rules")}
	s.RuleMetrics = &RuleMetricsRepo{base(conn, log, "rule_metrics")}
	s.Approvals = &ApprovalRepo{base(conn, log, "approvals")}
	s.Executions = &ExecutionRepo{base(conn, log, "executions")}
	s.Risk = &RiskRepo{base(conn, log, "risk_state")}
	s.Lots = &LotRepo{base(conn, log, "lots")}

	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Conn exposes the raw connection for callers that need a transaction
// spanning more than one repository (e.g. the executor committing an
// Execution and an Approval status change together).
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// baseRepo is embedded by every entity-specific repository, following the
// repository-over-shared-connection pattern.
type baseRepo struct {
	db   *sql.DB
	log  zerolog.Logger
}

func base(db *sql.DB, log zerolog.Logger, name string) baseRepo {
	return baseRepo{db: db, log: log.With().Str("repo", name).Logger()}
}
