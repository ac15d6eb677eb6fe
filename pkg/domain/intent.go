package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// IntentSource identifies what produced a candidate trade.
type IntentSource string

const (
	IntentSourceRule      IntentSource = "rule"
	IntentSourceOptimizer IntentSource = "optimizer"
	IntentSourceManual    IntentSource = "manual"
)

// Intent is a candidate trade proposed by a rule evaluation (or the
// optimizer, or a manual caller). Created transiently each tick; either
// dropped by the risk pipeline, auto-executed, or persisted as an Approval.
type Intent struct {
	RuleID      string          `json:"ruleId"`
	RuleVersion int             `json:"ruleVersion"`
	Source      IntentSource    `json:"source"`
	Action      Action          `json:"action"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Reason      string          `json:"reason"`
	DryRun      bool            `json:"dryRun"`
	CreatedAt   time.Time       `json:"createdAt"`

	// Collateral snapshot used at decision time, keyed by asset.
	Collateral map[Asset]CollateralRecord `json:"collateral,omitempty"`
}

// USDValue returns the estimated notional value of this intent.
func (i Intent) USDValue() decimal.Decimal {
	return i.Quantity.Mul(i.Price)
}

// ApprovalStatus is the terminal-or-not state of an Approval record.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDeclined ApprovalStatus = "declined"
	ApprovalExecuted ApprovalStatus = "executed"
	ApprovalExpired  ApprovalStatus = "expired"
	ApprovalDeferred ApprovalStatus = "deferred"
)

// terminal reports whether a status has no further transitions.
func (s ApprovalStatus) Terminal() bool {
	switch s {
	case ApprovalDeclined, ApprovalExecuted, ApprovalExpired:
		return true
	default:
		return false
	}
}

// allowedTransitions enumerates the approval state-machine DAG from spec §3/§4.4.
var allowedTransitions = map[ApprovalStatus]map[ApprovalStatus]struct{}{
	ApprovalPending: {
		ApprovalApproved: {},
		ApprovalDeclined: {},
		ApprovalExpired:  {},
	},
	ApprovalApproved: {
		ApprovalExecuted: {},
		ApprovalDeferred: {},
	},
	ApprovalDeferred: {
		ApprovalExecuted: {},
		ApprovalExpired:  {},
		ApprovalApproved: {}, // resume
	},
}

// CanTransition reports whether moving from `from` to `to` is a legal edge
// in the approval state machine.
func CanTransition(from, to ApprovalStatus) bool {
	edges, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = edges[to]
	return ok
}

// MFAChallenge is a synthesized one-time verification gate on an
// auto-executable approval whose notional exceeds the MFA threshold.
type MFAChallenge struct {
	Code      string    `json:"-"` // never serialized back to the client
	ExpiresAt time.Time `json:"expiresAt"`
	Verified  bool      `json:"verified"`
}

// Expired reports whether the challenge window has elapsed.
func (m MFAChallenge) Expired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}

// Approval is a durable decision record for a proposed trade.
type Approval struct {
	ID         string         `json:"id"`
	Source     IntentSource   `json:"source"`
	Action     Action         `json:"action"`
	Intent     Intent         `json:"intent"`
	Status     ApprovalStatus `json:"status"`
	ActedBy    string         `json:"actedBy,omitempty"`
	ActedAt    *time.Time     `json:"actedAt,omitempty"`
	MFA        *MFAChallenge  `json:"mfa,omitempty"`
	Execution  *Execution     `json:"execution,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	ExpiresAt  time.Time      `json:"expiresAt"`
}

// Execution is the immutable result of an attempted order. Created once per
// attempt.
type Execution struct {
	ID           int64           `json:"id"`
	ApprovalID   string          `json:"approvalId"`
	Asset        Asset           `json:"asset"`
	Side         Side            `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	FillQuantity decimal.Decimal `json:"fillQuantity"`
	FillPrice    decimal.Decimal `json:"fillPrice"`
	Fees         decimal.Decimal `json:"fees"`
	Status       OrderStatus     `json:"status"`
	Error        string          `json:"error,omitempty"`
	DryRun       bool            `json:"dryRun"`
	CreatedAt    time.Time       `json:"createdAt"`
}
