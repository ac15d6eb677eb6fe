// Package domain defines the entity types shared across every subsystem of
// the trading core — snapshots, objectives, baselines, collateral, rules,
// intents, approvals, executions, the kill-switch, risk state, rule metrics,
// and outbound events. It has no dependencies on internal packages, so it
// can be imported by any layer.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset is a ticker symbol, e.g. "BTC", "XRP", "USDC".
type Asset string

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus is the exchange-reported disposition of a placed order.
type OrderStatus string

const (
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusPartial  OrderStatus = "partial"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusPending  OrderStatus = "pending"
)

// Snapshot is an immutable point-in-time record of balances, prices, and
// totals. Retained at least as long as the configured backtest window.
type Snapshot struct {
	ID         int64                      `json:"id"`
	Timestamp  time.Time                  `json:"timestamp"`
	Balances   map[Asset]decimal.Decimal  `json:"balances"`
	Prices     map[Asset]decimal.Decimal  `json:"prices"`
	TotalUSD   decimal.Decimal            `json:"totalUsd"`
	Reason     string                     `json:"reason"`
}

// CoreAssetPolicy is the owner's policy for a single core asset.
type CoreAssetPolicy struct {
	Baseline              decimal.Decimal `json:"baseline"`
	AutoExecute           bool            `json:"autoExecute"`
	AutoIncrementOnDeposit bool           `json:"autoIncrementOnDeposit"`
	MinTokens             decimal.Decimal `json:"minTokens"`
}

// ApprovalsRequired enumerates the classes of action that always require a
// manual (or MFA-gated) approval regardless of auto-execute settings.
type ApprovalsRequired struct {
	NewCoin       bool            `json:"newCoin"`
	Staking       bool            `json:"staking"`
	LargeTradeUSD decimal.Decimal `json:"largeTradeUsd"`
}

// Objectives is the owner's singleton policy document. Mutable only by the
// authenticated owner.
type Objectives struct {
	CoreAssets        map[Asset]CoreAssetPolicy `json:"coreAssets"`
	ApprovalsRequired ApprovalsRequired          `json:"approvalsRequired"`
	DryRunDefault     bool                       `json:"dryRunDefault"`
	UpdatedAt         time.Time                  `json:"updatedAt"`
}

// IsCoreAsset reports whether an asset carries a protected-baseline policy.
func (o Objectives) IsCoreAsset(a Asset) bool {
	_, ok := o.CoreAssets[a]
	return ok
}

// Baseline is the protected quantity floor for a single asset. Monotonic
// non-decreasing unless explicitly reset by the owner.
type Baseline struct {
	Asset     Asset           `json:"asset"`
	Quantity  decimal.Decimal `json:"quantity"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// CollateralRecord is an external loan encumbrance reported by the exchange.
// Replaces the prior record for the same asset each cycle; never additive.
type CollateralRecord struct {
	Asset    Asset           `json:"asset"`
	Locked   decimal.Decimal `json:"locked"`
	LTV      decimal.Decimal `json:"ltv"`
	Health   decimal.Decimal `json:"health"`
	AsOf     time.Time       `json:"asOf"`
}

// Free returns the portion of total holdings not encumbered by collateral.
func (c CollateralRecord) Free(total decimal.Decimal) decimal.Decimal {
	free := total.Sub(c.Locked)
	if free.IsNegative() {
		return decimal.Zero
	}
	return free
}

// KillSwitch is the global halt flag. Singleton; mutable by the owner only.
type KillSwitch struct {
	Enabled bool      `json:"enabled"`
	Reason  string    `json:"reason"`
	SetBy   string    `json:"setBy"`
	SetAt   time.Time `json:"setAt"`
}

// Event is an outbound notification published on the event bus. Transient;
// not persisted except for critical alerts.
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventType enumerates the topics defined for the event bus.
type EventType string

const (
	EventApprovalCreated     EventType = "approval:created"
	EventApprovalUpdated     EventType = "approval:updated"
	EventKillSwitchChanged   EventType = "killswitch:changed"
	EventPortfolioUpdated    EventType = "portfolio:updated"
	EventPortfolioSnapshot   EventType = "portfolio:snapshot"
	EventPriceUpdate         EventType = "price:update"
	EventAlert               EventType = "alert"
	EventTradeSubmitted      EventType = "trade:submitted"
	EventTradeResult         EventType = "trade:result"
	EventSystemHealth        EventType = "system:health"
)

// AlertSeverity classifies how urgently an alert should be surfaced.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertType enumerates the recognized alert subtypes (§6.3).
type AlertType string

const (
	AlertRiskBlocked         AlertType = "risk_blocked"
	AlertDataFetchError      AlertType = "data_fetch_error"
	AlertRuleAction          AlertType = "rule_action"
	AlertRuleStatus          AlertType = "rule_status"
	AlertPerformance         AlertType = "performance"
	AlertRisk                AlertType = "risk"
	AlertOptimization        AlertType = "optimization"
	AlertIndicatorAnomaly    AlertType = "indicator_anomaly"
	AlertExecutionFailed     AlertType = "execution_failed"
	AlertCircuitBreakerTrip  AlertType = "circuit_breaker_tripped"
	AlertLTVWarning          AlertType = "ltv_warning"
)

// Alert is the payload shape carried by an EventAlert.
type Alert struct {
	Type     AlertType     `json:"type"`
	Severity AlertSeverity `json:"severity"`
	Message  string        `json:"message"`
	RuleID   string        `json:"ruleId,omitempty"`
	Details  interface{}   `json:"details,omitempty"`
}
