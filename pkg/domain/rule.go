package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TriggerType discriminates a Rule's firing condition.
type TriggerType string

const (
	TriggerInterval TriggerType = "interval"
	TriggerEvent    TriggerType = "event"
)

// TriggerEventKind enumerates the event kinds a Rule may fire on.
type TriggerEventKind string

const (
	EventKindDeposit     TriggerEventKind = "deposit"
	EventKindWithdrawal  TriggerEventKind = "withdrawal"
	EventKindPriceShock  TriggerEventKind = "price_shock"
	EventKindManual      TriggerEventKind = "manual"
)

// Trigger describes when a Rule is eligible to fire.
type Trigger struct {
	Type  TriggerType      `json:"type"`
	Every time.Duration    `json:"every,omitempty"` // for TriggerInterval
	On    TriggerEventKind `json:"on,omitempty"`     // for TriggerEvent
}

// Comparator is the relational operator used by numeric conditions.
type Comparator string

const (
	CmpGT      Comparator = "gt"
	CmpLT      Comparator = "lt"
	CmpBetween Comparator = "between"
)

// ConditionKind discriminates the tagged-variant Condition types.
type ConditionKind string

const (
	ConditionPriceChangePct ConditionKind = "priceChangePct"
	ConditionIndicator      ConditionKind = "indicator"
	ConditionBalance        ConditionKind = "balance"
	ConditionAboveBaseline  ConditionKind = "aboveBaseline"
	ConditionPortfolioValue ConditionKind = "portfolioValueUSD"
	ConditionCustom         ConditionKind = "custom"
)

// IndicatorName enumerates the supported technical indicators.
type IndicatorName string

const (
	IndicatorRSI      IndicatorName = "rsi"
	IndicatorEMA      IndicatorName = "ema"
	IndicatorSMA      IndicatorName = "sma"
	IndicatorMACDHist IndicatorName = "macd_hist"
)

// Condition is a single predicate within a Rule's condition list, AND-combined
// with the rest. Exactly one of the kind-specific field groups is populated,
// selected by Kind — the DSL parser dispatches on this discriminator, never
// on runtime type assertions against a condition interface.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	// priceChangePct
	Symbol     Asset      `json:"symbol,omitempty"`
	WindowMins int        `json:"windowMins,omitempty"`
	Cmp        Comparator `json:"cmp,omitempty"`
	Value      decimal.Decimal `json:"value,omitempty"`
	ValueHigh  decimal.Decimal `json:"valueHigh,omitempty"` // for "between"

	// indicator
	Indicator IndicatorName     `json:"indicator,omitempty"`
	Params    map[string]int    `json:"params,omitempty"`

	// balance / portfolioValueUSD use Symbol/Cmp/Value above

	// aboveBaseline
	MinPct decimal.Decimal `json:"minPct,omitempty"`

	// custom
	Expr string `json:"expr,omitempty"`
}

// ActionKind discriminates the tagged-variant Action types.
type ActionKind string

const (
	ActionEnter      ActionKind = "enter"
	ActionExit       ActionKind = "exit"
	ActionRebalance  ActionKind = "rebalance"
	ActionAlertOnly  ActionKind = "alertOnly"
)

// Action is one trade or notification a Rule emits when its conditions pass.
type Action struct {
	Kind ActionKind `json:"kind"`

	// enter / exit
	Symbol        Asset           `json:"symbol,omitempty"`
	AllocationPct decimal.Decimal `json:"allocationPct,omitempty"`

	// rebalance
	TargetWeights map[Asset]decimal.Decimal `json:"targetWeights,omitempty"`

	// alertOnly
	Message string `json:"message,omitempty"`
}

// Guardrail names one stage of the Risk Guardrail Pipeline a Rule opts into.
type Guardrail string

const (
	GuardrailBaselineProtection   Guardrail = "baselineProtection"
	GuardrailCollateralProtection Guardrail = "collateralProtection"
	GuardrailCircuitDrawdown      Guardrail = "circuitDrawdown"
	GuardrailThrottleVelocity     Guardrail = "throttleVelocity"
	GuardrailPositionSizing       Guardrail = "positionSizing"
)

// RiskBlock is the per-rule risk policy attached at rule-definition time.
type RiskBlock struct {
	MaxPositionPct decimal.Decimal        `json:"maxPositionPct"`
	CooldownSecs   int                    `json:"cooldownSecs"`
	Guardrails     map[Guardrail]struct{} `json:"guardrails"`
}

// Has reports whether a guardrail is enabled for this rule.
func (r RiskBlock) Has(g Guardrail) bool {
	_, ok := r.Guardrails[g]
	return ok
}

// Rule is a compiled declarative trading policy. Version is bumped on every
// edit; prior versions are retained for audit and for the optimizer's diffs.
// Disabling a Rule is a soft delete — the row and its history are kept.
type Rule struct {
	ID        string      `json:"id"`
	Version   int         `json:"version"`
	Name      string      `json:"name"`
	Enabled   bool        `json:"enabled"`
	Trigger   Trigger     `json:"trigger"`
	Conditions []Condition `json:"conditions"`
	Actions   []Action    `json:"actions"`
	Risk      RiskBlock   `json:"risk"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// RuleMetrics records the evaluated outcome of a rule over a backtest or
// live window. Appended, never mutated.
type RuleMetrics struct {
	RuleID      string          `json:"ruleId"`
	RuleVersion int             `json:"ruleVersion"`
	WindowStart time.Time       `json:"windowStart"`
	WindowEnd   time.Time       `json:"windowEnd"`
	Trades      int             `json:"trades"`
	WinRate     decimal.Decimal `json:"winRate"`
	Sharpe      float64         `json:"sharpe"`
	MaxDrawdown float64         `json:"maxDrawdown"`
	TotalReturn decimal.Decimal `json:"totalReturn"`
}
