package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CircuitBreakerState is the daily-loss breaker's current disposition.
type CircuitBreakerState string

const (
	CircuitArmed   CircuitBreakerState = "armed"
	CircuitTripped CircuitBreakerState = "tripped"
)

// RiskState is the rolling, in-memory counter set consulted and mutated by
// every stage of the Risk Guardrail Pipeline. It is guarded by a single
// mutex in internal/risk and periodically persisted; this type is the
// serializable snapshot of that structure.
type RiskState struct {
	TradesInLastHourGlobal int                    `json:"tradesInLastHourGlobal"`
	TradesInLastHourByAsset map[Asset]int         `json:"tradesInLastHourByAsset"`
	DailyRealizedPnLUSD    decimal.Decimal        `json:"dailyRealizedPnlUsd"`
	LastExecutionByRule    map[string]time.Time   `json:"lastExecutionByRule"`
	CircuitBreaker         CircuitBreakerState     `json:"circuitBreaker"`
	CircuitTrippedAt       *time.Time             `json:"circuitTrippedAt,omitempty"`
	DayBoundaryUTC         time.Time              `json:"dayBoundaryUtc"`
}

// NewRiskState builds a zeroed RiskState anchored to the UTC midnight that
// begins the current accounting day.
func NewRiskState(now time.Time) RiskState {
	u := now.UTC()
	boundary := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return RiskState{
		TradesInLastHourByAsset: map[Asset]int{},
		DailyRealizedPnLUSD:     decimal.Zero,
		LastExecutionByRule:     map[string]time.Time{},
		CircuitBreaker:          CircuitArmed,
		DayBoundaryUTC:          boundary,
	}
}

// Lot is a single FIFO cost-basis lot for an asset, opened by a buy
// execution and closed (in whole or in part) by subsequent sells.
type Lot struct {
	ID           int64           `json:"id"`
	Asset        Asset           `json:"asset"`
	Quantity     decimal.Decimal `json:"quantity"`     // remaining open quantity
	OriginalQty  decimal.Decimal `json:"originalQty"`
	CostBasis    decimal.Decimal `json:"costBasis"`    // USD price per unit at open
	OpenedAt     time.Time       `json:"openedAt"`
	ExecutionID  int64           `json:"executionId"`
}
