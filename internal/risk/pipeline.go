// Package risk enforces the guardrail pipeline that every candidate trade
// Intent must clear before it reaches the approval workflow.
//
// The pipeline runs in a fixed order — kill-switch, cooldown, velocity
// throttle, baseline protection, collateral protection, position sizing,
// minimum trade size, daily-loss circuit breaker — and either accepts an
// Intent (optionally clamping its quantity), or rejects it with a
// structured reason chain. Rejections are not errors: they are recorded as
// info/warning alerts, never surfaced as exceptions.
//
// Grounded on the teacher's internal/risk/manager.go almost directly: a
// single mutex-guarded struct owns all mutable counters, a periodic ticker
// clears expired state (here: the daily-loss breaker's midnight UTC
// rollover instead of a kill-switch cooldown), and emitKill's
// drain-then-send discipline becomes the circuit breaker's
// once-per-trip critical alert.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"goldcore/internal/config"
	"goldcore/internal/store"
	"goldcore/pkg/domain"
)

// Global and per-asset velocity throttle limits (§4.3 step 3).
const (
	globalVelocityLimit = 5
	assetVelocityLimit  = 3
)

// hardLTVCap bounds how far a BTC sell may push loan-to-value even when it
// reduces free (unlocked) exposure. The spec's collateral-protection step
// says sells that "do not increase LTV" are allowed past the 0.7 warning
// threshold; since free-BTC sells with locked quantity held constant
// mechanically raise LTV (total shrinks, locked doesn't), a literal reading
// rejects every such sell. Resolved here (see DESIGN.md Open Questions) as:
// warn at 0.7, hard-reject only once projected LTV would exceed this cap.
const hardLTVCap = 0.9

// EvalContext carries the live portfolio state an Intent is evaluated
// against. Built fresh by the caller from the latest snapshot, objectives,
// baselines, and collateral records.
type EvalContext struct {
	Now               time.Time
	Balances          map[domain.Asset]decimal.Decimal
	Baselines         map[domain.Asset]decimal.Decimal
	Collateral        map[domain.Asset]domain.CollateralRecord
	PortfolioValueUSD decimal.Decimal
	Objectives        domain.Objectives
	KillSwitchEnabled bool
}

// Decision is the pipeline's verdict on one Intent.
type Decision struct {
	Accepted       bool
	ClampedQty     decimal.Decimal // the (possibly reduced) quantity to execute
	RejectionChain []string        // populated only when !Accepted
	Warnings       []string
	Severity       domain.AlertSeverity // info|warning for a rejection alert; empty when accepted
}

// Manager owns the rolling risk counters consulted and mutated by every
// pipeline stage: per-rule cooldown timestamps, hourly trade-velocity
// windows, the daily realized-PnL accumulator, and the circuit breaker.
// All mutation holds a single mutex; lock hold times are bounded to
// constant work per the concurrency model (§5).
type Manager struct {
	cfg config.RiskConfig
	log zerolog.Logger

	mu                  sync.Mutex
	lastExecutionByRule map[string]time.Time
	executionsGlobal    []time.Time
	executionsByAsset   map[domain.Asset][]time.Time
	dailyRealizedPnL    decimal.Decimal
	dayBoundary         time.Time
	breaker             domain.CircuitBreakerState
	breakerTrippedAt    *time.Time
	breakerAlerted      bool
}

// New builds a Manager with a fresh risk state anchored to the current UTC
// day, or restores one persisted from a prior run if st has a saved state.
func New(cfg config.RiskConfig, st *store.Store, log zerolog.Logger) *Manager {
	m := &Manager{
		cfg:                 cfg,
		log:                 log.With().Str("component", "risk").Logger(),
		lastExecutionByRule: make(map[string]time.Time),
		executionsByAsset:   make(map[domain.Asset][]time.Time),
		breaker:             domain.CircuitArmed,
		dayBoundary:         dayBoundaryUTC(time.Now()),
	}
	if st == nil {
		return m
	}
	saved, err := st.Risk.Load()
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to load persisted risk state, starting fresh")
		return m
	}
	if saved == nil {
		return m
	}
	m.dailyRealizedPnL = saved.DailyRealizedPnLUSD
	m.dayBoundary = saved.DayBoundaryUTC
	m.breaker = saved.CircuitBreaker
	m.breakerTrippedAt = saved.CircuitTrippedAt
	for rule, t := range saved.LastExecutionByRule {
		m.lastExecutionByRule[rule] = t
	}
	return m
}

func dayBoundaryUTC(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Run starts the periodic sweep that rolls the daily-loss breaker over at
// midnight UTC even when no trades occur to trigger the check inline.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.rollDayBoundary(time.Now())
		}
	}
}

// Evaluate runs the fixed-order guardrail pipeline (§4.3 steps 1-8) against
// one Intent. `risk` is the RiskBlock attached to the rule that produced
// the intent (not present for manual/optimizer intents, which carry a
// zero-value block and so skip cooldown/guardrail-gated steps).
func (m *Manager) Evaluate(intent domain.Intent, risk domain.RiskBlock, ctx EvalContext) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDayBoundaryLocked(ctx.Now)

	if ctx.KillSwitchEnabled {
		return reject("kill_switch: kill-switch enabled", domain.SeverityInfo)
	}

	if intent.RuleID != "" && risk.CooldownSecs > 0 {
		if last, ok := m.lastExecutionByRule[intent.RuleID]; ok {
			elapsed := ctx.Now.Sub(last)
			cooldown := time.Duration(risk.CooldownSecs) * time.Second
			if elapsed < cooldown {
				return reject(fmt.Sprintf("cooldown: %s remaining", (cooldown - elapsed).Round(time.Second)), domain.SeverityInfo)
			}
		}
	}

	globalCount := m.countRecent(m.executionsGlobal, ctx.Now)
	if globalCount >= globalVelocityLimit {
		return reject(fmt.Sprintf("throttleVelocity: global=%d/%d trades in last hour", globalCount, globalVelocityLimit), domain.SeverityInfo)
	}
	assetCount := m.countRecent(m.executionsByAsset[intent.Action.Symbol], ctx.Now)
	if assetCount >= assetVelocityLimit {
		return reject(fmt.Sprintf("throttleVelocity: %s=%d/%d trades in last hour", intent.Action.Symbol, assetCount, assetVelocityLimit), domain.SeverityInfo)
	}

	qty := intent.Quantity
	var warnings []string

	if intent.Action.Kind == domain.ActionExit {
		if risk.Has(domain.GuardrailBaselineProtection) {
			if ctx.Objectives.IsCoreAsset(intent.Action.Symbol) {
				balance := ctx.Balances[intent.Action.Symbol]
				baseline := ctx.Baselines[intent.Action.Symbol]
				maxSellable := balance.Sub(baseline)
				if maxSellable.IsNegative() {
					maxSellable = decimal.Zero
				}
				if qty.GreaterThan(maxSellable) {
					warnings = append(warnings, fmt.Sprintf("baselineProtection: clamped %s to %s (baseline=%s)", qty.String(), maxSellable.String(), baseline.String()))
					qty = maxSellable
				}
				if qty.IsZero() {
					return reject(fmt.Sprintf("baselineProtection: balance=%s <= baseline=%s", balance.String(), baseline.String()), domain.SeverityInfo)
				}
			}
		}

		if intent.Action.Symbol == "BTC" && risk.Has(domain.GuardrailCollateralProtection) {
			collateral := ctx.Collateral["BTC"]
			total := ctx.Balances["BTC"]
			free := collateral.Free(total)
			if qty.GreaterThan(free) {
				return reject(fmt.Sprintf("collateralProtection: free=%s < requested=%s", free.String(), qty.String()), domain.SeverityWarning)
			}
			preLTV, _ := collateral.LTV.Float64()
			if preLTV > m.cfg.CollateralLTVWarn {
				postTotal := total.Sub(qty)
				postLTV := preLTV
				if postTotal.IsPositive() {
					lockedF, _ := collateral.Locked.Float64()
					totalF, _ := postTotal.Float64()
					postLTV = lockedF / totalF
				}
				if postLTV > hardLTVCap {
					return reject(fmt.Sprintf("collateralProtection: projected LTV %.2f exceeds hard cap %.2f", postLTV, hardLTVCap), domain.SeverityWarning)
				}
				warnings = append(warnings, fmt.Sprintf("ltv_warning: LTV %.2f above %.2f threshold", preLTV, m.cfg.CollateralLTVWarn))
			}
		}
	}

	price := intent.Price
	positionValue := qty.Mul(price)
	if risk.Has(domain.GuardrailPositionSizing) && !ctx.PortfolioValueUSD.IsZero() {
		maxPct := risk.MaxPositionPct
		if maxPct.IsZero() {
			maxPct = decimal.NewFromFloat(m.cfg.MaxPositionPct)
		}
		limit := ctx.PortfolioValueUSD.Mul(maxPct)
		if positionValue.GreaterThan(limit) && !price.IsZero() {
			clampedQty := limit.Div(price)
			if clampedQty.LessThan(qty) {
				warnings = append(warnings, fmt.Sprintf("positionSizing: clamped %s to %s (maxPositionPct=%s)", qty.String(), clampedQty.String(), maxPct.String()))
				qty = clampedQty
				positionValue = qty.Mul(price)
			}
		}
	}

	minTrade := decimal.NewFromFloat(m.cfg.MinTradeUSD)
	if positionValue.LessThan(minTrade) && (intent.Action.Kind == domain.ActionEnter || intent.Action.Kind == domain.ActionExit) {
		return reject(fmt.Sprintf("minTradeSize: positionValue=%s < min=%s", positionValue.String(), minTrade.String()), domain.SeverityInfo)
	}

	if risk.Has(domain.GuardrailCircuitDrawdown) || true {
		// The daily-loss breaker applies globally regardless of per-rule
		// guardrail opt-in — it protects the whole portfolio, not one rule.
		if m.breaker == domain.CircuitTripped {
			losingSide := intent.Action.Kind == domain.ActionExit
			blockEntries := intent.Action.Kind == domain.ActionEnter
			if losingSide || blockEntries {
				return reject("circuitDrawdown: daily-loss breaker tripped", domain.SeverityWarning)
			}
		}
	}

	return Decision{Accepted: true, ClampedQty: qty, Warnings: warnings}
}

func reject(reason string, sev domain.AlertSeverity) Decision {
	return Decision{Accepted: false, RejectionChain: []string{reason}, Severity: sev}
}

// countRecent returns how many timestamps in window fall within the last
// hour of `now`. Expired entries are not pruned here — pruning happens in
// ReserveAndRecord, which is the only mutator of these slices.
func (m *Manager) countRecent(window []time.Time, now time.Time) int {
	cutoff := now.Add(-time.Hour)
	n := 0
	for _, t := range window {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// ReserveAndRecord commits an accepted Intent's execution into the rolling
// risk state: advances the rule's cooldown clock, appends to the velocity
// windows (pruning entries older than an hour), and — once fill price is
// known — updates the daily realized-PnL accumulator if the trade closed a
// prior position. Called after the executor confirms a fill, never before
// (a rejected or failed execution must not consume rate-limit budget).
func (m *Manager) ReserveAndRecord(ruleID string, asset domain.Asset, now time.Time, realizedPnL decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ruleID != "" {
		m.lastExecutionByRule[ruleID] = now
	}
	m.executionsGlobal = pruneAndAppend(m.executionsGlobal, now)
	m.executionsByAsset[asset] = pruneAndAppend(m.executionsByAsset[asset], now)

	m.dailyRealizedPnL = m.dailyRealizedPnL.Add(realizedPnL)
	limit := decimal.NewFromFloat(m.cfg.DailyLossLimit)
	if m.dailyRealizedPnL.LessThan(limit.Neg()) && m.breaker == domain.CircuitArmed {
		m.breaker = domain.CircuitTripped
		tripped := now
		m.breakerTrippedAt = &tripped
		m.breakerAlerted = false
	}
}

// TookCriticalTrip reports whether the breaker just tripped and no alert
// has been emitted for this trip yet, marking it alerted atomically so the
// caller's subsequent Publish only fires once per trip.
func (m *Manager) TookCriticalTrip() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breaker == domain.CircuitTripped && !m.breakerAlerted {
		m.breakerAlerted = true
		return true
	}
	return false
}

func pruneAndAppend(window []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-time.Hour)
	out := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return append(out, now)
}

// rollDayBoundary acquires the lock and delegates to the locked variant;
// used by the background sweep in Run.
func (m *Manager) rollDayBoundary(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayBoundaryLocked(now)
}

// rollDayBoundaryLocked resets the daily-loss accumulator and re-arms the
// circuit breaker once `now` has crossed into a new UTC day. Must be called
// with m.mu held.
func (m *Manager) rollDayBoundaryLocked(now time.Time) {
	boundary := dayBoundaryUTC(now)
	if !boundary.After(m.dayBoundary) {
		return
	}
	m.dayBoundary = boundary
	m.dailyRealizedPnL = decimal.Zero
	m.breaker = domain.CircuitArmed
	m.breakerTrippedAt = nil
	m.breakerAlerted = false
}

// Snapshot returns the current risk state for persistence and the
// /risk/state endpoint.
func (m *Manager) Snapshot() domain.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()

	byAsset := make(map[domain.Asset]int, len(m.executionsByAsset))
	now := time.Now()
	for asset, window := range m.executionsByAsset {
		byAsset[asset] = m.countRecent(window, now)
	}
	lastExec := make(map[string]time.Time, len(m.lastExecutionByRule))
	for k, v := range m.lastExecutionByRule {
		lastExec[k] = v
	}

	return domain.RiskState{
		TradesInLastHourGlobal:  m.countRecent(m.executionsGlobal, now),
		TradesInLastHourByAsset: byAsset,
		DailyRealizedPnLUSD:     m.dailyRealizedPnL,
		LastExecutionByRule:     lastExec,
		CircuitBreaker:          m.breaker,
		CircuitTrippedAt:        m.breakerTrippedAt,
		DayBoundaryUTC:          m.dayBoundary,
	}
}

// Persist writes the current state to the store, so a restart mid-day
// doesn't reset counters to zero.
func (m *Manager) Persist(st *store.Store) error {
	return st.Risk.Save(m.Snapshot())
}
