// Package rules compiles and evaluates the declarative trading-rule DSL
// (pkg/domain.Rule) against a tick's evaluation Context, in ascending
// rule-id order for reproducibility, emitting one Intent per passing
// action. Grounded on the teacher's tagged-variant dispatch idiom (enums
// plus a switch, never reflection or a condition interface).
package rules

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"goldcore/internal/rules/expr"
	"goldcore/pkg/domain"
)

// Evaluator holds the per-rule lastFire bookkeeping across ticks. Ticks do
// not overlap (the scheduler serializes rules-tick against itself), so no
// internal locking is strictly required, but a mutex is kept to guard
// against a manual evaluation call racing the scheduled one.
type Evaluator struct {
	mu       sync.Mutex
	lastFire map[string]time.Time
	log      zerolog.Logger
}

// NewEvaluator builds an Evaluator with empty lastFire bookkeeping.
func NewEvaluator(log zerolog.Logger) *Evaluator {
	return &Evaluator{
		lastFire: make(map[string]time.Time),
		log:      log.With().Str("component", "rules.evaluator").Logger(),
	}
}

// Tick evaluates every enabled rule (already filtered + sorted ascending
// by id by the caller's store query) against ctx, returning the Intents to
// hand to the risk pipeline and any alerts raised along the way (indicator
// anomalies).
func (e *Evaluator) Tick(ctx Context, enabledRules []domain.Rule) ([]domain.Intent, []domain.Alert) {
	if ctx.KillSwitchEnabled {
		return nil, nil
	}

	rules := append([]domain.Rule(nil), enabledRules...)
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

	memo := newIndicatorMemo(ctx.Indicator)

	var intents []domain.Intent
	var alerts []domain.Alert

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if !e.triggerReady(rule, ctx) {
			continue
		}

		passed, reason, condAlerts := evaluateConditions(rule, ctx, memo)
		alerts = append(alerts, condAlerts...)
		if !passed {
			continue
		}

		for _, action := range rule.Actions {
			if action.Kind == domain.ActionExit && !ctx.Balances[action.Symbol].IsPositive() {
				// Empty portfolio: nothing to exit, so no intent is emitted.
				continue
			}
			intent := buildIntent(rule, action, ctx, reason)
			intents = append(intents, intent)
		}
		e.lastFire[rule.ID] = ctx.Now
	}

	return intents, alerts
}

func (e *Evaluator) triggerReady(rule domain.Rule, ctx Context) bool {
	switch rule.Trigger.Type {
	case domain.TriggerInterval:
		last, ok := e.lastFire[rule.ID]
		if !ok {
			return true
		}
		return ctx.Now.Sub(last) >= rule.Trigger.Every
	case domain.TriggerEvent:
		return ctx.FiredEvent != nil && *ctx.FiredEvent == rule.Trigger.On
	default:
		return false
	}
}

// evaluateConditions runs a rule's condition list with short-circuit AND,
// building a structured reason string from the conditions that passed.
func evaluateConditions(rule domain.Rule, ctx Context, memo *indicatorMemo) (bool, string, []domain.Alert) {
	if len(rule.Conditions) == 0 {
		return true, fmt.Sprintf("rule %q: always on trigger", rule.Name), nil
	}

	var passedDescs []string
	var alerts []domain.Alert

	for _, cond := range rule.Conditions {
		ok, desc, alert := evalCondition(cond, ctx, memo)
		if alert != nil {
			alerts = append(alerts, *alert)
		}
		if !ok {
			return false, "", alerts
		}
		passedDescs = append(passedDescs, desc)
	}

	reason := fmt.Sprintf("rule %q: %s", rule.Name, joinDescs(passedDescs))
	return true, reason, alerts
}

func joinDescs(descs []string) string {
	out := ""
	for i, d := range descs {
		if i > 0 {
			out += " AND "
		}
		out += d
	}
	return out
}

func evalCondition(c domain.Condition, ctx Context, memo *indicatorMemo) (bool, string, *domain.Alert) {
	switch c.Kind {
	case domain.ConditionPriceChangePct:
		pct, ok := ctx.PriceChange(c.Symbol, c.WindowMins)
		if !ok {
			return false, "", nil
		}
		return applyCmp(pct, c), fmt.Sprintf("priceChangePct(%s,%dm)=%s", c.Symbol, c.WindowMins, pct.StringFixed(4)), nil

	case domain.ConditionIndicator:
		val, err := memo.get(c.Symbol, c.Indicator, c.Params)
		if err != nil {
			return false, "", &domain.Alert{Type: domain.AlertIndicatorAnomaly, Severity: domain.SeverityWarning, Message: err.Error()}
		}
		if val == nil {
			return false, "", nil
		}
		if math.IsNaN(*val) || math.IsInf(*val, 0) {
			return false, "", &domain.Alert{Type: domain.AlertIndicatorAnomaly, Severity: domain.SeverityWarning, Message: fmt.Sprintf("%s(%s) is NaN/Inf", c.Indicator, c.Symbol)}
		}
		dv := decimal.NewFromFloat(*val)
		return applyCmp(dv, c), fmt.Sprintf("indicator(%s,%s)=%s", c.Indicator, c.Symbol, dv.StringFixed(4)), nil

	case domain.ConditionBalance:
		bal := ctx.Balances[c.Symbol]
		return applyCmp(bal, c), fmt.Sprintf("balance(%s)=%s", c.Symbol, bal.StringFixed(8)), nil

	case domain.ConditionAboveBaseline:
		baseline := ctx.Baselines[c.Symbol]
		holding := ctx.Balances[c.Symbol]
		if baseline.IsZero() {
			return holding.IsPositive(), fmt.Sprintf("aboveBaseline(%s): no baseline set, holding=%s", c.Symbol, holding.StringFixed(8)), nil
		}
		excess := holding.Sub(baseline)
		required := c.MinPct.Mul(baseline)
		pass := excess.GreaterThanOrEqual(required)
		return pass, fmt.Sprintf("aboveBaseline(%s): excess=%s required=%s", c.Symbol, excess.StringFixed(8), required.StringFixed(8)), nil

	case domain.ConditionPortfolioValue:
		return applyCmp(ctx.PortfolioValueUSD, c), fmt.Sprintf("portfolioValueUSD=%s", ctx.PortfolioValueUSD.StringFixed(2)), nil

	case domain.ConditionCustom:
		vars := buildExprVars(ctx)
		ok, err := expr.Eval(c.Expr, vars)
		if err != nil {
			return false, "", &domain.Alert{Type: domain.AlertIndicatorAnomaly, Severity: domain.SeverityWarning, Message: "custom expr: " + err.Error()}
		}
		return ok, fmt.Sprintf("custom(%s)", c.Expr), nil

	default:
		return false, "", nil
	}
}

func buildExprVars(ctx Context) map[string]float64 {
	vars := map[string]float64{
		"now":               float64(ctx.Now.Unix()),
		"portfolioValueUSD": mustFloat(ctx.PortfolioValueUSD),
	}
	for asset, qty := range ctx.Balances {
		vars["balances."+string(asset)] = mustFloat(qty)
	}
	for asset, price := range ctx.Prices {
		vars["prices."+string(asset)] = mustFloat(price)
	}
	for asset, baseline := range ctx.Baselines {
		vars["baselines."+string(asset)] = mustFloat(baseline)
	}
	return vars
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func applyCmp(value decimal.Decimal, c domain.Condition) bool {
	switch c.Cmp {
	case domain.CmpGT:
		return value.GreaterThan(c.Value)
	case domain.CmpLT:
		return value.LessThan(c.Value)
	case domain.CmpBetween:
		return value.GreaterThanOrEqual(c.Value) && value.LessThanOrEqual(c.ValueHigh)
	default:
		return false
	}
}

// buildIntent assembles one candidate trade from a rule action. Quantity
// is derived from AllocationPct for enter/exit; rebalance and alertOnly
// actions carry a zero quantity (the risk pipeline and executor branch on
// Action.Kind rather than Intent.Quantity for those).
func buildIntent(rule domain.Rule, action domain.Action, ctx Context, reason string) domain.Intent {
	intent := domain.Intent{
		RuleID:      rule.ID,
		RuleVersion: rule.Version,
		Source:      domain.IntentSourceRule,
		Action:      action,
		Reason:      reason,
		CreatedAt:   ctx.Now,
	}

	switch action.Kind {
	case domain.ActionEnter, domain.ActionExit:
		price := ctx.Prices[action.Symbol]
		balance := ctx.Balances[action.Symbol]
		intent.Price = price
		if action.Kind == domain.ActionExit {
			intent.Quantity = balance.Mul(action.AllocationPct)
		} else {
			usdcFree := ctx.Balances["USDC"]
			if !price.IsZero() {
				intent.Quantity = usdcFree.Mul(action.AllocationPct).Div(price)
			}
		}
	}

	if collateral := ctx.Collateral; len(collateral) > 0 {
		intent.Collateral = collateral
	}

	return intent
}

// indicatorMemo caches indicator lookups within one Tick call, per the
// DSL's "indicator evaluation is memoized per context per tick" contract.
type indicatorMemo struct {
	fn    IndicatorFunc
	cache map[string]memoEntry
}

type memoEntry struct {
	val *float64
	err error
}

func newIndicatorMemo(fn IndicatorFunc) *indicatorMemo {
	return &indicatorMemo{fn: fn, cache: make(map[string]memoEntry)}
}

func (m *indicatorMemo) get(asset domain.Asset, name domain.IndicatorName, params map[string]int) (*float64, error) {
	key := string(asset) + "|" + string(name) + "|" + paramsKey(params)
	if entry, ok := m.cache[key]; ok {
		return entry.val, entry.err
	}
	val, err := m.fn(asset, name, params)
	m.cache[key] = memoEntry{val: val, err: err}
	return val, err
}

func paramsKey(params map[string]int) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for _, k := range keys {
		out += k + "=" + strconv.Itoa(params[k]) + ";"
	}
	return out
}
