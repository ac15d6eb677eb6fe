package rules

import (
	"fmt"

	"github.com/shopspring/decimal"

	"goldcore/internal/rules/expr"
	"goldcore/pkg/domain"
)

var decimalOne = decimal.NewFromInt(1)

// Compile validates a Rule's structure before it is persisted — syntax
// checking the DSL (valid trigger, condition, and action shapes; custom
// expressions must parse) rather than producing a separate executable
// form, since domain.Rule's tagged-variant fields are already directly
// evaluable by Evaluator.Tick.
func Compile(rule domain.Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("rule name is required")
	}

	switch rule.Trigger.Type {
	case domain.TriggerInterval:
		if rule.Trigger.Every <= 0 {
			return fmt.Errorf("interval trigger requires a positive every duration")
		}
	case domain.TriggerEvent:
		switch rule.Trigger.On {
		case domain.EventKindDeposit, domain.EventKindWithdrawal, domain.EventKindPriceShock, domain.EventKindManual:
		default:
			return fmt.Errorf("unknown trigger event kind %q", rule.Trigger.On)
		}
	default:
		return fmt.Errorf("unknown trigger type %q", rule.Trigger.Type)
	}

	for i, c := range rule.Conditions {
		if err := compileCondition(c); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}

	if len(rule.Actions) == 0 {
		return fmt.Errorf("rule must declare at least one action")
	}
	for i, a := range rule.Actions {
		if err := compileAction(a); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}

	return nil
}

func compileCondition(c domain.Condition) error {
	switch c.Kind {
	case domain.ConditionPriceChangePct:
		if c.WindowMins <= 0 {
			return fmt.Errorf("priceChangePct requires a positive windowMins")
		}
		return requireCmp(c)
	case domain.ConditionIndicator:
		switch c.Indicator {
		case domain.IndicatorRSI, domain.IndicatorEMA, domain.IndicatorSMA, domain.IndicatorMACDHist:
		default:
			return fmt.Errorf("unknown indicator %q", c.Indicator)
		}
		return requireCmp(c)
	case domain.ConditionBalance, domain.ConditionPortfolioValue:
		return requireCmp(c)
	case domain.ConditionAboveBaseline:
		if c.MinPct.IsNegative() {
			return fmt.Errorf("aboveBaseline minPct must be non-negative")
		}
	case domain.ConditionCustom:
		if c.Expr == "" {
			return fmt.Errorf("custom condition requires a non-empty expr")
		}
		// Syntax-check against a representative variable set so an
		// unparseable expression is rejected at rule-save time rather
		// than silently evaluating false on every tick thereafter.
		probe := map[string]float64{"now": 0, "portfolioValueUSD": 0}
		if _, err := expr.Eval(c.Expr, probe); err != nil {
			if !isUnknownIdentifierErr(err) {
				return fmt.Errorf("custom expr does not parse: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	return nil
}

// isUnknownIdentifierErr reports whether err is expr's "unknown
// identifier" class rather than a true syntax error — the compile-time
// probe only seeds a couple of variables, so legitimate expressions
// referencing balances/prices/baselines are expected to hit this.
func isUnknownIdentifierErr(err error) bool {
	msg := err.Error()
	return len(msg) >= 17 && msg[:17] == "unknown identifie"
}

func requireCmp(c domain.Condition) error {
	switch c.Cmp {
	case domain.CmpGT, domain.CmpLT, domain.CmpBetween:
		return nil
	default:
		return fmt.Errorf("unknown comparator %q", c.Cmp)
	}
}

func compileAction(a domain.Action) error {
	switch a.Kind {
	case domain.ActionEnter, domain.ActionExit:
		if a.Symbol == "" {
			return fmt.Errorf("%s action requires a symbol", a.Kind)
		}
		if a.AllocationPct.IsNegative() || a.AllocationPct.GreaterThan(decimalOne) {
			return fmt.Errorf("%s action allocationPct must be in [0,1]", a.Kind)
		}
	case domain.ActionRebalance:
		if len(a.TargetWeights) == 0 {
			return fmt.Errorf("rebalance action requires targetWeights")
		}
	case domain.ActionAlertOnly:
		if a.Message == "" {
			return fmt.Errorf("alertOnly action requires a message")
		}
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}
