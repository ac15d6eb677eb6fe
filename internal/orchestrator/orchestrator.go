// Package orchestrator wires the Rules Engine, Risk Guardrail Pipeline, and
// Approval Workflow into the single "tick" the spec's dependency chain
// describes (§2, §4.2-§4.4): build a live evaluation Context from the
// stores, evaluate every enabled rule, run each resulting Intent through
// the risk pipeline, and route whatever survives to the approval workflow.
//
// It is a thin glue layer with no state of its own — grounded on the
// teacher's engine.Engine, which plays the identical role of composing
// scanner → strategy → exchange into one per-tick call the scheduler
// drives, but adapted here to three collaborators instead of the teacher's
// scan-then-quote pair.
package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"goldcore/internal/approval"
	"goldcore/internal/eventbus"
	"goldcore/internal/indicators"
	"goldcore/internal/risk"
	"goldcore/internal/rules"
	"goldcore/internal/store"
	"goldcore/pkg/domain"
)

// PriceSource supplies the closing-price series and windowed price-change
// readings the rules engine and indicators package need. Implemented by
// *scheduler.Scheduler; kept as a narrow interface here so this package
// never imports scheduler (which would invert the §2 build-order: Scheduler
// sits below Rules Engine).
type PriceSource interface {
	PriceSeries(asset domain.Asset) []decimal.Decimal
	PriceChangePct(asset domain.Asset, windowMins int) (decimal.Decimal, bool)
}

// Orchestrator composes the store, evaluator, risk manager, workflow, and
// event bus into one Tick call.
type Orchestrator struct {
	store     *store.Store
	evaluator *rules.Evaluator
	risk      *risk.Manager
	workflow  *approval.Workflow
	bus       *eventbus.Bus
	prices    PriceSource
	log       zerolog.Logger
}

// New builds an Orchestrator.
func New(st *store.Store, evaluator *rules.Evaluator, riskMgr *risk.Manager, workflow *approval.Workflow, bus *eventbus.Bus, prices PriceSource, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     st,
		evaluator: evaluator,
		risk:      riskMgr,
		workflow:  workflow,
		bus:       bus,
		prices:    prices,
		log:       log.With().Str("component", "orchestrator").Logger(),
	}
}

// TickResult summarizes one evaluation pass, returned to the HTTP layer's
// dry-run /rules/evaluate endpoint as well as consumed internally.
type TickResult struct {
	Intents   []domain.Intent  `json:"intents"`
	Decisions []IntentDecision `json:"decisions"`
	Alerts    []domain.Alert   `json:"alerts"`
}

// IntentDecision pairs one emitted Intent with the risk pipeline's verdict.
type IntentDecision struct {
	Intent   domain.Intent    `json:"intent"`
	Accepted bool             `json:"accepted"`
	Reason   string           `json:"reason,omitempty"`
	Approval *domain.Approval `json:"approval,omitempty"`
}

// Tick runs one full evaluation pass: build context, evaluate every enabled
// rule, run the risk pipeline over each emitted Intent, and route accepted
// intents to the approval workflow unless dryRun suppresses routing (the
// HTTP dry-evaluation endpoint sets dryRun=true so it never mutates state).
func (o *Orchestrator) Tick(ctx context.Context, firedEvent *domain.TriggerEventKind, dryRun bool) (TickResult, error) {
	evalCtx, riskCtx, err := o.buildContext(ctx, firedEvent)
	if err != nil {
		return TickResult{}, err
	}

	enabled, err := o.store.Rules.ListEnabled()
	if err != nil {
		return TickResult{}, err
	}

	intents, alerts := o.evaluator.Tick(evalCtx, enabled)
	for _, a := range alerts {
		o.bus.Alert(a)
	}

	ruleByID := make(map[string]domain.Rule, len(enabled))
	for _, r := range enabled {
		ruleByID[r.ID] = r
	}

	result := TickResult{Intents: intents, Alerts: alerts}
	for _, intent := range intents {
		rule := ruleByID[intent.RuleID]
		decision := o.decide(ctx, intent, rule, riskCtx, dryRun)
		result.Decisions = append(result.Decisions, decision)
	}
	return result, nil
}

func (o *Orchestrator) decide(ctx context.Context, intent domain.Intent, rule domain.Rule, riskCtx risk.EvalContext, dryRun bool) IntentDecision {
	if intent.Action.Kind == domain.ActionAlertOnly {
		o.bus.Alert(domain.Alert{Type: domain.AlertRuleAction, Severity: domain.SeverityInfo, RuleID: intent.RuleID, Message: intent.Action.Message})
		return IntentDecision{Intent: intent, Accepted: true}
	}

	verdict := o.risk.Evaluate(intent, rule.Risk, riskCtx)
	if !verdict.Accepted {
		o.bus.Alert(domain.Alert{
			Type:     domain.AlertRiskBlocked,
			Severity: verdict.Severity,
			RuleID:   intent.RuleID,
			Message:  intent.Reason,
			Details:  verdict.RejectionChain,
		})
		return IntentDecision{Intent: intent, Accepted: false, Reason: joinReasons(verdict.RejectionChain)}
	}
	for _, w := range verdict.Warnings {
		o.bus.Alert(domain.Alert{Type: domain.AlertRisk, Severity: domain.SeverityWarning, RuleID: intent.RuleID, Message: w})
	}

	intent.Quantity = verdict.ClampedQty
	intent.DryRun = dryRun

	if dryRun {
		return IntentDecision{Intent: intent, Accepted: true}
	}

	appr, err := o.workflow.Route(ctx, intent)
	if err != nil {
		o.log.Error().Err(err).Str("rule", intent.RuleID).Msg("failed to route accepted intent")
		return IntentDecision{Intent: intent, Accepted: true}
	}
	return IntentDecision{Intent: intent, Accepted: true, Approval: appr}
}

// Submit runs a single Intent (typically a manually-submitted one from an
// integration, via POST /approvals) through the same risk-then-route path a
// rule-sourced Intent takes on a tick. If the intent names a RuleID, that
// rule's RiskBlock is looked up so its guardrails still apply; otherwise the
// intent is evaluated with every guardrail disabled, matching a rule with an
// empty RiskBlock.
func (o *Orchestrator) Submit(ctx context.Context, intent domain.Intent) (IntentDecision, error) {
	_, riskCtx, err := o.buildContext(ctx, nil)
	if err != nil {
		return IntentDecision{}, err
	}

	var rule domain.Rule
	if intent.RuleID != "" {
		if r, err := o.store.Rules.Latest(intent.RuleID); err == nil && r != nil {
			rule = *r
		}
	}
	return o.decide(ctx, intent, rule, riskCtx, false), nil
}

func joinReasons(chain []string) string {
	out := ""
	for i, r := range chain {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}

// buildContext assembles the rules.Context and risk.EvalContext a tick
// evaluates against, from the latest snapshot, objectives, baselines,
// collateral, and kill-switch state.
func (o *Orchestrator) buildContext(ctx context.Context, firedEvent *domain.TriggerEventKind) (rules.Context, risk.EvalContext, error) {
	now := time.Now().UTC()

	snap, err := o.store.Snapshots.Latest()
	if err != nil {
		return rules.Context{}, risk.EvalContext{}, err
	}
	balances := map[domain.Asset]decimal.Decimal{}
	prices := map[domain.Asset]decimal.Decimal{}
	portfolioValue := decimal.Zero
	if snap != nil {
		balances = snap.Balances
		prices = snap.Prices
		portfolioValue = snap.TotalUSD
	}

	baselineRows, err := o.store.Baselines.All()
	if err != nil {
		return rules.Context{}, risk.EvalContext{}, err
	}
	baselines := make(map[domain.Asset]decimal.Decimal, len(baselineRows))
	for asset, b := range baselineRows {
		baselines[asset] = b.Quantity
	}

	collateral, err := o.store.Collateral.All()
	if err != nil {
		return rules.Context{}, risk.EvalContext{}, err
	}

	obj, err := o.store.Objectives.Get()
	if err != nil {
		return rules.Context{}, risk.EvalContext{}, err
	}
	objectives := domain.Objectives{}
	if obj != nil {
		objectives = *obj
	}

	ks, err := o.store.KillSwitch.Get()
	if err != nil {
		return rules.Context{}, risk.EvalContext{}, err
	}

	evalCtx := rules.Context{
		Now:               now,
		Balances:          balances,
		Prices:            prices,
		Baselines:         baselines,
		PortfolioValueUSD: portfolioValue,
		Objectives:        objectives,
		Collateral:        collateral,
		KillSwitchEnabled: ks.Enabled,
		FiredEvent:        firedEvent,
		Indicator: func(asset domain.Asset, name domain.IndicatorName, params map[string]int) (*float64, error) {
			return indicators.Value(o.prices.PriceSeries(asset), name, params)
		},
		PriceChange: func(asset domain.Asset, windowMins int) (decimal.Decimal, bool) {
			return o.prices.PriceChangePct(asset, windowMins)
		},
	}

	riskCtx := risk.EvalContext{
		Now:               now,
		Balances:          balances,
		Baselines:         baselines,
		Collateral:        collateral,
		PortfolioValueUSD: portfolioValue,
		Objectives:        objectives,
		KillSwitchEnabled: ks.Enabled,
	}

	return evalCtx, riskCtx, nil
}
