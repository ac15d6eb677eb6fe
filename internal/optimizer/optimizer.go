package optimizer

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"goldcore/internal/config"
	"goldcore/internal/eventbus"
	"goldcore/internal/store"
	"goldcore/pkg/domain"
)

// candidatesPerRule bounds the local-search neighborhood explored per rule
// each night — a fixed number of seeded random perturbations of the live
// parameters, not an open-ended search.
const candidatesPerRule = 8

// jitterFraction is the relative size of each perturbation step (e.g. 0.15
// means a numeric field moves by up to +/-15% of its current value).
const jitterFraction = 0.15

// Candidate is one perturbed rule variant and its backtested outcome.
type Candidate struct {
	Rule    domain.Rule
	Metrics domain.RuleMetrics
	Score   float64
}

// Optimizer owns the nightly backtest/perturbation job. Grounded on the
// sibling trader-go reference's scheduler.Job interface (Run/Name), wired
// here through robfig/cron/v3 directly rather than through a generic Job
// abstraction, since this core has exactly one cron job.
type Optimizer struct {
	cfg   config.OptimizerConfig
	store *store.Store
	bus   *eventbus.Bus
	log   zerolog.Logger
	cron  *cron.Cron
}

// New builds an Optimizer. Call Start to register and run the nightly job.
func New(cfg config.OptimizerConfig, st *store.Store, bus *eventbus.Bus, log zerolog.Logger) *Optimizer {
	return &Optimizer{
		cfg:   cfg,
		store: st,
		bus:   bus,
		log:   log.With().Str("component", "optimizer").Logger(),
		cron:  cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start registers the nightly job on the configured schedule (default
// "0 2 * * *", 02:00 UTC) and starts the cron scheduler.
func (o *Optimizer) Start(ctx context.Context) error {
	_, err := o.cron.AddFunc(o.cfg.Schedule, func() {
		if err := o.RunNightly(ctx); err != nil {
			o.log.Error().Err(err).Msg("nightly optimization run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("register optimizer job: %w", err)
	}
	o.cron.Start()
	o.log.Info().Str("schedule", o.cfg.Schedule).Msg("optimizer scheduled")
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight run to finish.
func (o *Optimizer) Stop() {
	stopCtx := o.cron.Stop()
	<-stopCtx.Done()
}

// RunNightly backtests every enabled rule over the configured window,
// generates a bounded set of perturbed candidates per rule, and — for the
// best candidate that improves on the live rule's score by at least the
// configured threshold — persists it as a new, disabled rule version
// awaiting owner activation. Always emits an alert summarizing the top
// candidates it found, even when none clear the bar.
func (o *Optimizer) RunNightly(ctx context.Context) error {
	rulesList, err := o.store.Rules.ListEnabled()
	if err != nil {
		return fmt.Errorf("list enabled rules: %w", err)
	}

	since := time.Now().UTC().AddDate(0, 0, -o.cfg.WindowDays)
	snapshots, err := o.store.Snapshots.Since(since)
	if err != nil {
		return fmt.Errorf("load snapshot window: %w", err)
	}
	if len(snapshots) < 2 {
		o.log.Warn().Int("snapshots", len(snapshots)).Msg("insufficient history for optimization run")
		return nil
	}

	for _, rule := range rulesList {
		if err := o.optimizeRule(rule, snapshots); err != nil {
			o.log.Error().Err(err).Str("rule", rule.ID).Msg("failed to optimize rule")
		}
	}
	return nil
}

func (o *Optimizer) optimizeRule(rule domain.Rule, snapshots []domain.Snapshot) error {
	baseline, err := Backtest(rule, snapshots, o.cfg.FeeRate)
	if err != nil {
		return fmt.Errorf("baseline backtest: %w", err)
	}
	if err := o.store.RuleMetrics.Append(baseline); err != nil {
		o.log.Error().Err(err).Msg("failed to persist baseline metrics")
	}
	baselineScore := Score(baseline)

	src := rand.New(rand.NewSource(o.cfg.Seed + int64(hashRuleID(rule.ID))))
	candidates := make([]Candidate, 0, candidatesPerRule)
	for i := 0; i < candidatesPerRule; i++ {
		perturbed := perturb(rule, src)
		m, err := Backtest(perturbed, snapshots, o.cfg.FeeRate)
		if err != nil {
			continue
		}
		candidates = append(candidates, Candidate{Rule: perturbed, Metrics: m, Score: Score(m)})
	}
	if len(candidates) == 0 {
		return nil
	}

	sortCandidatesDesc(candidates)
	top := candidates
	if len(top) > 3 {
		top = top[:3]
	}
	o.bus.Alert(domain.Alert{
		Type:     domain.AlertOptimization,
		Severity: domain.SeverityInfo,
		RuleID:   rule.ID,
		Message:  fmt.Sprintf("optimizer evaluated %d candidates for rule %q, best score %.4f vs baseline %.4f", len(candidates), top[0].Score, baselineScore),
		Details:  summarize(top),
	})

	best := candidates[0]
	if Improvement(baselineScore, best.Score) < o.cfg.ImprovementThreshold {
		return nil
	}

	proposal := best.Rule
	proposal.Version = rule.Version + 1
	proposal.Enabled = false
	proposal.CreatedAt = time.Now().UTC()
	proposal.UpdatedAt = proposal.CreatedAt
	if err := o.store.Rules.Insert(proposal); err != nil {
		return fmt.Errorf("insert proposed rule version: %w", err)
	}
	best.Metrics.RuleVersion = proposal.Version
	if err := o.store.RuleMetrics.Append(best.Metrics); err != nil {
		o.log.Error().Err(err).Msg("failed to persist candidate metrics")
	}

	o.log.Info().Str("rule", rule.ID).Int("version", proposal.Version).Float64("improvement", Improvement(baselineScore, best.Score)).Msg("optimizer proposed new rule version")
	return nil
}

func summarize(top []Candidate) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(top))
	for _, c := range top {
		out = append(out, map[string]interface{}{
			"score":       c.Score,
			"sharpe":      c.Metrics.Sharpe,
			"maxDrawdown": c.Metrics.MaxDrawdown,
			"trades":      c.Metrics.Trades,
		})
	}
	return out
}

func sortCandidatesDesc(c []Candidate) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].Score > c[j-1].Score; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}

func hashRuleID(id string) int32 {
	var h int32 = 2166136261
	for i := 0; i < len(id); i++ {
		h ^= int32(id[i])
		h *= 16777619
	}
	if h < 0 {
		h = -h
	}
	return h
}

// perturb returns a deep copy of rule with its numeric thresholds nudged by
// a uniform step within +/-jitterFraction of their value, seeded from src so repeated runs with the same
// seed reproduce the same candidates.
func perturb(rule domain.Rule, src *rand.Rand) domain.Rule {
	out := rule
	out.Conditions = append([]domain.Condition(nil), rule.Conditions...)
	out.Actions = append([]domain.Action(nil), rule.Actions...)

	for i, c := range out.Conditions {
		if c.Value.IsZero() {
			continue
		}
		out.Conditions[i].Value = jitter(c.Value, src)
		if c.Cmp == domain.CmpBetween && !c.ValueHigh.IsZero() {
			out.Conditions[i].ValueHigh = jitter(c.ValueHigh, src)
		}
	}
	for i, a := range out.Actions {
		if a.Kind != domain.ActionEnter && a.Kind != domain.ActionExit {
			continue
		}
		if a.AllocationPct.IsZero() {
			continue
		}
		pct := jitter(a.AllocationPct, src)
		if pct.LessThanOrEqual(decimal.Zero) {
			pct = decimal.NewFromFloat(0.01)
		}
		if pct.GreaterThan(decimal.NewFromInt(1)) {
			pct = decimal.NewFromInt(1)
		}
		out.Actions[i].AllocationPct = pct
	}
	return out
}

func jitter(v decimal.Decimal, src *rand.Rand) decimal.Decimal {
	step := 1 + (src.Float64()*2-1)*jitterFraction
	return v.Mul(decimal.NewFromFloat(step))
}
