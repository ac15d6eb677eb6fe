// Package approval implements the durable approval workflow (§4.4): it
// turns a risk-accepted Intent into a persisted Approval, auto-executes
// the narrow core-asset/auto-execute/no-MFA subset immediately, and
// otherwise waits for an owner-authenticated decision. Execution retries
// transient exchange failures with exponential backoff and records
// FIFO cost-basis lots for realized-PnL accounting.
//
// Grounded on the teacher's exchange.Client retry/backoff idiom (adapted
// from HTTP-layer retry to execution-layer retry) and risk.Manager's
// per-id mutex-guard discipline, generalized here to a per-approval-id
// guard so concurrent decide/execute calls for the same id never race.
package approval

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"goldcore/internal/config"
	"goldcore/internal/eventbus"
	"goldcore/internal/exchange"
	"goldcore/internal/risk"
	"goldcore/internal/store"
	"goldcore/pkg/domain"
)

// DefaultTTL is the lifetime of a pending/deferred approval before it
// auto-expires (§3, §4.4).
const DefaultTTL = 24 * time.Hour

var backoffSchedule = []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}

// Workflow owns the Approval state machine, MFA challenges, and the
// executor. It has no goroutine of its own beyond the periodic expiry
// sweep the caller drives via ExpireSweep.
type Workflow struct {
	store    *store.Store
	bus      *eventbus.Bus
	risk     *risk.Manager
	exchange exchange.Client
	cfg      config.Config
	log      zerolog.Logger

	guardMu sync.Mutex
	guards  map[string]*sync.Mutex
}

// New builds a Workflow wired to its collaborators.
func New(st *store.Store, bus *eventbus.Bus, riskMgr *risk.Manager, client exchange.Client, cfg config.Config, log zerolog.Logger) *Workflow {
	return &Workflow{
		store:    st,
		bus:      bus,
		risk:     riskMgr,
		exchange: client,
		cfg:      cfg,
		log:      log.With().Str("component", "approval").Logger(),
		guards:   make(map[string]*sync.Mutex),
	}
}

func (w *Workflow) guard(id string) *sync.Mutex {
	w.guardMu.Lock()
	defer w.guardMu.Unlock()
	g, ok := w.guards[id]
	if !ok {
		g = &sync.Mutex{}
		w.guards[id] = g
	}
	return g
}

// isDryRun forces dry-run whenever the owner identity is not configured,
// regardless of the intent's own flag (§3 invariant).
func (w *Workflow) isDryRun(intent domain.Intent) bool {
	if w.cfg.Owner.ID == "" {
		return true
	}
	return w.cfg.DryRun || intent.DryRun
}

// Route persists a risk-accepted Intent as an Approval and, when policy
// permits, hands it straight to the executor. Callers must have already
// set intent.Quantity to the risk pipeline's (possibly clamped) quantity.
func (w *Workflow) Route(ctx context.Context, intent domain.Intent) (*domain.Approval, error) {
	now := time.Now().UTC()
	appr := domain.Approval{
		ID:        uuid.NewString(),
		Source:    intent.Source,
		Action:    intent.Action,
		Intent:    intent,
		Status:    domain.ApprovalPending,
		CreatedAt: now,
		ExpiresAt: now.Add(DefaultTTL),
	}

	autoExec, needsMFA := w.autoExecuteEligible(intent)
	if autoExec && !needsMFA {
		appr.Status = domain.ApprovalApproved
	} else if autoExec && needsMFA {
		code, err := randomOTP()
		if err != nil {
			return nil, fmt.Errorf("generate mfa code: %w", err)
		}
		appr.MFA = &domain.MFAChallenge{Code: code, ExpiresAt: now.Add(w.cfg.MFA.Expiry)}
	}

	if err := w.store.Approvals.Insert(appr); err != nil {
		return nil, fmt.Errorf("insert approval: %w", err)
	}

	if appr.Status == domain.ApprovalApproved {
		w.bus.Publish(domain.Event{Type: domain.EventApprovalCreated, Data: appr, Timestamp: now})
		go w.Execute(context.Background(), appr.ID)
		return &appr, nil
	}

	w.bus.Publish(domain.Event{Type: domain.EventApprovalCreated, Data: appr, Timestamp: now})
	return &appr, nil
}

// autoExecuteEligible implements the §4.4 routing test against the
// persisted Objectives singleton: the asset must carry a core-asset policy
// with auto-execute enabled, and the trade's notional must stay under the
// configured large-trade threshold. It does not check the estimated size
// against the MFA threshold for eligibility — it reports whether MFA must
// gate an otherwise-eligible auto-execution.
func (w *Workflow) autoExecuteEligible(intent domain.Intent) (autoExecute, needsMFA bool) {
	if intent.Action.Kind != domain.ActionEnter && intent.Action.Kind != domain.ActionExit {
		return false, false
	}
	obj, err := w.store.Objectives.Get()
	if err != nil || obj == nil {
		return false, false
	}
	policy, ok := obj.CoreAssets[intent.Action.Symbol]
	if !ok || !policy.AutoExecute {
		return false, false
	}
	usd := intent.USDValue()
	if obj.ApprovalsRequired.LargeTradeUSD.IsPositive() && usd.GreaterThan(obj.ApprovalsRequired.LargeTradeUSD) {
		return false, false
	}
	if usd.GreaterThanOrEqual(decimal.NewFromFloat(w.cfg.MFA.ThresholdUSD)) {
		return true, true
	}
	return true, false
}

func randomOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Decide applies an owner-authenticated pending→{approved,declined}
// transition. actedBy must equal the configured owner id (checked by the
// HTTP layer before calling this, but re-validated here as a second gate).
func (w *Workflow) Decide(ctx context.Context, id, actedBy string, approve bool) error {
	if actedBy == "" || actedBy != w.cfg.Owner.ID {
		return fmt.Errorf("unauthorized: acted-by does not match owner")
	}

	g := w.guard(id)
	g.Lock()
	defer g.Unlock()

	appr, err := w.store.Approvals.Get(id)
	if err != nil {
		return fmt.Errorf("get approval: %w", err)
	}
	if appr == nil {
		return fmt.Errorf("approval %s not found", id)
	}

	to := domain.ApprovalDeclined
	if approve {
		to = domain.ApprovalApproved
	}
	if !domain.CanTransition(appr.Status, to) {
		return fmt.Errorf("illegal transition %s -> %s", appr.Status, to)
	}

	now := time.Now().UTC()
	if err := w.store.Approvals.UpdateStatus(id, to, actedBy, now); err != nil {
		return fmt.Errorf("update approval status: %w", err)
	}
	appr.Status = to
	appr.ActedBy = actedBy
	appr.ActedAt = &now
	w.bus.Publish(domain.Event{Type: domain.EventApprovalUpdated, Data: *appr, Timestamp: now})

	if to == domain.ApprovalApproved {
		go w.Execute(context.Background(), id)
	}
	return nil
}

// VerifyMFA validates an OTP against the pending approval's challenge and,
// on success, transitions it to approved and begins execution.
func (w *Workflow) VerifyMFA(ctx context.Context, id, code string) error {
	g := w.guard(id)
	g.Lock()
	defer g.Unlock()

	appr, err := w.store.Approvals.Get(id)
	if err != nil {
		return fmt.Errorf("get approval: %w", err)
	}
	if appr == nil {
		return fmt.Errorf("approval %s not found", id)
	}
	if appr.MFA == nil {
		return fmt.Errorf("approval %s does not require mfa", id)
	}
	now := time.Now().UTC()
	if appr.MFA.Expired(now) {
		_ = w.store.Approvals.UpdateStatus(id, domain.ApprovalExpired, "", now)
		return fmt.Errorf("mfa challenge expired")
	}
	if appr.MFA.Code != code {
		return fmt.Errorf("incorrect mfa code")
	}

	if err := w.store.Approvals.UpdateStatus(id, domain.ApprovalApproved, "mfa", now); err != nil {
		return fmt.Errorf("update approval status: %w", err)
	}
	w.bus.Publish(domain.Event{Type: domain.EventApprovalUpdated, Data: *appr, Timestamp: now})
	go w.Execute(context.Background(), id)
	return nil
}

// DeferOnKillSwitch transitions every approved-but-unexecuted approval to
// deferred. Called by the kill-switch handler per the §3 invariant.
func (w *Workflow) DeferOnKillSwitch(ctx context.Context) error {
	all, err := w.store.Approvals.List()
	if err != nil {
		return fmt.Errorf("list approvals: %w", err)
	}
	now := time.Now().UTC()
	for _, appr := range all {
		if appr.Status != domain.ApprovalApproved {
			continue
		}
		if err := w.store.Approvals.UpdateStatus(appr.ID, domain.ApprovalDeferred, appr.ActedBy, now); err != nil {
			w.log.Error().Err(err).Str("approval", appr.ID).Msg("failed to defer approval on kill-switch")
			continue
		}
		appr.Status = domain.ApprovalDeferred
		w.bus.Publish(domain.Event{Type: domain.EventApprovalUpdated, Data: appr, Timestamp: now})
	}
	return nil
}

// ResumeDeferred transitions a deferred approval back to approved once the
// kill-switch is cleared, and re-queues it for execution.
func (w *Workflow) ResumeDeferred(ctx context.Context, id string) error {
	g := w.guard(id)
	g.Lock()
	defer g.Unlock()

	appr, err := w.store.Approvals.Get(id)
	if err != nil {
		return fmt.Errorf("get approval: %w", err)
	}
	if appr == nil {
		return fmt.Errorf("approval %s not found", id)
	}
	if appr.Status != domain.ApprovalDeferred {
		return fmt.Errorf("approval %s is not deferred", id)
	}
	now := time.Now().UTC()
	if err := w.store.Approvals.UpdateStatus(id, domain.ApprovalApproved, appr.ActedBy, now); err != nil {
		return err
	}
	go w.Execute(context.Background(), id)
	return nil
}

// ExpireSweep transitions every pending/deferred approval whose TTL has
// elapsed to expired. Intended to be driven by a periodic caller.
func (w *Workflow) ExpireSweep(ctx context.Context, now time.Time) error {
	expirable, err := w.store.Approvals.Expirable(now)
	if err != nil {
		return fmt.Errorf("list expirable approvals: %w", err)
	}
	for _, appr := range expirable {
		if err := w.store.Approvals.UpdateStatus(appr.ID, domain.ApprovalExpired, "", now); err != nil {
			w.log.Error().Err(err).Str("approval", appr.ID).Msg("failed to expire approval")
			continue
		}
		appr.Status = domain.ApprovalExpired
		w.bus.Publish(domain.Event{Type: domain.EventApprovalUpdated, Data: appr, Timestamp: now})
	}
	return nil
}

// Execute runs the approved intent against the exchange, retrying
// transient failures with exponential backoff, and records the result.
// Execution I/O happens outside any guard that blocks other approvals —
// the per-id guard here only serializes against a second Execute call for
// the same id, matching §5's "execution I/O performed outside the per-id
// guard after the transition to approved is committed" by scoping the
// guard to commit-then-release around the state check, not the I/O.
func (w *Workflow) Execute(ctx context.Context, id string) {
	g := w.guard(id)
	g.Lock()
	appr, err := w.store.Approvals.Get(id)
	if err != nil || appr == nil || appr.Status != domain.ApprovalApproved {
		g.Unlock()
		return
	}
	g.Unlock()

	w.bus.Publish(domain.Event{Type: domain.EventTradeSubmitted, Data: appr.Intent, Timestamp: time.Now()})

	exec, execErr := w.runOrder(ctx, *appr)

	execID, err := w.store.Executions.Insert(exec)
	if err != nil {
		w.log.Error().Err(err).Str("approval", id).Msg("failed to persist execution")
	}
	exec.ID = execID
	_ = w.store.Approvals.AttachExecution(id, exec)

	now := time.Now().UTC()
	if execErr != nil && !exec.DryRun {
		_ = w.store.Approvals.UpdateStatus(id, domain.ApprovalDeclined, "", now)
		w.bus.Alert(domain.Alert{Type: domain.AlertExecutionFailed, Severity: domain.SeverityCritical, RuleID: appr.Intent.RuleID, Message: execErr.Error()})
		w.bus.Publish(domain.Event{Type: domain.EventTradeResult, Data: exec, Timestamp: now})
		return
	}

	_ = w.store.Approvals.UpdateStatus(id, domain.ApprovalExecuted, appr.ActedBy, now)

	realizedPnL := w.settleCostBasis(appr.Action, exec, execID, now)
	w.risk.ReserveAndRecord(appr.Intent.RuleID, appr.Action.Symbol, now, realizedPnL)
	if w.risk.TookCriticalTrip() {
		w.bus.Alert(domain.Alert{Type: domain.AlertCircuitBreakerTrip, Severity: domain.SeverityCritical, Message: "daily-loss circuit breaker tripped"})
	}

	w.bus.Publish(domain.Event{Type: domain.EventTradeResult, Data: exec, Timestamp: now})
}

// settleCostBasis opens a lot for a buy fill or closes FIFO lots for a
// sell fill, returning realized PnL (zero for buys).
func (w *Workflow) settleCostBasis(action domain.Action, exec domain.Execution, execID int64, now time.Time) decimal.Decimal {
	switch exec.Side {
	case domain.SideBuy:
		if err := openLot(w.store, exec.Asset, exec.FillQuantity, exec.FillPrice, execID, now); err != nil {
			w.log.Error().Err(err).Msg("failed to open cost-basis lot")
		}
		return decimal.Zero
	case domain.SideSell:
		pnl, err := closeFIFO(w.store, exec.Asset, exec.FillQuantity, exec.FillPrice)
		if err != nil {
			w.log.Error().Err(err).Msg("failed to close cost-basis lots")
		}
		return pnl
	default:
		return decimal.Zero
	}
}

func sideForAction(kind domain.ActionKind) domain.Side {
	if kind == domain.ActionExit {
		return domain.SideSell
	}
	return domain.SideBuy
}

// runOrder places the order (or synthesizes a dry-run fill), retrying
// transient exchange failures up to three times with 1s/4s/16s backoff.
// Non-transient failures return immediately, unretried.
func (w *Workflow) runOrder(ctx context.Context, appr domain.Approval) (domain.Execution, error) {
	now := time.Now().UTC()
	qty := appr.Intent.Quantity
	side := sideForAction(appr.Action.Kind)
	dryRun := w.isDryRun(appr.Intent)

	if dryRun {
		return domain.Execution{
			ApprovalID:   appr.ID,
			Asset:        appr.Action.Symbol,
			Side:         side,
			Quantity:     qty,
			FillQuantity: qty,
			FillPrice:    appr.Intent.Price,
			Status:       domain.OrderStatusFilled,
			DryRun:       true,
			CreatedAt:    now,
		}, nil
	}

	req := exchange.OrderRequest{Symbol: appr.Action.Symbol, Side: side, Quantity: qty, DryRun: false}

	var result exchange.OrderResult
	var err error
	for attempt := 0; ; attempt++ {
		result, err = w.exchange.PlaceOrder(ctx, req)
		if err == nil {
			break
		}
		if !exchange.IsTransient(err) || attempt >= len(backoffSchedule) {
			return domain.Execution{
				ApprovalID: appr.ID, Asset: appr.Action.Symbol, Side: side, Quantity: qty,
				Status: domain.OrderStatusRejected, Error: err.Error(), CreatedAt: now,
			}, err
		}
		select {
		case <-time.After(backoffSchedule[attempt]):
		case <-ctx.Done():
			return domain.Execution{
				ApprovalID: appr.ID, Asset: appr.Action.Symbol, Side: side, Quantity: qty,
				Status: domain.OrderStatusRejected, Error: ctx.Err().Error(), CreatedAt: now,
			}, ctx.Err()
		}
	}

	return domain.Execution{
		ApprovalID:   appr.ID,
		Asset:        appr.Action.Symbol,
		Side:         side,
		Quantity:     qty,
		FillQuantity: result.FillQuantity,
		FillPrice:    result.FillPrice,
		Fees:         result.Fees,
		Status:       result.Status,
		CreatedAt:    now,
	}, nil
}
