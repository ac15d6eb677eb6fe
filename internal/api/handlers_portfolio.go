package api

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"goldcore/pkg/domain"
)

type portfolioCurrentResponse struct {
	Snapshot     *domain.Snapshot                    `json:"snapshot"`
	Baselines    map[domain.Asset]domain.Baseline     `json:"baselines"`
	Collateral   map[domain.Asset]domain.CollateralRecord `json:"collateral"`
	FreshnessAge float64                              `json:"freshnessAgeSeconds"`
}

// handlePortfolioCurrent returns the latest snapshot alongside the
// protected-baseline floors and collateral health, plus how stale the
// snapshot is.
func (s *Server) handlePortfolioCurrent(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Snapshots.Latest()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	baselines, err := s.store.Baselines.All()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	collateral, err := s.store.Collateral.All()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := portfolioCurrentResponse{Snapshot: snap, Baselines: baselines, Collateral: collateral}
	if snap != nil {
		resp.FreshnessAge = time.Since(snap.Timestamp).Seconds()
	}
	writeJSON(w, http.StatusOK, resp)
}

type manualSnapshotRequest struct {
	Balances        map[domain.Asset]decimal.Decimal `json:"balances"`
	Prices          map[domain.Asset]decimal.Decimal `json:"prices"`
	Reason          string                            `json:"reason"`
	IsDeposit       bool                              `json:"isDeposit"`
	DepositAmounts  map[domain.Asset]decimal.Decimal `json:"depositAmounts"`
}

// handlePortfolioSnapshot records a manually-supplied snapshot. A deposit
// increments the baseline of every core asset configured with
// autoIncrementOnDeposit by the deposited amount — baselines are
// monotonic non-decreasing outside of this path (§3 invariant).
func (s *Server) handlePortfolioSnapshot(w http.ResponseWriter, r *http.Request) {
	var req manualSnapshotRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if len(req.Balances) == 0 || len(req.Prices) == 0 {
		writeError(w, http.StatusBadRequest, "balances and prices are required")
		return
	}

	now := time.Now().UTC()
	total := decimal.Zero
	for asset, qty := range req.Balances {
		total = total.Add(qty.Mul(req.Prices[asset]))
	}
	snap := domain.Snapshot{Timestamp: now, Balances: req.Balances, Prices: req.Prices, TotalUSD: total, Reason: req.Reason}
	id, err := s.store.Snapshots.Insert(snap)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	snap.ID = id

	if req.IsDeposit {
		s.applyDepositBaselines(req.DepositAmounts, now)
	}

	s.bus.Publish(domain.Event{Type: domain.EventPortfolioSnapshot, Data: snap, Timestamp: now})
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) applyDepositBaselines(depositAmounts map[domain.Asset]decimal.Decimal, now time.Time) {
	obj, err := s.store.Objectives.Get()
	if err != nil || obj == nil {
		return
	}
	for asset, amount := range depositAmounts {
		policy, ok := obj.CoreAssets[asset]
		if !ok || !policy.AutoIncrementOnDeposit || !amount.IsPositive() {
			continue
		}
		existing, err := s.store.Baselines.Get(asset)
		if err != nil {
			continue
		}
		current := decimal.Zero
		if existing != nil {
			current = existing.Quantity
		}
		_ = s.store.Baselines.Upsert(domain.Baseline{Asset: asset, Quantity: current.Add(amount), UpdatedAt: now})
	}
}

// handlePortfolioSnapshotForce pulls live balances and prices from the
// exchange client and persists the result, without requiring owner auth
// (rate-limited at the ingress layer per spec §6.2, not here).
func (s *Server) handlePortfolioSnapshotForce(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	balances, err := s.exchange.GetAllBalances(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, "exchange balances: "+err.Error())
		return
	}
	assets := make([]domain.Asset, 0, len(balances))
	for a := range balances {
		assets = append(assets, a)
	}
	prices, err := s.exchange.GetSpotPrices(ctx, assets)
	if err != nil {
		writeError(w, http.StatusBadGateway, "exchange prices: "+err.Error())
		return
	}

	total := decimal.Zero
	for asset, qty := range balances {
		total = total.Add(qty.Mul(prices[asset]))
	}
	now := time.Now().UTC()
	snap := domain.Snapshot{Timestamp: now, Balances: balances, Prices: prices, TotalUSD: total, Reason: "forced"}
	id, err := s.store.Snapshots.Insert(snap)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	snap.ID = id
	s.bus.Publish(domain.Event{Type: domain.EventPortfolioSnapshot, Data: snap, Timestamp: now})
	writeJSON(w, http.StatusCreated, snap)
}

// handlePortfolioChanges returns every snapshot recorded after ?since=
// (RFC3339), for dashboard diffing.
func (s *Server) handlePortfolioChanges(w http.ResponseWriter, r *http.Request) {
	sinceStr := r.URL.Query().Get("since")
	if sinceStr == "" {
		writeError(w, http.StatusBadRequest, "since query parameter is required (RFC3339)")
		return
	}
	since, err := time.Parse(time.RFC3339, sinceStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid since: "+err.Error())
		return
	}
	snaps, err := s.store.Snapshots.Since(since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}
