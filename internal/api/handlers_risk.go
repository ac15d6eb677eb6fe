package api

import (
	"net/http"

	"goldcore/internal/optimizer"
)

// handleRiskState returns the risk pipeline's rolling counters: hourly
// trade velocity, daily realized PnL, and circuit breaker disposition.
func (s *Server) handleRiskState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.risk.Snapshot())
}

type monteCarloRequest struct {
	Returns []float64 `json:"returns"`
	Runs    int       `json:"runs"`
	Seed    int64     `json:"seed"`
}

// handleMonteCarlo runs a bootstrap resample over a caller-supplied return
// series. A UI-facing projection only — never consulted by the risk
// pipeline or the approval workflow.
func (s *Server) handleMonteCarlo(w http.ResponseWriter, r *http.Request) {
	var req monteCarloRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	seed := req.Seed
	if seed == 0 {
		seed = s.cfg.Optimizer.Seed
	}
	result, err := optimizer.MonteCarlo(req.Returns, req.Runs, seed)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
