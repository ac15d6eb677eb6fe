package api

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

type healthResponse struct {
	Status  string `json:"status"`
	DBOK    bool   `json:"dbOk"`
	DryRun  bool   `json:"dryRun"`
	Time    string `json:"time"`
}

// handleHealth reports liveness, a database round-trip check, and whether
// the core is currently forced into dry-run.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if _, err := s.store.KillSwitch.Get(); err != nil {
		dbOK = false
	}
	resp := healthResponse{
		Status: "ok",
		DBOK:   dbOK,
		DryRun: s.cfg.DryRun || s.cfg.Owner.ID == "",
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
		resp.Status = "degraded"
	}
	writeJSON(w, status, resp)
}

type healthFullResponse struct {
	healthResponse
	UptimeSeconds     float64 `json:"uptimeSeconds"`
	Goroutines        int     `json:"goroutines"`
	RSSBytes          uint64  `json:"rssBytes,omitempty"`
	SystemMemUsedPct  float64 `json:"systemMemUsedPct,omitempty"`
	KillSwitchEnabled bool    `json:"killSwitchEnabled"`
	PendingApprovals  int     `json:"pendingApprovals"`
	LastExecutions    []lastExecutionSummary `json:"lastExecutions"`
}

type lastExecutionSummary struct {
	ApprovalID string `json:"approvalId"`
	Asset      string `json:"asset"`
	Status     string `json:"status"`
	CreatedAt  string `json:"createdAt"`
}

// handleHealthFull adds process diagnostics — RSS and system memory use via
// gopsutil, goroutine count and uptime from the runtime — plus kill-switch
// state, the pending-approval count and the most recent executions.
func (s *Server) handleHealthFull(w http.ResponseWriter, r *http.Request) {
	ks, _ := s.store.KillSwitch.Get()
	pending, _ := s.store.Approvals.Pending()

	resp := healthFullResponse{
		healthResponse: healthResponse{
			Status: "ok",
			DBOK:   true,
			DryRun: s.cfg.DryRun || s.cfg.Owner.ID == "",
			Time:   time.Now().UTC().Format(time.RFC3339),
		},
		UptimeSeconds:     time.Since(s.startedAt).Seconds(),
		Goroutines:        runtime.NumGoroutine(),
		KillSwitchEnabled: ks.Enabled,
		PendingApprovals:  len(pending),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfo(); err == nil && mi != nil {
			resp.RSSBytes = mi.RSS
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		resp.SystemMemUsedPct = vm.UsedPercent
	}

	all, _ := s.store.Approvals.List()
	limit := 10
	for i := 0; i < len(all) && limit > 0; i++ {
		a := all[i]
		if a.Execution == nil {
			continue
		}
		resp.LastExecutions = append(resp.LastExecutions, lastExecutionSummary{
			ApprovalID: a.ID,
			Asset:      string(a.Execution.Asset),
			Status:     string(a.Execution.Status),
			CreatedAt:  a.Execution.CreatedAt.UTC().Format(time.RFC3339),
		})
		limit--
	}

	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// handleStatus reports a bare process-alive timestamp.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "running", Time: time.Now().UTC().Format(time.RFC3339)})
}
