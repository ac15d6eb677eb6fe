package api

import (
	"net/http"
	"time"

	"goldcore/pkg/domain"
)

// handleKillSwitchGet returns the current kill-switch state.
func (s *Server) handleKillSwitchGet(w http.ResponseWriter, r *http.Request) {
	ks, err := s.store.KillSwitch.Get()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ks)
}

type killSwitchRequest struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason"`
	SetBy   string `json:"setBy"`
}

// handleKillSwitchSet flips the global halt flag. Enabling it immediately
// defers every approved-but-not-yet-executed approval (§4.4's kill-switch
// invariant); disabling it does not auto-resume deferred approvals — those
// still require an explicit PATCH to move them forward.
func (s *Server) handleKillSwitchSet(w http.ResponseWriter, r *http.Request) {
	var req killSwitchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	now := time.Now().UTC()
	ks := domain.KillSwitch{Enabled: req.Enabled, Reason: req.Reason, SetBy: req.SetBy, SetAt: now}
	if err := s.store.KillSwitch.Put(ks); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.Enabled {
		if err := s.workflow.DeferOnKillSwitch(r.Context()); err != nil {
			s.log.Error().Err(err).Msg("failed to defer approvals on kill-switch engage")
		}
	}

	s.bus.Publish(domain.Event{Type: domain.EventKillSwitchChanged, Data: ks, Timestamp: now})
	writeJSON(w, http.StatusOK, ks)
}
