package api

import (
	"net/http"
	"time"

	"goldcore/pkg/domain"
)

// handleObjectivesGet returns the owner's singleton policy document.
func (s *Server) handleObjectivesGet(w http.ResponseWriter, r *http.Request) {
	obj, err := s.store.Objectives.Get()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if obj == nil {
		writeJSON(w, http.StatusOK, domain.Objectives{})
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

// handleObjectivesPut replaces the owner's policy document in full.
func (s *Server) handleObjectivesPut(w http.ResponseWriter, r *http.Request) {
	var obj domain.Objectives
	if err := decodeBody(r, &obj); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	obj.UpdatedAt = time.Now().UTC()
	if err := s.store.Objectives.Put(obj); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, obj)
}
