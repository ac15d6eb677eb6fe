package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"goldcore/pkg/domain"
)

// handleApprovalsList returns every approval, newest first.
func (s *Server) handleApprovalsList(w http.ResponseWriter, r *http.Request) {
	approvals, err := s.store.Approvals.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, approvals)
}

// handleApprovalsPending returns approvals currently awaiting a decision.
func (s *Server) handleApprovalsPending(w http.ResponseWriter, r *http.Request) {
	approvals, err := s.store.Approvals.Pending()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, approvals)
}

type approvalCreateRequest struct {
	RuleID   string              `json:"ruleId"`
	Source   domain.IntentSource `json:"source"`
	Action   domain.Action       `json:"action"`
	Quantity string              `json:"quantity"`
	Price    string              `json:"price"`
	Reason   string              `json:"reason"`
}

// handleApprovalsCreate accepts a candidate Intent from an external
// integration, runs it through the risk pipeline exactly as a rule-sourced
// Intent would be, and routes whatever survives to the approval workflow.
func (s *Server) handleApprovalsCreate(w http.ResponseWriter, r *http.Request) {
	var req approvalCreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	quantity, err := parseDecimalField(req.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid quantity: "+err.Error())
		return
	}
	price, err := parseDecimalField(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid price: "+err.Error())
		return
	}

	source := req.Source
	if source == "" {
		source = domain.IntentSourceManual
	}
	intent := domain.Intent{
		RuleID:    req.RuleID,
		Source:    source,
		Action:    req.Action,
		Quantity:  quantity,
		Price:     price,
		Reason:    req.Reason,
		CreatedAt: time.Now().UTC(),
	}

	decision, err := s.orchestrator.Submit(r.Context(), intent)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !decision.Accepted {
		writeJSON(w, http.StatusOK, decision)
		return
	}
	writeJSON(w, http.StatusCreated, decision)
}

type approvalPatchRequest struct {
	Status  domain.ApprovalStatus `json:"status"`
	ActedBy string                `json:"actedBy"`
	MFACode string                `json:"mfaCode"`
}

// handleApprovalsPatch moves an approval to a new status. A request carrying
// an mfaCode instead verifies the MFA challenge, whatever its status field,
// rather than deciding the approval directly, since MFA verification is what actually
// triggers execution for an auto-executable trade (§4.4).
func (s *Server) handleApprovalsPatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req approvalPatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	if req.MFACode != "" {
		if err := s.workflow.VerifyMFA(r.Context(), id, req.MFACode); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		appr, err := s.store.Approvals.Get(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, appr)
		return
	}

	switch req.Status {
	case domain.ApprovalApproved:
		if err := s.workflow.Decide(r.Context(), id, req.ActedBy, true); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	case domain.ApprovalDeclined:
		if err := s.workflow.Decide(r.Context(), id, req.ActedBy, false); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "status must be approved or declined")
		return
	}

	appr, err := s.store.Approvals.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, appr)
}
