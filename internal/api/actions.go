package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marketpilot/marketpilot/internal/core"
)

// handleSubmitCandidate ingests a signal-producer candidate.
// POST /api/v1/actions
func (s *Server) handleSubmitCandidate(w http.ResponseWriter, r *http.Request) {
	var cand core.ActionCandidate
	if err := json.NewDecoder(r.Body).Decode(&cand); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	a, err := s.svc.SubmitCandidate(r.Context(), cand)
	if err != nil && a == nil {
		s.respondError(w, err)
		return
	}
	if err != nil {
		// Classified and persisted, but the auto-execution attempt failed;
		// the caller decides whether to retry.
		s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"action": a,
			"error":  err.Error(),
		})
		return
	}

	s.respondJSON(w, http.StatusCreated, a)
}

// handleGetAction returns one action.
// GET /api/v1/actions/{actionID}
func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.GetAction(core.ActionID(chi.URLParam(r, "actionID")))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

// handleApprove clears a pending action and executes it.
// POST /api/v1/actions/{actionID}/approve
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Reasoning string `json:"reasoning"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	a, err := s.svc.Approve(r.Context(), core.ActionID(chi.URLParam(r, "actionID")), input.Reasoning)
	if err != nil && a == nil {
		s.respondError(w, err)
		return
	}
	if err != nil {
		s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"action": a,
			"error":  err.Error(),
		})
		return
	}

	s.respondJSON(w, http.StatusOK, a)
}

// handleReject rejects a pending or expert-queued action.
// POST /api/v1/actions/{actionID}/reject
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Reasoning string `json:"reasoning"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	a, err := s.svc.Reject(core.ActionID(chi.URLParam(r, "actionID")), input.Reasoning)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

// handleExpertDecision applies an expert verdict.
// POST /api/v1/actions/{actionID}/expert-decision
func (s *Server) handleExpertDecision(w http.ResponseWriter, r *http.Request) {
	var ed core.ExpertDecision
	if err := json.NewDecoder(r.Body).Decode(&ed); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	a, err := s.svc.SubmitExpertDecision(r.Context(), core.ActionID(chi.URLParam(r, "actionID")), ed)
	if err != nil && a == nil {
		s.respondError(w, err)
		return
	}
	if err != nil {
		s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"action": a,
			"error":  err.Error(),
		})
		return
	}

	s.respondJSON(w, http.StatusOK, a)
}

// handleGetExpertDecision returns the recorded expert decision, if any.
// GET /api/v1/actions/{actionID}/expert-decision
func (s *Server) handleGetExpertDecision(w http.ResponseWriter, r *http.Request) {
	ed, err := s.svc.GetExpertDecision(core.ActionID(chi.URLParam(r, "actionID")))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ed)
}

// handleHold parks an action.
// POST /api/v1/actions/{actionID}/hold
func (s *Server) handleHold(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Hold(core.ActionID(chi.URLParam(r, "actionID")))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

// handleResume takes a held action back into the flow.
// POST /api/v1/actions/{actionID}/resume
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Resume(r.Context(), core.ActionID(chi.URLParam(r, "actionID")))
	if err != nil && a == nil {
		s.respondError(w, err)
		return
	}
	if err != nil {
		s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"action": a,
			"error":  err.Error(),
		})
		return
	}

	s.respondJSON(w, http.StatusOK, a)
}

// handleGetQueue returns one status lane.
// GET /api/v1/queues/{lane}
func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, 50)

	var (
		actions []core.Action
		err     error
	)
	switch lane := chi.URLParam(r, "lane"); lane {
	case "auto":
		actions, err = s.svc.Queues().Auto(limit)
	case "approval":
		actions, err = s.svc.Queues().Approval(limit)
	case "expert":
		actions, err = s.svc.Queues().Expert(limit)
	case "held":
		actions, err = s.svc.Queues().Held(limit)
	default:
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown queue lane: " + lane})
		return
	}

	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"actions": actions,
		"count":   len(actions),
	})
}

// handleQueueStats returns queue depth per status.
// GET /api/v1/queues
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Queues().Stats()
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

// handleListActions returns a client's actions.
// GET /api/v1/clients/{clientID}/actions
func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	actions, err := s.svc.ListActions(core.ClientID(chi.URLParam(r, "clientID")), limitParam(r, 50))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, actions)
}
