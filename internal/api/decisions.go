package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marketpilot/marketpilot/internal/core"
)

// handleCreateDecision spawns a guided decision from a trigger.
// POST /api/v1/decisions
func (s *Server) handleCreateDecision(w http.ResponseWriter, r *http.Request) {
	var trigger core.DecisionTrigger
	if err := json.NewDecoder(r.Body).Decode(&trigger); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	d, err := s.svc.CreateDecision(trigger)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, d)
}

// handleListDecisions returns active decisions across clients.
// GET /api/v1/decisions
func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	ds, err := s.svc.ActiveDecisions(limitParam(r, 50))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ds)
}

// handleGetDecision returns one decision.
// GET /api/v1/decisions/{decisionID}
func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.GetDecision(core.DecisionID(chi.URLParam(r, "decisionID")))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, d)
}

// handleCompleteStep marks a decision step complete.
// POST /api/v1/decisions/{decisionID}/steps/{stepID}/complete
func (s *Server) handleCompleteStep(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.CompleteStep(
		core.DecisionID(chi.URLParam(r, "decisionID")),
		core.StepID(chi.URLParam(r, "stepID")),
	)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, d)
}

// handleAttachOptions replaces the decision's option set.
// PUT /api/v1/decisions/{decisionID}/options
func (s *Server) handleAttachOptions(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Options []core.Option `json:"options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	d, err := s.svc.AttachOptions(core.DecisionID(chi.URLParam(r, "decisionID")), input.Options)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, d)
}

// handleListClientDecisions returns a client's decisions.
// GET /api/v1/clients/{clientID}/decisions
func (s *Server) handleListClientDecisions(w http.ResponseWriter, r *http.Request) {
	ds, err := s.svc.ListDecisions(core.ClientID(chi.URLParam(r, "clientID")), limitParam(r, 50))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ds)
}
