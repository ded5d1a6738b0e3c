package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marketpilot/marketpilot/internal/core"
)

// handleGetProfile returns the client's current autonomy profile, creating
// the default snapshot if this is the first contact with the client.
// GET /api/v1/clients/{clientID}/profile
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Profile(core.ClientID(chi.URLParam(r, "clientID")))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, p)
}

// handleGetProfileHistory returns the append-only snapshot history.
// GET /api/v1/clients/{clientID}/profile/history
func (s *Server) handleGetProfileHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.svc.ProfileHistory(core.ClientID(chi.URLParam(r, "clientID")), limitParam(r, 100))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": history,
		"count":     len(history),
	})
}
