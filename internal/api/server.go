// Package api provides the HTTP API server for MarketPilot. It is the only
// surface the dashboards touch: read-only views plus the handful of mutators
// the engine permits (approve, reject, expert decision, step completion,
// hold/resume).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/marketpilot/marketpilot/internal/core"
	"github.com/marketpilot/marketpilot/internal/engine"
	"github.com/marketpilot/marketpilot/internal/logging"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	svc *engine.Service
	hub *Hub
	log *logging.Logger
}

// Config for the server
type Config struct {
	Host   string
	Port   int
	Engine *engine.Service
}

// New creates a new API server. The returned server's Hub implements
// engine.Publisher; wire it into the engine so state changes reach
// connected dashboards.
func New(cfg Config) *Server {
	s := &Server{
		svc: cfg.Engine,
		hub: NewHub(),
		log: logging.ForComponent("api"),
	}

	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Hub returns the WebSocket event hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		// Actions
		r.Post("/actions", s.handleSubmitCandidate)
		r.Get("/actions/{actionID}", s.handleGetAction)
		r.Post("/actions/{actionID}/approve", s.handleApprove)
		r.Post("/actions/{actionID}/reject", s.handleReject)
		r.Post("/actions/{actionID}/expert-decision", s.handleExpertDecision)
		r.Get("/actions/{actionID}/expert-decision", s.handleGetExpertDecision)
		r.Post("/actions/{actionID}/hold", s.handleHold)
		r.Post("/actions/{actionID}/resume", s.handleResume)

		// Queues
		r.Get("/queues/{lane}", s.handleGetQueue)
		r.Get("/queues", s.handleQueueStats)

		// Decisions
		r.Post("/decisions", s.handleCreateDecision)
		r.Get("/decisions", s.handleListDecisions)
		r.Get("/decisions/{decisionID}", s.handleGetDecision)
		r.Post("/decisions/{decisionID}/steps/{stepID}/complete", s.handleCompleteStep)
		r.Put("/decisions/{decisionID}/options", s.handleAttachOptions)

		// Clients
		r.Get("/clients/{clientID}/profile", s.handleGetProfile)
		r.Get("/clients/{clientID}/profile/history", s.handleGetProfileHistory)
		r.Get("/clients/{clientID}/actions", s.handleListActions)
		r.Get("/clients/{clientID}/decisions", s.handleListClientDecisions)

		// Ledger (read-only audit trail)
		NewLedgerAPI(s.svc.Ledger()).RegisterRoutes(r)

		// Health
		r.Get("/health", s.handleHealth)
	})

	// WebSocket event feed
	r.Get("/ws", s.hub.HandleWebSocket)

	s.router = r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go s.hub.Run()

	s.log.Info("API server listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Response helpers ---

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	s.respondJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps engine sentinels onto HTTP statuses. Matching runs through
// errors.Is so wrapped errors land on the right status too.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrActionNotFound),
		errors.Is(err, core.ErrDecisionNotFound),
		errors.Is(err, core.ErrStepNotFound),
		errors.Is(err, core.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidAction):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrAlreadyExecuting),
		errors.Is(err, core.ErrExpertDecisionExists),
		errors.Is(err, core.ErrVersionConflict),
		errors.Is(err, core.ErrDecisionArchived),
		errors.Is(err, core.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, core.ErrExecutionFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func limitParam(r *http.Request, fallback int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
