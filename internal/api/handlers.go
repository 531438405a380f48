package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/codespace-tools/warden/internal/engine"
	"github.com/codespace-tools/warden/internal/gh"
	"github.com/codespace-tools/warden/internal/outcome"
)

// HealthzResponse is the unauthenticated liveness payload.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	LastCycleID   string `json:"last_cycle_id,omitempty"`
	LastCycleAt   string `json:"last_cycle_at,omitempty"`
}

// StatusResponse reports the policy snapshot, the last cycle and recent
// outcomes.
type StatusResponse struct {
	Policy    PolicyView        `json:"policy"`
	LastCycle engine.CycleStats `json:"last_cycle"`
	Outcomes  []outcome.Outcome `json:"outcomes"`
}

// PolicyView is the read-only rendering of the active policy.
type PolicyView struct {
	Enabled       bool     `json:"enabled"`
	MaxConcurrent int      `json:"max_concurrent"`
	IdleThreshold string   `json:"idle_threshold"`
	ExcludedRepos []string `json:"excluded_repos,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		LastCycleID:   stats.CycleID,
	}
	if !stats.CompletedAt.IsZero() {
		resp.LastCycleAt = stats.CompletedAt.UTC().Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rules := s.rules()

	outcomes, err := s.outcomes.Recent(r.Context(), 50)
	if err != nil {
		s.logger.Error("failed to read outcome log", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read outcome log")
		return
	}

	s.writeJSON(w, http.StatusOK, StatusResponse{
		Policy: PolicyView{
			Enabled:       rules.Enabled,
			MaxConcurrent: rules.MaxConcurrent,
			IdleThreshold: rules.IdleThreshold.String(),
			ExcludedRepos: rules.ExcludedRepos,
		},
		LastCycle: s.engine.Stats(),
		Outcomes:  outcomes,
	})
}

// handleActivity is the ingress for workspace activity observations: the
// browser-side collaborator reports a workspace becoming visible/active here.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	if workspaceID == "" {
		s.writeError(w, http.StatusBadRequest, "workspace id is required")
		return
	}

	if err := s.engine.ActivityEvent(r.Context(), workspaceID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"workspace_id": workspaceID, "status": "recorded"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	if workspaceID == "" {
		s.writeError(w, http.StatusBadRequest, "workspace id is required")
		return
	}

	if err := s.engine.ManualStop(r.Context(), workspaceID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"workspace_id": workspaceID, "status": "stopped"})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.PeriodicCheck(r.Context()); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.Stats())
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var apiErr *gh.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case gh.KindAuthFailure:
			s.writeError(w, http.StatusUnauthorized, "provider rejected credential")
			return
		case gh.KindForbidden:
			s.writeError(w, http.StatusForbidden, "credential lacks required scope")
			return
		case gh.KindNotFound:
			s.writeError(w, http.StatusNotFound, "workspace not found")
			return
		case gh.KindRateLimited:
			s.writeError(w, http.StatusTooManyRequests, "provider rate limit exhausted")
			return
		}
	}
	s.writeError(w, http.StatusBadGateway, "provider temporarily unavailable")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
