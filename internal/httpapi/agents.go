package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/voxline/internal/agent"
)

// Agent writes only change the directory. Live calls keep the snapshot they
// resolved when they started.

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if s.agents == nil {
		respondJSON(w, http.StatusOK, []agent.Config{})
		return
	}
	list, err := s.agents.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "agent_store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	if !s.requireAgents(w) {
		return
	}
	cfg, err := s.agents.Lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondAgentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	if !s.requireAgents(w) {
		return
	}
	cfg := agent.Defaults()
	if err := decodeJSON(r, &cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	created, err := s.agents.Create(r.Context(), cfg)
	if err != nil {
		s.respondAgentError(w, err)
		return
	}
	s.logger.Info().Str("agent_id", created.ID).Msg("agent created")
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	if !s.requireAgents(w) {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	cfg, err := s.agents.Lookup(r.Context(), id)
	if err != nil {
		s.respondAgentError(w, err)
		return
	}
	if err := decodeJSON(r, &cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	cfg.ID = id

	updated, err := s.agents.Update(r.Context(), cfg)
	if err != nil {
		s.respondAgentError(w, err)
		return
	}
	s.logger.Info().Str("agent_id", updated.ID).Msg("agent updated")
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if !s.requireAgents(w) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.agents.Delete(r.Context(), id); err != nil {
		s.respondAgentError(w, err)
		return
	}
	s.logger.Info().Str("agent_id", id).Msg("agent deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requireAgents(w http.ResponseWriter) bool {
	if s.agents == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "agent store not configured")
		return false
	}
	return true
}

func (s *Server) respondAgentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agent.ErrNotFound):
		respondError(w, http.StatusNotFound, "agent_not_found", err.Error())
	case errors.Is(err, agent.ErrInvalid):
		respondError(w, http.StatusBadRequest, "invalid_agent", err.Error())
	case errors.Is(err, agent.ErrExists):
		respondError(w, http.StatusConflict, "agent_exists", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "agent_store_error", err.Error())
	}
}
