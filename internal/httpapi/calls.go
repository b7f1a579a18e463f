package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/voxline/internal/callhistory"
)

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	if s.calls == nil {
		respondJSON(w, http.StatusOK, []callhistory.Record{})
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	records, err := s.calls.List(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "call_store_error", err.Error())
		return
	}
	if records == nil {
		records = []callhistory.Record{}
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	if s.calls == nil {
		respondError(w, http.StatusNotFound, "call_not_found", callhistory.ErrNotFound.Error())
		return
	}
	record, err := s.calls.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, callhistory.ErrNotFound) {
			respondError(w, http.StatusNotFound, "call_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "call_store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, record)
}
