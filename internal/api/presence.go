package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type heartbeatRequest struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.deps.Presence.Heartbeat(r.Context(), currentUser(r).ID, req.SessionID, req.Status); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondOK(w)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Presence.Leave(r.Context(), currentUser(r).ID); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondOK(w)
}

func (s *Server) handleListPresence(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Presence.ListByProject(r.Context(), currentUser(r).ID, r.URL.Query().Get("projectId"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, nonNil(entries))
}

func (s *Server) handleSessionPresence(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Presence.ListBySession(r.Context(), currentUser(r).ID, chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, nonNil(entries))
}

// nonNil makes empty lists encode as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
