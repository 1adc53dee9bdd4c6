package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opencommander/commander/internal/core"
)

type createProjectRequest struct {
	Name string `json:"name"`
}

type createSessionRequest struct {
	Name string `json:"name"`
}

type addMemberRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, currentUser(r))
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.deps.Store.ListProjectsForUser(r.Context(), currentUser(r).ID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, nonNil(projects))
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		s.respondError(w, r, core.ErrValidation(core.CodeEmptyName, "name is required"))
		return
	}

	p := &core.Project{Name: name, OwnerID: currentUser(r).ID}
	if err := s.deps.Store.CreateProject(r.Context(), p); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.visibleProject(r.Context(), currentUser(r).ID, chi.URLParam(r, "projectID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, p)
}

// handleAddMember lets the project owner grant another user access.
func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := currentUser(r)
	p, err := s.visibleProject(ctx, caller.ID, chi.URLParam(r, "projectID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if p.OwnerID != caller.ID {
		s.respondError(w, r, core.ErrNotFound("project", p.ID))
		return
	}

	var req addMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		s.respondError(w, r, core.ErrValidation("EMPTY_USER_ID", "userId is required"))
		return
	}
	if _, err := s.deps.Store.GetUser(ctx, req.UserID); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.deps.Store.AddProjectMember(ctx, p.ID, req.UserID); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondOK(w)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := s.visibleProject(ctx, currentUser(r).ID, chi.URLParam(r, "projectID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	sessions, err := s.deps.Store.ListSessions(ctx, p.ID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, nonNil(sessions))
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := currentUser(r)
	p, err := s.visibleProject(ctx, caller.ID, chi.URLParam(r, "projectID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		s.respondError(w, r, core.ErrValidation(core.CodeEmptyName, "name is required"))
		return
	}

	sess := &core.Session{ProjectID: p.ID, Name: name, CreatedBy: caller.ID}
	if err := s.deps.Store.CreateSession(ctx, sess); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "sessionID")
	sess, err := s.deps.Store.GetSession(ctx, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if _, err := s.visibleProject(ctx, currentUser(r).ID, sess.ProjectID); err != nil {
		s.respondError(w, r, core.ErrNotFound("session", id))
		return
	}
	if err := s.deps.Store.DeleteSession(ctx, id); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondOK(w)
}

// visibleProject loads a project the user is a member of. Missing and
// foreign projects produce the same not-found error.
func (s *Server) visibleProject(ctx context.Context, userID, projectID string) (*core.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, core.ErrValidation(core.CodeEmptyProjectID, "projectId is required")
	}
	ok, err := s.deps.Store.IsProjectMember(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrNotFound("project", projectID)
	}
	return s.deps.Store.GetProject(ctx, projectID)
}

// authorizeEvents admits SSE subscribers to projects they are members of.
func (s *Server) authorizeEvents(r *http.Request, projectID string) error {
	_, err := s.visibleProject(r.Context(), currentUser(r).ID, projectID)
	return err
}
