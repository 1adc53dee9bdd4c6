package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencommander/commander/internal/core"
	"github.com/opencommander/commander/internal/tasks"
)

// createTaskResponse is the new task with its first execution.
type createTaskResponse struct {
	core.Task
	Execution *core.TaskExecution `json:"execution"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Tasks.List(r.Context(), currentUser(r).ID, chi.URLParam(r, "projectID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var in tasks.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	task, exec, err := s.deps.Tasks.Create(r.Context(), currentUser(r).ID, chi.URLParam(r, "projectID"), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, createTaskResponse{Task: *task, Execution: exec})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	detail, err := s.deps.Tasks.Get(r.Context(), currentUser(r).ID, chi.URLParam(r, "taskID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	detail.Executions = nonNil(detail.Executions)
	s.respondJSON(w, http.StatusOK, detail)
}

func (s *Server) handleRerunTask(w http.ResponseWriter, r *http.Request) {
	exec, err := s.deps.Tasks.Rerun(r.Context(), currentUser(r).ID, chi.URLParam(r, "taskID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, exec)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.deps.Tasks.Execution(r.Context(), currentUser(r).ID, chi.URLParam(r, "executionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, exec)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Queue.Counts(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, counts)
}
