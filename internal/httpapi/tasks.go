package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tbendali/taskdeck/internal/tasks"
)

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req tasks.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	task, err := s.tasks.Create(r.Context(), userID, req)
	if err != nil {
		if isValidation(err) {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	list, err := s.tasks.List(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tasks": list,
		"count": len(list),
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	task, err := s.tasks.Get(r.Context(), userID, chi.URLParam(r, "taskID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req tasks.UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	task, err := s.tasks.Update(r.Context(), userID, chi.URLParam(r, "taskID"), req)
	if err != nil {
		if isValidation(err) {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	taskID := chi.URLParam(r, "taskID")
	if err := s.tasks.Delete(r.Context(), userID, taskID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"deleted": true,
		"taskId":  taskID,
	})
}

// isValidation reports whether err is a caller mistake in the request
// body rather than a domain or infrastructure failure. The service
// returns these as plain errors without a sentinel.
func isValidation(err error) bool {
	if errors.Is(err, tasks.ErrTaskNotFound) {
		return false
	}
	msg := err.Error()
	for _, prefix := range []string{"title", "invalid priority", "invalid status"} {
		if len(msg) >= len(prefix) && msg[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
