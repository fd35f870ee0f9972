package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tbendali/taskdeck/internal/queue"
)

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	res, err := s.queue.Enqueue(r.Context(), userID, chi.URLParam(r, "taskID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"queueSize": res.QueueSize,
		"position":  res.Position,
	})
}

func (s *Server) handleDequeueNext(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	res, err := s.queue.DequeueNext(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"task":             res.Task,
		"remainingInQueue": res.Remaining,
	})
}

func (s *Server) handlePeekNext(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	res, err := s.queue.PeekNext(r.Context(), userID)
	if err != nil {
		// Peeking an empty queue is asking for something that does not
		// exist, not a bad request.
		if errors.Is(err, queue.ErrQueueEmpty) {
			respondError(w, http.StatusNotFound, "queue_empty", err.Error())
			return
		}
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"task":      res.Task,
		"queueSize": res.Remaining,
	})
}

func (s *Server) handleViewQueue(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	entries, err := s.queue.Entries(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"queue":     entries,
		"queueSize": len(entries),
	})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	status, err := s.queue.Status(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	body := map[string]any{
		"queueSize":  status.QueueSize,
		"isEmpty":    status.IsEmpty,
		"hasNext":    status.HasNext,
		"nextTaskId": status.NextTaskID,
	}
	if status.EngineQueueSize != nil {
		body["engineQueueSize"] = *status.EngineQueueSize
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	removed, err := s.queue.Clear(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"cleared": removed,
	})
}
