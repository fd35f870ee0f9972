package httpapi

import (
	"net/http"
)

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	kind, err := s.undo.Undo(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"undone": string(kind),
	})
}

func (s *Server) handleUndoStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	status, err := s.undo.Status(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	body := map[string]any{
		"canUndo": status.CanUndo,
		"count":   status.Count,
	}
	if status.EngineHasUndo != nil {
		body["engineHasUndo"] = *status.EngineHasUndo
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleUndoHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	history, err := s.undo.History(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"history": history,
		"count":   len(history),
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	if err := s.undo.Clear(r.Context(), userID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"cleared": true,
	})
}
