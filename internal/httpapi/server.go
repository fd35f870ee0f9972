package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tbendali/taskdeck/internal/config"
	"github.com/tbendali/taskdeck/internal/engine"
	"github.com/tbendali/taskdeck/internal/events"
	"github.com/tbendali/taskdeck/internal/observability"
	"github.com/tbendali/taskdeck/internal/queue"
	"github.com/tbendali/taskdeck/internal/tasks"
	"github.com/tbendali/taskdeck/internal/undo"
)

const userHeader = "X-User-ID"

type Server struct {
	cfg      config.Config
	tasks    *tasks.Service
	queue    *queue.Manager
	undo     *undo.Manager
	bus      *events.Bus
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, taskService *tasks.Service, queueManager *queue.Manager, undoManager *undo.Manager, bus *events.Bus, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		tasks:   taskService,
		queue:   queueManager,
		undo:    undoManager,
		bus:     bus,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from
				// the same origin, so other sites cannot watch a user's
				// task stream if taskdeck is exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/tasks", s.handleCreateTask)
	r.Get("/v1/tasks", s.handleListTasks)
	r.Get("/v1/tasks/{taskID}", s.handleGetTask)
	r.Put("/v1/tasks/{taskID}", s.handleUpdateTask)
	r.Delete("/v1/tasks/{taskID}", s.handleDeleteTask)

	r.Post("/v1/queue/add/{taskID}", s.handleEnqueue)
	r.Post("/v1/queue/next", s.handleDequeueNext)
	r.Get("/v1/queue/peek", s.handlePeekNext)
	r.Get("/v1/queue/view", s.handleViewQueue)
	r.Get("/v1/queue/status", s.handleQueueStatus)
	r.Delete("/v1/queue", s.handleClearQueue)

	r.Post("/v1/undo", s.handleUndo)
	r.Get("/v1/undo/status", s.handleUndoStatus)
	r.Get("/v1/undo/history", s.handleUndoHistory)
	r.Delete("/v1/undo/history", s.handleClearHistory)

	r.Get("/v1/events/ws", s.handleEventsWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// handleEventsWS streams per-user events over a websocket. The
// subscription drops events when the client cannot keep up, so this is
// a notification feed, not a durable change log.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	userID := ownerOf(r)
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user", "header "+userHeader+" is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("httpapi: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch, cancel := s.bus.Subscribe(userID)
	defer cancel()

	// Drain reads so client close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for evt := range ch {
		if err := conn.WriteJSON(evt); err != nil {
			return
		}
	}
}

// ownerOf extracts the owning user from the request. Every data route
// is scoped by this value.
func ownerOf(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(userHeader))
}

func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := ownerOf(r)
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user", "header "+userHeader+" is required")
		return "", false
	}
	return userID, true
}

// respondDomainError maps the service sentinels onto HTTP statuses.
// Each engine failure kind keeps its own code so callers can tell a
// dead process from a slow one from a misbehaving one; everything
// unrecognized is a store-side 500.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tasks.ErrTaskNotFound):
		respondError(w, http.StatusNotFound, "task_not_found", err.Error())
	case errors.Is(err, queue.ErrInvalidTaskState):
		respondError(w, http.StatusBadRequest, "invalid_task_state", err.Error())
	case errors.Is(err, queue.ErrAlreadyQueued):
		respondError(w, http.StatusBadRequest, "already_queued", err.Error())
	case errors.Is(err, queue.ErrQueueEmpty):
		respondError(w, http.StatusBadRequest, "queue_empty", err.Error())
	case errors.Is(err, undo.ErrNothingToUndo):
		respondError(w, http.StatusBadRequest, "nothing_to_undo", err.Error())
	case errors.Is(err, engine.ErrUnavailable):
		respondError(w, http.StatusBadGateway, "engine_unavailable", err.Error())
	case errors.Is(err, engine.ErrTimeout):
		respondError(w, http.StatusBadGateway, "engine_timeout", err.Error())
	case errors.Is(err, engine.ErrProtocol):
		respondError(w, http.StatusBadGateway, "engine_protocol_error", err.Error())
	case errors.Is(err, engine.ErrRejected):
		respondError(w, http.StatusBadGateway, "engine_rejected", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
