package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tbendali/taskdeck/internal/events"
)

var ErrTaskNotFound = errors.New("task not found")

// EngineMirror is the slice of the engine bridge the task service
// needs. Mirror calls are best-effort: the durable store has already
// committed by the time they run.
type EngineMirror interface {
	CreateTask(ctx context.Context, task Task) error
	UpdateTask(ctx context.Context, taskID string, task Task) error
	DeleteTask(ctx context.Context, taskID string) error
}

// Recorder captures the inverse of a mutation for later undo.
type Recorder interface {
	Record(ctx context.Context, userID string, op Operation) error
}

// Service implements the caller-facing task mutations. Each one writes
// the durable store first (a store failure aborts before anything else
// happens), then records the undo operation, then mirrors into the
// engine.
type Service struct {
	store    Store
	engine   EngineMirror
	recorder Recorder
	bus      *events.Bus
}

func NewService(store Store, engine EngineMirror, recorder Recorder, bus *events.Bus) *Service {
	return &Service{store: store, engine: engine, recorder: recorder, bus: bus}
}

type CreateRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    *Priority  `json:"priority"`
	Status      *Status    `json:"status"`
	Tags        []string   `json:"tags"`
	DueDate     *time.Time `json:"dueDate"`
}

func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (Task, error) {
	userID = strings.TrimSpace(userID)
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return Task{}, errors.New("title is required")
	}

	task := Task{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       title,
		Description: req.Description,
		Priority:    PriorityMedium,
		Status:      StatusToDo,
		Tags:        req.Tags,
		DueDate:     req.DueDate,
		CreatedAt:   time.Now().UTC(),
	}
	if req.Priority != nil {
		if !req.Priority.Valid() {
			return Task{}, fmt.Errorf("invalid priority %d", *req.Priority)
		}
		task.Priority = *req.Priority
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			return Task{}, fmt.Errorf("invalid status %d", *req.Status)
		}
		task.Status = *req.Status
	}
	if task.Tags == nil {
		task.Tags = []string{}
	}

	if err := s.store.SaveTask(ctx, task); err != nil {
		return Task{}, fmt.Errorf("persist task: %w", err)
	}

	s.record(ctx, userID, Operation{
		Kind:     OpCreate,
		TaskID:   task.ID,
		NewState: snapshot(task),
	})
	if err := s.engine.CreateTask(ctx, task); err != nil {
		log.Printf("tasks: engine mirror of create %s failed: %v", task.ID, err)
	}
	s.publish(events.Event{Type: events.TypeTaskCreated, UserID: userID, TaskID: task.ID})
	return task, nil
}

// UpdateRequest carries only the fields to change; nil means keep.
type UpdateRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Priority    *Priority  `json:"priority"`
	Status      *Status    `json:"status"`
	Tags        []string   `json:"tags"`
	IsFavorite  *bool      `json:"isFavorite"`
	DueDate     *time.Time `json:"dueDate"`
}

// Update applies the requested changes. Status jumps are deliberately
// not validated here; the only status gate in the system is queue
// admission.
func (s *Service) Update(ctx context.Context, userID, taskID string, req UpdateRequest) (Task, error) {
	userID = strings.TrimSpace(userID)
	taskID = strings.TrimSpace(taskID)

	existing, err := s.store.GetTask(ctx, userID, taskID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, fmt.Errorf("lookup task: %w", err)
	}
	prev := existing.Clone()

	updated := existing.Clone()
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return Task{}, errors.New("title cannot be empty")
		}
		updated.Title = title
	}
	if req.Description != nil {
		updated.Description = *req.Description
	}
	if req.Priority != nil {
		if !req.Priority.Valid() {
			return Task{}, fmt.Errorf("invalid priority %d", *req.Priority)
		}
		updated.Priority = *req.Priority
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			return Task{}, fmt.Errorf("invalid status %d", *req.Status)
		}
		updated.Status = *req.Status
	}
	if req.Tags != nil {
		updated.Tags = req.Tags
	}
	if req.IsFavorite != nil {
		updated.IsFavorite = *req.IsFavorite
	}
	if req.DueDate != nil {
		updated.DueDate = req.DueDate
	}

	if err := s.store.SaveTask(ctx, updated); err != nil {
		return Task{}, fmt.Errorf("persist task: %w", err)
	}

	s.record(ctx, userID, Operation{
		Kind:          OpUpdate,
		TaskID:        taskID,
		PreviousState: &prev,
		NewState:      snapshot(updated),
	})
	if err := s.engine.UpdateTask(ctx, taskID, updated); err != nil {
		log.Printf("tasks: engine mirror of update %s failed: %v", taskID, err)
	}
	s.publish(events.Event{Type: events.TypeTaskUpdated, UserID: userID, TaskID: taskID})
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, userID, taskID string) error {
	userID = strings.TrimSpace(userID)
	taskID = strings.TrimSpace(taskID)

	existing, err := s.store.GetTask(ctx, userID, taskID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("lookup task: %w", err)
	}
	prev := existing.Clone()

	if err := s.store.DeleteTask(ctx, userID, taskID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}

	s.record(ctx, userID, Operation{
		Kind:          OpDelete,
		TaskID:        taskID,
		PreviousState: &prev,
	})
	if err := s.engine.DeleteTask(ctx, taskID); err != nil {
		log.Printf("tasks: engine mirror of delete %s failed: %v", taskID, err)
	}
	s.publish(events.Event{Type: events.TypeTaskDeleted, UserID: userID, TaskID: taskID})
	return nil
}

func (s *Service) Get(ctx context.Context, userID, taskID string) (Task, error) {
	task, err := s.store.GetTask(ctx, strings.TrimSpace(userID), strings.TrimSpace(taskID))
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, fmt.Errorf("lookup task: %w", err)
	}
	return task, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]Task, error) {
	return s.store.ListTasks(ctx, strings.TrimSpace(userID))
}

func (s *Service) record(ctx context.Context, userID string, op Operation) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, userID, op); err != nil {
		log.Printf("tasks: recording %s of %s for undo failed: %v", op.Kind, op.TaskID, err)
	}
}

func (s *Service) publish(evt events.Event) {
	if s.bus != nil {
		s.bus.Publish(evt)
	}
}

func snapshot(t Task) *Task {
	snap := t.Clone()
	return &snap
}
