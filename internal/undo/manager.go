package undo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/tbendali/taskdeck/internal/engine"
	"github.com/tbendali/taskdeck/internal/events"
	"github.com/tbendali/taskdeck/internal/observability"
	"github.com/tbendali/taskdeck/internal/tasks"
)

var ErrNothingToUndo = errors.New("nothing to undo")

const DefaultHistoryLimit = 20

// Manager records the inverse of every mutating task operation and
// replays it on demand against both stores. Unlike queue mirroring,
// a failed engine call here fails the whole undo: a half-applied
// inverse would diverge task content beyond what resync can repair.
type Manager struct {
	store   tasks.Store
	engine  engine.Client
	bus     *events.Bus
	metrics *observability.Metrics
	limit   int

	mu     sync.Mutex
	owners map[string]*sync.Mutex
}

func NewManager(store tasks.Store, eng engine.Client, bus *events.Bus, metrics *observability.Metrics, limit int) *Manager {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Manager{
		store:   store,
		engine:  eng,
		bus:     bus,
		metrics: metrics,
		limit:   limit,
		owners:  make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lockOwner(userID string) func() {
	m.mu.Lock()
	lock, ok := m.owners[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.owners[userID] = lock
	}
	m.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// Record appends one operation to the owner's history. Retention is a
// fixed-size ring: exceeding the limit evicts the oldest entry, which
// is never read again.
func (m *Manager) Record(ctx context.Context, userID string, op tasks.Operation) error {
	userID = strings.TrimSpace(userID)
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now().UTC()
	}

	unlock := m.lockOwner(userID)
	defer unlock()

	ops, err := m.store.LoadHistory(ctx, userID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	ops = append(ops, op)
	if len(ops) > m.limit {
		ops = append([]tasks.Operation(nil), ops[len(ops)-m.limit:]...)
	}
	if err := m.store.SaveHistory(ctx, userID, ops); err != nil {
		return fmt.Errorf("persist history: %w", err)
	}
	return nil
}

// Undo pops the most recent operation and applies its inverse to both
// stores. The pop is durable before the inverse runs and is not rolled
// back if the inverse fails: undo is at-most-once per call.
func (m *Manager) Undo(ctx context.Context, userID string) (tasks.OperationKind, error) {
	userID = strings.TrimSpace(userID)

	unlock := m.lockOwner(userID)
	defer unlock()

	ops, err := m.store.LoadHistory(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}
	if len(ops) == 0 {
		m.observe("none", "empty")
		return "", ErrNothingToUndo
	}

	op := ops[len(ops)-1]
	if err := m.store.SaveHistory(ctx, userID, ops[:len(ops)-1]); err != nil {
		return "", fmt.Errorf("persist history: %w", err)
	}

	if err := m.applyInverse(ctx, userID, op); err != nil {
		m.observe(string(op.Kind), "failed")
		return "", err
	}

	m.observe(string(op.Kind), "ok")
	m.publish(events.Event{
		Type:   events.TypeOperationUndone,
		UserID: userID,
		TaskID: op.TaskID,
		Kind:   string(op.Kind),
	})
	return op.Kind, nil
}

func (m *Manager) applyInverse(ctx context.Context, userID string, op tasks.Operation) error {
	switch op.Kind {
	case tasks.OpCreate:
		// Inverse of create is delete. Absence is not an error on
		// either side.
		if err := m.store.DeleteTask(ctx, userID, op.TaskID); err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		if err := m.engine.DeleteTask(ctx, op.TaskID); err != nil {
			return fmt.Errorf("engine delete: %w", err)
		}
		return nil

	case tasks.OpUpdate:
		if op.PreviousState == nil {
			return fmt.Errorf("update record for %s has no previous state", op.TaskID)
		}
		// Full-state restore, not a field merge: fields absent from the
		// snapshot are dropped exactly as they were at capture time.
		restored := op.PreviousState.Clone()
		restored.UserID = userID
		if err := m.store.SaveTask(ctx, restored); err != nil {
			return fmt.Errorf("restore task: %w", err)
		}
		if err := m.engine.UpdateTask(ctx, op.TaskID, restored); err != nil {
			return fmt.Errorf("engine update: %w", err)
		}
		return nil

	case tasks.OpDelete:
		if op.PreviousState == nil {
			return fmt.Errorf("delete record for %s has no previous state", op.TaskID)
		}
		// SaveTask upserts, so a conflicting leftover row cannot cause
		// a duplicate-key failure.
		restored := op.PreviousState.Clone()
		restored.UserID = userID
		if err := m.store.SaveTask(ctx, restored); err != nil {
			return fmt.Errorf("reinsert task: %w", err)
		}
		if err := m.engine.CreateTask(ctx, restored); err != nil {
			return fmt.Errorf("engine create: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

// HistoryItem is one operation projected for display, most recent
// first. Snapshot fields come from whichever state the record carries.
type HistoryItem struct {
	Kind        tasks.OperationKind `json:"type"`
	TaskID      string              `json:"taskId"`
	Title       string              `json:"taskTitle"`
	Description string              `json:"taskDesc,omitempty"`
	Status      string              `json:"taskStatus,omitempty"`
	Priority    string              `json:"taskPriority,omitempty"`
	Tags        []string            `json:"taskTags,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}

func (m *Manager) History(ctx context.Context, userID string) ([]HistoryItem, error) {
	userID = strings.TrimSpace(userID)

	ops, err := m.store.LoadHistory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	out := make([]HistoryItem, 0, len(ops))
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		item := HistoryItem{
			Kind:      op.Kind,
			TaskID:    op.TaskID,
			Timestamp: op.Timestamp,
		}
		if snap := op.Snapshot(); snap != nil {
			item.Title = snap.Title
			item.Description = snap.Description
			item.Status = snap.Status.String()
			item.Priority = snap.Priority.String()
			item.Tags = snap.Tags
		}
		out = append(out, item)
	}
	return out, nil
}

// Status reports the durable history depth alongside the engine's own
// idea of whether it can undo. The two are independently sourced and
// may transiently disagree.
type Status struct {
	CanUndo       bool
	Count         int
	EngineHasUndo *bool
}

func (m *Manager) Status(ctx context.Context, userID string) (Status, error) {
	userID = strings.TrimSpace(userID)

	ops, err := m.store.LoadHistory(ctx, userID)
	if err != nil {
		return Status{}, fmt.Errorf("load history: %w", err)
	}

	out := Status{
		CanUndo: len(ops) > 0,
		Count:   len(ops),
	}
	if hasUndo, err := m.engine.UndoStatus(ctx, userID); err != nil {
		log.Printf("undo: engine status for %s unavailable: %v", userID, err)
	} else {
		out.EngineHasUndo = &hasUndo
	}
	return out, nil
}

func (m *Manager) Clear(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)

	unlock := m.lockOwner(userID)
	defer unlock()

	if err := m.store.SaveHistory(ctx, userID, nil); err != nil {
		return fmt.Errorf("persist history: %w", err)
	}
	m.publish(events.Event{
		Type:   events.TypeHistoryCleared,
		UserID: userID,
	})
	return nil
}

func (m *Manager) publish(evt events.Event) {
	if m.bus != nil {
		m.bus.Publish(evt)
	}
}

func (m *Manager) observe(kind, outcome string) {
	if m.metrics != nil {
		m.metrics.UndoOperations.WithLabelValues(kind, outcome).Inc()
	}
}
