package queue

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

var (
	ErrInvalidTaskState = errors.New("only TO_DO or PENDING tasks can be queued")
	ErrAlreadyQueued    = errors.New("task is already in the queue")
	ErrQueueEmpty       = errors.New("processing queue is empty")
)

// Manager keeps each owner's FIFO ordering consistent between the
// durable store and the engine. The store is authoritative: engine
// mirror failures are logged, never surfaced, and repaired by the next
// resync.
type Manager struct {
	store   tasks.Store
	engine  engine.Client
	bus     *events.Bus
	metrics *observability.Metrics

	mu     sync.Mutex
	owners map[string]*sync.Mutex
}

func NewManager(store tasks.Store, eng engine.Client, bus *events.Bus, metrics *observability.Metrics) *Manager {
	return &Manager{
		store:   store,
		engine:  eng,
		bus:     bus,
		metrics: metrics,
		owners:  make(map[string]*sync.Mutex),
	}
}

// lockOwner serializes queue mutations per owner so a concurrent
// add+dequeue cannot interleave into an inconsistent position sequence.
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

type EnqueueResult struct {
	QueueSize int
	Position  int
}

func (m *Manager) Enqueue(ctx context.Context, userID, taskID string) (EnqueueResult, error) {
	userID = strings.TrimSpace(userID)
	taskID = strings.TrimSpace(taskID)

	task, err := m.store.GetTask(ctx, userID, taskID)
	if err != nil {
		if errors.Is(err, tasks.ErrStoreNotFound) {
			m.observe("enqueue", "not_found")
			return EnqueueResult{}, tasks.ErrTaskNotFound
		}
		return EnqueueResult{}, fmt.Errorf("lookup task: %w", err)
	}
	if task.Status != tasks.StatusToDo && task.Status != tasks.StatusPending {
		m.observe("enqueue", "invalid_state")
		return EnqueueResult{}, ErrInvalidTaskState
	}

	unlock := m.lockOwner(userID)
	defer unlock()

	entries, err := m.store.LoadQueue(ctx, userID)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("load queue: %w", err)
	}
	for _, entry := range entries {
		if entry.TaskID == taskID {
			m.observe("enqueue", "duplicate")
			return EnqueueResult{}, ErrAlreadyQueued
		}
	}

	entries = append(entries, tasks.QueueEntry{TaskID: taskID, AddedAt: time.Now().UTC()})
	renumber(entries)
	if err := m.store.SaveQueue(ctx, userID, entries); err != nil {
		return EnqueueResult{}, fmt.Errorf("persist queue: %w", err)
	}

	// Durable write holds regardless: mirror failures are repaired at
	// the next resync.
	if err := m.engine.AddToQueue(ctx, userID, taskID); err != nil {
		log.Printf("queue: engine mirror of enqueue %s/%s failed: %v", userID, taskID, err)
	}

	m.observe("enqueue", "ok")
	m.publish(events.Event{
		Type:      events.TypeTaskEnqueued,
		UserID:    userID,
		TaskID:    taskID,
		QueueSize: len(entries),
		Position:  len(entries),
	})
	return EnqueueResult{QueueSize: len(entries), Position: len(entries)}, nil
}

type DequeueResult struct {
	Task      tasks.Task
	Remaining int
}

// DequeueNext pops the head entry, persists the shortened queue, then
// marks the task IN_PROGRESS. A head entry whose task has vanished is a
// permanent loss: the entry stays popped and ErrTaskNotFound is
// returned, rather than silently retrying a dangling reference.
func (m *Manager) DequeueNext(ctx context.Context, userID string) (DequeueResult, error) {
	userID = strings.TrimSpace(userID)

	unlock := m.lockOwner(userID)
	defer unlock()

	entries, err := m.store.LoadQueue(ctx, userID)
	if err != nil {
		return DequeueResult{}, fmt.Errorf("load queue: %w", err)
	}
	if len(entries) == 0 {
		m.observe("dequeue", "empty")
		return DequeueResult{}, ErrQueueEmpty
	}

	head := entries[0]
	rest := append([]tasks.QueueEntry(nil), entries[1:]...)
	renumber(rest)
	if err := m.store.SaveQueue(ctx, userID, rest); err != nil {
		return DequeueResult{}, fmt.Errorf("persist queue: %w", err)
	}

	if err := m.engine.ProcessNext(ctx, userID); err != nil {
		log.Printf("queue: engine mirror of dequeue for %s failed: %v", userID, err)
	}

	task, err := m.store.GetTask(ctx, userID, head.TaskID)
	if err != nil {
		if errors.Is(err, tasks.ErrStoreNotFound) {
			m.observe("dequeue", "not_found")
			return DequeueResult{}, tasks.ErrTaskNotFound
		}
		return DequeueResult{}, fmt.Errorf("lookup task: %w", err)
	}
	task.Status = tasks.StatusInProgress
	if err := m.store.SaveTask(ctx, task); err != nil {
		return DequeueResult{}, fmt.Errorf("persist task: %w", err)
	}

	m.observe("dequeue", "ok")
	m.publish(events.Event{
		Type:      events.TypeTaskDequeued,
		UserID:    userID,
		TaskID:    head.TaskID,
		QueueSize: len(rest),
	})
	return DequeueResult{Task: task, Remaining: len(rest)}, nil
}

type PeekResult struct {
	Task      tasks.Task
	Remaining int
}

func (m *Manager) PeekNext(ctx context.Context, userID string) (PeekResult, error) {
	userID = strings.TrimSpace(userID)

	entries, err := m.store.LoadQueue(ctx, userID)
	if err != nil {
		return PeekResult{}, fmt.Errorf("load queue: %w", err)
	}
	if len(entries) == 0 {
		return PeekResult{}, ErrQueueEmpty
	}

	task, err := m.store.GetTask(ctx, userID, entries[0].TaskID)
	if err != nil {
		if errors.Is(err, tasks.ErrStoreNotFound) {
			return PeekResult{}, tasks.ErrTaskNotFound
		}
		return PeekResult{}, fmt.Errorf("lookup task: %w", err)
	}
	return PeekResult{Task: task, Remaining: len(entries)}, nil
}

// EntryView pairs a queue slot with its task details for display. Task
// is nil when the referenced task no longer exists.
type EntryView struct {
	Position int         `json:"position"`
	TaskID   string      `json:"taskId"`
	AddedAt  time.Time   `json:"addedAt"`
	Task     *tasks.Task `json:"task"`
}

func (m *Manager) Entries(ctx context.Context, userID string) ([]EntryView, error) {
	userID = strings.TrimSpace(userID)

	entries, err := m.store.LoadQueue(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}

	out := make([]EntryView, 0, len(entries))
	for _, entry := range entries {
		view := EntryView{
			Position: entry.Position,
			TaskID:   entry.TaskID,
			AddedAt:  entry.AddedAt,
		}
		task, err := m.store.GetTask(ctx, userID, entry.TaskID)
		if err == nil {
			view.Task = &task
		} else if !errors.Is(err, tasks.ErrStoreNotFound) {
			return nil, fmt.Errorf("lookup task: %w", err)
		}
		out = append(out, view)
	}
	return out, nil
}

// Status reports the durable queue alongside the engine's own count.
// The two are independently sourced and may transiently disagree; that
// is expected, not an error.
type Status struct {
	QueueSize       int
	IsEmpty         bool
	HasNext         bool
	NextTaskID      string
	EngineQueueSize *int
}

func (m *Manager) Status(ctx context.Context, userID string) (Status, error) {
	userID = strings.TrimSpace(userID)

	entries, err := m.store.LoadQueue(ctx, userID)
	if err != nil {
		return Status{}, fmt.Errorf("load queue: %w", err)
	}

	out := Status{
		QueueSize: len(entries),
		IsEmpty:   len(entries) == 0,
		HasNext:   len(entries) > 0,
	}
	if len(entries) > 0 {
		out.NextTaskID = entries[0].TaskID
	}

	if size, err := m.engine.QueueStatus(ctx, userID); err != nil {
		log.Printf("queue: engine status for %s unavailable: %v", userID, err)
	} else {
		out.EngineQueueSize = &size
	}
	return out, nil
}

// Clear empties the durable queue only. Engine-side entries drain as
// they are consumed or are rebuilt at the next resync.
func (m *Manager) Clear(ctx context.Context, userID string) (int, error) {
	userID = strings.TrimSpace(userID)

	unlock := m.lockOwner(userID)
	defer unlock()

	entries, err := m.store.LoadQueue(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load queue: %w", err)
	}
	if err := m.store.SaveQueue(ctx, userID, nil); err != nil {
		return 0, fmt.Errorf("persist queue: %w", err)
	}

	m.observe("clear", "ok")
	m.publish(events.Event{
		Type:   events.TypeQueueCleared,
		UserID: userID,
	})
	return len(entries), nil
}

func (m *Manager) publish(evt events.Event) {
	if m.bus != nil {
		m.bus.Publish(evt)
	}
}

func (m *Manager) observe(op, outcome string) {
	if m.metrics != nil {
		m.metrics.QueueOperations.WithLabelValues(op, outcome).Inc()
	}
}

func renumber(entries []tasks.QueueEntry) {
	for i := range entries {
		entries[i].Position = i + 1
	}
}
