package events

import (
	"strings"
	"sync"
	"time"
)

type Type string

const (
	TypeTaskCreated     Type = "task_created"
	TypeTaskUpdated     Type = "task_updated"
	TypeTaskDeleted     Type = "task_deleted"
	TypeTaskEnqueued    Type = "task_enqueued"
	TypeTaskDequeued    Type = "task_dequeued"
	TypeQueueCleared    Type = "queue_cleared"
	TypeOperationUndone Type = "operation_undone"
	TypeHistoryCleared  Type = "history_cleared"
)

type Event struct {
	Type      Type      `json:"type"`
	UserID    string    `json:"userId"`
	TaskID    string    `json:"taskId,omitempty"`
	QueueSize int       `json:"queueSize,omitempty"`
	Position  int       `json:"position,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	At        time.Time `json:"at"`
}

// Bus fans events out to per-owner subscribers. Publish never blocks:
// a subscriber that cannot keep up loses events rather than stalling
// the mutation that produced them.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string]map[int]chan Event
	nextSubID   int
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]map[int]chan Event)}
}

func (b *Bus) Subscribe(userID string) (<-chan Event, func()) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Event, 64)
	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	if _, ok := b.subscribers[userID]; !ok {
		b.subscribers[userID] = make(map[int]chan Event)
	}
	b.subscribers[userID][id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[userID]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(b.subscribers, userID)
		}
	}
}

func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers[evt.UserID] {
		select {
		case ch <- evt:
		default:
		}
	}
}
