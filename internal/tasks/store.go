package tasks

import (
	"context"
	"errors"
	"strings"
)

var ErrStoreNotFound = errors.New("task not found in store")

// Store is the durable record of truth for tasks, per-owner processing
// queues and per-owner undo history. One queue document and one history
// document exist per owner, created lazily on first write.
type Store interface {
	SaveTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, userID, taskID string) (Task, error)
	DeleteTask(ctx context.Context, userID, taskID string) error
	ListTasks(ctx context.Context, userID string) ([]Task, error)

	LoadQueue(ctx context.Context, userID string) ([]QueueEntry, error)
	SaveQueue(ctx context.Context, userID string, entries []QueueEntry) error
	QueueOwners(ctx context.Context) ([]string, error)

	LoadHistory(ctx context.Context, userID string) ([]Operation, error)
	SaveHistory(ctx context.Context, userID string, ops []Operation) error

	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
