package tasks

import (
	"context"
	"sync"
)

// MemoryStore is a simple in-process store for local/dev use and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	tasks     map[string]map[string]Task // userID -> taskID -> task
	queues    map[string][]QueueEntry
	histories map[string][]Operation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:     make(map[string]map[string]Task),
		queues:    make(map[string][]QueueEntry),
		histories: make(map[string][]Operation),
	}
}

func (s *MemoryStore) SaveTask(_ context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.tasks[task.UserID]
	if !ok {
		byID = make(map[string]Task)
		s.tasks[task.UserID] = byID
	}
	byID[task.ID] = task.Clone()
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, userID, taskID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[userID][taskID]
	if !ok {
		return Task{}, ErrStoreNotFound
	}
	return task.Clone(), nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, userID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks[userID], taskID)
	return nil
}

func (s *MemoryStore) ListTasks(_ context.Context, userID string) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := s.tasks[userID]
	out := make([]Task, 0, len(byID))
	for _, task := range byID {
		out = append(out, task.Clone())
	}
	return out, nil
}

func (s *MemoryStore) LoadQueue(_ context.Context, userID string) ([]QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.queues[userID]
	out := make([]QueueEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *MemoryStore) SaveQueue(_ context.Context, userID string, entries []QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]QueueEntry, len(entries))
	copy(stored, entries)
	s.queues[userID] = stored
	return nil
}

func (s *MemoryStore) QueueOwners(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.queues))
	for userID, entries := range s.queues {
		if len(entries) == 0 {
			continue
		}
		out = append(out, userID)
	}
	return out, nil
}

func (s *MemoryStore) LoadHistory(_ context.Context, userID string) ([]Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ops := s.histories[userID]
	out := make([]Operation, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.Clone())
	}
	return out, nil
}

func (s *MemoryStore) SaveHistory(_ context.Context, userID string, ops []Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]Operation, 0, len(ops))
	for _, op := range ops {
		stored = append(stored, op.Clone())
	}
	s.histories[userID] = stored
	return nil
}

func (s *MemoryStore) Close() error { return nil }
