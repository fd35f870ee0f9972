package tasks

import (
	"context"
	"errors"
	"testing"
)

type fakeMirror struct {
	created []string
	updated []string
	deleted []string
	err     error
}

func (f *fakeMirror) CreateTask(_ context.Context, task Task) error {
	f.created = append(f.created, task.ID)
	return f.err
}

func (f *fakeMirror) UpdateTask(_ context.Context, taskID string, _ Task) error {
	f.updated = append(f.updated, taskID)
	return f.err
}

func (f *fakeMirror) DeleteTask(_ context.Context, taskID string) error {
	f.deleted = append(f.deleted, taskID)
	return f.err
}

type fakeRecorder struct {
	ops []Operation
}

func (f *fakeRecorder) Record(_ context.Context, _ string, op Operation) error {
	f.ops = append(f.ops, op)
	return nil
}

func newTestService() (*Service, *MemoryStore, *fakeMirror, *fakeRecorder) {
	store := NewMemoryStore()
	mirror := &fakeMirror{}
	recorder := &fakeRecorder{}
	return NewService(store, mirror, recorder, nil), store, mirror, recorder
}

func TestCreateDefaults(t *testing.T) {
	svc, store, mirror, recorder := newTestService()

	task, err := svc.Create(context.Background(), "u1", CreateRequest{Title: "  write report  "})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if task.ID == "" {
		t.Fatalf("missing task ID")
	}
	if task.Title != "write report" {
		t.Fatalf("Title = %q, want trimmed", task.Title)
	}
	if task.Priority != PriorityMedium {
		t.Fatalf("Priority = %v, want medium default", task.Priority)
	}
	if task.Status != StatusToDo {
		t.Fatalf("Status = %v, want TO_DO default", task.Status)
	}
	if task.Tags == nil {
		t.Fatalf("Tags should default to empty slice")
	}

	stored, err := store.GetTask(context.Background(), "u1", task.ID)
	if err != nil {
		t.Fatalf("task not persisted: %v", err)
	}
	if stored.Title != task.Title {
		t.Fatalf("stored Title = %q", stored.Title)
	}

	if len(mirror.created) != 1 || mirror.created[0] != task.ID {
		t.Fatalf("engine mirror created = %v", mirror.created)
	}
	if len(recorder.ops) != 1 || recorder.ops[0].Kind != OpCreate {
		t.Fatalf("recorded ops = %+v", recorder.ops)
	}
	if recorder.ops[0].NewState == nil || recorder.ops[0].NewState.ID != task.ID {
		t.Fatalf("create record missing new state")
	}
}

func TestCreateRejectsEmptyTitle(t *testing.T) {
	svc, _, _, _ := newTestService()
	if _, err := svc.Create(context.Background(), "u1", CreateRequest{Title: "   "}); err == nil {
		t.Fatalf("Create() with blank title succeeded")
	}
}

func TestCreateRejectsInvalidEnums(t *testing.T) {
	svc, _, _, _ := newTestService()

	badPriority := Priority(9)
	if _, err := svc.Create(context.Background(), "u1", CreateRequest{Title: "t", Priority: &badPriority}); err == nil {
		t.Fatalf("invalid priority accepted")
	}
	badStatus := Status(42)
	if _, err := svc.Create(context.Background(), "u1", CreateRequest{Title: "t", Status: &badStatus}); err == nil {
		t.Fatalf("invalid status accepted")
	}
}

func TestUpdatePartialApply(t *testing.T) {
	svc, _, mirror, recorder := newTestService()

	created, err := svc.Create(context.Background(), "u1", CreateRequest{Title: "original", Description: "desc"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	newTitle := "renamed"
	newStatus := StatusCompleted
	updated, err := svc.Update(context.Background(), "u1", created.ID, UpdateRequest{
		Title:  &newTitle,
		Status: &newStatus,
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Title != "renamed" {
		t.Fatalf("Title = %q", updated.Title)
	}
	if updated.Status != StatusCompleted {
		t.Fatalf("Status = %v", updated.Status)
	}
	if updated.Description != "desc" {
		t.Fatalf("Description changed on partial update: %q", updated.Description)
	}

	if len(mirror.updated) != 1 {
		t.Fatalf("engine mirror updated = %v", mirror.updated)
	}

	// The update record must capture the full previous state.
	last := recorder.ops[len(recorder.ops)-1]
	if last.Kind != OpUpdate {
		t.Fatalf("last op kind = %v", last.Kind)
	}
	if last.PreviousState == nil || last.PreviousState.Title != "original" {
		t.Fatalf("previous state not captured: %+v", last.PreviousState)
	}
	if last.NewState == nil || last.NewState.Title != "renamed" {
		t.Fatalf("new state not captured: %+v", last.NewState)
	}
}

func TestUpdateUnknownTask(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.Update(context.Background(), "u1", "nope", UpdateRequest{})
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("error = %v, want ErrTaskNotFound", err)
	}
}

func TestDeleteRecordsPreviousState(t *testing.T) {
	svc, store, mirror, recorder := newTestService()

	created, err := svc.Create(context.Background(), "u1", CreateRequest{Title: "to delete"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := svc.Delete(context.Background(), "u1", created.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := store.GetTask(context.Background(), "u1", created.ID); !errors.Is(err, ErrStoreNotFound) {
		t.Fatalf("task still in store after delete: %v", err)
	}
	if len(mirror.deleted) != 1 || mirror.deleted[0] != created.ID {
		t.Fatalf("engine mirror deleted = %v", mirror.deleted)
	}

	last := recorder.ops[len(recorder.ops)-1]
	if last.Kind != OpDelete {
		t.Fatalf("last op kind = %v", last.Kind)
	}
	if last.PreviousState == nil || last.PreviousState.Title != "to delete" {
		t.Fatalf("delete record missing previous state: %+v", last.PreviousState)
	}
}

func TestDeleteUnknownTask(t *testing.T) {
	svc, _, _, _ := newTestService()
	if err := svc.Delete(context.Background(), "u1", "nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("error = %v, want ErrTaskNotFound", err)
	}
}

func TestEngineMirrorFailureDoesNotFailWrite(t *testing.T) {
	store := NewMemoryStore()
	mirror := &fakeMirror{err: errors.New("pipe broken")}
	svc := NewService(store, mirror, &fakeRecorder{}, nil)

	task, err := svc.Create(context.Background(), "u1", CreateRequest{Title: "survives"})
	if err != nil {
		t.Fatalf("Create() error = %v, want nil despite mirror failure", err)
	}
	if _, err := store.GetTask(context.Background(), "u1", task.ID); err != nil {
		t.Fatalf("task not persisted: %v", err)
	}
}

func TestOwnersAreIsolated(t *testing.T) {
	svc, _, _, _ := newTestService()

	t1, _ := svc.Create(context.Background(), "alice", CreateRequest{Title: "a"})
	if _, err := svc.Create(context.Background(), "bob", CreateRequest{Title: "b"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := svc.Get(context.Background(), "bob", t1.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("cross-owner read error = %v, want ErrTaskNotFound", err)
	}

	aliceList, err := svc.List(context.Background(), "alice")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(aliceList) != 1 {
		t.Fatalf("alice task count = %d, want 1", len(aliceList))
	}
}
