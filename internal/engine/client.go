package engine

import (
	"context"
	"fmt"

	"github.com/tbendali/taskdeck/internal/tasks"
)

// Client is the typed surface the rest of the service uses to talk to
// the engine. Bridge implements it; tests substitute fakes.
type Client interface {
	InitNextID(ctx context.Context, nextID string) error

	CreateTask(ctx context.Context, task tasks.Task) error
	UpdateTask(ctx context.Context, taskID string, task tasks.Task) error
	DeleteTask(ctx context.Context, taskID string) error

	AddToQueue(ctx context.Context, userID, taskID string) error
	ProcessNext(ctx context.Context, userID string) error
	QueueStatus(ctx context.Context, userID string) (int, error)

	UndoStatus(ctx context.Context, userID string) (bool, error)
}

var _ Client = (*Bridge)(nil)

func (b *Bridge) InitNextID(ctx context.Context, nextID string) error {
	_, err := b.command(ctx, Request{Action: ActionInitNextID, NextID: nextID})
	return err
}

func (b *Bridge) CreateTask(ctx context.Context, task tasks.Task) error {
	_, err := b.command(ctx, Request{Action: ActionCreate, Data: task})
	return err
}

func (b *Bridge) UpdateTask(ctx context.Context, taskID string, task tasks.Task) error {
	_, err := b.command(ctx, Request{Action: ActionUpdate, TaskID: taskID, Data: task})
	return err
}

func (b *Bridge) DeleteTask(ctx context.Context, taskID string) error {
	_, err := b.command(ctx, Request{Action: ActionDelete, TaskID: taskID})
	return err
}

func (b *Bridge) AddToQueue(ctx context.Context, userID, taskID string) error {
	_, err := b.command(ctx, Request{Action: ActionAddToQueue, UserID: userID, TaskID: taskID})
	return err
}

func (b *Bridge) ProcessNext(ctx context.Context, userID string) error {
	_, err := b.command(ctx, Request{Action: ActionProcessNext, UserID: userID})
	return err
}

func (b *Bridge) QueueStatus(ctx context.Context, userID string) (int, error) {
	resp, err := b.command(ctx, Request{Action: ActionQueueStatus, UserID: userID})
	if err != nil {
		return 0, err
	}
	if resp.QueueSize == nil {
		return 0, fmt.Errorf("%w: queueStatus response missing queueSize", ErrProtocol)
	}
	return *resp.QueueSize, nil
}

func (b *Bridge) UndoStatus(ctx context.Context, userID string) (bool, error) {
	resp, err := b.command(ctx, Request{Action: ActionUndoStatus, UserID: userID})
	if err != nil {
		return false, err
	}
	if resp.HasUndo == nil {
		return false, fmt.Errorf("%w: undoStatus response missing hasUndo", ErrProtocol)
	}
	return *resp.HasUndo, nil
}

func (b *Bridge) command(ctx context.Context, req Request) (Response, error) {
	resp, err := b.Call(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if !resp.Success {
		return Response{}, fmt.Errorf("%w: %s: %s", ErrRejected, req.Action, resp.Message)
	}
	return resp, nil
}
