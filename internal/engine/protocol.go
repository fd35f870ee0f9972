package engine

import "encoding/json"

// Wire actions understood by the engine. One JSON object per line in
// each direction; a request is answered by exactly one response line.
const (
	ActionCreate      = "create"
	ActionGetAll      = "getAll"
	ActionGetByID     = "getById"
	ActionUpdate      = "update"
	ActionDelete      = "delete"
	ActionUndo        = "undo"
	ActionUndoStatus  = "undoStatus"
	ActionUndoHistory = "undoHistory"
	ActionAddToQueue  = "addToQueue"
	ActionProcessNext = "processNext"
	ActionViewQueue   = "viewQueue"
	ActionQueueStatus = "queueStatus"
	ActionInitNextID  = "initNextId"
)

// Request is a single engine command. Identifiers are always strings on
// the wire regardless of how callers model them.
type Request struct {
	Action string `json:"action"`
	TaskID string `json:"taskId,omitempty"`
	UserID string `json:"userId,omitempty"`
	Data   any    `json:"data,omitempty"`
	NextID string `json:"nextId,omitempty"`
}

// Response is the engine's answer to one Request. Fields beyond Success
// are action-specific.
type Response struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	QueueSize *int            `json:"queueSize,omitempty"`
	HasUndo   *bool           `json:"hasUndo,omitempty"`
}
