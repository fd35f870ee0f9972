package tasks

import "time"

// Status follows the numeric wire encoding shared with the engine.
type Status int

const (
	StatusToDo       Status = 0
	StatusPending    Status = 1
	StatusInProgress Status = 2
	StatusCompleted  Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusToDo:
		return "TO_DO"
	case StatusPending:
		return "PENDING"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

func (s Status) Valid() bool {
	return s >= StatusToDo && s <= StatusCompleted
}

type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

type Task struct {
	ID          string     `json:"taskId"`
	UserID      string     `json:"userId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	Tags        []string   `json:"tags"`
	IsFavorite  bool       `json:"isFavorite"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func (t Task) Clone() Task {
	out := t
	if t.Tags != nil {
		out.Tags = make([]string, len(t.Tags))
		copy(out.Tags, t.Tags)
	}
	if t.DueDate != nil {
		due := *t.DueDate
		out.DueDate = &due
	}
	return out
}

// QueueEntry is one slot in an owner's processing queue. Position is
// always recomputed from array order, never stored independently of it.
type QueueEntry struct {
	TaskID   string    `json:"taskId"`
	AddedAt  time.Time `json:"addedAt"`
	Position int       `json:"position"`
}

type OperationKind string

const (
	OpCreate OperationKind = "CREATE"
	OpUpdate OperationKind = "UPDATE"
	OpDelete OperationKind = "DELETE"
)

// Operation is one undoable mutation. CREATE carries only NewState,
// DELETE only PreviousState, UPDATE both.
type Operation struct {
	Kind          OperationKind `json:"type"`
	TaskID        string        `json:"taskId"`
	PreviousState *Task         `json:"previousState,omitempty"`
	NewState      *Task         `json:"newState,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

func (o Operation) Clone() Operation {
	out := o
	if o.PreviousState != nil {
		prev := o.PreviousState.Clone()
		out.PreviousState = &prev
	}
	if o.NewState != nil {
		next := o.NewState.Clone()
		out.NewState = &next
	}
	return out
}

// Snapshot returns whichever state best describes the operation for
// display: the resulting state when present, otherwise the prior one.
func (o Operation) Snapshot() *Task {
	if o.NewState != nil {
		return o.NewState
	}
	return o.PreviousState
}
