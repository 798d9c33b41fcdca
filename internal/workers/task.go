package workers

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskType labels a task for logs.
type TaskType string

// Task is a unit of background work executed by the pool.
type Task interface {
	Execute(ctx context.Context) error
	ID() string
	Type() TaskType
}

// BaseTask carries identity fields; embed it in concrete tasks.
type BaseTask struct {
	id      string
	kind    TaskType
	created time.Time
}

// NewBaseTask assigns a fresh identifier.
func NewBaseTask(kind TaskType) BaseTask {
	return BaseTask{id: uuid.NewString(), kind: kind, created: time.Now().UTC()}
}

func (t BaseTask) ID() string { return t.id }

func (t BaseTask) Type() TaskType { return t.kind }

// CreatedAt is the time the task was built, used to report queue wait.
func (t BaseTask) CreatedAt() time.Time { return t.created }

// FuncTask adapts a plain function to Task.
type FuncTask struct {
	BaseTask
	fn func(ctx context.Context) error
}

// NewFuncTask wraps fn as a task of the given type.
func NewFuncTask(kind TaskType, fn func(ctx context.Context) error) *FuncTask {
	return &FuncTask{BaseTask: NewBaseTask(kind), fn: fn}
}

func (t *FuncTask) Execute(ctx context.Context) error {
	return t.fn(ctx)
}
