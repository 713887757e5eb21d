// Package domain holds the types shared across the model-table reconciliation
// and batched GPU execution pipeline: sessions, directives, tasks, and the
// interfaces infrastructure packages implement.
package domain

import (
	"time"

	"github.com/tutu-network/tutu/internal/wire"
)

// TaskStatus tracks a Task's lifecycle from enqueue to dispatch.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "QUEUED"
	TaskExecuting TaskStatus = "EXECUTING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskTimeout   TaskStatus = "TIMEOUT"
	TaskFailed    TaskStatus = "FAILED"
)

// Task is a unit of work moving through one ModelExecutor's queue: created on
// query arrival, destroyed after the reply is dispatched or the task drops.
type Task struct {
	ID          string
	SessionID   string
	Conn        wire.ReplyChannel
	Input       []byte
	Deadline    time.Time
	Status      TaskStatus
	EnqueuedAt  time.Time
	Result      []byte
	Err         error
	Postprocess func([]byte) ([]byte, error)
}

// IsTerminal reports whether the task has reached a final state.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskTimeout || t.Status == TaskFailed
}

// Expired reports whether the task's deadline has passed as of now.
func (t *Task) Expired(now time.Time) bool {
	return !t.Deadline.IsZero() && now.After(t.Deadline)
}

// ReplyStatus maps a terminal TaskStatus to its wire status code.
func (t *Task) ReplyStatus() wire.Status {
	switch t.Status {
	case TaskCompleted:
		return wire.StatusOK
	case TaskTimeout:
		return wire.StatusTimeout
	case TaskFailed:
		return wire.StatusForwardError
	default:
		return wire.StatusForwardError
	}
}

// Dispatch sends the task's result to its originating connection, running
// Postprocess on a successful result first. The wire status itself is out of
// scope here (framing belongs to the connection layer); ReplyStatus is
// exposed for callers that log or meter it.
func (t *Task) Dispatch() error {
	if t.Conn == nil {
		return nil
	}
	payload := t.Result
	if t.Status == TaskCompleted && t.Postprocess != nil {
		out, err := t.Postprocess(payload)
		if err != nil {
			t.Status = TaskFailed
			t.Err = err
			payload = nil
		} else {
			payload = out
		}
	}
	return t.Conn.Send(payload)
}
