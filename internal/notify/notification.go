package notify

import (
	"time"

	"taskman/internal/task"
)

// Kind identifies a notification.
type Kind int

const (
	TaskScheduled Kind = iota + 1
	TaskNotScheduled
	TaskNotExecuted
	ExecutionStarted
	ExecutionFinished
	OperationFailed
)

func (k Kind) String() string {
	switch k {
	case TaskScheduled:
		return "task.scheduled"
	case TaskNotScheduled:
		return "task.not_scheduled"
	case TaskNotExecuted:
		return "task.not_executed"
	case ExecutionStarted:
		return "task.execution_started"
	case ExecutionFinished:
		return "task.execution_finished"
	case OperationFailed:
		return "operation.failed"
	default:
		return "unknown"
	}
}

// Notification is one scheduling or execution event.
//
// Task is nil for OperationFailed and for cycle-wide TaskNotExecuted reports.
// Its time fields belong to the scheduler once scheduled; observers should use
// NextRunAt here instead of reading them. Outcome is set for
// ExecutionFinished only.
type Notification[S any] struct {
	Kind    Kind
	Source  string
	Message string
	Task    *task.Task[S]
	Outcome *task.Outcome
	Err     error

	// At is the scheduler clock at emission.
	At time.Time
	// NextRunAt is the task's due time when the event was produced; the task
	// itself may have been rescheduled since.
	NextRunAt   time.Time
	ExecutionID string
	StartedAt   time.Time
}

// Observer receives notifications.
type Observer[S any] interface {
	Notify(n Notification[S])
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc[S any] func(n Notification[S])

func (f ObserverFunc[S]) Notify(n Notification[S]) { f(n) }

// Only filters notifications by kind before handing them to o.
func Only[S any](o Observer[S], kinds ...Kind) Observer[S] {
	set := make(map[Kind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return ObserverFunc[S](func(n Notification[S]) {
		if _, ok := set[n.Kind]; ok {
			o.Notify(n)
		}
	})
}

// Labeler names a task for logs and the journal. Tasks have no identity of
// their own, so the label usually comes from the caller's state.
type Labeler[S any] func(state S) string

func label[S any](l Labeler[S], t *task.Task[S]) string {
	if t == nil || l == nil {
		return ""
	}
	return l(t.State)
}
