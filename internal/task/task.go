package task

import (
	"context"
	"sync/atomic"
	"time"
)

// Outcome is the terminal state of one execution.
type Outcome int

const (
	Ok Outcome = iota
	Failed
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Ok:
		return "ok"
	case Failed:
		return "failed"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Action is the work a task performs. ctx is canceled when the scheduler is
// stopped; actions that run for a while should watch it.
//
// A non-nil error is reported as Failed, or as Canceled when it is a context
// cancellation.
type Action[S any] func(ctx context.Context, state S) (Outcome, error)

// Task is a unit of schedulable work.
//
// RunAt and LastExecutionTime may be set freely before the task is handed to
// a scheduler. Afterwards the scheduler owns them and updates them under its
// own lock.
type Task[S any] struct {
	active atomic.Bool

	RunAt             time.Time
	LastExecutionTime time.Time

	// State is passed through to Action unmodified.
	State S

	nextRunAt  time.Time
	recurrence Recurrence
	action     Action[S]
}

// New returns an active task anchored at runAt.
func New[S any](runAt time.Time, rec Recurrence, action Action[S], state S) (*Task[S], error) {
	if rec == nil {
		return nil, ErrNoRecurrence
	}
	if action == nil {
		return nil, ErrNoAction
	}
	t := &Task[S]{
		RunAt:      runAt,
		State:      state,
		nextRunAt:  runAt,
		recurrence: rec,
		action:     action,
	}
	t.active.Store(true)
	return t, nil
}

// IsActive reports whether the action runs when the task comes due.
// Inactive tasks stay scheduled.
func (t *Task[S]) IsActive() bool { return t.active.Load() }

func (t *Task[S]) SetActive(v bool) { t.active.Store(v) }

// NextRunAt is the scheduler computed due time.
func (t *Task[S]) NextRunAt() time.Time { return t.nextRunAt }

func (t *Task[S]) Recurrence() Recurrence { return t.recurrence }

// UpdateNextRunAt asks the recurrence policy for the next run time relative to
// now. It returns false when no further run is requested.
func (t *Task[S]) UpdateNextRunAt(isFirstRun bool, now time.Time) bool {
	next, ok := t.recurrence.next(&t.RunAt, &t.LastExecutionTime, isFirstRun, now)
	if !ok {
		return false
	}
	t.nextRunAt = next
	return true
}

// Run invokes the action. Callers are expected to recover panics.
func (t *Task[S]) Run(ctx context.Context) (Outcome, error) {
	return t.action(ctx, t.State)
}
