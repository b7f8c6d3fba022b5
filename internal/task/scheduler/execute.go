package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"taskman/internal/notify"
	"taskman/internal/task"
)

// execution is one dispatched run of a task.
type execution[S any] struct {
	id         string
	task       *task.Task[S]
	name       string
	dispatched time.Time
	nextRunAt  time.Time

	done atomic.Bool
}

// execute is the job body handed to the pool. It never returns a panic and
// always ends with exactly one ExecutionFinished notification.
func (s *Scheduler[S]) execute(ctx context.Context, ex *execution[S]) error {
	started := s.now()
	if err := ctx.Err(); err != nil {
		s.finish(ex, started, task.Canceled, err, "task canceled before it started")
		return err
	}

	s.hub.Emit(s.execNote(notify.ExecutionStarted, ex, started,
		fmt.Sprintf("executing task dispatched at %s", fmtTime(ex.dispatched))))

	outcome, err := runAction(ctx, ex.task)
	var msg string
	switch outcome {
	case task.Ok:
		msg = "task finished"
	case task.Canceled:
		msg = "task canceled"
	default:
		msg = "task failed"
	}
	if err != nil {
		msg += ": " + err.Error()
	}
	s.finish(ex, started, outcome, err, msg)
	return err
}

func (s *Scheduler[S]) finish(ex *execution[S], started time.Time, outcome task.Outcome, err error, msg string) {
	// Marked before notifying so an observer that reacts with Update sees the
	// slot as reclaimable.
	ex.done.Store(true)
	n := s.execNote(notify.ExecutionFinished, ex, started, msg)
	n.Outcome = &outcome
	n.Err = err
	s.hub.Emit(n)
}

func (s *Scheduler[S]) execNote(k notify.Kind, ex *execution[S], started time.Time, msg string) notify.Notification[S] {
	return notify.Notification[S]{
		Kind:        k,
		Source:      s.source,
		Message:     msg,
		Task:        ex.task,
		At:          s.now(),
		NextRunAt:   ex.nextRunAt,
		ExecutionID: ex.id,
		StartedAt:   started,
	}
}

// runAction calls the task's action, mapping errors and panics to outcomes.
func runAction[S any](ctx context.Context, t *task.Task[S]) (outcome task.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = task.Failed, fmt.Errorf("panic: %v", r)
		}
	}()
	outcome, err = t.Run(ctx)
	if err == nil {
		switch outcome {
		case task.Ok, task.Failed, task.Canceled:
			return outcome, nil
		default:
			return task.Failed, fmt.Errorf("unknown outcome %d", int(outcome))
		}
	}
	if errors.Is(err, context.Canceled) {
		return task.Canceled, err
	}
	return task.Failed, err
}
