package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskman/internal/notify"
	"taskman/internal/task/engine"
	logx "taskman/pkg/logx"
)

// Update runs one dispatch cycle. A call made while another cycle runs is
// rejected with an OperationFailed notification; it is not queued.
func (s *Scheduler[S]) Update() {
	if !s.updating.CompareAndSwap(false, true) {
		s.operationFailed("cannot update while updating")
		return
	}
	defer s.updating.Store(false)

	now := s.now()
	s.cycles.Add(1)
	s.lastUpdate.Store(now.UnixNano())

	out := func() []notify.Notification[S] {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.updateLocked(now)
	}()
	// Delivered before the flag clears: observers calling back get ErrBusy.
	s.hub.Emit(out...)
}

func (s *Scheduler[S]) updateLocked(now time.Time) []notify.Notification[S] {
	var out []notify.Notification[S]

	reclaimed := s.reclaimLocked()
	limit := s.MaxRunningTasksAllowed()

	if len(s.inflight) >= limit {
		return append(out, s.note(notify.TaskNotExecuted, nil,
			fmt.Sprintf("cannot execute a new task: %d tasks are running (limit %d)", len(s.inflight), limit), ErrCapacity))
	}
	if s.scope == nil || s.scope.Err() != nil {
		return append(out, s.note(notify.TaskNotExecuted, nil,
			"cannot execute a new task: Init has not been called", ErrNotInitialized))
	}

	batch := s.due.due(now)
	dispatched := 0
	for i, e := range batch {
		t := e.task
		active := t.IsActive()
		// Checked per dispatch so the cap holds when Update returns. The rest
		// of the batch stays in the due table for the next cycle.
		if active && len(s.inflight) >= limit {
			out = append(out, s.note(notify.TaskNotExecuted, t,
				fmt.Sprintf("running-task limit %d reached; %d due tasks deferred", limit, len(batch)-i), ErrCapacity))
			break
		}
		s.due.remove(e.at)

		prevExec := t.LastExecutionTime
		if active {
			t.LastExecutionTime = now
		}
		hasNext := t.UpdateNextRunAt(false, now)

		if active {
			ex := &execution[S]{id: uuid.NewString(), task: t, name: s.name(t), dispatched: now}
			if hasNext {
				ex.nextRunAt = t.NextRunAt()
			}
			if err := s.submitLocked(ex); err != nil {
				// Not executed, so not recorded as executed.
				t.LastExecutionTime = prevExec
				out = append(out, s.note(notify.TaskNotExecuted, t,
					fmt.Sprintf("cannot execute task due at %s: %v", fmtTime(e.at), err), err))
			} else {
				s.inflight = append(s.inflight, ex)
				dispatched++
			}
		}

		if hasNext {
			if _, n := s.insertLocked(t); n != nil {
				out = append(out, *n)
			}
		}
	}

	if dispatched > 0 || reclaimed > 0 {
		s.log.Debug("update cycle",
			logx.Int("due", len(batch)),
			logx.Int("dispatched", dispatched),
			logx.Int("reclaimed", reclaimed),
			logx.Int("running", len(s.inflight)),
			logx.Int("scheduled", s.due.len()),
		)
	}
	s.dispatched.Add(uint64(dispatched))
	return out
}

func (s *Scheduler[S]) submitLocked(ex *execution[S]) error {
	if s.pool == nil {
		return ErrNoPool
	}
	return s.pool.Submit(s.scope, engine.Job{
		ID:   ex.id,
		Name: ex.name,
		Run:  func(ctx context.Context) error { return s.execute(ctx, ex) },
	})
}

// reclaimLocked drops terminated executions from the in-flight set.
func (s *Scheduler[S]) reclaimLocked() int {
	kept := s.inflight[:0]
	for _, ex := range s.inflight {
		if !ex.done.Load() {
			kept = append(kept, ex)
		}
	}
	n := len(s.inflight) - len(kept)
	clear(s.inflight[len(kept):])
	s.inflight = kept
	return n
}
