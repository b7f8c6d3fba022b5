package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"taskman/internal/notify"
	"taskman/internal/task"
	logx "taskman/pkg/logx"
)

// Scheduler dispatches tasks carrying caller state S.
type Scheduler[S any] struct {
	mu sync.Mutex

	pool   Submitter
	hub    *notify.Hub[S]
	log    logx.Logger
	label  notify.Labeler[S]
	source string
	now    func() time.Time
	base   context.Context

	updating atomic.Bool
	maxRun   atomic.Int64

	// Guarded by mu.
	due      dueTable[S]
	inflight []*execution[S]
	scope    context.Context
	cancel   context.CancelFunc

	cycles     atomic.Uint64
	dispatched atomic.Uint64
	lastUpdate atomic.Int64 // unix nano
}

// New returns a scheduler submitting work to pool. Init must be called before
// the first Update.
func New[S any](cfg Config, pool Submitter, opts ...Option[S]) *Scheduler[S] {
	s := &Scheduler[S]{
		pool:   pool,
		source: defaultSource,
		now:    wallNow,
		base:   context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.hub == nil {
		s.hub = notify.NewHub[S](s.log)
	}
	s.SetMaxRunningTasksAllowed(cfg.MaxRunningTasksAllowed)
	return s
}

// Subscribe registers an observer. See notify.Hub.
func (s *Scheduler[S]) Subscribe(o notify.Observer[S]) (unsubscribe func()) {
	return s.hub.Subscribe(o)
}

func (s *Scheduler[S]) MaxRunningTasksAllowed() int { return int(s.maxRun.Load()) }

// SetMaxRunningTasksAllowed changes the cap; n <= 0 restores the default.
// The new value applies from the next Update.
func (s *Scheduler[S]) SetMaxRunningTasksAllowed(n int) {
	if n <= 0 {
		n = DefaultMaxRunningTasks
	}
	s.maxRun.Store(int64(n))
}

// Updating reports whether an update cycle is in progress.
func (s *Scheduler[S]) Updating() bool { return s.updating.Load() }

// Init creates the cancellation scope for dispatched work unless a live one
// exists.
func (s *Scheduler[S]) Init() error {
	if s.updating.Load() {
		s.operationFailed("cannot initialize while updating")
		return ErrBusy
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scope != nil && s.scope.Err() == nil {
		return nil
	}
	s.scope, s.cancel = context.WithCancel(s.base)
	return nil
}

// Schedule computes t's first run and inserts it into the due table. It
// returns false when the scheduler is updating, the policy requests no run, or
// another task already holds the same time.
func (s *Scheduler[S]) Schedule(t *task.Task[S]) bool {
	if t == nil {
		return false
	}
	if s.updating.Load() {
		s.hub.Emit(s.note(notify.TaskNotScheduled, t,
			fmt.Sprintf("cannot schedule task at %s while updating", fmtTime(t.NextRunAt())), ErrBusy))
		return false
	}
	s.mu.Lock()
	ok, n := s.scheduleLocked(t, true, s.now())
	s.mu.Unlock()
	if n != nil {
		s.hub.Emit(*n)
	}
	return ok
}

// scheduleLocked asks t's policy for the next run and inserts it. The
// returned notification, if any, must be emitted after unlocking.
func (s *Scheduler[S]) scheduleLocked(t *task.Task[S], isFirstRun bool, now time.Time) (bool, *notify.Notification[S]) {
	if !t.UpdateNextRunAt(isFirstRun, now) {
		return false, nil
	}
	return s.insertLocked(t)
}

func (s *Scheduler[S]) insertLocked(t *task.Task[S]) (bool, *notify.Notification[S]) {
	at := t.NextRunAt()
	if !s.due.insert(at, t) {
		n := s.note(notify.TaskNotScheduled, t,
			fmt.Sprintf("cannot schedule task at %s: another task is scheduled for this time", fmtTime(at)), nil)
		return false, &n
	}
	n := s.note(notify.TaskScheduled, t, fmt.Sprintf("task scheduled to run at %s", fmtTime(at)), nil)
	return true, &n
}

// Clear empties the due table. Running executions are not affected.
func (s *Scheduler[S]) Clear() error {
	if s.updating.Load() {
		s.operationFailed("cannot clear scheduled tasks while updating")
		return ErrBusy
	}
	s.mu.Lock()
	s.due.clear()
	s.mu.Unlock()
	return nil
}

// Stop cancels every dispatched execution and drops the cancellation scope.
// Update dispatches nothing until Init is called again.
func (s *Scheduler[S]) Stop() error {
	if s.updating.Load() {
		s.operationFailed("cannot stop while updating")
		return ErrBusy
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.scope, s.cancel = nil, nil
	s.mu.Unlock()
	return nil
}

// NextScheduledTask returns the task with the earliest due time.
func (s *Scheduler[S]) NextScheduledTask() (*task.Task[S], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.due.peek()
	return e.task, ok
}

// RunningTasksCount is the size of the in-flight set. Finished executions
// count until the next Update reclaims them.
func (s *Scheduler[S]) RunningTasksCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// ScheduledCount is the size of the due table.
func (s *Scheduler[S]) ScheduledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.due.len()
}

// Initialized reports whether a live cancellation scope exists.
func (s *Scheduler[S]) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope != nil && s.scope.Err() == nil
}

func (s *Scheduler[S]) operationFailed(msg string) {
	s.hub.Emit(s.note(notify.OperationFailed, nil, msg, ErrBusy))
}

func (s *Scheduler[S]) note(k notify.Kind, t *task.Task[S], msg string, err error) notify.Notification[S] {
	n := notify.Notification[S]{
		Kind:    k,
		Source:  s.source,
		Message: msg,
		Task:    t,
		Err:     err,
		At:      s.now(),
	}
	if t != nil {
		n.NextRunAt = t.NextRunAt()
	}
	return n
}

func (s *Scheduler[S]) name(t *task.Task[S]) string {
	if s.label != nil && t != nil {
		if v := s.label(t.State); v != "" {
			return v
		}
	}
	if t == nil {
		return "task"
	}
	return "task." + t.Recurrence().String()
}

// wallNow drops the monotonic reading so every due-table key compares by
// wall clock.
func wallNow() time.Time { return time.Now().Round(0) }

func fmtTime(t time.Time) string { return t.Format(time.RFC3339) }
