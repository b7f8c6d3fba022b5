package scheduler

import (
	"context"
	"errors"
	"time"

	"taskman/internal/notify"
	"taskman/internal/task/engine"
	logx "taskman/pkg/logx"
)

const (
	DefaultMaxRunningTasks = 100
	defaultSource          = "scheduler"
)

var (
	// ErrBusy is returned by mutators called while an update cycle runs.
	ErrBusy = errors.New("scheduler is updating")
	// ErrNotInitialized is reported when Update runs without a cancellation scope.
	ErrNotInitialized = errors.New("scheduler not initialized")
	// ErrCapacity is reported when the running-task cap blocks dispatch.
	ErrCapacity = errors.New("too many running tasks")
	// ErrNoPool is reported when a scheduler was built without a Submitter.
	ErrNoPool = errors.New("no worker pool")
)

// Submitter runs jobs asynchronously. *engine.Service implements it.
type Submitter interface {
	Submit(ctx context.Context, j engine.Job) error
}

// Config configures a Scheduler.
type Config struct {
	// MaxRunningTasksAllowed caps in-flight executions. <=0 means DefaultMaxRunningTasks.
	MaxRunningTasksAllowed int
}

type Option[S any] func(*Scheduler[S])

// WithClock replaces time.Now.
func WithClock[S any](now func() time.Time) Option[S] {
	return func(s *Scheduler[S]) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger[S any](log logx.Logger) Option[S] {
	return func(s *Scheduler[S]) { s.log = log }
}

// WithHub shares a notification hub instead of creating one.
func WithHub[S any](h *notify.Hub[S]) Option[S] {
	return func(s *Scheduler[S]) {
		if h != nil {
			s.hub = h
		}
	}
}

// WithLabeler names tasks in job names and logs.
func WithLabeler[S any](l notify.Labeler[S]) Option[S] {
	return func(s *Scheduler[S]) { s.label = l }
}

// WithSource sets Notification.Source.
func WithSource[S any](source string) Option[S] {
	return func(s *Scheduler[S]) {
		if source != "" {
			s.source = source
		}
	}
}

// WithBaseContext sets the parent of every cancellation scope made by Init.
func WithBaseContext[S any](ctx context.Context) Option[S] {
	return func(s *Scheduler[S]) {
		if ctx != nil {
			s.base = ctx
		}
	}
}

// Entry is one due table row as seen by Snapshot.
type Entry struct {
	At         time.Time `json:"at"`
	Task       string    `json:"task,omitempty"`
	Recurrence string    `json:"recurrence"`
	Active     bool      `json:"active"`
}

// Running is one in-flight execution as seen by Snapshot.
type Running struct {
	ID         string    `json:"id"`
	Task       string    `json:"task,omitempty"`
	Dispatched time.Time `json:"dispatched"`
	Done       bool      `json:"done"`
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Initialized            bool      `json:"initialized"`
	Updating               bool      `json:"updating"`
	MaxRunningTasksAllowed int       `json:"max_running_tasks_allowed"`
	Cycles                 uint64    `json:"cycles"`
	Dispatched             uint64    `json:"dispatched"`
	LastUpdate             time.Time `json:"last_update,omitzero"`
	Scheduled              []Entry   `json:"scheduled"`
	Running                []Running `json:"running"`
}
