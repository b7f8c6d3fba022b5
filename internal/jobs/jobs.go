// Package jobs builds the task bodies the daemon can run from configuration.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taskman/internal/task"
	logx "taskman/pkg/logx"
)

// Kind names a built-in job body.
type Kind string

const (
	// KindLog writes Message to the log.
	KindLog Kind = "log"
	// KindSleep works for Sleep, stopping early on cancellation.
	KindSleep Kind = "sleep"
)

// Spec is the state carried by configured tasks.
type Spec struct {
	Name       string
	Kind       Kind
	Message    string
	Sleep      time.Duration
	Recurrence task.Kind
	Minutes    int
	RunAt      time.Time
	Active     bool
}

// Label names a task by its spec. It fits notify.Labeler.
func Label(s Spec) string { return s.Name }

// Validate checks s without building anything.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("job name required")
	}
	switch s.Kind {
	case KindLog:
	case KindSleep:
		if s.Sleep <= 0 {
			return fmt.Errorf("job %q: sleep must be > 0", s.Name)
		}
	default:
		return fmt.Errorf("job %q: unknown kind %q (log|sleep)", s.Name, s.Kind)
	}
	if _, err := task.NewRecurrence(s.Recurrence, s.Minutes); err != nil {
		return fmt.Errorf("job %q: %w", s.Name, err)
	}
	return nil
}

// Build returns a task running s. Tasks log through log.
func Build(s Spec, log logx.Logger) (*task.Task[Spec], error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rec, err := task.NewRecurrence(s.Recurrence, s.Minutes)
	if err != nil {
		return nil, err
	}
	var action task.Action[Spec]
	switch s.Kind {
	case KindLog:
		action = logAction(log)
	case KindSleep:
		action = sleepAction(log)
	}
	t, err := task.New(s.RunAt, rec, action, s)
	if err != nil {
		return nil, err
	}
	t.SetActive(s.Active)
	return t, nil
}

func logAction(log logx.Logger) task.Action[Spec] {
	return func(_ context.Context, s Spec) (task.Outcome, error) {
		msg := s.Message
		if msg == "" {
			msg = "task " + s.Name + " ran"
		}
		log.Info(msg, logx.String("task", s.Name))
		return task.Ok, nil
	}
}

func sleepAction(log logx.Logger) task.Action[Spec] {
	return func(ctx context.Context, s Spec) (task.Outcome, error) {
		log.Debug("working", logx.String("task", s.Name), logx.Duration("for", s.Sleep))
		t := time.NewTimer(s.Sleep)
		defer t.Stop()
		select {
		case <-ctx.Done():
			if ctx.Err() == context.Canceled {
				return task.Canceled, nil
			}
			return task.Failed, ctx.Err()
		case <-t.C:
			if s.Message != "" {
				log.Info(s.Message, logx.String("task", s.Name))
			}
			return task.Ok, nil
		}
	}
}
