package task

import (
	"fmt"
	"time"
)

// Kind names a recurrence policy.
type Kind string

const (
	KindOnce   Kind = "once"
	KindHourly Kind = "hourly"
	KindEvery  Kind = "every"
)

// Recurrence computes a task's next run time. The set of policies is closed:
// RunOnce, Hourly and EveryMinutes.
//
// Policies never block and depend only on the task's times and now.
type Recurrence interface {
	Kind() Kind
	String() string

	// next may adjust lastExec (EveryMinutes does).
	next(runAt, lastExec *time.Time, isFirstRun bool, now time.Time) (time.Time, bool)
}

// RunOnce runs the task at RunAt and never again.
type RunOnce struct{}

func (RunOnce) Kind() Kind     { return KindOnce }
func (RunOnce) String() string { return "once" }

func (RunOnce) next(runAt, _ *time.Time, isFirstRun bool, _ time.Time) (time.Time, bool) {
	if !isFirstRun {
		return time.Time{}, false
	}
	return *runAt, true
}

// Hourly runs the task every hour at RunAt's minute and second.
type Hourly struct{}

func (Hourly) Kind() Kind     { return KindHourly }
func (Hourly) String() string { return "hourly" }

func (Hourly) next(runAt, _ *time.Time, _ bool, now time.Time) (time.Time, bool) {
	anchor := runAt.In(now.Location())
	at := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), anchor.Minute(), anchor.Second(), 0, now.Location())
	// Missed this hour's slot; take the next one.
	for !at.After(now) {
		at = at.Add(time.Hour)
	}
	return at, true
}

// EveryMinutes runs the task every N minutes counted from its last execution.
type EveryMinutes struct {
	n int
}

// NewEveryMinutes returns ErrInvalidInterval when n <= 0.
func NewEveryMinutes(n int) (EveryMinutes, error) {
	if n <= 0 {
		return EveryMinutes{}, fmt.Errorf("%w: got %d", ErrInvalidInterval, n)
	}
	return EveryMinutes{n: n}, nil
}

func (e EveryMinutes) Minutes() int   { return e.n }
func (e EveryMinutes) Kind() Kind     { return KindEvery }
func (e EveryMinutes) String() string { return fmt.Sprintf("every %dm", e.n) }

func (e EveryMinutes) interval() time.Duration { return time.Duration(e.n) * time.Minute }

func (e EveryMinutes) next(runAt, lastExec *time.Time, _ bool, now time.Time) (time.Time, bool) {
	iv := e.interval()
	if iv <= 0 {
		// Zero value: refuse to spin.
		return time.Time{}, false
	}
	// Never executed, or dormant for more than two intervals: restart the
	// cadence from now instead of replaying every missed slot, but not before RunAt.
	if lastExec.Before(now.Add(-2 * iv)) {
		*lastExec = now.Add(-iv)
		if lastExec.Before(*runAt) {
			*lastExec = runAt.Add(-iv)
		}
	}
	at := lastExec.Add(iv)
	for !at.After(now) {
		at = at.Add(iv)
	}
	return at, true
}

// ParseKind maps a config string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindOnce, KindHourly, KindEvery:
		return Kind(s), nil
	case "":
		return "", fmt.Errorf("recurrence required (once|hourly|every)")
	default:
		return "", fmt.Errorf("unknown recurrence %q (once|hourly|every)", s)
	}
}

// NewRecurrence builds the policy for k. minutes is used by KindEvery only.
func NewRecurrence(k Kind, minutes int) (Recurrence, error) {
	switch k {
	case KindOnce:
		return RunOnce{}, nil
	case KindHourly:
		return Hourly{}, nil
	case KindEvery:
		e, err := NewEveryMinutes(minutes)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown recurrence %q", k)
	}
}
