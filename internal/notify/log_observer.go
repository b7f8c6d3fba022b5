package notify

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"taskman/internal/task"
	logx "taskman/pkg/logx"
)

// LogObserver writes notifications to a logger.
//
// Not-executed and operation-failed warnings repeat every tick while the
// scheduler is saturated or contended, so they go through a token bucket.
// Suppressed lines are counted and reported on the next one that passes.
type LogObserver[S any] struct {
	log     logx.Logger
	label   Labeler[S]
	limiter *rate.Limiter

	suppressed atomic.Uint64
}

// NewLogObserver builds a LogObserver allowing burst warnings, refilled at
// one per every.
func NewLogObserver[S any](log logx.Logger, label Labeler[S], every time.Duration, burst int) *LogObserver[S] {
	if log.IsZero() {
		log = logx.Nop()
	}
	if every <= 0 {
		every = 10 * time.Second
	}
	if burst <= 0 {
		burst = 5
	}
	return &LogObserver[S]{
		log:     log,
		label:   label,
		limiter: rate.NewLimiter(rate.Every(every), burst),
	}
}

func (o *LogObserver[S]) Notify(n Notification[S]) {
	fields := o.fields(n)
	switch n.Kind {
	case TaskScheduled:
		o.log.Debug("task scheduled", fields...)
	case TaskNotScheduled:
		o.log.Info("task not scheduled", fields...)
	case ExecutionStarted:
		o.log.Debug("task started", fields...)
	case ExecutionFinished:
		if n.Outcome != nil && *n.Outcome != task.Ok {
			o.log.Warn("task finished", fields...)
			return
		}
		o.log.Info("task finished", fields...)
	case TaskNotExecuted:
		o.throttled("task not executed", fields)
	case OperationFailed:
		o.throttled("scheduler operation rejected", fields)
	default:
		o.log.Debug("notification", fields...)
	}
}

func (o *LogObserver[S]) throttled(msg string, fields []logx.Field) {
	if !o.limiter.Allow() {
		o.suppressed.Add(1)
		return
	}
	if n := o.suppressed.Swap(0); n > 0 {
		fields = append(fields, logx.Uint64("suppressed", n))
	}
	o.log.Warn(msg, fields...)
}

func (o *LogObserver[S]) fields(n Notification[S]) []logx.Field {
	fields := make([]logx.Field, 0, 8)
	fields = append(fields, logx.String("kind", n.Kind.String()))
	if n.Source != "" {
		fields = append(fields, logx.String("source", n.Source))
	}
	if n.Message != "" {
		fields = append(fields, logx.String("reason", n.Message))
	}
	if name := label(o.label, n.Task); name != "" {
		fields = append(fields, logx.String("task", name))
	}
	if n.Task != nil {
		fields = append(fields, logx.String("recurrence", n.Task.Recurrence().String()))
	}
	if !n.NextRunAt.IsZero() {
		fields = append(fields, logx.Time("next_run_at", n.NextRunAt))
	}
	if n.ExecutionID != "" {
		fields = append(fields, logx.String("execution_id", n.ExecutionID))
	}
	if n.Outcome != nil {
		fields = append(fields, logx.String("outcome", n.Outcome.String()))
		if !n.StartedAt.IsZero() && !n.At.IsZero() {
			fields = append(fields, logx.Duration("took", n.At.Sub(n.StartedAt)))
		}
	}
	if n.Err != nil {
		fields = append(fields, logx.Err(n.Err))
	}
	return fields
}
