package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"taskman/internal/eventbus"
	logx "taskman/pkg/logx"
)

// worker runs jobs from queue until stopped. After retireCh closes it
// finishes what is left in queue with live contexts and exits.
func (s *Service) worker(ctx context.Context, stopCh, retireCh <-chan struct{}, queue chan queuedJob) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-retireCh:
			s.finish(ctx, queue)
			return
		case qj := <-queue:
			s.runQueued(ctx, qj)
		}
	}
}

// finish runs the jobs left in a retired queue. Nothing enqueues to it any
// more, so an empty queue means done.
func (s *Service) finish(ctx context.Context, queue chan queuedJob) {
	for ctx.Err() == nil {
		select {
		case qj := <-queue:
			s.runQueued(ctx, qj)
		default:
			return
		}
	}
}

func (s *Service) runQueued(ctx context.Context, qj queuedJob) {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	s.execOne(ctx, qj)
}

// drain runs whatever is left in queue with a canceled context.
func (s *Service) drain(queue chan queuedJob) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	for {
		select {
		case qj := <-queue:
			s.execOne(canceled, qj)
		default:
			return
		}
	}
}

func (s *Service) execOne(workerCtx context.Context, qj queuedJob) {
	start := time.Now()
	queueDelay := max(start.Sub(qj.enqueuedAt), 0)

	runCtx, cancel := context.WithCancel(qj.ctx)
	defer cancel()
	if workerCtx.Err() != nil {
		cancel()
	} else {
		stop := context.AfterFunc(workerCtx, cancel)
		defer stop()
	}
	if qj.timeout > 0 {
		var tcancel context.CancelFunc
		runCtx, tcancel = context.WithTimeout(runCtx, qj.timeout)
		defer tcancel()
	}

	j := qj.job
	s.log.Trace("job.started", logx.String("job", j.Name), logx.Duration("queue_delay", queueDelay))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "job.started", Time: start, Data: JobEvent{ID: j.ID, Name: j.Name, Started: start, QueueDelay: queueDelay}})
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("job panicked", logx.String("job", j.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		err = j.Run(runCtx)
	}()

	dur := time.Since(start)
	item := HistoryItem{ID: j.ID, Name: j.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	ev := JobEvent{ID: j.ID, Name: j.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		s.log.Debug("job.failed", logx.String("job", j.Name), logx.Err(err), logx.Duration("dur", dur))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: "job.failed", Time: time.Now(), Data: ev})
		}
	} else {
		s.log.Trace("job.finished", logx.String("job", j.Name), logx.Duration("dur", dur))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: "job.finished", Time: time.Now(), Data: ev})
		}
	}
	s.completed.Add(1)
	s.record(item)
}
