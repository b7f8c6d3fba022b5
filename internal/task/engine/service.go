package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"taskman/internal/eventbus"
	rtsup "taskman/internal/runtime/supervisor"
	logx "taskman/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service is a fixed-size worker pool fed by a bounded queue.
//
// Submit never blocks: a full queue is reported as ErrQueueFull so callers
// that run on a timer can decide what to do with the work themselves.
type Service struct {
	// mu is held shared by Submit across its enqueue, so Stop and a resize
	// never swap the queue under a sender.
	mu  sync.RWMutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	base     context.Context
	q        chan queuedJob
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	retireCh chan struct{}
	stopDone chan struct{}

	// retiring holds worker sets replaced by a resize that are still
	// finishing their queue.
	retiring map[*rtsup.Supervisor]chan queuedJob

	inFlight  atomic.Int32
	submitted atomic.Uint64
	completed atomic.Uint64
	dropped   atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem

	lastQueueFullWarnAt atomic.Int64
}

type queuedJob struct {
	job        Job
	ctx        context.Context
	enqueuedAt time.Time
	timeout    time.Duration
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		log:      log,
		bus:      bus,
		retiring: map[*rtsup.Supervisor]chan queuedJob{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Enabled
}

// Supervisor returns the pool's supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sup
}

// Apply swaps the configuration. When the worker count or queue size changed,
// a running pool starts a new worker set; the old workers finish their
// current jobs and whatever is left in their queue, then exit. Running jobs
// are never canceled by a resize. Other fields take effect for the next job.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil && s.stopDone == nil
	if !running {
		s.mu.Unlock()
		return
	}
	if !cfg.Enabled {
		s.mu.Unlock()
		s.Stop(ctx)
		return
	}
	if prev.Workers == cfg.Workers && prev.QueueSize == cfg.QueueSize {
		s.mu.Unlock()
		return
	}

	oldSup, oldQueue, oldRetire := s.sup, s.q, s.retireCh
	s.retiring[oldSup] = oldQueue
	s.launchLocked(cfg)
	close(oldRetire)
	s.mu.Unlock()

	s.log.Info("worker pool resized",
		logx.Int("workers_from", prev.Workers), logx.Int("workers_to", cfg.Workers),
		logx.Int("queue_from", prev.QueueSize), logx.Int("queue_to", cfg.QueueSize))

	go func() {
		_ = oldSup.Wait(context.Background())
		oldSup.Cancel()
		s.mu.Lock()
		delete(s.retiring, oldSup)
		s.mu.Unlock()
		s.log.Debug("retired worker set exited")
	}()
}

// Start launches the workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	if s.stopCh != nil {
		done := s.stopDone
		s.mu.Unlock()
		if done == nil {
			return
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		if s.stopCh != nil {
			s.mu.Unlock()
			return
		}
	}

	s.base = context.WithoutCancel(ctx)
	s.launchLocked(s.cfg)
	s.mu.Unlock()
}

// launchLocked creates a fresh queue and worker set for cfg and makes it
// current. Callers hold s.mu.
func (s *Service) launchLocked(cfg Config) {
	s.q = make(chan queuedJob, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.retireCh = make(chan struct{})
	s.stopDone = nil
	s.sup = rtsup.New(s.base,
		rtsup.WithLogger(s.log.With(logx.String("comp", "engine"))),
		rtsup.WithCancelOnError(false),
	)
	stopCh, retireCh, queue, sup := s.stopCh, s.retireCh, s.q, s.sup

	for i := 0; i < cfg.Workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.worker(c, stopCh, retireCh, queue)
			select {
			case <-stopCh:
				return context.Canceled
			case <-retireCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}

	s.log.Info("worker pool started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop stops the workers and waits for running jobs until ctx ends. Jobs
// still queued are then run with a canceled context so their owners observe
// the cancellation.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	// From here on Submit reports ErrStopping, so no sender can reach the
	// queues drained below.
	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sups := []*rtsup.Supervisor{s.sup}
	queues := []chan queuedJob{s.q}
	for sup, q := range s.retiring {
		sups = append(sups, sup)
		queues = append(queues, q)
	}
	s.mu.Unlock()

	for _, sup := range sups {
		sup.Cancel()
	}

	go func() {
		for _, sup := range sups {
			_ = sup.Wait(context.Background())
		}
		for _, q := range queues {
			s.drain(q)
		}
		s.mu.Lock()
		s.q = nil
		s.stopCh = nil
		s.retireCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("worker pool stopped")
	case <-ctx.Done():
		s.log.Warn("worker pool stop timed out", logx.Err(ctx.Err()))
	}
}

// Submit enqueues j without blocking. ctx becomes the parent of the job's
// run context.
func (s *Service) Submit(ctx context.Context, j Job) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if j.Run == nil {
		return ErrNoRun
	}
	j.Name = strings.TrimSpace(j.Name)
	if j.Name == "" {
		j.Name = "job"
	}
	if strings.TrimSpace(j.ID) == "" {
		j.ID = uuid.NewString()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, q := s.cfg, s.q
	if !cfg.Enabled {
		return ErrDisabled
	}
	if q == nil || s.stopCh == nil {
		return ErrStopped
	}
	if s.stopDone != nil {
		return ErrStopping
	}

	timeout := j.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	now := time.Now()
	select {
	case q <- queuedJob{job: j, ctx: ctx, enqueuedAt: now, timeout: timeout}:
		s.submitted.Add(1)
		return nil
	default:
		s.onQueueFull(now, j, q)
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	cfg, q := s.cfg, s.q
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.RUnlock()

	snap := Snapshot{
		Enabled:        cfg.Enabled,
		Running:        running,
		Workers:        cfg.Workers,
		InFlight:       int(s.inFlight.Load()),
		Submitted:      s.submitted.Load(),
		Completed:      s.completed.Load(),
		Dropped:        s.dropped.Load(),
		DefaultTimeout: cfg.DefaultTimeout,
	}
	if q != nil {
		snap.QueueLen, snap.QueueCap = len(q), cap(q)
	}

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) onQueueFull(now time.Time, j Job, q chan queuedJob) {
	s.dropped.Add(1)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "job.dropped", Time: now, Data: JobEvent{ID: j.ID, Name: j.Name, Started: now, Error: "queue_full"}})
	}
	if s.shouldWarn(&s.lastQueueFullWarnAt, now) {
		s.log.Warn("job dropped: queue full",
			logx.String("job", j.Name),
			logx.String("id", j.ID),
			logx.Int("queue_cap", cap(q)),
			logx.Uint64("dropped", s.dropped.Load()),
		)
	}
}

func (s *Service) shouldWarn(last *atomic.Int64, now time.Time) bool {
	prev := last.Load()
	n := now.UnixNano()
	if prev != 0 && n-prev < int64(warnThrottleEvery) {
		return false
	}
	return last.CompareAndSwap(prev, n)
}

func (s *Service) record(item HistoryItem) {
	s.mu.RLock()
	size := s.cfg.HistorySize
	s.mu.RUnlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}
