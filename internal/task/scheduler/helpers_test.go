package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskman/internal/notify"
	"taskman/internal/task"
	"taskman/internal/task/engine"
	logx "taskman/pkg/logx"
)

var epoch = time.Date(2024, 1, 15, 10, 20, 30, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// manualPool keeps submitted jobs until the test runs them.
type manualPool struct {
	mu   sync.Mutex
	err  error
	jobs []pendingJob
}

type pendingJob struct {
	ctx context.Context
	job engine.Job
}

func (p *manualPool) Submit(ctx context.Context, j engine.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, pendingJob{ctx: ctx, job: j})
	return nil
}

func (p *manualPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

// RunNext runs the oldest pending job on the calling goroutine.
func (p *manualPool) RunNext(t *testing.T) engine.Job {
	t.Helper()
	p.mu.Lock()
	require.NotEmpty(t, p.jobs, "no pending job")
	pj := p.jobs[0]
	p.jobs = p.jobs[1:]
	p.mu.Unlock()
	_ = pj.job.Run(pj.ctx)
	return pj.job
}

type fixture struct {
	clock *fakeClock
	pool  *manualPool
	rec   *notify.Recorder[string]
	s     *Scheduler[string]
}

func newFixture(t *testing.T, max int) *fixture {
	t.Helper()
	f := &fixture{clock: newClock(epoch), pool: &manualPool{}, rec: notify.NewRecorder[string]()}
	f.s = New[string](Config{MaxRunningTasksAllowed: max}, f.pool,
		WithClock[string](f.clock.Now),
		WithLogger[string](logx.Nop()),
		WithLabeler[string](func(s string) string { return s }),
	)
	f.s.Subscribe(f.rec)
	return f
}

func okAction(context.Context, string) (task.Outcome, error) { return task.Ok, nil }

func mustTask(t *testing.T, name string, runAt time.Time, rec task.Recurrence, action task.Action[string]) *task.Task[string] {
	t.Helper()
	if action == nil {
		action = okAction
	}
	tk, err := task.New(runAt, rec, action, name)
	require.NoError(t, err)
	return tk
}

func every(t *testing.T, n int) task.Recurrence {
	t.Helper()
	r, err := task.NewEveryMinutes(n)
	require.NoError(t, err)
	return r
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
