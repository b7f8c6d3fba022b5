package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskman/internal/notify"
	"taskman/internal/task"
	"taskman/internal/task/engine"
	logx "taskman/pkg/logx"
)

func newEngineScheduler(t *testing.T) (*Scheduler[string], *notify.Recorder[string], *fakeClock) {
	t.Helper()
	pool := engine.New(engine.Config{Enabled: true, Workers: 2, QueueSize: 16}, logx.Nop(), nil)
	pool.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Stop(ctx)
	})
	clock := newClock(epoch)
	rec := notify.NewRecorder[string]()
	s := New[string](Config{}, pool, WithClock[string](clock.Now))
	s.Subscribe(rec)
	require.NoError(t, s.Init())
	return s, rec, clock
}

func TestExecutionOutcomes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		action  task.Action[string]
		want    task.Outcome
		wantErr string
	}{
		{"ok", okAction, task.Ok, ""},
		{"reported failure", func(context.Context, string) (task.Outcome, error) { return task.Failed, nil }, task.Failed, ""},
		{"reported cancel", func(context.Context, string) (task.Outcome, error) { return task.Canceled, nil }, task.Canceled, ""},
		{"error", func(context.Context, string) (task.Outcome, error) { return task.Ok, errors.New("disk full") }, task.Failed, "disk full"},
		{"canceled error", func(context.Context, string) (task.Outcome, error) { return task.Ok, context.Canceled }, task.Canceled, "canceled"},
		{"panic", func(context.Context, string) (task.Outcome, error) { panic("bug") }, task.Failed, "panic: bug"},
		{"bogus outcome", func(context.Context, string) (task.Outcome, error) { return task.Outcome(42), nil }, task.Failed, "unknown outcome"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, rec, _ := newEngineScheduler(t)
			require.True(t, s.Schedule(mustTask(t, tc.name, epoch, task.RunOnce{}, tc.action)))
			s.Update()

			require.True(t, rec.WaitFor(waitCtx(t), notify.ExecutionFinished, 1))
			fin := rec.OfKind(notify.ExecutionFinished)[0]
			require.NotNil(t, fin.Outcome)
			assert.Equal(t, tc.want, *fin.Outcome)
			if tc.wantErr == "" {
				assert.NoError(t, fin.Err)
			} else {
				require.Error(t, fin.Err)
				assert.Contains(t, fin.Err.Error(), tc.wantErr)
			}

			all := rec.All()
			var order []notify.Kind
			for _, n := range all {
				if n.Kind == notify.ExecutionStarted || n.Kind == notify.ExecutionFinished {
					order = append(order, n.Kind)
				}
			}
			assert.Equal(t, []notify.Kind{notify.ExecutionStarted, notify.ExecutionFinished}, order)

			s.Update()
			assert.Zero(t, s.RunningTasksCount())
		})
	}
}

func TestStopCancelsRunningWork(t *testing.T) {
	t.Parallel()
	s, rec, _ := newEngineScheduler(t)
	entered := make(chan struct{})
	require.True(t, s.Schedule(mustTask(t, "long", epoch, task.RunOnce{}, func(ctx context.Context, _ string) (task.Outcome, error) {
		close(entered)
		<-ctx.Done()
		return task.Ok, ctx.Err()
	})))
	s.Update()
	<-entered

	require.NoError(t, s.Stop())
	require.True(t, rec.WaitFor(waitCtx(t), notify.ExecutionFinished, 1))
	fin := rec.OfKind(notify.ExecutionFinished)[0]
	assert.Equal(t, task.Canceled, *fin.Outcome)
	assert.ErrorIs(t, fin.Err, context.Canceled)
}

func TestCanceledBeforeStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	require.NoError(t, f.s.Init())
	ran := false
	require.True(t, f.s.Schedule(mustTask(t, "x", epoch, task.RunOnce{}, func(context.Context, string) (task.Outcome, error) {
		ran = true
		return task.Ok, nil
	})))
	f.s.Update()
	require.NoError(t, f.s.Stop())
	f.pool.RunNext(t)

	assert.False(t, ran)
	assert.Zero(t, f.rec.Count(notify.ExecutionStarted))
	fin := f.rec.OfKind(notify.ExecutionFinished)
	require.Len(t, fin, 1)
	assert.Equal(t, task.Canceled, *fin[0].Outcome)

	f.s.Update()
	assert.Zero(t, f.s.RunningTasksCount())
}

func TestActionReceivesState(t *testing.T) {
	t.Parallel()
	s, rec, _ := newEngineScheduler(t)
	got := make(chan string, 1)
	require.True(t, s.Schedule(mustTask(t, "payload", epoch, task.RunOnce{}, func(_ context.Context, st string) (task.Outcome, error) {
		got <- st
		return task.Ok, nil
	})))
	s.Update()
	require.True(t, rec.WaitFor(waitCtx(t), notify.ExecutionFinished, 1))
	assert.Equal(t, "payload", <-got)
}
