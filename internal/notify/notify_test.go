package notify

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskman/internal/eventbus"
	"taskman/internal/storage"
	"taskman/internal/task"
	logx "taskman/pkg/logx"
)

var t0 = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func newTask(t *testing.T, name string) *task.Task[string] {
	t.Helper()
	tk, err := task.New(t0, task.Hourly{}, func(context.Context, string) (task.Outcome, error) {
		return task.Ok, nil
	}, name)
	require.NoError(t, err)
	return tk
}

func byName(s string) string { return s }

func TestKindString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "task.scheduled", TaskScheduled.String())
	assert.Equal(t, "task.not_scheduled", TaskNotScheduled.String())
	assert.Equal(t, "task.not_executed", TaskNotExecuted.String())
	assert.Equal(t, "task.execution_started", ExecutionStarted.String())
	assert.Equal(t, "task.execution_finished", ExecutionFinished.String())
	assert.Equal(t, "operation.failed", OperationFailed.String())
	assert.Equal(t, "unknown", Kind(0).String())
}

func TestHubOrderedDelivery(t *testing.T) {
	t.Parallel()
	h := NewHub[string](logx.Nop())
	var mu sync.Mutex
	var got []string
	mk := func(tag string) Observer[string] {
		return ObserverFunc[string](func(n Notification[string]) {
			mu.Lock()
			got = append(got, tag+":"+n.Kind.String())
			mu.Unlock()
		})
	}
	h.Subscribe(mk("a"))
	h.Subscribe(mk("b"))

	h.Emit(
		Notification[string]{Kind: TaskScheduled},
		Notification[string]{Kind: TaskNotExecuted},
	)
	assert.Equal(t, []string{
		"a:task.scheduled", "b:task.scheduled",
		"a:task.not_executed", "b:task.not_executed",
	}, got)
}

func TestHubUnsubscribe(t *testing.T) {
	t.Parallel()
	h := NewHub[string](logx.Nop())
	r1, r2 := NewRecorder[string](), NewRecorder[string]()
	un1 := h.Subscribe(r1)
	h.Subscribe(r2)
	require.Equal(t, 2, h.Len())

	un1()
	un1()
	require.Equal(t, 1, h.Len())

	h.Emit(Notification[string]{Kind: OperationFailed})
	assert.Empty(t, r1.All())
	assert.Len(t, r2.All(), 1)

	h.Subscribe(nil)()
	assert.Equal(t, 1, h.Len())
}

func TestHubRecoversObserverPanic(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewHub[string](logx.NewJSON(&buf, "debug"))
	rec := NewRecorder[string]()
	h.Subscribe(ObserverFunc[string](func(Notification[string]) { panic("observer bug") }))
	h.Subscribe(rec)

	require.NotPanics(t, func() {
		h.Emit(Notification[string]{Kind: TaskScheduled})
	})
	assert.Equal(t, 1, rec.Count(TaskScheduled))
	assert.Contains(t, buf.String(), "observer panicked")
}

func TestOnly(t *testing.T) {
	t.Parallel()
	rec := NewRecorder[string]()
	o := Only[string](rec, ExecutionFinished)
	o.Notify(Notification[string]{Kind: TaskScheduled})
	o.Notify(Notification[string]{Kind: ExecutionFinished})
	assert.Len(t, rec.All(), 1)
}

func TestRecorderWaitFor(t *testing.T) {
	t.Parallel()
	rec := NewRecorder[string]()
	go func() {
		for i := 0; i < 3; i++ {
			rec.Notify(Notification[string]{Kind: ExecutionFinished})
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.True(t, rec.WaitFor(ctx, ExecutionFinished, 3))

	short, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	assert.False(t, rec.WaitFor(short, ExecutionFinished, 4))

	rec.Reset()
	assert.Empty(t, rec.All())
}

func TestLogObserverThrottlesWarnings(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	o := NewLogObserver[string](logx.NewJSON(&buf, "debug"), byName, time.Hour, 2)

	for i := 0; i < 5; i++ {
		o.Notify(Notification[string]{Kind: TaskNotExecuted, Message: "capacity reached"})
	}
	assert.Equal(t, 2, strings.Count(buf.String(), "task not executed"))
	assert.Equal(t, uint64(3), o.suppressed.Load())

	ok := task.Ok
	o.Notify(Notification[string]{Kind: ExecutionFinished, Task: newTask(t, "backup"), Outcome: &ok, StartedAt: t0, At: t0.Add(time.Second)})
	out := buf.String()
	assert.Contains(t, out, `"task":"backup"`)
	assert.Contains(t, out, `"outcome":"ok"`)
	assert.Contains(t, out, `"recurrence":"hourly"`)
}

func TestLogObserverFailedOutcomeIsWarning(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	o := NewLogObserver[string](logx.NewJSON(&buf, "info"), byName, 0, 0)
	failed := task.Failed
	o.Notify(Notification[string]{Kind: ExecutionFinished, Outcome: &failed, Err: errors.New("disk full")})
	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, "disk full")
}

func TestBusObserver(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4, "task.")
	defer unsub()

	o := NewBusObserver[string](bus, byName)
	canceled := task.Canceled
	tk := newTask(t, "report")
	o.Notify(Notification[string]{Kind: ExecutionFinished, Task: tk, Outcome: &canceled, At: t0, ExecutionID: "id-1"})
	o.Notify(Notification[string]{Kind: OperationFailed, At: t0})

	select {
	case ev := <-ch:
		assert.Equal(t, "task.execution_finished", ev.Type)
		p, ok := ev.Data.(Payload)
		require.True(t, ok)
		assert.Equal(t, "report", p.Task)
		assert.Equal(t, "canceled", p.Outcome)
		assert.Equal(t, "id-1", p.ExecutionID)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}

	var nilObs *BusObserver[string]
	assert.NotPanics(t, func() { nilObs.Notify(Notification[string]{}) })
}

func TestJournalObserver(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "j.jsonl")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	o := NewJournalObserver[string](st, byName, logx.Nop())
	tk := newTask(t, "cleanup")
	ok := task.Ok
	o.Notify(Notification[string]{Kind: ExecutionStarted, Task: tk})
	o.Notify(Notification[string]{
		Kind: ExecutionFinished, Task: tk, Outcome: &ok, ExecutionID: "e1",
		StartedAt: t0, At: t0.Add(2 * time.Second), NextRunAt: t0.Add(time.Hour),
	})

	got, err := st.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, "cleanup", got[0].Task)
	assert.Equal(t, "ok", got[0].Outcome)
	assert.Equal(t, 2*time.Second, got[0].Took())
}
