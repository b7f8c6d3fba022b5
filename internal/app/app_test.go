package app

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskman/internal/config"
	"taskman/internal/jobs"
	"taskman/internal/storage"
	"taskman/internal/task"
	logx "taskman/pkg/logx"
)

func writeConfig(t *testing.T, dir string, cfg config.Config) string {
	t.Helper()
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	p := filepath.Join(dir, "taskman.json")
	require.NoError(t, os.WriteFile(p, b, 0o600))
	return p
}

func baseConfig(dir string) config.Config {
	return config.Config{
		Logging:   config.LoggingConfig{Level: "error"},
		Scheduler: config.SchedulerConfig{Tick: "1s", Timezone: "UTC"},
		Engine:    config.EngineConfig{Workers: 2},
		Journal:   &config.JournalConfig{Driver: "file", Path: filepath.Join(dir, "journal.jsonl")},
		Tasks: []config.TaskConfig{
			{Name: "warmup", Recurrence: "once", Job: config.JobConfig{Kind: "log", Message: "warm"}},
			{Name: "pulse", Recurrence: "every", EveryMinutes: 10, Job: config.JobConfig{Kind: "log"}},
		},
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(dir)
	cfg.Tasks[0].Job.Kind = "shell"
	_, err := New(writeConfig(t, dir, cfg))
	assert.ErrorContains(t, err, "unknown kind")

	_, err = New(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestAppRunsConfiguredTask(t *testing.T) {
	dir := t.TempDir()
	a, err := New(writeConfig(t, dir, baseConfig(dir)))
	require.NoError(t, err)
	require.NotNil(t, a.Journal())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	var recs []storage.Execution
	require.Eventually(t, func() bool {
		recs, err = a.Journal().Recent(context.Background(), 10)
		return err == nil && len(recs) > 0
	}, 10*time.Second, 50*time.Millisecond)
	assert.Equal(t, "warmup", recs[0].Task)
	assert.Equal(t, "ok", recs[0].Outcome)
	assert.Equal(t, "once", recs[0].Recurrence)

	st := a.Status()
	assert.True(t, st.Scheduler.Initialized)
	assert.True(t, st.Driver.Running)
	assert.Len(t, st.Scheduler.Scheduled, 1, "only the recurring task stays scheduled")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	assert.False(t, a.sched.Initialized())
	assert.False(t, a.Status().Driver.Running)
	select {
	case <-a.Done():
	default:
		t.Fatal("supervisor context still live after Stop")
	}
}

func TestApplyTasksKeepsHistory(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(dir)
	a, err := New(writeConfig(t, dir, cfg))
	require.NoError(t, err)
	require.Equal(t, 2, a.sched.ScheduledCount())

	warmup, pulse := a.tasks["warmup"], a.tasks["pulse"]
	require.NotNil(t, warmup)
	require.NotNil(t, pulse)
	warmup.LastExecutionTime = time.Now()

	next := cfg
	next.Tasks = []config.TaskConfig{
		cfg.Tasks[0],
		{Name: "pulse", Recurrence: "every", EveryMinutes: 10, Active: new(bool), Job: config.JobConfig{Kind: "log"}},
		{Name: "extra", Recurrence: "hourly", Job: config.JobConfig{Kind: "log"}},
	}
	require.NoError(t, a.applyTasks(&next))

	assert.Same(t, warmup, a.tasks["warmup"])
	assert.Same(t, pulse, a.tasks["pulse"], "active-only change keeps the task")
	assert.False(t, pulse.IsActive())
	require.NotNil(t, a.tasks["extra"])
	assert.Equal(t, 2, a.sched.ScheduledCount(), "run-once task that already ran is not rescheduled")

	next.Tasks = next.Tasks[1:2]
	next.Tasks[0].EveryMinutes = 20
	require.NoError(t, a.applyTasks(&next))
	assert.NotSame(t, pulse, a.tasks["pulse"])
	assert.Len(t, a.tasks, 1)
	assert.Equal(t, 1, a.sched.ScheduledCount())
}

func TestApplyTasksBuildFailureKeepsSchedule(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(dir)
	a, err := New(writeConfig(t, dir, cfg))
	require.NoError(t, err)
	require.Equal(t, 2, a.sched.ScheduledCount())
	warmup, pulse := a.tasks["warmup"], a.tasks["pulse"]

	a.build = func(s jobs.Spec, log logx.Logger) (*task.Task[jobs.Spec], error) {
		if s.Name == "broken" {
			return nil, errors.New("build refused")
		}
		return jobs.Build(s, log)
	}
	next := cfg
	next.Tasks = []config.TaskConfig{
		{Name: "fresh", Recurrence: "hourly", Job: config.JobConfig{Kind: "log"}},
		{Name: "broken", Recurrence: "hourly", Job: config.JobConfig{Kind: "log"}},
	}
	require.ErrorContains(t, a.applyTasks(&next), "build refused")

	assert.Equal(t, 2, a.sched.ScheduledCount())
	assert.Len(t, a.tasks, 2)
	assert.Same(t, warmup, a.tasks["warmup"])
	assert.Same(t, pulse, a.tasks["pulse"])
	assert.Nil(t, a.tasks["fresh"])
	_, ok := a.taskCfgs["broken"]
	assert.False(t, ok)
}

func TestApplyConfigLive(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(dir)
	a, err := New(writeConfig(t, dir, cfg))
	require.NoError(t, err)

	next := cfg
	next.Scheduler.MaxRunningTasks = 3
	next.Scheduler.Tick = "2s"
	next.Scheduler.Timezone = "Local"
	a.applyConfig(context.Background(), &cfg, &next)

	assert.Equal(t, 3, a.sched.MaxRunningTasksAllowed())
	assert.Equal(t, "@every 2s", a.driver.Stats().Tick)
	assert.Equal(t, "Local", a.now().Location().String())
}

func TestStopBeforeStart(t *testing.T) {
	dir := t.TempDir()
	a, err := New(writeConfig(t, dir, baseConfig(dir)))
	require.NoError(t, err)
	assert.NoError(t, a.Stop(context.Background(), StopAppStop))
	assert.NoError(t, a.Err())
}
