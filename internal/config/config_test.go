package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskman/internal/jobs"
	"taskman/internal/task"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  max_running_tasks: 3
  tick: 5s
  timezone: UTC
engine:
  workers: 2
  default_timeout: 30s
journal:
  driver: sqlite
  path: ./taskman.db
tasks:
  - name: heartbeat
    recurrence: every
    every_minutes: 15
    job:
      kind: log
      message: still here
  - name: nightly
    recurrence: once
    run_at: "23:30"
    active: false
    job:
      kind: sleep
      sleep: 2s
`

var refNow = time.Date(2024, 1, 15, 10, 20, 30, 0, time.UTC)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("taskman.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 3, cfg.Scheduler.MaxRunningTasks)
	assert.Equal(t, 2, cfg.Engine.Workers)
	require.NotNil(t, cfg.Journal)
	assert.Equal(t, "sqlite", cfg.Journal.Driver)
	require.Len(t, cfg.Tasks, 2)
	assert.Equal(t, 15, cfg.Tasks[0].EveryMinutes)
	require.NotNil(t, cfg.Tasks[1].Active)
	assert.False(t, *cfg.Tasks[1].Active)
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, file, body string
	}{
		{"unknown json key", "c.json", `{"logging":{"level":"info"},"notifier":{}}`},
		{"trailing json", "c.json", `{"logging":{}} {"logging":{}}`},
		{"unknown yaml key", "c.yml", "scheduler:\n  workers: 4\n"},
		{"bad yaml", "c.yaml", "tasks: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.file, []byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestSpecs(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("taskman.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	specs, err := cfg.Specs(time.UTC, refNow)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	hb := specs[0]
	assert.Equal(t, "heartbeat", hb.Name)
	assert.Equal(t, jobs.KindLog, hb.Kind)
	assert.Equal(t, task.KindEvery, hb.Recurrence)
	assert.Equal(t, refNow, hb.RunAt)
	assert.True(t, hb.Active)

	nightly := specs[1]
	assert.Equal(t, jobs.KindSleep, nightly.Kind)
	assert.Equal(t, 2*time.Second, nightly.Sleep)
	assert.Equal(t, time.Date(2024, 1, 15, 23, 30, 0, 0, time.UTC), nightly.RunAt)
	assert.False(t, nightly.Active)
}

func TestSpecErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		tc   TaskConfig
	}{
		{"missing recurrence", TaskConfig{Name: "a", Job: JobConfig{Kind: "log"}}},
		{"every without minutes", TaskConfig{Name: "a", Recurrence: "every", Job: JobConfig{Kind: "log"}}},
		{"bad run_at", TaskConfig{Name: "a", Recurrence: "once", RunAt: "tomorrow", Job: JobConfig{Kind: "log"}}},
		{"unknown job", TaskConfig{Name: "a", Recurrence: "hourly", Job: JobConfig{Kind: "shell"}}},
		{"sleep without duration", TaskConfig{Name: "a", Recurrence: "hourly", Job: JobConfig{Kind: "sleep"}}},
		{"missing name", TaskConfig{Recurrence: "hourly", Job: JobConfig{Kind: "log"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.tc.Spec(time.UTC, refNow)
			assert.Error(t, err)
		})
	}
}

func TestRunAtRFC3339(t *testing.T) {
	t.Parallel()
	tc := TaskConfig{Name: "a", Recurrence: "hourly", RunAt: "2024-02-01T08:00:00Z", Job: JobConfig{Kind: "log"}}
	s, err := tc.Spec(time.UTC, refNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC), s.RunAt)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("taskman.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg, refNow))

	minutely := *cfg
	minutely.Scheduler.Tick = "@minutely"
	require.NoError(t, Validate(&minutely, refNow))

	bad := *cfg
	bad.Logging.Level = "loud"
	bad.Scheduler.Tick = "sometimes"
	bad.Journal = &JournalConfig{Driver: "redis"}
	bad.Tasks = append([]TaskConfig{}, cfg.Tasks[0], cfg.Tasks[0])
	err = Validate(&bad, refNow)
	require.Error(t, err)
	for _, want := range []string{"logging.level", "scheduler.tick", "journal.driver", "duplicate name"} {
		assert.ErrorContains(t, err, want)
	}

	assert.Error(t, Validate(nil, refNow))
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, err = ParseDurationField("x", " 1m ")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	_, err = ParseDurationField("x", "-1s")
	assert.Error(t, err)
	_, err = ParseDurationField("x", "soon")
	assert.Error(t, err)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg, err := Decode("taskman.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	newCfg, err := Decode("taskman.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	sections, _, tasks := SummarizeConfigChange(oldCfg, newCfg)
	assert.Empty(t, sections)
	assert.Empty(t, tasks)

	newCfg.Scheduler.MaxRunningTasks = 10
	newCfg.Tasks[0].EveryMinutes = 5
	newCfg.Tasks = append(newCfg.Tasks, TaskConfig{Name: "extra", Recurrence: "hourly", Job: JobConfig{Kind: "log"}})

	sections, attrs, tasks := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"scheduler", "tasks"}, sections)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"extra", "heartbeat"}, tasks)

	sections, _, _ = SummarizeConfigChange(nil, &Config{Journal: &JournalConfig{Driver: "file"}})
	assert.Equal(t, []string{"journal"}, sections)
}

func TestManagerLoadAndReload(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "taskman.json", `{"scheduler":{"max_running_tasks":2}}`)
	m := NewConfigManager(p)

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Scheduler.MaxRunningTasks)
	assert.Same(t, cfg, m.Get())

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	published, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, published, "unchanged content must not republish")

	require.NoError(t, os.WriteFile(p, []byte(`{"scheduler":{"max_running_tasks":7}}`), 0o600))
	published, err = m.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, published)
	got := <-ch
	assert.Equal(t, 7, got.Scheduler.MaxRunningTasks)
	assert.Equal(t, 7, m.Get().Scheduler.MaxRunningTasks)
}

func TestManagerValidatorRejects(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "taskman.json", `{}`)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)

	m.SetValidator(func(context.Context, *Config) error { return errors.New("nope") })
	require.NoError(t, os.WriteFile(p, []byte(`{"systemd":{"notify":true}}`), 0o600))

	published, err := m.Reload(context.Background())
	assert.False(t, published)
	assert.ErrorContains(t, err, "nope")
	assert.False(t, m.Get().Systemd.Notify)
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	assert.Same(t, b, <-ch)

	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
	m.Unsubscribe(ch)
}

func TestWatchPublishesChanges(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "taskman.json", `{"logging":{"level":"info"}}`)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// The watcher starts asynchronously; keep touching the file until it
	// notices.
	var got *Config
	require.Eventually(t, func() bool {
		_ = os.WriteFile(p, []byte(`{"logging":{"level":"debug"}}`), 0o600)
		select {
		case got = <-ch:
			return true
		case <-time.After(300 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 50*time.Millisecond)
	assert.Equal(t, "debug", got.Logging.Level)
}
