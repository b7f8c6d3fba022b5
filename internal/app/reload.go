package app

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"strings"
	"time"

	"taskman/internal/config"
	"taskman/internal/jobs"
	"taskman/internal/task"
	logx "taskman/pkg/logx"
)

// reloadLoop applies published configs until ctx ends.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig live-applies what can change without a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, tasksChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if slices.Contains(sections, "logging") {
		a.logs.Apply(mapLoggingConfig(newCfg))
	}

	if slices.Contains(sections, "scheduler") {
		a.sched.SetMaxRunningTasksAllowed(newCfg.Scheduler.MaxRunningTasks)
		if err := a.driver.SetTick(newCfg.Scheduler.Tick); err != nil {
			a.log.Warn("invalid scheduler.tick; keeping previous", logx.Err(err))
		}
		if loc, err := config.ParseLocation("scheduler.timezone", newCfg.Scheduler.Timezone); err != nil {
			a.log.Warn("invalid scheduler.timezone; keeping previous", logx.Err(err))
		} else if loc.String() != a.loc.Load().String() {
			a.loc.Store(loc)
			a.log.Warn("scheduler.timezone changed; cron tick keeps the old zone until restart",
				logx.String("timezone", loc.String()))
		}
	}

	if slices.Contains(sections, "engine") {
		if engCfg, err := mapEngineConfig(newCfg); err != nil {
			a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
		} else {
			a.engine.Apply(ctx, engCfg)
		}
	}

	for _, s := range sections {
		if s == "journal" || s == "systemd" {
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	if len(tasksChanged) > 0 {
		if err := a.applyTasks(newCfg); err != nil {
			a.log.Warn("task list not applied", logx.Err(err))
		}
	}

	a.log.Info("config reloaded", fields...)
}

// applyTasks replaces the scheduled task list with cfg's. Tasks whose
// definition is unchanged, apart from the active flag, keep their execution
// history; a run-once task that already ran is not scheduled again.
func (a *App) applyTasks(cfg *config.Config) error {
	specs, err := cfg.Specs(a.loc.Load(), a.now())
	if err != nil {
		return err
	}
	byName := make(map[string]config.TaskConfig, len(cfg.Tasks))
	for _, tc := range cfg.Tasks {
		byName[strings.TrimSpace(tc.Name)] = tc
	}

	a.tasksMu.Lock()
	defer a.tasksMu.Unlock()

	// Build everything before touching the due table so a failure leaves the
	// running task list intact.
	type planned struct {
		t      *task.Task[jobs.Spec]
		active bool
		reused bool
	}
	plan := make([]planned, 0, len(specs))
	tasks := make(map[string]*task.Task[jobs.Spec], len(specs))
	for _, s := range specs {
		if t := a.tasks[s.Name]; t != nil && sameTask(a.taskCfgs[s.Name], byName[s.Name]) {
			plan = append(plan, planned{t: t, active: s.Active, reused: true})
			tasks[s.Name] = t
			continue
		}
		t, err := a.build(s, a.log.With(logx.String("comp", "job")))
		if err != nil {
			return err
		}
		plan = append(plan, planned{t: t, active: s.Active})
		tasks[s.Name] = t
	}

	a.gate.mu.Lock()
	defer a.gate.mu.Unlock()
	if err := a.clearWithRetry(); err != nil {
		return err
	}

	scheduled := 0
	for _, p := range plan {
		if p.reused {
			p.t.SetActive(p.active)
			if p.t.Recurrence().Kind() == task.KindOnce && !p.t.LastExecutionTime.IsZero() {
				continue
			}
		}
		if a.sched.Schedule(p.t) {
			scheduled++
		}
	}
	a.tasks = tasks
	a.taskCfgs = byName
	a.log.Info("tasks applied", logx.Int("defined", len(specs)), logx.Int("scheduled", scheduled))
	return nil
}

// clearWithRetry clears the due table, retrying while an update cycle holds
// the scheduler. Callers hold the tick gate, so retries only cover updates
// started outside the driver.
func (a *App) clearWithRetry() error {
	const attempts = 5
	backoff := 10 * time.Millisecond
	var err error
	for range attempts {
		if err = a.sched.Clear(); err == nil {
			return nil
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return errors.Join(errors.New("clear scheduled tasks"), err)
}

func sameTask(a, b config.TaskConfig) bool {
	a.Active, b.Active = nil, nil
	return reflect.DeepEqual(a, b)
}
