package config

import (
	"reflect"
	"sort"
	"strings"

	logx "taskman/pkg/logx"
)

// SummarizeConfigChange returns (1) the changed sections, (2) structured
// attrs for the reload log line, and (3) the names of tasks that were added,
// removed or modified.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oldS, newS := oldCfg.Scheduler, newCfg.Scheduler
	if oldS.MaxRunningTasks != newS.MaxRunningTasks ||
		strings.TrimSpace(oldS.Tick) != strings.TrimSpace(newS.Tick) ||
		strings.TrimSpace(oldS.Timezone) != strings.TrimSpace(newS.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.max_running_tasks", newS.MaxRunningTasks),
			logx.String("scheduler.tick", strings.TrimSpace(newS.Tick)),
			logx.String("scheduler.timezone", strings.TrimSpace(newS.Timezone)),
		)
	}

	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.workers", newCfg.Engine.Workers),
			logx.Int("engine.queue_size", newCfg.Engine.QueueSize),
			logx.String("engine.default_timeout", strings.TrimSpace(newCfg.Engine.DefaultTimeout)),
		)
	}

	oj, nj := derefJournal(oldCfg.Journal), derefJournal(newCfg.Journal)
	if oj != nj {
		changed = append(changed, "journal")
		attrs = append(attrs,
			logx.String("journal.driver", nj.Driver),
			logx.Bool("journal.path_set", strings.TrimSpace(nj.Path) != ""),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	tasksChanged := diffTasks(oldCfg.Tasks, newCfg.Tasks)
	if len(tasksChanged) > 0 {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.count", len(newCfg.Tasks)),
			logx.Int("tasks.active", countActive(newCfg.Tasks)),
			logx.String("tasks.changed", strings.Join(tasksChanged, ",")),
		)
	}

	return changed, attrs, tasksChanged
}

func derefJournal(j *JournalConfig) JournalConfig {
	if j == nil {
		return JournalConfig{}
	}
	return *j
}

func countActive(ts []TaskConfig) int {
	n := 0
	for _, t := range ts {
		if t.Active == nil || *t.Active {
			n++
		}
	}
	return n
}

func diffTasks(oldTs, newTs []TaskConfig) []string {
	index := func(ts []TaskConfig) map[string]TaskConfig {
		m := make(map[string]TaskConfig, len(ts))
		for _, t := range ts {
			m[strings.TrimSpace(t.Name)] = t
		}
		return m
	}
	om, nm := index(oldTs), index(newTs)

	set := map[string]struct{}{}
	for k := range om {
		set[k] = struct{}{}
	}
	for k := range nm {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, inOld := om[name]
		n, inNew := nm[name]
		if inOld != inNew || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
