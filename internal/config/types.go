package config

// Config is the daemon configuration file.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Engine controls the worker pool that runs due tasks.
	Engine  EngineConfig   `json:"engine"`
	Journal *JournalConfig `json:"journal,omitempty"`
	Systemd SystemdConfig  `json:"systemd"`

	Tasks []TaskConfig `json:"tasks"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the scheduler and the tick that drives it.
//
// Defaults (when fields are omitted/zero):
//   - max_running_tasks: 100
//   - tick: "5s"
//   - timezone: local
type SchedulerConfig struct {
	MaxRunningTasks int `json:"max_running_tasks,omitempty"`
	// Tick is a Go duration ("5s"), "every:<dur>", or a cron expression.
	Tick     string `json:"tick,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// EngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
type EngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// JournalConfig controls the optional execution journal.
//
// Example:
//
//	"journal": { "driver": "sqlite", "path": "./taskman.db" }
type JournalConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type SystemdConfig struct {
	// Notify sends READY/STOPPING and watchdog pings when running under systemd.
	Notify bool `json:"notify"`
}

// TaskConfig defines one scheduled task.
type TaskConfig struct {
	Name string `json:"name"`
	// Recurrence is one of once, hourly, every.
	Recurrence string `json:"recurrence"`
	// RunAt is RFC3339 or "15:04" (today, in the scheduler timezone).
	// Empty means now.
	RunAt        string `json:"run_at,omitempty"`
	EveryMinutes int    `json:"every_minutes,omitempty"`
	// Active defaults to true.
	Active *bool     `json:"active,omitempty"`
	Job    JobConfig `json:"job"`
}

type JobConfig struct {
	Kind    string `json:"kind"`
	Sleep   string `json:"sleep,omitempty"`
	Message string `json:"message,omitempty"`
}
