package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"taskman/internal/driver"
	"taskman/internal/jobs"
	"taskman/internal/storage"
	"taskman/internal/task"
	logx "taskman/pkg/logx"
)

// Validate checks cfg as a whole. now anchors task run_at values given as
// clock times.
func Validate(cfg *Config, now time.Time) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if lv := cfg.Logging.Level; lv != "" && !logx.ValidLevel(lv) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lv))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path: required when file logging is enabled"))
	}
	if cfg.Scheduler.MaxRunningTasks < 0 {
		errs = append(errs, errors.New("scheduler.max_running_tasks: must be >= 0"))
	}
	if _, err := driver.ParseTick(cfg.Scheduler.Tick); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.tick: %w", err))
	}
	loc, err := ParseLocation("scheduler.timezone", cfg.Scheduler.Timezone)
	if err != nil {
		errs = append(errs, err)
		loc = time.Local
	}
	if cfg.Engine.Workers < 0 {
		errs = append(errs, errors.New("engine.workers: must be >= 0"))
	}
	if cfg.Engine.QueueSize < 0 {
		errs = append(errs, errors.New("engine.queue_size: must be >= 0"))
	}
	if _, err := ParseDurationField("engine.default_timeout", cfg.Engine.DefaultTimeout); err != nil {
		errs = append(errs, err)
	}
	if j := cfg.Journal; j != nil {
		if !storage.ValidDriver(j.Driver) {
			errs = append(errs, fmt.Errorf("journal.driver: unknown driver %q (file|sqlite|none)", j.Driver))
		}
		if _, err := ParseDurationField("journal.busy_timeout", j.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := cfg.Specs(loc, now); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Specs maps the task list to job specs. Names must be unique.
func (c *Config) Specs(loc *time.Location, now time.Time) ([]jobs.Spec, error) {
	seen := make(map[string]struct{}, len(c.Tasks))
	out := make([]jobs.Spec, 0, len(c.Tasks))
	var errs []error
	for i, tc := range c.Tasks {
		s, err := tc.Spec(loc, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("tasks[%d]: %w", i, err))
			continue
		}
		if _, dup := seen[s.Name]; dup {
			errs = append(errs, fmt.Errorf("tasks[%d]: duplicate name %q", i, s.Name))
			continue
		}
		seen[s.Name] = struct{}{}
		out = append(out, s)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Spec converts one task definition.
func (tc TaskConfig) Spec(loc *time.Location, now time.Time) (jobs.Spec, error) {
	if loc == nil {
		loc = time.Local
	}
	kind, err := task.ParseKind(strings.ToLower(strings.TrimSpace(tc.Recurrence)))
	if err != nil {
		return jobs.Spec{}, err
	}
	runAt, err := parseRunAt(tc.RunAt, loc, now)
	if err != nil {
		return jobs.Spec{}, err
	}
	sleep, err := ParseDurationField("job.sleep", tc.Job.Sleep)
	if err != nil {
		return jobs.Spec{}, err
	}
	s := jobs.Spec{
		Name:       strings.TrimSpace(tc.Name),
		Kind:       jobs.Kind(strings.ToLower(strings.TrimSpace(tc.Job.Kind))),
		Message:    tc.Job.Message,
		Sleep:      sleep,
		Recurrence: kind,
		Minutes:    tc.EveryMinutes,
		RunAt:      runAt,
		Active:     tc.Active == nil || *tc.Active,
	}
	if err := s.Validate(); err != nil {
		return jobs.Spec{}, err
	}
	return s, nil
}

// parseRunAt accepts RFC3339 or a "15:04" clock time on now's date.
func parseRunAt(raw string, loc *time.Location, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	hm, err := time.ParseInLocation("15:04", raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("run_at: want RFC3339 or HH:MM, got %q", raw)
	}
	n := now.In(loc)
	return time.Date(n.Year(), n.Month(), n.Day(), hm.Hour(), hm.Minute(), 0, 0, loc), nil
}
