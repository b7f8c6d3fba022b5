package app

import (
	"strings"
	"time"

	"taskman/internal/config"
	"taskman/internal/storage"
	"taskman/internal/task/engine"
	logx "taskman/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	timeout, err := config.ParseDurationField("engine.default_timeout", cfg.Engine.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Enabled:        true,
		Workers:        cfg.Engine.Workers,
		QueueSize:      cfg.Engine.QueueSize,
		DefaultTimeout: timeout,
		HistorySize:    cfg.Engine.HistorySize,
	}, nil
}

// mapJournalConfig reports enabled=false for an omitted section or driver none.
func mapJournalConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Journal == nil {
		return storage.Config{}, false, nil
	}
	j := cfg.Journal
	driver := strings.ToLower(strings.TrimSpace(j.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("journal.busy_timeout", j.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(j.Path), BusyTimeout: busy}, true, nil
}
