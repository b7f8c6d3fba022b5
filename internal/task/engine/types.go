package engine

import (
	"context"
	"time"
)

const (
	DefaultWorkers     = 4
	DefaultQueueSize   = 256
	DefaultHistorySize = 200
)

// Config controls the worker pool.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout applies when Job.Timeout is 0. 0 means no limit.
	DefaultTimeout time.Duration

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

// Job is one unit of work handed to the pool.
//
// Run receives a context canceled when the submitting context is canceled,
// when the pool stops, or when the timeout expires. Jobs still queued at stop
// are run once with an already canceled context.
type Job struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// JobEvent is published on the event bus for job lifecycle events.
type JobEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Enabled  bool
	Running  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Submitted uint64
	Completed uint64
	Dropped   uint64

	DefaultTimeout time.Duration

	History []HistoryItem
}
