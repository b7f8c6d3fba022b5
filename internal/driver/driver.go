// Package driver calls a scheduler's Update on a cron cadence.
package driver

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "taskman/pkg/logx"
)

// Target is what the driver drives. *scheduler.Scheduler implements it.
type Target interface {
	Init() error
	Update()
	Stop() error
}

type Config struct {
	Tick     string
	Location *time.Location
	// TickOnStart runs one Update right after Start.
	TickOnStart bool
}

type Driver struct {
	target Target
	log    logx.Logger
	loc    *time.Location
	onTick func()

	mu      sync.Mutex
	tick    Tick
	c       *cron.Cron
	entry   cron.EntryID
	onStart bool

	ticks  atomic.Uint64
	panics atomic.Uint64
	last   atomic.Int64
}

type Option func(*Driver)

// WithOnTick runs fn after every completed Update. The systemd watchdog ping
// hangs off this.
func WithOnTick(fn func()) Option {
	return func(d *Driver) { d.onTick = fn }
}

func New(cfg Config, target Target, log logx.Logger, opts ...Option) (*Driver, error) {
	if target == nil {
		return nil, fmt.Errorf("driver: nil target")
	}
	tk, err := ParseTick(cfg.Tick)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	d := &Driver{target: target, log: log, loc: loc, tick: tk, onStart: cfg.TickOnStart}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Start arms the target and starts ticking. It is idempotent.
func (d *Driver) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.c != nil {
		return nil
	}
	if err := d.target.Init(); err != nil {
		return fmt.Errorf("driver: init target: %w", err)
	}

	cl := logx.CronLogger(d.log)
	c := cron.New(
		cron.WithLocation(d.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	id, err := d.addLocked(c, d.tick)
	if err != nil {
		return err
	}
	d.c, d.entry = c, id
	c.Start()
	d.log.Info("driver started", logx.String("tick", d.tick.String()), logx.String("tz", d.loc.String()))

	if d.onStart {
		go d.Tick()
	}
	return nil
}

func (d *Driver) addLocked(c *cron.Cron, tk Tick) (cron.EntryID, error) {
	sched, err := tk.Schedule()
	if err != nil {
		return 0, err
	}
	return c.Schedule(sched, cron.FuncJob(d.Tick)), nil
}

// SetTick changes the cadence. A running driver swaps its cron entry.
func (d *Driver) SetTick(raw string) error {
	tk, err := ParseTick(raw)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if tk == d.tick {
		return nil
	}
	if d.c != nil {
		id, err := d.addLocked(d.c, tk)
		if err != nil {
			return err
		}
		d.c.Remove(d.entry)
		d.entry = id
	}
	d.log.Info("driver tick changed", logx.String("from", d.tick.String()), logx.String("to", tk.String()))
	d.tick = tk
	return nil
}

// Tick runs one Update. A panic escaping Update is logged and counted.
func (d *Driver) Tick() {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.log.Error("update panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	d.target.Update()
	d.ticks.Add(1)
	d.last.Store(time.Now().UnixNano())
	if d.onTick != nil {
		d.onTick()
	}
}

// Stop stops ticking, waits for a running Update until ctx ends, then stops
// the target.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	c := d.c
	d.c, d.entry = nil, 0
	d.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		d.log.Warn("driver stop timed out waiting for update", logx.Err(ctx.Err()))
	}
	if err := d.target.Stop(); err != nil {
		return fmt.Errorf("driver: stop target: %w", err)
	}
	d.log.Info("driver stopped", logx.Uint64("ticks", d.ticks.Load()))
	return nil
}

type Stats struct {
	Tick     string    `json:"tick"`
	Running  bool      `json:"running"`
	Ticks    uint64    `json:"ticks"`
	Panics   uint64    `json:"panics"`
	LastTick time.Time `json:"last_tick,omitzero"`
	Next     time.Time `json:"next,omitzero"`
}

func (d *Driver) Stats() Stats {
	d.mu.Lock()
	st := Stats{Tick: d.tick.String(), Running: d.c != nil}
	if d.c != nil {
		st.Next = d.c.Entry(d.entry).Next
	}
	d.mu.Unlock()
	st.Ticks = d.ticks.Load()
	st.Panics = d.panics.Load()
	if ns := d.last.Load(); ns != 0 {
		st.LastTick = time.Unix(0, ns)
	}
	return st
}
