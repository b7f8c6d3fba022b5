package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"taskman/internal/config"
	"taskman/internal/driver"
	"taskman/internal/eventbus"
	"taskman/internal/jobs"
	"taskman/internal/notify"
	"taskman/internal/runtime/supervisor"
	"taskman/internal/storage"
	"taskman/internal/task"
	"taskman/internal/task/engine"
	"taskman/internal/task/scheduler"
	logx "taskman/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine *engine.Service
	hub    *notify.Hub[jobs.Spec]
	sched  *scheduler.Scheduler[jobs.Spec]
	gate   *tickGate
	driver *driver.Driver
	sd     *sdNotifier

	loc atomic.Pointer[time.Location]

	// tasksMu guards tasks and taskCfgs. Both mirror the last applied task list.
	tasksMu  sync.Mutex
	tasks    map[string]*task.Task[jobs.Spec]
	taskCfgs map[string]config.TaskConfig
	build    func(jobs.Spec, logx.Logger) (*task.Task[jobs.Spec], error)

	stopOnce sync.Once
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg, time.Now()); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	loc, err := config.ParseLocation("scheduler.timezone", cfg.Scheduler.Timezone)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      eventbus.New(),
		tasks:    map[string]*task.Task[jobs.Spec]{},
		taskCfgs: map[string]config.TaskConfig{},
		build:    jobs.Build,
	}
	a.loc.Store(loc)

	if jc, enabled, err := mapJournalConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(jc, log.With(logx.String("comp", "journal")))
		if err != nil {
			return nil, err
		}
		a.store = st
		log.Info("journal enabled", logx.String("driver", jc.Driver))
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")), a.bus)

	schedLog := log.With(logx.String("comp", "scheduler"))
	a.hub = notify.NewHub[jobs.Spec](schedLog)
	a.hub.Subscribe(notify.NewLogObserver(schedLog, jobs.Label, 0, 0))
	a.hub.Subscribe(notify.NewBusObserver(a.bus, jobs.Label))
	if a.store != nil {
		a.hub.Subscribe(notify.NewJournalObserver(a.store, jobs.Label, log.With(logx.String("comp", "journal"))))
	}
	a.sched = scheduler.New(
		scheduler.Config{MaxRunningTasksAllowed: cfg.Scheduler.MaxRunningTasks},
		a.engine,
		scheduler.WithLogger[jobs.Spec](schedLog),
		scheduler.WithHub(a.hub),
		scheduler.WithLabeler(notify.Labeler[jobs.Spec](jobs.Label)),
		scheduler.WithClock[jobs.Spec](a.now),
	)
	a.gate = &tickGate{sched: a.sched}

	a.sd = newSDNotifier(cfg.Systemd.Notify, log.With(logx.String("comp", "systemd")))
	a.driver, err = driver.New(driver.Config{
		Tick:        cfg.Scheduler.Tick,
		Location:    loc,
		TickOnStart: true,
	}, a.gate, log.With(logx.String("comp", "driver")), driver.WithOnTick(a.sd.Ping))
	if err != nil {
		return nil, err
	}

	if err := a.applyTasks(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// now is the scheduler clock, in the configured timezone.
func (a *App) now() time.Time { return time.Now().In(a.loc.Load()) }

// Scheduler exposes the scheduler for callers adding tasks in code.
func (a *App) Scheduler() *scheduler.Scheduler[jobs.Spec] { return a.sched }

// Journal returns the execution journal, or nil when disabled.
func (a *App) Journal() storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Status is a point-in-time view of every runtime component.
type Status struct {
	Scheduler  scheduler.Snapshot  `json:"scheduler"`
	Engine     engine.Snapshot     `json:"engine"`
	Driver     driver.Stats        `json:"driver"`
	Supervisor supervisor.Counters `json:"supervisor"`
	BusDropped uint64              `json:"bus_dropped"`
}

func (a *App) Status() Status {
	st := Status{
		Scheduler:  a.sched.Snapshot(),
		Engine:     a.engine.Snapshot(),
		Driver:     a.driver.Stats(),
		BusDropped: a.bus.Dropped(),
	}
	if a.sup != nil {
		st.Supervisor = a.sup.Counters()
	}
	return st
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg, a.now())
	})

	a.engine.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				// Debug only; every tick can produce several events.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if err := a.driver.Start(a.sup.Context()); err != nil {
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	a.sd.Ready()
	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.stopOnce.Do(func() { a.stop(ctx, reason) })
	return nil
}

func (a *App) stop(ctx context.Context, reason StopReason) {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	// The driver stops ticking and then stops the scheduler, which cancels
	// dispatched executions. The engine then drains whatever is queued.
	a.step(ctx, "driver", 3*time.Second, a.driver.Stop)
	a.step(ctx, "taskengine", 3*time.Second, func(c context.Context) error {
		a.engine.Stop(c)
		return nil
	})
	a.step(ctx, "journal", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name), logx.Err(stepCtx.Err()), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}

// tickGate serializes driver ticks with task-list changes made by the app,
// so a reload never races an update cycle.
type tickGate struct {
	mu    sync.Mutex
	sched *scheduler.Scheduler[jobs.Spec]
}

func (g *tickGate) Init() error { return g.sched.Init() }
func (g *tickGate) Stop() error { return g.sched.Stop() }

func (g *tickGate) Update() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sched.Update()
}
