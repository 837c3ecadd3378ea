package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"threader/internal/config"
	"threader/internal/eventbus"
	"threader/internal/host"
	"threader/internal/observability/pprof"
	"threader/internal/runtime/supervisor"
	"threader/internal/storage"
	"threader/internal/threader"
	"threader/internal/trigger"
	logx "threader/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log       logx.Logger
	logs      *logx.Service
	logWriter io.Writer
	bus       eventbus.Bus
	store     storage.Store

	loop  *host.Loop
	sched *threader.Scheduler
	trig  *trigger.Service
	tasks *runner
	debug *pprof.Service
}

type Option func(*options)

type options struct {
	logWriter io.Writer
}

// WithLogWriter sends log output to w instead of the console.
func WithLogWriter(w io.Writer) Option { return func(o *options) { o.logWriter = w } }

func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg, o.logWriter))
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	store, err := OpenStore(cfg, log)
	switch {
	case errors.Is(err, storage.ErrDisabled):
		store = nil
	case err != nil:
		_ = logSvc.Close()
		return nil, err
	default:
		appLog.Info("run history enabled", logx.String("driver", cfg.Storage.Driver))
	}

	loop := host.NewLoop(mapLoopConfig(cfg), log.With(logx.String("comp", "host")))
	sched := threader.New(loop, mapSchedulerConfig(cfg), log.With(logx.String("comp", "scheduler")), bus)
	trig := trigger.New(mapTriggerConfig(cfg), loop, log.With(logx.String("comp", "trigger")))

	a := &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       appLog,
		logs:      logSvc,
		logWriter: o.logWriter,
		bus:       bus,
		store:     store,
		loop:      loop,
		sched:     sched,
		trig:      trig,
		tasks:     newRunner(sched, trig, log.With(logx.String("comp", "tasks"))),
	}
	a.debug = pprof.New(log, http.HandlerFunc(a.serveStatus))
	return a, nil
}

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

// Bus exposes the lifecycle event bus.
func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validator)

	a.sup.Go("host.loop", a.loop.Run)

	cfg := a.cfgm.Get()
	if err := a.loop.Do(ctx, func() { a.tasks.apply(cfg.Tasks, allTasks(cfg.Tasks)) }); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("install tasks: %w", err)
	}
	a.trig.Start(a.sup.Context())

	if a.store != nil {
		a.sup.GoRestart("history.recorder", a.recordRuns,
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	}

	// Optional: log events for observability/debug.
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
				// Keep this debug-level; completions can be frequent.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	// The debug listener is optional; a bind failure is not fatal.
	if err := a.debug.Apply(ctx, mapPprofConfig(cfg)); err != nil {
		a.log.Warn("pprof disabled", logx.Err(err))
	}

	a.log.Info("app started",
		logx.Float64("priority", cfg.Scheduler.EffectivePriority()),
		logx.Float64("frame_rate", cfg.Scheduler.EffectiveFrameRate()),
		logx.Int("tasks", len(cfg.Tasks)),
	)
	return nil
}

// applyConfig pushes a reloaded config into the running components.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, taskChanges := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "storage", "host":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	// Keep routing logs to the live view when one owns the terminal.
	a.logs.Apply(mapLogConfig(newCfg, a.logWriter))
	a.trig.Apply(mapTriggerConfig(newCfg))
	if slices.Contains(sections, "pprof") {
		if err := a.debug.Apply(ctx, mapPprofConfig(newCfg)); err != nil {
			a.log.Warn("pprof apply failed", logx.Err(err))
		}
	}

	sc := mapSchedulerConfig(newCfg)
	err := a.loop.Do(ctx, func() {
		a.sched.Init(sc.Priority, sc.FrameRate)
		if !taskChanges.Empty() {
			a.tasks.apply(newCfg.Tasks, taskChanges)
		}
	})
	if err != nil {
		a.log.Warn("config apply failed", logx.Err(err))
		return
	}
	a.log.Info("config applied", fields...)
}

// SetPaused pauses or resumes the running instance of a configured task.
func (a *App) SetPaused(ctx context.Context, name string, paused bool) (bool, error) {
	var ok bool
	err := a.loop.Do(ctx, func() { ok = a.tasks.setPaused(name, paused) })
	return ok, err
}

// RunNow starts a configured task immediately, outside its schedule.
func (a *App) RunNow(ctx context.Context, name string) error {
	var err error
	if doErr := a.loop.Do(ctx, func() { err = a.tasks.start(name) }); doErr != nil {
		return doErr
	}
	return err
}

// Status is a point-in-time view of the whole daemon.
type Status struct {
	Scheduler  threader.Snapshot   `json:"scheduler"`
	Tasks      []string            `json:"tasks"`
	Loop       host.LoopStats      `json:"loop"`
	Trigger    trigger.Snapshot    `json:"trigger"`
	Supervisor supervisor.Snapshot `json:"supervisor"`
	History    []storage.RunRecord `json:"history,omitempty"`
}

// Status collects a Status. historyLimit > 0 includes the newest runs.
func (a *App) Status(ctx context.Context, historyLimit int) (Status, error) {
	var st Status
	err := a.loop.Do(ctx, func() {
		st.Scheduler = a.sched.Snapshot()
		st.Tasks = a.tasks.names()
	})
	if err != nil {
		return st, err
	}
	st.Loop = a.loop.Stats()
	st.Trigger = a.trig.Snapshot()
	if a.sup != nil {
		st.Supervisor = a.sup.Snapshot()
	}
	if a.store != nil && historyLimit > 0 {
		runs, err := a.store.RecentRuns(ctx, historyLimit)
		if err != nil {
			return st, fmt.Errorf("recent runs: %w", err)
		}
		st.History = runs
	}
	return st, nil
}

// serveStatus writes Status as JSON. ?history=N sets the number of runs
// included (default 10).
func (a *App) serveStatus(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("history"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "history: expected a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	st, err := a.Status(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(st)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
			max = time.Until(dl)
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	step("pprof", time.Second, a.debug.Stop)
	// No new starts, then drop running tasks while the loop is still alive.
	step("trigger", 2*time.Second, func(c context.Context) error { a.trig.Stop(c); return nil })
	step("scheduler", time.Second, func(c context.Context) error {
		err := a.loop.Do(c, a.sched.Stop)
		if errors.Is(err, host.ErrLoopStopped) {
			return nil
		}
		return err
	})

	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
