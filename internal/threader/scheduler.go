package threader

import (
	"slices"
	"time"

	"golang.org/x/time/rate"

	"threader/internal/eventbus"
	"threader/internal/host"
	logx "threader/pkg/logx"
)

const overrunWarnEvery = 5 * time.Second

// Scheduler shares each cycle's processing budget among its registered tasks.
//
// It is running exactly while it has tasks: adding the first task requests a
// host frame, and removing the last one cancels the pending request.
type Scheduler struct {
	host host.Host
	log  logx.Logger
	bus  eventbus.Bus

	cfg      Config
	interval time.Duration

	tasks     []*Task
	lastCycle time.Time
	frame     host.Handle

	overrunWarn *rate.Limiter

	cycles      uint64
	throttled   uint64
	overruns    uint64
	completed   uint64
	lastBudget  time.Duration
	lastElapsed time.Duration
}

// New creates an idle scheduler driven by h. bus may be nil.
func New(h host.Host, cfg Config, log logx.Logger, bus eventbus.Bus) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		host:        h,
		log:         log,
		bus:         bus,
		overrunWarn: rate.NewLimiter(rate.Every(overrunWarnEvery), 1),
	}
	cfg = cfg.withDefaults()
	s.Init(cfg.Priority, cfg.FrameRate)
	return s
}

// Init replaces the scheduler's configuration. A frame rate <= 0 means 60.
// Registered tasks are left untouched.
func (s *Scheduler) Init(priority, frameRate float64) {
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	s.cfg = Config{Priority: priority, FrameRate: frameRate}
	s.interval = host.FrameInterval(frameRate)
	s.log.Debug("scheduler configured",
		logx.Float64("priority", priority),
		logx.Float64("frame_rate", frameRate),
		logx.Duration("cycle_interval", s.interval),
	)
}

// SetPriority updates the priority; it applies from the next cycle.
func (s *Scheduler) SetPriority(p float64) {
	s.cfg.Priority = p
}

func (s *Scheduler) Config() Config { return s.cfg }

// Add registers t unless it is already registered, and reports whether it
// was added. Adding the first task arms the scheduler.
func (s *Scheduler) Add(t *Task) bool {
	if t == nil || s.Has(t) {
		return false
	}
	s.tasks = append(s.tasks, t)
	s.log.Debug("task added", logx.String("task", t.name), logx.String("id", t.id), logx.Int("tasks", len(s.tasks)))
	s.publish(EventTaskAdded, t.event())

	if len(s.tasks) == 1 {
		s.arm()
	}
	return true
}

// Remove deregisters t and reports whether it was registered. Removing the
// last task stops the scheduler.
func (s *Scheduler) Remove(t *Task) bool {
	i := s.indexOf(t)
	if i < 0 {
		return false
	}
	s.tasks = slices.Delete(s.tasks, i, i+1)
	t.release()
	s.log.Debug("task removed", logx.String("task", t.name), logx.String("id", t.id), logx.Int("tasks", len(s.tasks)))
	s.publish(EventTaskRemoved, t.event())

	if len(s.tasks) == 0 {
		s.Stop()
	}
	return true
}

// Has reports whether t is registered.
func (s *Scheduler) Has(t *Task) bool {
	return s.indexOf(t) >= 0
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int { return len(s.tasks) }

// Armed reports whether a cycle is pending on the host.
func (s *Scheduler) Armed() bool { return s.frame != 0 }

// Stop drops every task without running completion callbacks and cancels
// the pending cycle.
func (s *Scheduler) Stop() {
	dropped := s.tasks
	s.tasks = nil
	for _, t := range dropped {
		t.release()
	}
	if s.frame != 0 {
		s.host.CancelFrame(s.frame)
		s.frame = 0
	}
	s.publish(EventSchedulerStopped, len(dropped))
	if len(dropped) > 0 {
		s.log.Debug("scheduler stopped", logx.Int("dropped", len(dropped)))
	}
}

func (s *Scheduler) arm() {
	if s.frame != 0 {
		return
	}
	s.frame = s.host.RequestFrame(s.cycle)
}

// cycle is the frame callback. It re-arms itself while tasks remain; a
// panicking step function unwinds past the re-arm and leaves the scheduler
// halted until it is emptied and refilled.
func (s *Scheduler) cycle() {
	s.frame = 0

	now := s.host.Now()
	delta := now.Sub(s.lastCycle)

	switch {
	case s.lastCycle.IsZero():
		s.lastCycle = now
		s.dispatch(now)
	case delta > s.interval:
		s.lastCycle = now.Add(-(delta % s.interval))
		s.dispatch(now)
	default:
		s.throttled++
	}

	if len(s.tasks) > 0 {
		s.arm()
	}
}

// dispatch hands out one cycle's budget, visiting tasks in reverse
// registration order. Time freed by a task that completes or is not
// executable is redistributed over the tasks still to come.
func (s *Scheduler) dispatch(now time.Time) {
	n := len(s.tasks)
	if n == 0 {
		return
	}
	s.cycles++

	total := timeAllocation(s.cfg.Priority, s.cfg.FrameRate, s.interval, n)
	slice, _ := share(total, n)
	s.lastBudget = fromMillis(total)

	visit := slices.Clone(s.tasks)
	suspended := 0

	for i := len(visit) - 1; i >= 0; i-- {
		t := visit[i]
		// Removed earlier in this cycle (stopped by another task's step).
		if !s.Has(t) {
			continue
		}
		if t.Executable() {
			if t.Execute(slice) {
				if d, ok := share(total, len(s.tasks)-suspended); ok {
					slice = d
				}
			}
			continue
		}
		suspended++
		if d, ok := share(total, len(s.tasks)-suspended); ok {
			slice = d
		}
	}

	// The budget itself may exceed the interval; only a step overshooting
	// its slice by more than a whole frame counts as an overrun.
	s.lastElapsed = s.host.Now().Sub(now)
	if s.lastElapsed > s.lastBudget+s.interval {
		s.overruns++
		if s.overrunWarn.Allow() {
			s.log.Warn("cycle overran its interval",
				logx.Duration("elapsed", s.lastElapsed),
				logx.Duration("interval", s.interval),
				logx.Duration("budget", s.lastBudget),
				logx.Int("tasks", n),
				logx.Uint64("overruns", s.overruns),
			)
		}
	}
}

func (s *Scheduler) noteCompleted(ev TaskEvent) {
	s.completed++
	s.log.Debug("task completed",
		logx.String("task", ev.Name),
		logx.String("id", ev.ID),
		logx.Int("slices", ev.Slices),
		logx.Int("iterations", ev.Iterations),
		logx.Duration("elapsed", ev.Elapsed),
	)
	s.publish(EventTaskCompleted, ev)
}

func (s *Scheduler) indexOf(t *Task) int {
	for i := len(s.tasks) - 1; i >= 0; i-- {
		if s.tasks[i] == t {
			return i
		}
	}
	return -1
}

func (s *Scheduler) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.host.Now(), Data: data})
}

// Snapshot returns counters and per-task state, in registration order.
func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{
		Priority:      s.cfg.Priority,
		FrameRate:     s.cfg.FrameRate,
		CycleInterval: s.interval,
		Armed:         s.Armed(),
		Tasks:         len(s.tasks),
		Cycles:        s.cycles,
		Throttled:     s.throttled,
		Overruns:      s.overruns,
		Completed:     s.completed,
		LastBudget:    s.lastBudget,
		LastElapsed:   s.lastElapsed,
		Items:         make([]TaskInfo, 0, len(s.tasks)),
	}
	for _, t := range s.tasks {
		if t.paused {
			snap.Paused++
		}
		if t.suspended {
			snap.Suspended++
		}
		snap.Items = append(snap.Items, t.info())
	}
	return snap
}
