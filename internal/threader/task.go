package threader

import (
	"time"

	"github.com/google/uuid"

	"threader/internal/host"
)

// TaskOption configures a Task at construction.
type TaskOption func(*Task)

// WithName sets a human-readable name used in logs, events and history.
func WithName(name string) TaskOption { return func(t *Task) { t.name = name } }

// WithStep sets the task's step capability. A nil Stepper keeps the default,
// which never finishes.
func WithStep(s Stepper) TaskOption {
	return func(t *Task) {
		if s != nil {
			t.step = s
		}
	}
}

// WithStepFunc is WithStep for a plain function.
func WithStepFunc(fn func() bool) TaskOption {
	return func(t *Task) {
		if fn != nil {
			t.step = StepFunc(fn)
		}
	}
}

// WithOnComplete sets a callback invoked once the task has finished and has
// been removed from its scheduler.
func WithOnComplete(fn func()) TaskOption { return func(t *Task) { t.onComplete = fn } }

// Task is a unit of steppable work owned by one Scheduler.
//
// A task is executable while it is neither paused (by its owner) nor
// suspended (by a pending Sleep).
type Task struct {
	sched *Scheduler
	id    string
	name  string

	step       Stepper
	onComplete func()

	suspended bool
	paused    bool
	wake      host.Handle

	iterations int
	slices     int
	started    time.Time
}

// NewTask creates a detached task bound to s. It starts running on Run.
func NewTask(s *Scheduler, opts ...TaskOption) *Task {
	t := &Task{
		sched: s,
		id:    uuid.NewString(),
		step:  idle{},
	}
	for _, o := range opts {
		o(t)
	}
	if t.name == "" {
		t.name = "task-" + t.id[:8]
	}
	return t
}

func (t *Task) ID() string   { return t.id }
func (t *Task) Name() string { return t.name }

// Run registers the task with its scheduler. It is idempotent: an already
// registered task keeps its counters.
func (t *Task) Run() {
	if t.sched.Add(t) {
		t.iterations = 0
		t.slices = 0
		t.started = t.sched.host.Now()
	}
}

// Stop removes the task from its scheduler. It is safe to call on a task
// that is not registered.
func (t *Task) Stop() {
	t.sched.Remove(t)
}

func (t *Task) Pause()   { t.paused = true }
func (t *Task) Unpause() { t.paused = false }

// Sleep suspends the task for d. A second Sleep before the first one ends
// replaces it: the delay restarts from now with the new duration.
func (t *Task) Sleep(d time.Duration) {
	t.cancelWake()
	t.suspended = true
	t.wake = t.sched.host.AfterFunc(d, func() {
		t.wake = 0
		t.suspended = false
	})
}

func (t *Task) Paused() bool    { return t.paused }
func (t *Task) Suspended() bool { return t.suspended }

// Executable reports whether the scheduler may hand the task a slice.
func (t *Task) Executable() bool {
	return !t.suspended && !t.paused
}

// Iterations returns the step invocations since the task last started.
func (t *Task) Iterations() int { return t.iterations }

// Slices returns how many times the task has been executed since it last started.
func (t *Task) Slices() int { return t.slices }

// Progress returns the stepper's own progress report, if it provides one.
func (t *Task) Progress() (float64, bool) {
	if p, ok := t.step.(Progresser); ok {
		return p.Progress(), true
	}
	return 0, false
}

// Execute calls the step function until allocated has elapsed on the host
// clock or a step reports completion. On completion the task is removed
// from the scheduler, the completion callback runs, and Execute returns true.
//
// Execute does not check Executable; the scheduler only calls it for
// executable tasks.
func (t *Task) Execute(allocated time.Duration) bool {
	clock := t.sched.host
	start := clock.Now()
	t.slices++

	for clock.Now().Sub(start) < allocated {
		t.iterations++
		if t.step.Step() {
			t.complete()
			return true
		}
	}
	return false
}

func (t *Task) complete() {
	ev := t.event()
	t.Stop()
	t.sched.noteCompleted(ev)

	if t.onComplete != nil {
		t.onComplete()
	}
}

// release drops the pending wake timer when the task leaves the scheduler.
// Sleep has no meaning for a detached task, so the suspension ends with it.
func (t *Task) release() {
	if t.wake != 0 {
		t.cancelWake()
		t.suspended = false
	}
}

func (t *Task) cancelWake() {
	if t.wake != 0 {
		t.sched.host.CancelTimer(t.wake)
		t.wake = 0
	}
}

func (t *Task) event() TaskEvent {
	now := t.sched.host.Now()
	ev := TaskEvent{
		ID:         t.id,
		Name:       t.name,
		At:         now,
		Started:    t.started,
		Slices:     t.slices,
		Iterations: t.iterations,
	}
	if !t.started.IsZero() {
		ev.Elapsed = now.Sub(t.started)
	}
	return ev
}

func (t *Task) info() TaskInfo {
	p, ok := t.Progress()
	return TaskInfo{
		ID:          t.id,
		Name:        t.name,
		Paused:      t.paused,
		Suspended:   t.suspended,
		Slices:      t.slices,
		Iterations:  t.iterations,
		Progress:    p,
		HasProgress: ok,
	}
}
