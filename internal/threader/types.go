package threader

import "time"

// Event types published on the bus.
const (
	EventTaskAdded        = "task.added"
	EventTaskRemoved      = "task.removed"
	EventTaskCompleted    = "task.completed"
	EventSchedulerStopped = "scheduler.stopped"
)

const (
	DefaultPriority  = 0.4
	DefaultFrameRate = 60
)

// Config holds the scheduler's tunables.
//
// Priority is the fraction (0-1) of each cycle handed to tasks rather than
// to the host's own work. It is not validated: out-of-range values flow
// straight into the budget formula.
type Config struct {
	Priority  float64
	FrameRate float64
}

func (c Config) withDefaults() Config {
	if c.Priority == 0 && c.FrameRate == 0 {
		c.Priority = DefaultPriority
	}
	if c.FrameRate <= 0 {
		c.FrameRate = DefaultFrameRate
	}
	return c
}

// Stepper performs one iteration of a task's work.
//
// Step returns true once the work is finished. Implementations must keep
// their own progress between calls: the scheduler resumes a task by calling
// Step again, it never tracks partial progress itself.
type Stepper interface {
	Step() bool
}

// StepFunc adapts a plain function to a Stepper.
type StepFunc func() bool

func (f StepFunc) Step() bool { return f() }

// Progresser is optionally implemented by steppers that can report how far
// along they are, in [0,1].
type Progresser interface {
	Progress() float64
}

type idle struct{}

func (idle) Step() bool { return false }

// TaskEvent is the payload of task lifecycle events.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	At         time.Time     `json:"at"`
	Started    time.Time     `json:"started"`
	Slices     int           `json:"slices"`
	Iterations int           `json:"iterations"`
	Elapsed    time.Duration `json:"elapsed"`
}

// TaskInfo is a point-in-time view of a registered task.
type TaskInfo struct {
	ID          string
	Name        string
	Paused      bool
	Suspended   bool
	Slices      int
	Iterations  int
	Progress    float64
	HasProgress bool
}

// Snapshot is a lightweight view for diagnostics and the live view.
type Snapshot struct {
	Priority      float64
	FrameRate     float64
	CycleInterval time.Duration
	Armed         bool

	Tasks     int
	Paused    int
	Suspended int

	Cycles      uint64
	Throttled   uint64
	Overruns    uint64
	Completed   uint64
	LastBudget  time.Duration
	LastElapsed time.Duration

	Items []TaskInfo
}
