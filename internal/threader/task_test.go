package threader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunIsIdempotent(t *testing.T) {
	s, f := newTestScheduler(t)
	w := newWork(f, "a", time.Millisecond, 0)
	task := NewTask(s, WithStep(w))

	task.Run()
	task.Run()
	require.Equal(t, 1, s.Len())

	task.Execute(3 * time.Millisecond)
	require.Equal(t, 3, task.Iterations())

	// Already registered: counters survive.
	task.Run()
	assert.Equal(t, 3, task.Iterations())

	task.Stop()
	task.Run()
	assert.Equal(t, 0, task.Iterations())
	assert.Equal(t, 0, task.Slices())
}

func TestStopOnDetachedTaskIsNoop(t *testing.T) {
	s, _ := newTestScheduler(t)
	task := NewTask(s)
	assert.NotPanics(t, task.Stop)
	assert.Equal(t, 0, s.Len())
}

func TestNewTaskDefaults(t *testing.T) {
	s, _ := newTestScheduler(t)
	task := NewTask(s)
	assert.Len(t, task.ID(), 36)
	assert.Equal(t, "task-"+task.ID()[:8], task.Name())
	assert.True(t, task.Executable())
	_, ok := task.Progress()
	assert.False(t, ok)

	named := NewTask(s, WithName("sieve"), WithStep(nil), WithStepFunc(nil))
	assert.Equal(t, "sieve", named.Name())
	assert.IsType(t, idle{}, named.step)
}

func TestExecutableInvariant(t *testing.T) {
	s, f := newTestScheduler(t)
	task := NewTask(s)

	check := func(msg string) {
		t.Helper()
		assert.Equal(t, !task.Suspended() && !task.Paused(), task.Executable(), msg)
	}

	check("fresh")
	assert.True(t, task.Executable())

	task.Pause()
	check("paused")
	assert.False(t, task.Executable())
	task.Unpause()
	check("unpaused")
	assert.True(t, task.Executable())

	task.Sleep(100 * time.Millisecond)
	check("sleeping")
	assert.False(t, task.Executable())
	f.Advance(99 * time.Millisecond)
	assert.False(t, task.Executable())
	f.Advance(time.Millisecond)
	check("woken")
	assert.True(t, task.Executable())
}

func TestPauseDoesNotAffectSleep(t *testing.T) {
	s, f := newTestScheduler(t)
	task := NewTask(s)

	task.Sleep(10 * time.Millisecond)
	task.Pause()
	f.Advance(10 * time.Millisecond)
	assert.False(t, task.Suspended())
	assert.False(t, task.Executable())

	task.Unpause()
	task.Sleep(10 * time.Millisecond)
	task.Unpause()
	assert.True(t, task.Suspended())
}

func TestChainedSleepUsesLatestDuration(t *testing.T) {
	s, f := newTestScheduler(t)
	task := NewTask(s)

	task.Sleep(100 * time.Millisecond)
	f.Advance(50 * time.Millisecond)
	task.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, f.PendingTimers())

	// The first timer would have fired here.
	f.Advance(150 * time.Millisecond)
	assert.False(t, task.Executable())

	f.Advance(50 * time.Millisecond)
	assert.True(t, task.Executable())
	assert.Equal(t, 0, f.PendingTimers())
}

func TestRemovalReleasesSleep(t *testing.T) {
	s, f := newTestScheduler(t)
	task := NewTask(s)
	task.Run()
	task.Sleep(time.Second)
	require.Equal(t, 1, f.PendingTimers())

	task.Stop()
	assert.Equal(t, 0, f.PendingTimers())
	assert.False(t, task.Suspended())
	assert.Equal(t, 1, f.TimerCancels())
}

func TestSleepWhileDetachedStaysPending(t *testing.T) {
	s, f := newTestScheduler(t)
	task := NewTask(s)
	task.Sleep(time.Second)
	task.Run()
	assert.True(t, task.Suspended())
	assert.Equal(t, 1, f.PendingTimers())
}

func TestExecuteCompletionSequencing(t *testing.T) {
	s, f := newTestScheduler(t)
	w := newWork(f, "a", time.Millisecond, 3)

	var (
		calls       int
		hasInside   bool
		completions int
	)
	var task *Task
	task = NewTask(s, WithStep(w), WithOnComplete(func() {
		completions++
		hasInside = s.Has(task)
		calls = w.calls
	}))
	task.Run()

	// A slice of one step per call.
	assert.False(t, task.Execute(time.Millisecond))
	assert.False(t, task.Execute(time.Millisecond))
	assert.True(t, s.Has(task))
	assert.True(t, task.Execute(time.Millisecond))

	assert.Equal(t, 1, completions)
	assert.Equal(t, 3, calls)
	assert.False(t, hasInside)
	assert.False(t, s.Has(task))
	assert.Equal(t, 3, task.Slices())
}

func TestExecuteIgnoresExecutableFlag(t *testing.T) {
	s, f := newTestScheduler(t)
	w := newWork(f, "a", time.Millisecond, 0)
	task := NewTask(s, WithStep(w))
	task.Pause()

	task.Execute(2 * time.Millisecond)
	assert.Equal(t, 2, w.calls)
}

func TestExecuteWithZeroSliceRunsNothing(t *testing.T) {
	s, f := newTestScheduler(t)
	w := newWork(f, "a", time.Millisecond, 1)
	task := NewTask(s, WithStep(w))
	task.Run()

	assert.False(t, task.Execute(0))
	assert.Equal(t, 0, w.calls)
	assert.Equal(t, 1, task.Slices())
}

type progressWork struct {
	n, of int
}

func (p *progressWork) Step() bool        { p.n++; return p.n >= p.of }
func (p *progressWork) Progress() float64 { return float64(p.n) / float64(p.of) }

func TestProgressDelegatesToStepper(t *testing.T) {
	s, _ := newTestScheduler(t)
	p := &progressWork{of: 4}
	task := NewTask(s, WithStep(p))
	p.Step()

	got, ok := task.Progress()
	assert.True(t, ok)
	assert.InDelta(t, 0.25, got, 1e-9)
}
