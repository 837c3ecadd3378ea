package threader

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threader/internal/eventbus"
	"threader/internal/host/hosttest"
	logx "threader/pkg/logx"
)

func TestNewAppliesDefaults(t *testing.T) {
	f := hosttest.New(60)
	s := New(f, Config{}, logx.Logger{}, nil)
	assert.Equal(t, Config{Priority: DefaultPriority, FrameRate: DefaultFrameRate}, s.Config())

	s = New(f, Config{Priority: 0.7}, logx.Nop(), nil)
	assert.Equal(t, 0.7, s.Config().Priority)
	assert.Equal(t, float64(DefaultFrameRate), s.Config().FrameRate)
}

func TestInitReplacesConfiguration(t *testing.T) {
	s, f := newTestScheduler(t)
	task := NewTask(s)
	task.Run()

	s.Init(0.9, 0)
	assert.Equal(t, Config{Priority: 0.9, FrameRate: 60}, s.Config())
	s.Init(0.2, 120)
	assert.Equal(t, 120.0, s.Snapshot().FrameRate)
	assert.Equal(t, 8333333*time.Nanosecond, s.Snapshot().CycleInterval)
	assert.True(t, s.Has(task))
	assert.Equal(t, 1, f.PendingFrames())

	s.SetPriority(0.5)
	assert.Equal(t, Config{Priority: 0.5, FrameRate: 120}, s.Config())
}

func TestAddIsIdempotent(t *testing.T) {
	s, _ := newTestScheduler(t)
	task := NewTask(s)

	assert.True(t, s.Add(task))
	assert.False(t, s.Add(task))
	assert.Equal(t, 1, s.Len())
	assert.False(t, s.Add(nil))

	assert.True(t, s.Remove(task))
	assert.False(t, s.Remove(task))
	assert.False(t, s.Remove(NewTask(s)))
	assert.Equal(t, 0, s.Len())
}

func TestArmsOnFirstAddAndStopsOnLastRemove(t *testing.T) {
	s, f := newTestScheduler(t)
	a, b, c := NewTask(s), NewTask(s), NewTask(s)

	a.Run()
	assert.True(t, s.Armed())
	assert.Equal(t, 1, f.FrameRequests())

	b.Run()
	c.Run()
	assert.Equal(t, 1, f.FrameRequests())

	b.Stop()
	a.Stop()
	assert.Equal(t, 0, f.FrameCancels())
	assert.True(t, s.Armed())

	c.Stop()
	assert.Equal(t, 1, f.FrameCancels())
	assert.False(t, s.Armed())
	assert.Equal(t, 0, f.PendingFrames())

	a.Run()
	assert.Equal(t, 2, f.FrameRequests())
}

func TestCycleRearmsWhileTasksRemain(t *testing.T) {
	s, f := newTestScheduler(t)
	w := newWork(f, "a", time.Millisecond, 0)
	NewTask(s, WithStep(w)).Run()

	for i := 0; i < 5; i++ {
		require.Equal(t, 1, f.Frame())
	}
	assert.True(t, s.Armed())
	assert.Equal(t, uint64(5), s.Snapshot().Cycles)
	assert.Equal(t, 6, f.FrameRequests())
}

func TestScenarioSingleTaskCompletes(t *testing.T) {
	f := hosttest.New(30)
	s := New(f, Config{}, logx.Nop(), nil)
	s.Init(0.4, 60)

	w := newWork(f, "a", 0, 3)
	done := 0
	task := NewTask(s, WithStep(w), WithOnComplete(func() { done++ }))
	task.Run()

	f.Frame()
	assert.False(t, s.Has(task))
	assert.Equal(t, 1, done)
	assert.Equal(t, 3, w.calls)
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Armed())

	f.Frames(3)
	assert.Equal(t, 1, done)
}

func TestScenarioPausedTaskIsSkipped(t *testing.T) {
	s, f := newTestScheduler(t)
	run := newWork(f, "run", time.Millisecond, 0)
	held := newWork(f, "held", time.Millisecond, 0)

	NewTask(s, WithStep(run)).Run()
	paused := NewTask(s, WithStep(held))
	paused.Run()
	paused.Pause()

	f.Frame()
	assert.Positive(t, run.calls)
	assert.Zero(t, held.calls)
	assert.Zero(t, paused.Slices())
}

func TestScenarioStopDropsTasksWithoutCallbacks(t *testing.T) {
	s, f := newTestScheduler(t)
	callbacks := 0
	tasks := make([]*Task, 3)
	for i := range tasks {
		tasks[i] = NewTask(s, WithOnComplete(func() { callbacks++ }))
		tasks[i].Run()
		tasks[i].Sleep(time.Second)
	}

	s.Stop()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, callbacks)
	assert.False(t, s.Armed())
	assert.Equal(t, 0, f.PendingFrames())
	assert.Equal(t, 0, f.PendingTimers())
	for _, task := range tasks {
		assert.True(t, task.Executable())
	}

	f.Frames(2)
	assert.Equal(t, 0, callbacks)
}

func TestStopOnIdleSchedulerIsSafe(t *testing.T) {
	s, f := newTestScheduler(t)
	s.Stop()
	s.Stop()
	assert.Equal(t, 0, f.FrameCancels())
}

func TestCycleVisitsReverseRegistrationOrder(t *testing.T) {
	s, f := newTestScheduler(t)
	var trace []string
	for _, name := range []string{"a", "b", "c"} {
		w := newWork(f, name, time.Millisecond, 0)
		w.trace = &trace
		NewTask(s, WithStep(w), WithName(name)).Run()
	}

	f.Frame()
	assert.Equal(t, []string{"c", "b", "a"}, trace)
	assert.Equal(t, []string{"a", "b", "c"}, itemNames(s.Snapshot()))
}

func TestCycleSplitsBudgetEvenly(t *testing.T) {
	s, f := newTestScheduler(t)
	ws := []*work{
		newWork(f, "a", time.Millisecond, 0),
		newWork(f, "b", time.Millisecond, 0),
		newWork(f, "c", time.Millisecond, 0),
	}
	for _, w := range ws {
		NewTask(s, WithStep(w)).Run()
	}

	f.Frame()
	// 25ms / 3 tasks, 1ms steps.
	for _, w := range ws {
		assert.Equal(t, 9, w.calls, w.name)
	}
	assert.InDelta(t, float64(25*time.Millisecond), float64(s.Snapshot().LastBudget), float64(time.Microsecond))
}

func TestCompletionRedistributesBudget(t *testing.T) {
	s, f := newTestScheduler(t)
	a := newWork(f, "a", time.Millisecond, 0)
	b := newWork(f, "b", time.Millisecond, 0)
	c := newWork(f, "c", time.Millisecond, 1)
	for _, w := range []*work{a, b, c} {
		NewTask(s, WithStep(w)).Run()
	}

	f.Frame()
	assert.Equal(t, 1, c.calls)
	// c's share is split between the two survivors: 12.5ms each.
	assert.Equal(t, 13, b.calls)
	assert.Equal(t, 13, a.calls)
	assert.Equal(t, 2, s.Len())
}

func TestSuspendedTaskBudgetIsRedistributed(t *testing.T) {
	s, f := newTestScheduler(t)
	a := newWork(f, "a", time.Millisecond, 0)
	b := newWork(f, "b", time.Millisecond, 0)
	c := newWork(f, "c", time.Millisecond, 0)
	NewTask(s, WithStep(a)).Run()
	NewTask(s, WithStep(b)).Run()
	sleeper := NewTask(s, WithStep(c))
	sleeper.Run()
	sleeper.Sleep(time.Minute)

	f.Frame()
	assert.Zero(t, c.calls)
	assert.Equal(t, 13, b.calls)
	assert.Equal(t, 13, a.calls)
}

func TestEarlierSuspensionOnlyBenefitsLaterTasks(t *testing.T) {
	s, f := newTestScheduler(t)
	a := newWork(f, "a", time.Millisecond, 0)
	b := newWork(f, "b", time.Millisecond, 0)
	c := newWork(f, "c", time.Millisecond, 0)
	NewTask(s, WithStep(a)).Run()
	paused := NewTask(s, WithStep(b))
	paused.Run()
	paused.Pause()
	NewTask(s, WithStep(c)).Run()

	f.Frame()
	// c is visited before b is found paused and keeps the even share.
	assert.Equal(t, 9, c.calls)
	assert.Zero(t, b.calls)
	assert.Equal(t, 13, a.calls)
}

func TestAllTasksSuspendedKeepsShare(t *testing.T) {
	s, f := newTestScheduler(t)
	for i := 0; i < 2; i++ {
		task := NewTask(s)
		task.Run()
		task.Pause()
	}

	require.NotPanics(t, func() { f.Frame() })
	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.Cycles)
	assert.Equal(t, 2, snap.Paused)
	assert.True(t, snap.Armed)
}

func TestLastTaskCompletingStopsScheduler(t *testing.T) {
	s, f := newTestScheduler(t)
	NewTask(s, WithStep(newWork(f, "a", time.Millisecond, 2))).Run()

	require.NotPanics(t, func() { f.Frame() })
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Armed())
	assert.Equal(t, 0, f.PendingFrames())
	assert.Equal(t, uint64(1), s.Snapshot().Completed)
}

func TestTaskStoppedMidCycleIsSkipped(t *testing.T) {
	s, f := newTestScheduler(t)
	a := newWork(f, "a", time.Millisecond, 0)
	b := newWork(f, "b", time.Millisecond, 0)
	c := newWork(f, "c", time.Millisecond, 0)

	victim := NewTask(s, WithStep(a))
	victim.Run()
	NewTask(s, WithStep(b)).Run()

	var late *Task
	c.onStep = func() {
		if c.calls == 1 {
			victim.Stop()
			late = NewTask(s, WithStep(newWork(f, "late", time.Millisecond, 0)))
			late.Run()
		}
	}
	NewTask(s, WithStep(c)).Run()

	f.Frame()
	assert.Zero(t, a.calls)
	assert.Positive(t, b.calls)
	assert.Zero(t, late.Slices())
	assert.Equal(t, 3, s.Len())

	f.Frame()
	assert.Equal(t, 1, late.Slices())
}

func TestRerunFromCompletionCallbackArmsOnce(t *testing.T) {
	s, f := newTestScheduler(t)
	w := newWork(f, "a", time.Millisecond, 1)
	runs := 0
	var task *Task
	task = NewTask(s, WithStep(w), WithOnComplete(func() {
		runs++
		if runs == 1 {
			w.calls = 0
			w.finishAt = 0
			task.Run()
		}
	}))
	task.Run()

	f.Frame()
	assert.True(t, s.Has(task))
	assert.True(t, s.Armed())
	assert.Equal(t, 1, f.PendingFrames())
	assert.Equal(t, 2, f.FrameRequests())
}

func TestThrottleSkipsEarlyFrames(t *testing.T) {
	f := hosttest.New(60)
	s := New(f, Config{Priority: 0.4, FrameRate: 60}, logx.Nop(), nil)
	task := NewTask(s)
	task.Run()
	task.Pause()

	f.Frame()
	// Exactly one interval later: delta <= interval.
	f.Frame()
	f.Frame()

	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.Cycles)
	assert.Equal(t, uint64(1), snap.Throttled)
	assert.True(t, snap.Armed)
	assert.Equal(t, f.Now(), s.lastCycle)
}

func TestThrottleKeepsPhase(t *testing.T) {
	f := hosttest.New(60)
	s := New(f, Config{Priority: 0.4, FrameRate: 60}, logx.Nop(), nil)
	task := NewTask(s)
	task.Run()
	task.Pause()

	f.Frame()
	start := s.lastCycle

	f.Advance(10 * time.Millisecond)
	f.Frame()

	iv := s.interval
	delta := f.Now().Sub(start)
	assert.Equal(t, f.Now().Add(-(delta % iv)), s.lastCycle)
	assert.Equal(t, uint64(2), s.Snapshot().Cycles)
}

func TestPanickingStepHaltsScheduler(t *testing.T) {
	s, f := newTestScheduler(t)
	later := newWork(f, "later", time.Millisecond, 0)
	NewTask(s, WithStep(later)).Run()
	NewTask(s, WithStepFunc(func() bool { panic("boom") })).Run()

	assert.PanicsWithValue(t, "boom", func() { f.Frame() })
	assert.Zero(t, later.calls, "tasks after the panicking one are skipped")
	assert.False(t, s.Armed())
	assert.Equal(t, 2, s.Len())

	// Adding to a halted, non-empty set does not restart it.
	NewTask(s).Run()
	assert.False(t, s.Armed())

	s.Stop()
	NewTask(s, WithStep(later)).Run()
	assert.True(t, s.Armed())
}

func TestOverrunWarningIsThrottled(t *testing.T) {
	f := hosttest.New(30)
	var buf bytes.Buffer
	s := New(f, Config{Priority: 0.4, FrameRate: 60}, logx.NewWriter(&buf, "warn"), nil)
	NewTask(s, WithStep(newWork(f, "slow", 100*time.Millisecond, 0))).Run()

	f.Frames(3)
	assert.Equal(t, uint64(3), s.Snapshot().Overruns)
	assert.Equal(t, 1, strings.Count(buf.String(), "cycle overran its interval"))
	assert.Equal(t, 100*time.Millisecond, s.Snapshot().LastElapsed)
}

func TestLifecycleEventsArePublished(t *testing.T) {
	f := hosttest.New(30)
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(f, Config{}, logx.Nop(), bus)
	task := NewTask(s, WithName("sieve"), WithStep(newWork(f, "sieve", time.Millisecond, 4)))
	task.Run()
	f.Frame()

	var got []string
	for len(ch) > 0 {
		ev := <-ch
		got = append(got, ev.Type)
		if ev.Type == EventTaskCompleted {
			te, ok := ev.Data.(TaskEvent)
			require.True(t, ok)
			assert.Equal(t, "sieve", te.Name)
			assert.Equal(t, 4, te.Iterations)
			assert.Equal(t, 1, te.Slices)
			assert.Equal(t, f.FrameInterval()+4*time.Millisecond, te.Elapsed)
		}
	}
	assert.Equal(t, []string{EventTaskAdded, EventTaskRemoved, EventSchedulerStopped, EventTaskCompleted}, got)
}

func TestSnapshotReportsTaskState(t *testing.T) {
	s, _ := newTestScheduler(t)
	a := NewTask(s, WithName("a"))
	b := NewTask(s, WithName("b"))
	c := NewTask(s, WithName("c"), WithStep(&progressWork{of: 2}))
	a.Run()
	b.Run()
	c.Run()
	a.Pause()
	b.Sleep(time.Second)

	snap := s.Snapshot()
	assert.Equal(t, 3, snap.Tasks)
	assert.Equal(t, 1, snap.Paused)
	assert.Equal(t, 1, snap.Suspended)
	assert.True(t, snap.Armed)
	assert.Equal(t, []string{"a", "b", "c"}, itemNames(snap))
	assert.True(t, snap.Items[2].HasProgress)
	assert.False(t, snap.Items[0].HasProgress)
}

func itemNames(s Snapshot) []string {
	out := make([]string, 0, len(s.Items))
	for _, it := range s.Items {
		out = append(out, it.Name)
	}
	return out
}
