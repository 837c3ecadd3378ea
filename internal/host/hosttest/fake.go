// Package hosttest provides a deterministic host for tests: the clock only
// moves when the test says so, and frames only run when the test pumps them.
package hosttest

import (
	"sort"
	"time"

	"threader/internal/host"
)

// Epoch is the fake clock's starting time.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type timer struct {
	h   host.Handle
	at  time.Time
	seq uint64
	fn  func()
}

// Fake implements host.Host on the calling goroutine. It is not safe for
// concurrent use, matching the single-threaded host contract.
type Fake struct {
	now      time.Time
	interval time.Duration

	seq    uint64
	frames map[host.Handle]func()
	order  []host.Handle
	timers map[host.Handle]*timer

	frameRequests int
	frameCancels  int
	timerCancels  int
}

// New returns a fake host whose Frame() advances the clock by the interval
// of the given frame rate.
func New(fps float64) *Fake {
	return &Fake{
		now:      Epoch,
		interval: host.FrameInterval(fps),
		frames:   map[host.Handle]func(){},
		timers:   map[host.Handle]*timer{},
	}
}

func (f *Fake) Now() time.Time { return f.now }

func (f *Fake) FrameInterval() time.Duration { return f.interval }

func (f *Fake) RequestFrame(fn func()) host.Handle {
	f.seq++
	h := host.Handle(f.seq)
	f.frames[h] = fn
	f.order = append(f.order, h)
	f.frameRequests++
	return h
}

func (f *Fake) CancelFrame(h host.Handle) {
	if _, ok := f.frames[h]; ok {
		delete(f.frames, h)
		f.frameCancels++
	}
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) host.Handle {
	f.seq++
	h := host.Handle(f.seq)
	f.timers[h] = &timer{h: h, at: f.now.Add(d), seq: f.seq, fn: fn}
	return h
}

func (f *Fake) CancelTimer(h host.Handle) {
	if _, ok := f.timers[h]; ok {
		delete(f.timers, h)
		f.timerCancels++
	}
}

// Advance moves the clock forward by d, firing due timers in deadline order.
// Step functions may call Advance to simulate work taking time.
func (f *Fake) Advance(d time.Duration) {
	target := f.now.Add(d)
	for {
		next := f.nextTimer(target)
		if next == nil {
			break
		}
		delete(f.timers, next.h)
		if next.at.After(f.now) {
			f.now = next.at
		}
		next.fn()
	}
	if target.After(f.now) {
		f.now = target
	}
}

func (f *Fake) nextTimer(limit time.Time) *timer {
	var due []*timer
	for _, t := range f.timers {
		if !t.at.After(limit) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].at.Equal(due[j].at) {
			return due[i].at.Before(due[j].at)
		}
		return due[i].seq < due[j].seq
	})
	return due[0]
}

// Frame advances the clock by one frame interval and runs the frame
// callbacks that were pending before the call. It returns how many ran.
func (f *Fake) Frame() int {
	f.Advance(f.interval)
	order := f.order
	f.order = nil
	ran := 0
	for _, h := range order {
		fn, ok := f.frames[h]
		if !ok {
			continue
		}
		delete(f.frames, h)
		ran++
		fn()
	}
	return ran
}

// Frames pumps n frames and returns the total number of callbacks run.
func (f *Fake) Frames(n int) int {
	total := 0
	for i := 0; i < n; i++ {
		total += f.Frame()
	}
	return total
}

func (f *Fake) PendingFrames() int { return len(f.frames) }
func (f *Fake) PendingTimers() int { return len(f.timers) }
func (f *Fake) FrameRequests() int { return f.frameRequests }
func (f *Fake) FrameCancels() int  { return f.frameCancels }
func (f *Fake) TimerCancels() int  { return f.timerCancels }

var _ host.Host = (*Fake)(nil)
