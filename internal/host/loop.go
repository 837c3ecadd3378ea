package host

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "threader/pkg/logx"
)

var (
	ErrLoopStopped = errors.New("host loop stopped")
	ErrLoopRunning = errors.New("host loop already running")
)

// LoopConfig controls the host loop.
type LoopConfig struct {
	// FrameRate is the number of frame ticks per second (default 60).
	FrameRate float64
	// QueueSize bounds the posted-callback channel (default 256).
	QueueSize int
}

// LoopStats is a best-effort operational view of the loop.
type LoopStats struct {
	Frames      uint64
	Posted      uint64
	TimersFired uint64
	Panics      uint64
	LastPanic   string
}

// Loop is a single-goroutine event loop. All callbacks (posted functions,
// frame callbacks and timer callbacks) run on the goroutine that called Run,
// which makes that goroutine the host thread for the scheduler and its tasks.
type Loop struct {
	log      logx.Logger
	interval time.Duration

	queue chan func()

	mu      sync.Mutex
	seq     uint64
	frames  map[Handle]func()
	order   []Handle
	timers  map[Handle]*time.Timer
	running bool
	done    chan struct{}

	frameCount  atomic.Uint64
	posted      atomic.Uint64
	timersFired atomic.Uint64
	panics      atomic.Uint64
	lastPanic   atomic.Value // string
}

func NewLoop(cfg LoopConfig, log logx.Logger) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Loop{
		log:      log,
		interval: FrameInterval(cfg.FrameRate),
		queue:    make(chan func(), cfg.QueueSize),
		frames:   map[Handle]func(){},
		timers:   map[Handle]*time.Timer{},
		done:     make(chan struct{}),
	}
}

func (l *Loop) Now() time.Time { return time.Now() }

// FrameInterval returns the time between two frame ticks.
func (l *Loop) FrameInterval() time.Duration { return l.interval }

// Run processes callbacks until ctx is canceled. It must be called once.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrLoopRunning
	}
	l.running = true
	l.mu.Unlock()

	ticker := time.NewTicker(l.interval)
	defer func() {
		ticker.Stop()
		l.shutdown()
	}()

	l.log.Debug("host loop started", logx.Duration("frame_interval", l.interval))
	for {
		select {
		case <-ctx.Done():
			l.log.Debug("host loop stopped")
			return nil
		case fn := <-l.queue:
			l.invoke("posted", fn)
		case <-ticker.C:
			l.runFrame()
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Post queues fn to run on the loop goroutine. It is safe to call from any
// goroutine; it blocks only while the queue is full.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	select {
	case l.queue <- fn:
		l.posted.Add(1)
	case <-l.done:
	}
}

// Do runs fn on the loop goroutine and waits for it to return.
// It must not be called from the loop goroutine itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	if ctx == nil {
		ctx = context.Background()
	}
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case l.queue <- wrapped:
		l.posted.Add(1)
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) RequestFrame(fn func()) Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	h := Handle(l.seq)
	l.frames[h] = fn
	l.order = append(l.order, h)
	return h
}

func (l *Loop) CancelFrame(h Handle) {
	if h == 0 {
		return
	}
	l.mu.Lock()
	delete(l.frames, h)
	l.mu.Unlock()
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	h := Handle(l.seq)
	l.timers[h] = time.AfterFunc(d, func() {
		l.Post(func() {
			// The timer may have been cancelled after it was posted.
			l.mu.Lock()
			_, ok := l.timers[h]
			delete(l.timers, h)
			l.mu.Unlock()
			if !ok {
				return
			}
			l.timersFired.Add(1)
			fn()
		})
	})
	return h
}

func (l *Loop) CancelTimer(h Handle) {
	if h == 0 {
		return
	}
	l.mu.Lock()
	t, ok := l.timers[h]
	delete(l.timers, h)
	l.mu.Unlock()
	if ok {
		t.Stop()
	}
}

func (l *Loop) Stats() LoopStats {
	st := LoopStats{
		Frames:      l.frameCount.Load(),
		Posted:      l.posted.Load(),
		TimersFired: l.timersFired.Load(),
		Panics:      l.panics.Load(),
	}
	if v, ok := l.lastPanic.Load().(string); ok {
		st.LastPanic = v
	}
	return st
}

// runFrame runs the callbacks requested before this tick, in request order.
// Callbacks requested while the frame runs wait for the next tick.
func (l *Loop) runFrame() {
	l.mu.Lock()
	order := l.order
	l.order = nil
	due := make([]func(), 0, len(order))
	for _, h := range order {
		if fn, ok := l.frames[h]; ok {
			due = append(due, fn)
			delete(l.frames, h)
		}
	}
	l.mu.Unlock()

	l.frameCount.Add(1)
	for _, fn := range due {
		l.invoke("frame", fn)
	}
}

// invoke runs a callback and contains its panic so one failing callback
// does not take the host thread down.
func (l *Loop) invoke(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.lastPanic.Store(fmt.Sprint(r))
			l.log.Error("host callback panicked",
				logx.String("kind", kind),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	fn()
}

func (l *Loop) shutdown() {
	l.mu.Lock()
	for h, t := range l.timers {
		t.Stop()
		delete(l.timers, h)
	}
	l.frames = map[Handle]func(){}
	l.order = nil
	l.mu.Unlock()
	close(l.done)
}
