package threader

import (
	"testing"
	"time"

	"threader/internal/host/hosttest"
	logx "threader/pkg/logx"
)

// newTestScheduler returns a 60 fps scheduler on a fake host ticking at
// 30 fps, so every pumped frame passes the throttle.
func newTestScheduler(t *testing.T) (*Scheduler, *hosttest.Fake) {
	t.Helper()
	f := hosttest.New(30)
	return New(f, Config{Priority: 0.4, FrameRate: 60}, logx.Nop(), nil), f
}

// work is a step that costs a fixed amount of fake time per call and
// finishes on its finishAt-th call (never when finishAt is 0).
type work struct {
	f        *hosttest.Fake
	name     string
	cost     time.Duration
	finishAt int
	calls    int
	trace    *[]string
	onStep   func()
}

func (w *work) Step() bool {
	w.calls++
	if w.trace != nil && w.calls == 1 {
		*w.trace = append(*w.trace, w.name)
	}
	if w.onStep != nil {
		w.onStep()
	}
	w.f.Advance(w.cost)
	return w.finishAt > 0 && w.calls >= w.finishAt
}

func newWork(f *hosttest.Fake, name string, cost time.Duration, finishAt int) *work {
	return &work{f: f, name: name, cost: cost, finishAt: finishAt}
}
