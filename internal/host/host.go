// Package host provides the timing primitives the scheduler is driven by:
// a time source, a per-frame callback request (the requestAnimationFrame
// analog) and cancellable one-shot timers.
//
// Every callback handed to a Host runs on the host's single logical thread.
// Loop is the production implementation; hosttest.Fake is the deterministic
// one used by tests.
package host

import "time"

// Handle identifies a pending frame request or timer. The zero Handle is
// never issued and is safe to cancel.
type Handle uint64

type Host interface {
	// Now returns the current time of the host clock.
	Now() time.Time

	// RequestFrame schedules fn to run once on the next frame tick.
	RequestFrame(fn func()) Handle
	// CancelFrame drops a pending frame request. Unknown handles are ignored.
	CancelFrame(h Handle)

	// AfterFunc schedules fn to run once on the host thread after d.
	AfterFunc(d time.Duration, fn func()) Handle
	// CancelTimer stops a pending timer; a cancelled timer never fires.
	CancelTimer(h Handle)
}

// DefaultFrameRate is used whenever a frame rate is unset or invalid.
const DefaultFrameRate = 60

// FrameInterval converts a frame rate into the time between two frames.
func FrameInterval(fps float64) time.Duration {
	if fps <= 0 {
		fps = DefaultFrameRate
	}
	return time.Duration(float64(time.Second) / fps)
}
