package threader

import (
	"math"
	"time"
)

// timeAllocation returns the milliseconds of task work allowed in one cycle.
//
// Below full priority the budget is the priority's fraction of one second's
// worth of frames plus a millisecond; at or above 1 it is the frame rate
// minus the priority. Either way every registered task is guaranteed about
// one millisecond.
func timeAllocation(priority, frameRate float64, interval time.Duration, tasks int) float64 {
	var ms float64
	if priority < 1 {
		ms = (1000/millis(interval))*priority + 1
	} else {
		ms = frameRate - priority
	}
	return math.Max(ms, float64(tasks))
}

// share splits a cycle budget across eligible tasks. It reports false when
// there is no eligible task to divide by; callers keep their previous share.
func share(totalMs float64, eligible int) (time.Duration, bool) {
	if eligible <= 0 {
		return 0, false
	}
	return fromMillis(totalMs / float64(eligible)), true
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func fromMillis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
