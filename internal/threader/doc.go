// Package threader is a cooperative, time-sliced task scheduler for a
// single-threaded host.
//
// A Scheduler wakes up on host frames, throttled to its target frame rate,
// computes how many milliseconds of work it may spend this cycle and splits
// them across its runnable tasks. Each Task consumes its slice by calling its
// step function in a loop until the slice has elapsed or the step reports
// that the work is finished.
//
// Nothing here is goroutine-safe. Every method must be called on the host
// thread (the goroutine running host.Loop, or the test goroutine driving
// hosttest.Fake). Step functions may call back into their own task or the
// scheduler (Pause, Sleep, Stop, Add, ...) because they run on that thread.
package threader
