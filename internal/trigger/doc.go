// Package trigger starts configured tasks on cron or interval schedules.
//
// Cron fires on its own goroutines; every start is marshalled onto the host
// loop through a Poster, so the scheduler is only ever touched from the host
// thread.
package trigger
