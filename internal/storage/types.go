package storage

import (
	"errors"
	"time"
)

// ErrDisabled is returned by Open when no driver is configured.
var ErrDisabled = errors.New("storage disabled")

// DefaultRetain is how many runs a store keeps when Config.Retain is 0.
const DefaultRetain = 10000

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file next to Path
//   - "sqlite": SQLite database file at Path
//
// An empty driver, "none", "off" or "disabled" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Retain      int
}

func (c Config) retain() int {
	if c.Retain <= 0 {
		return DefaultRetain
	}
	return c.Retain
}

// RunRecord is one completed run of a task.
type RunRecord struct {
	ID         string        `json:"id"`
	Task       string        `json:"task"`
	TaskID     string        `json:"task_id"`
	Kind       string        `json:"kind,omitempty"`
	Started    time.Time     `json:"started"`
	Finished   time.Time     `json:"finished"`
	Slices     int           `json:"slices"`
	Iterations int           `json:"iterations"`
	Elapsed    time.Duration `json:"elapsed"`
}
