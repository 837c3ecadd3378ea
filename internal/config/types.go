package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the daemon's configuration file.
//
// Example (YAML):
//
//	scheduler: { priority: 0.4, frame_rate: 60 }
//	storage:   { driver: sqlite, path: ./threader.db }
//	tasks:
//	  - { name: primes, kind: primes, size: 200000, schedule: "@every 30s" }
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Host      HostConfig      `json:"host"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Trigger   TriggerConfig   `json:"trigger"`
	Pprof     PprofConfig     `json:"pprof"`
	Tasks     []TaskConfig    `json:"tasks"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig tunes the time-slicing scheduler.
//
// Priority is a pointer so an omitted value (default 0.4) can be told apart
// from an explicit 0.
type SchedulerConfig struct {
	Priority  *float64 `json:"priority,omitempty"`
	FrameRate float64  `json:"frame_rate,omitempty"`
}

const (
	DefaultPriority  = 0.4
	DefaultFrameRate = 60
)

// EffectivePriority returns the configured priority or the default.
func (s SchedulerConfig) EffectivePriority() float64 {
	if s.Priority == nil {
		return DefaultPriority
	}
	return *s.Priority
}

// EffectiveFrameRate returns the configured frame rate or the default.
func (s SchedulerConfig) EffectiveFrameRate() float64 {
	if s.FrameRate <= 0 {
		return DefaultFrameRate
	}
	return s.FrameRate
}

// HostConfig controls the host loop's own tick rate, independent of the
// scheduler's target frame rate.
type HostConfig struct {
	FrameRate float64 `json:"frame_rate,omitempty"`
	QueueSize int     `json:"queue_size,omitempty"`
}

// StorageConfig controls run-history persistence. Nil means disabled.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Retain      int    `json:"retain,omitempty"`       // runs kept; 0 means the store default
}

// PprofConfig controls the debug HTTP listener (runtime profiles and a JSON
// status endpoint). Binding to a non-loopback address requires a token.
type PprofConfig struct {
	Enabled              bool   `json:"enabled"`
	Addr                 string `json:"addr,omitempty"`
	Token                string `json:"token,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
}

type TriggerConfig struct {
	// Timezone for cron schedules (IANA name). Empty means local time.
	Timezone string `json:"timezone,omitempty"`
}

// TaskConfig declares one workload run by the daemon.
type TaskConfig struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Size int    `json:"size,omitempty"`

	// Schedule restarts the task on a trigger (cron spec, "@every 30s", "10m").
	// Empty runs it once at startup.
	Schedule string `json:"schedule,omitempty"`

	// Sleep suspends the task right after each start (Go duration string).
	Sleep string `json:"sleep,omitempty"`

	Paused bool `json:"paused,omitempty"`
}

// Validate checks what can be checked without knowing the workload
// registry or the schedule grammar.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if c.Scheduler.FrameRate < 0 {
		errs = append(errs, errors.New("scheduler.frame_rate: must be >= 0"))
	}
	if c.Host.FrameRate < 0 {
		errs = append(errs, errors.New("host.frame_rate: must be >= 0"))
	}
	if c.Host.QueueSize < 0 {
		errs = append(errs, errors.New("host.queue_size: must be >= 0"))
	}

	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "off", "disabled", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
		if s.Retain < 0 {
			errs = append(errs, errors.New("storage.retain: must be >= 0"))
		}
	}

	if c.Pprof.BlockProfileRate < 0 {
		errs = append(errs, errors.New("pprof.block_profile_rate: must be >= 0"))
	}
	if c.Pprof.MutexProfileFraction < 0 {
		errs = append(errs, errors.New("pprof.mutex_profile_fraction: must be >= 0"))
	}

	seen := make(map[string]struct{}, len(c.Tasks))
	for i, t := range c.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		name := strings.TrimSpace(t.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("%s.name: required", path))
		default:
			if _, dup := seen[name]; dup {
				errs = append(errs, fmt.Errorf("%s.name: duplicate task %q", path, name))
			}
			seen[name] = struct{}{}
		}
		if strings.TrimSpace(t.Kind) == "" {
			errs = append(errs, fmt.Errorf("%s.kind: required", path))
		}
		if t.Size < 0 {
			errs = append(errs, fmt.Errorf("%s.size: must be >= 0", path))
		}
		if _, err := ParseDurationField(path+".sleep", t.Sleep); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
