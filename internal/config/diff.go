package config

import (
	"sort"
	"strings"

	logx "threader/pkg/logx"
)

// TaskChanges lists task names by how they differ between two configs.
type TaskChanges struct {
	Added   []string
	Removed []string
	Changed []string
}

func (c TaskChanges) Empty() bool {
	return len(c.Added)+len(c.Removed)+len(c.Changed) == 0
}

// SummarizeConfigChange returns the sorted list of changed sections, log
// fields describing the new values, and the per-task differences.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, TaskChanges) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler.EffectivePriority() != newCfg.Scheduler.EffectivePriority() ||
		oldCfg.Scheduler.EffectiveFrameRate() != newCfg.Scheduler.EffectiveFrameRate() {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Float64("scheduler.priority", newCfg.Scheduler.EffectivePriority()),
			logx.Float64("scheduler.frame_rate", newCfg.Scheduler.EffectiveFrameRate()),
		)
	}

	if oldCfg.Host != newCfg.Host {
		changed = append(changed, "host")
		attrs = append(attrs,
			logx.Float64("host.frame_rate", newCfg.Host.FrameRate),
			logx.Int("host.queue_size", newCfg.Host.QueueSize),
		)
	}

	var oDriver, nDriver, oBusy, nBusy, oPath, nPath string
	var oRetain, nRetain int
	if s := oldCfg.Storage; s != nil {
		oDriver, oBusy, oPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path)
		oRetain = s.Retain
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nBusy, nPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path)
		nRetain = s.Retain
	}
	if oDriver != nDriver || oBusy != nBusy || oPath != nPath || oRetain != nRetain {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPath != ""),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	if strings.TrimSpace(oldCfg.Trigger.Timezone) != strings.TrimSpace(newCfg.Trigger.Timezone) {
		changed = append(changed, "trigger")
		attrs = append(attrs, logx.String("trigger.timezone", strings.TrimSpace(newCfg.Trigger.Timezone)))
	}

	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", newCfg.Pprof.Addr),
			logx.Bool("pprof.token_set", newCfg.Pprof.Token != ""),
		)
	}

	tasks := diffTasks(oldCfg.Tasks, newCfg.Tasks)
	if !tasks.Empty() {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.added", len(tasks.Added)),
			logx.Int("tasks.removed", len(tasks.Removed)),
			logx.Int("tasks.changed", len(tasks.Changed)),
			logx.Int("tasks.total", len(newCfg.Tasks)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, tasks
}

func diffTasks(oldT, newT []TaskConfig) TaskChanges {
	index := func(ts []TaskConfig) map[string]uint64 {
		m := make(map[string]uint64, len(ts))
		for _, t := range ts {
			m[strings.TrimSpace(t.Name)] = hashTask(t)
		}
		return m
	}
	om, nm := index(oldT), index(newT)

	var out TaskChanges
	for name, h := range nm {
		oh, ok := om[name]
		switch {
		case !ok:
			out.Added = append(out.Added, name)
		case oh != h:
			out.Changed = append(out.Changed, name)
		}
	}
	for name := range om {
		if _, ok := nm[name]; !ok {
			out.Removed = append(out.Removed, name)
		}
	}
	sort.Strings(out.Added)
	sort.Strings(out.Removed)
	sort.Strings(out.Changed)
	return out
}
