package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"threader/internal/config"
	"threader/internal/host"
	"threader/internal/observability/pprof"
	"threader/internal/storage"
	"threader/internal/threader"
	"threader/internal/trigger"
	"threader/internal/workload"
	logx "threader/pkg/logx"
)

// LoadConfig reads, decodes and validates the config file without starting
// anything.
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateConfig checks the parts config.Validate cannot: workload kinds,
// schedule grammar, the trigger timezone and the pprof bind policy.
func ValidateConfig(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	probe := trigger.New(trigger.Config{}, nil, logx.Nop())
	for i, tc := range cfg.Tasks {
		if !workload.Known(tc.Kind) {
			errs = append(errs, fmt.Errorf("tasks[%d].kind: %w: %q", i, workload.ErrUnknownKind, tc.Kind))
		}
		if strings.TrimSpace(tc.Schedule) != "" {
			if err := probe.Validate(tc.Schedule); err != nil {
				errs = append(errs, fmt.Errorf("tasks[%d].schedule: %w", i, err))
			}
		}
	}
	if tz := strings.TrimSpace(cfg.Trigger.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("trigger.timezone: invalid %q: %w", tz, err))
		}
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if err := mapPprofConfig(cfg).Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func validator(_ context.Context, cfg *config.Config) error { return ValidateConfig(cfg) }

func mapLogConfig(cfg *config.Config, w io.Writer) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Writer: w,
	}
}

func mapSchedulerConfig(cfg *config.Config) threader.Config {
	return threader.Config{
		Priority:  cfg.Scheduler.EffectivePriority(),
		FrameRate: cfg.Scheduler.EffectiveFrameRate(),
	}
}

func mapLoopConfig(cfg *config.Config) host.LoopConfig {
	return host.LoopConfig{FrameRate: cfg.Host.FrameRate, QueueSize: cfg.Host.QueueSize}
}

func mapTriggerConfig(cfg *config.Config) trigger.Config {
	return trigger.Config{Timezone: cfg.Trigger.Timezone}
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	pc := cfg.Pprof
	return pprof.Config{
		Enabled:              pc.Enabled,
		Addr:                 strings.TrimSpace(pc.Addr),
		Token:                strings.TrimSpace(pc.Token),
		BlockProfileRate:     pc.BlockProfileRate,
		MutexProfileFraction: pc.MutexProfileFraction,
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none", "off", "disabled":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			path = "./threader"
		}
		return storage.Config{Driver: driver, Path: path, Retain: sc.Retain}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, Retain: sc.Retain}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// OpenStore opens the configured run history. It returns storage.ErrDisabled
// when none is configured.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, storage.ErrDisabled
	}
	return storage.Open(sc, log)
}
