package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"threader/internal/app"
	"threader/internal/tui"
)

const stopTimeout = 5 * time.Second

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler daemon until SIGINT/SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), nil)
		},
	}
}

func watchCmd() *cobra.Command {
	var logFile string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the daemon with a live terminal view",
		Long: `Run the daemon and show per-task progress, cycle statistics,
upcoming triggers and recent runs.

Controls:
  ↑/k, ↓/j - Select task
  p        - Pause / resume the selected task
  r        - Start the selected task now
  q        - Quit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// The live view owns the terminal; logs go to a file instead.
			if logFile == "" {
				logFile = filepath.Join(os.TempDir(), "threader-watch.log")
			}
			f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer f.Close()
			return serve(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", "", "where to write logs while the view is open (default: $TMPDIR/threader-watch.log)")
	return cmd
}

// serve runs the app until a signal arrives. With logs != nil the live view
// is shown and quitting it stops the app.
func serve(parent context.Context, logs io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	var opts []app.Option
	if logs != nil {
		opts = append(opts, app.WithLogWriter(logs))
	}
	a, err := app.New(cfgPath, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	go watchdog(ctx)

	viewDone := make(chan error, 1)
	if logs != nil {
		go func() { viewDone <- tui.Run(ctx, a) }()
	}

	reason := app.StopAppStop
	var runErr error
	select {
	case sig := <-sigs:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
		runErr = a.Err()
	case runErr = <-viewDone:
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

// watchdog pings systemd at half the configured WatchdogSec.
func watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
