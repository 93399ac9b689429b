// Package driver coordinates all components for a spawn run: the spawn
// manager, metrics, statistics, preflight checks, and the optional terminal
// dashboard.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-app-spawn/internal/config"
	"github.com/randomizedcoder/go-app-spawn/internal/logging"
	"github.com/randomizedcoder/go-app-spawn/internal/metrics"
	"github.com/randomizedcoder/go-app-spawn/internal/preflight"
	"github.com/randomizedcoder/go-app-spawn/internal/spawn"
	"github.com/randomizedcoder/go-app-spawn/internal/stats"
	"github.com/randomizedcoder/go-app-spawn/internal/tui"
)

// Driver owns one run: it starts the helper, issues the configured number
// of spawn requests, and tears everything down.
type Driver struct {
	config *config.Config
	logger *slog.Logger

	manager       *spawn.Manager
	recorder      *stats.Recorder
	metrics       *metrics.Collector
	metricsServer *metrics.Server

	version   string
	startTime time.Time
}

// New creates a Driver with metrics on the default Prometheus registry.
func New(cfg *config.Config, logger *slog.Logger, version string) *Driver {
	return NewWithRegistry(cfg, logger, version, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Driver with metrics on a custom registry.
// Useful for testing.
func NewWithRegistry(cfg *config.Config, logger *slog.Logger, version string, reg prometheus.Registerer) *Driver {
	collector := metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version:     version,
		Interpreter: cfg.Interpreter,
		Helper:      cfg.Helper,
	}, reg)

	return &Driver{
		config:        cfg,
		logger:        logger,
		recorder:      stats.NewRecorder(),
		metrics:       collector,
		metricsServer: metrics.NewServer(cfg.MetricsAddr, logger),
		version:       version,
	}
}

// Run executes the spawn run. It blocks until all requests are done or a
// signal arrives.
func (d *Driver) Run(ctx context.Context) error {
	d.startTime = time.Now()

	if !d.config.SkipPreflight {
		result := preflight.RunAll(preflight.Config{
			Interpreter: d.config.Interpreter,
			Helper:      d.config.Helper,
			LogFile:     d.config.LogFile,
			AppRoot:     d.config.AppRoot,
		})
		preflight.PrintResults(result)
		if !result.Passed {
			return fmt.Errorf("preflight checks failed (use -skip-preflight to override)")
		}
	}

	if err := d.metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// The manager starts the helper eagerly; a broken setup fails here
	// instead of on the first request.
	manager, err := spawn.New(spawn.Config{
		HelperCommand: d.config.Helper,
		Interpreter:   d.config.Interpreter,
		LogFile:       d.config.LogFile,
		Environment:   d.config.Environment,
		EnvVar:        d.config.EnvVar,
		Logger:        d.logger,
		Callbacks: spawn.Callbacks{
			OnStateChange: d.onStateChange,
			OnHelperStart: d.onHelperStart,
			OnHelperExit:  d.onHelperExit,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start spawn helper: %w", err)
	}
	d.manager = manager

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			d.logger.Info("received_signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	var program *tea.Program
	tuiDone := make(chan struct{})
	if d.config.TUIEnabled {
		program = tea.NewProgram(tui.New(tui.Config{
			AppRoot:     d.config.AppRoot,
			Count:       d.config.Count,
			MetricsAddr: d.config.MetricsAddr,
			StatsSource: d,
		}), tea.WithAltScreen())

		go func() {
			defer close(tuiDone)
			if _, err := program.Run(); err != nil {
				d.logger.Error("tui_failed", "error", err)
			}
			// Quitting the dashboard ends the run.
			cancel()
		}()
	} else {
		close(tuiDone)
	}

	runErr := d.spawnLoop(ctx)

	if program != nil {
		tui.SendQuit(program)
	}
	<-tuiDone

	if err := d.manager.Close(); err != nil {
		d.logger.Warn("helper_close_error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := d.metricsServer.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("metrics_server_shutdown_error", "error", err)
	}

	d.printExitSummary()

	return runErr
}

// spawnLoop issues the configured number of spawn requests.
func (d *Driver) spawnLoop(ctx context.Context) error {
	for i := 0; i < d.config.Count; i++ {
		select {
		case <-ctx.Done():
			d.logger.Info("run_cancelled", "issued", i, "target", d.config.Count)
			return nil
		default:
		}

		if i > 0 && d.config.Interval > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.config.Interval):
			}
		}

		start := time.Now()
		handle, err := d.manager.Spawn(d.config.AppRoot, d.config.User, d.config.Group)
		elapsed := time.Since(start)

		if err != nil {
			d.recorder.RecordFailure()
			d.metrics.SpawnFailed(classifyFailure(err))
			d.logger.Warn("spawn_request_failed",
				"request", i+1,
				"error", err,
			)
			continue
		}

		d.recorder.RecordSuccess(elapsed)
		d.metrics.SpawnSucceeded(elapsed)

		snapshot := d.recorder.Snapshot()
		d.metrics.SetLatencyPercentiles(snapshot.P50, snapshot.P95, snapshot.P99)

		d.logger.Debug("spawn_request_done",
			"request", i+1,
			"worker_pid", handle.PID,
			"elapsed", elapsed.String(),
		)

		// The driver only measures spawning; the worker's socket is
		// released right away.
		handle.Close()
	}

	d.logger.Info("run_complete",
		"requests", d.config.Count,
		"failures", d.metrics.TotalFailures(),
	)
	return nil
}

// classifyFailure maps a spawn error to a metrics failure reason.
func classifyFailure(err error) string {
	var restartErr *spawn.RestartError
	if errors.As(err, &restartErr) {
		return metrics.ReasonRestart
	}
	if errors.Is(err, spawn.ErrHelperExited) {
		return metrics.ReasonHelperExited
	}
	return metrics.ReasonTransport
}

// Callback handlers

func (d *Driver) onStateChange(oldState, newState spawn.State) {
	d.metrics.SetHelperState(int(newState))
	d.logger.Debug("helper_state_changed",
		"old", oldState.String(),
		"new", newState.String(),
	)
}

func (d *Driver) onHelperStart(pid int) {
	d.metrics.HelperStarted(pid)
}

func (d *Driver) onHelperExit(pid int) {
	d.metrics.HelperExited(pid)
}

// StatsSource implementation for the dashboard.

// SpawnStats returns the current spawn statistics snapshot.
func (d *Driver) SpawnStats() stats.Snapshot {
	return d.recorder.Snapshot()
}

// HelperState returns the current helper state.
func (d *Driver) HelperState() spawn.State {
	if d.manager == nil {
		return spawn.StateNoHelper
	}
	return d.manager.State()
}

// HelperPID returns the current helper process id.
func (d *Driver) HelperPID() int {
	if d.manager == nil {
		return 0
	}
	return d.manager.HelperPID()
}

// HelperRestarts returns the number of helper restarts so far.
func (d *Driver) HelperRestarts() int64 {
	return d.metrics.HelperRestarts()
}

// printExitSummary prints a summary of the run.
func (d *Driver) printExitSummary() {
	summary := d.metrics.GenerateSummary()
	snapshot := d.recorder.Snapshot()

	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════════")
	fmt.Println("                      go-app-spawn Exit Summary")
	fmt.Println("═══════════════════════════════════════════════════════════════════")
	fmt.Printf("Run Duration:           %s\n", formatDuration(summary.Duration))
	fmt.Printf("Spawn Requests:         %d\n", summary.TotalSpawns)
	fmt.Printf("Failures:               %d\n", summary.TotalFailures)
	fmt.Println()

	if snapshot.Succeeded > 0 {
		fmt.Println("Spawn Latency:")
		fmt.Printf("  P50 (median):         %s\n", snapshot.P50)
		fmt.Printf("  P95:                  %s\n", snapshot.P95)
		fmt.Printf("  P99:                  %s\n", snapshot.P99)
		fmt.Printf("  Min / Max:            %s / %s\n", snapshot.Min, snapshot.Max)
		fmt.Println()
	}

	fmt.Println("Helper Lifecycle:")
	fmt.Printf("  Starts:               %d\n", summary.HelperStarts)
	fmt.Printf("  Restarts:             %d\n", summary.HelperRestarts)
	fmt.Println()

	if len(summary.FailureCounts) > 0 {
		fmt.Println("Failures By Reason:")
		for reason, count := range summary.FailureCounts {
			fmt.Printf("  %-20s  %d\n", reason, count)
		}
		fmt.Println()
	}

	d.printHelperLogErrors()

	fmt.Printf("Metrics endpoint was: http://%s/metrics\n", d.config.MetricsAddr)
	fmt.Println("═══════════════════════════════════════════════════════════════════")
}

// printHelperLogErrors scans the helper log for known failure patterns.
func (d *Driver) printHelperLogErrors() {
	if d.config.LogFile == "" {
		return
	}
	f, err := os.Open(d.config.LogFile)
	if err != nil {
		return
	}
	defer f.Close()

	handler := logging.NewHelperLogHandler(
		logging.NewLoggerWithWriter(os.Stderr, "text", "error"), false)
	handler.HandleReader(f)

	counts := handler.CountErrors()
	if len(counts) == 0 {
		return
	}

	fmt.Println("Helper Log Errors:")
	for pattern, count := range counts {
		fmt.Printf("  %-24s  %d\n", pattern, count)
	}
	fmt.Println()
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// Metrics returns the metrics collector for external access.
func (d *Driver) Metrics() *metrics.Collector {
	return d.metrics
}

// Recorder returns the stats recorder for external access.
func (d *Driver) Recorder() *stats.Recorder {
	return d.recorder
}
