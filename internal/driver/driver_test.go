package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-app-spawn/internal/channel"
	"github.com/randomizedcoder/go-app-spawn/internal/config"
	"github.com/randomizedcoder/go-app-spawn/internal/metrics"
	"github.com/randomizedcoder/go-app-spawn/internal/spawn"
)

// The fake helper is this test binary re-executed with the helper role
// selected through the environment, same trick as the spawn package tests.
const helperModeEnv = "DRIVER_TEST_HELPER_MODE"

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperModeEnv); mode != "" {
		helperMain(mode)
		return
	}
	os.Exit(m.Run())
}

func helperMain(mode string) {
	ch, err := channel.New(os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, "helper: no channel on stdin:", err)
		os.Exit(3)
	}

	nextPID := 2000
	for {
		_, ok, err := ch.Read()
		if err != nil || !ok {
			os.Exit(0)
		}

		switch mode {
		case "exit":
			os.Exit(1)
		default: // "ok"
			nextPID++
			l, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				os.Exit(5)
			}
			f, err := l.(*net.TCPListener).File()
			if err != nil {
				os.Exit(5)
			}
			if err := ch.Write(strconv.Itoa(nextPID)); err != nil {
				os.Exit(5)
			}
			if err := ch.WriteFileDescriptor(f); err != nil {
				os.Exit(5)
			}
			f.Close()
			l.Close()
		}
	}
}

func newTestDriver(t *testing.T, mode string, count int) *Driver {
	t.Helper()
	t.Setenv(helperModeEnv, mode)

	cfg := config.DefaultConfig()
	cfg.Helper = "fake-helper"
	cfg.Interpreter = os.Args[0]
	cfg.AppRoot = t.TempDir()
	cfg.Count = count
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.SkipPreflight = true

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWithRegistry(cfg, logger, "test", prometheus.NewRegistry())
}

func TestRun_AllSpawnsSucceed(t *testing.T) {
	d := newTestDriver(t, "ok", 3)

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	snapshot := d.Recorder().Snapshot()
	if snapshot.Succeeded != 3 {
		t.Errorf("Succeeded = %d, want 3", snapshot.Succeeded)
	}
	if snapshot.Failed != 0 {
		t.Errorf("Failed = %d, want 0", snapshot.Failed)
	}
	if got := d.Metrics().TotalSpawns(); got != 3 {
		t.Errorf("Metrics().TotalSpawns() = %d, want 3", got)
	}
	if snapshot.P50 <= 0 || snapshot.P50 > snapshot.Max {
		t.Errorf("P50 = %v, want within (0, %v]", snapshot.P50, snapshot.Max)
	}
}

func TestRun_HelperExitingIsRecorded(t *testing.T) {
	d := newTestDriver(t, "exit", 2)

	// Each request finds a fresh helper that dies mid-exchange; the run
	// still completes and reports the failures.
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	snapshot := d.Recorder().Snapshot()
	if snapshot.Failed != 2 {
		t.Errorf("Failed = %d, want 2", snapshot.Failed)
	}
	if got := d.Metrics().TotalFailures(); got != 2 {
		t.Errorf("Metrics().TotalFailures() = %d, want 2", got)
	}
}

func TestRun_CancelledContextStopsEarly(t *testing.T) {
	d := newTestDriver(t, "ok", 1000)
	d.config.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	snapshot := d.Recorder().Snapshot()
	if snapshot.Total() == 0 {
		t.Error("no spawns before cancellation")
	}
	if snapshot.Total() >= 1000 {
		t.Errorf("Total() = %d, cancellation did not stop the loop", snapshot.Total())
	}
}

func TestRun_PreflightFailure(t *testing.T) {
	d := newTestDriver(t, "ok", 1)
	d.config.SkipPreflight = false
	d.config.Helper = "/no/such/spawn-server"

	err := d.Run(context.Background())
	if err == nil {
		t.Fatal("Run() = nil, want preflight failure")
	}
}

func TestClassifyFailure(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "restart error",
			err:  &spawn.RestartError{Cause: spawn.ErrSetup},
			want: metrics.ReasonRestart,
		},
		{
			name: "helper exited",
			err:  fmt.Errorf("%w: %w", spawn.ErrTransport, spawn.ErrHelperExited),
			want: metrics.ReasonHelperExited,
		},
		{
			name: "plain transport",
			err:  fmt.Errorf("%w: short read", spawn.ErrTransport),
			want: metrics.ReasonTransport,
		},
		{
			name: "unclassified",
			err:  errors.New("boom"),
			want: metrics.ReasonTransport,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyFailure(tc.err); got != tc.want {
				t.Errorf("classifyFailure(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}
