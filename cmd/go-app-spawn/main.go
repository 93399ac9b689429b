// Package main provides the go-app-spawn CLI entry point.
//
// go-app-spawn drives a long-lived spawn helper process that preloads an
// application and forks workers on request. It is used to exercise and
// benchmark the helper: it issues spawn requests, verifies the returned
// worker sockets, and reports latency and failure statistics.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/randomizedcoder/go-app-spawn/internal/config"
	"github.com/randomizedcoder/go-app-spawn/internal/driver"
	"github.com/randomizedcoder/go-app-spawn/internal/logging"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-app-spawn
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("go-app-spawn %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	// When the TUI is enabled, suppress logs to avoid interfering with
	// dashboard rendering.
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		logger = logging.NewLogger(cfg.LogFormat, "info", cfg.Verbose)
	}
	logging.SetDefault(logger)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	if cfg.Check {
		config.ApplyCheckMode(cfg)
		logger.Info("check_mode_enabled")
	}

	logger.Info("starting",
		"version", version,
		"helper", cfg.Helper,
		"interpreter", cfg.Interpreter,
		"app_root", cfg.AppRoot,
		"count", cfg.Count,
		"metrics_addr", cfg.MetricsAddr,
	)

	if !cfg.TUIEnabled {
		printBanner(cfg)
	}

	d := driver.New(cfg, logger, version)
	if err := d.Run(context.Background()); err != nil {
		logger.Error("run_failed", "error", err)
		return 1
	}

	if cfg.Check && d.Metrics().TotalFailures() > 0 {
		return 1
	}
	return 0
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                          go-app-spawn                             ║")
	fmt.Println("║        Application Spawn Helper Driver and Benchmark              ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Helper:      %s %s\n", cfg.Interpreter, cfg.Helper)
	fmt.Printf("  App root:    %s\n", cfg.AppRoot)
	fmt.Printf("  Requests:    %d", cfg.Count)
	if cfg.Interval > 0 {
		fmt.Printf(" (every %s)", cfg.Interval)
	}
	fmt.Println()
	if cfg.Environment != "" {
		fmt.Printf("  Environment: %s=%s\n", cfg.EnvVar, cfg.Environment)
	}
	if cfg.LogFile != "" {
		fmt.Printf("  Helper log:  %s\n", cfg.LogFile)
	}
	fmt.Printf("  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()
}
