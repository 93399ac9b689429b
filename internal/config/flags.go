package config

import (
	"flag"
	"fmt"
	"os"
)

// ParseFlags parses command-line flags and returns a Config.
func ParseFlags() (*Config, error) {
	cfg := DefaultConfig()

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `go-app-spawn - application spawn manager driver

Usage:
  go-app-spawn -helper <path> [flags]

Helper Process:
`)
		printFlagCategory([]string{"helper", "interpreter", "log-file", "env", "env-var"})

		fmt.Fprintf(os.Stderr, "\nSpawn Requests:\n")
		printFlagCategory([]string{"app-root", "user", "group", "count", "interval"})

		fmt.Fprintf(os.Stderr, "\nObservability:\n")
		printFlagCategory([]string{"metrics", "v", "log-format", "tui"})

		fmt.Fprintf(os.Stderr, "\nDiagnostics:\n")
		printFlagCategory([]string{"check", "skip-preflight"})

		fmt.Fprintf(os.Stderr, `
Examples:
  # Smoke test: one worker from the default helper
  go-app-spawn -helper /opt/passenger/bin/spawn-server -check

  # Benchmark 100 spawns with a live dashboard
  go-app-spawn -helper ./spawn-server -count 100 -tui

`)
	}

	// Helper process
	flag.StringVar(&cfg.Helper, "helper", cfg.Helper, "Path of the spawn helper program (required)")
	flag.StringVar(&cfg.Interpreter, "interpreter", cfg.Interpreter, "Interpreter command used to run the helper")
	flag.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Append helper stdout/stderr to this file (empty = inherit stderr)")
	flag.StringVar(&cfg.Environment, "env", cfg.Environment, "Runtime environment value exported to the helper (empty = inherit)")
	flag.StringVar(&cfg.EnvVar, "env-var", cfg.EnvVar, "Environment variable name carrying -env")

	// Spawn requests
	flag.StringVar(&cfg.AppRoot, "app-root", cfg.AppRoot, "Application root to spawn workers for")
	flag.StringVar(&cfg.User, "user", cfg.User, "User to run workers as (empty = helper default)")
	flag.StringVar(&cfg.Group, "group", cfg.Group, "Group to run workers as (empty = helper default)")
	flag.IntVar(&cfg.Count, "count", cfg.Count, "Number of spawn requests to issue")
	flag.DurationVar(&cfg.Interval, "interval", cfg.Interval, "Delay between spawn requests (0 = back-to-back)")

	// Observability
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address")
	flag.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	flag.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard")

	// Diagnostics
	flag.BoolVar(&cfg.Check, "check", cfg.Check, "Run preflight checks plus a single spawn, then exit")
	flag.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")

	flag.Parse()

	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(names []string) {
	flag.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(os.Stderr, "  -%s\n    \t%s", f.Name, f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
					fmt.Fprintf(os.Stderr, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(os.Stderr)
				return
			}
		}
	})
}
