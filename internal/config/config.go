// Package config provides configuration management for go-app-spawn.
package config

import "time"

// Config holds all configuration options for the spawn-manager driver.
type Config struct {
	// Helper process
	Helper      string `json:"helper"`
	Interpreter string `json:"interpreter"`
	LogFile     string `json:"log_file"`
	Environment string `json:"environment"`
	EnvVar      string `json:"env_var"`

	// Spawn requests
	AppRoot  string        `json:"app_root"`
	User     string        `json:"user"`
	Group    string        `json:"group"`
	Count    int           `json:"count"`
	Interval time.Duration `json:"interval"` // 0 = back-to-back

	// Observability
	MetricsAddr string `json:"metrics_addr"`
	Verbose     bool   `json:"verbose"`
	LogFormat   string `json:"log_format"` // json, text
	TUIEnabled  bool   `json:"tui"`

	// Diagnostic modes
	Check         bool `json:"check"`
	SkipPreflight bool `json:"skip_preflight"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Helper
		Interpreter: "ruby",
		EnvVar:      "RAILS_ENV",

		// Requests
		AppRoot: ".",
		Count:   1,

		// Observability
		MetricsAddr: "0.0.0.0:17091",
		LogFormat:   "json",
	}
}

// ApplyCheckMode modifies config for --check mode: one spawn request,
// verbose logging, no dashboard.
func ApplyCheckMode(cfg *Config) {
	cfg.Count = 1
	cfg.Interval = 0
	cfg.Verbose = true
	cfg.TUIEnabled = false
}
