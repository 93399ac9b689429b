package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Helper = "/opt/passenger/bin/spawn-server"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string // substring of the error, empty = valid
	}{
		{
			name:   "valid defaults",
			modify: func(cfg *Config) {},
		},
		{
			name:    "missing helper",
			modify:  func(cfg *Config) { cfg.Helper = "" },
			wantErr: "helper",
		},
		{
			name:    "empty interpreter",
			modify:  func(cfg *Config) { cfg.Interpreter = "" },
			wantErr: "interpreter",
		},
		{
			name: "env without env var",
			modify: func(cfg *Config) {
				cfg.Environment = "production"
				cfg.EnvVar = ""
			},
			wantErr: "env_var",
		},
		{
			name:   "env var cleared but env unset",
			modify: func(cfg *Config) { cfg.EnvVar = "" },
		},
		{
			name:    "empty app root",
			modify:  func(cfg *Config) { cfg.AppRoot = "" },
			wantErr: "app_root",
		},
		{
			name:    "zero count",
			modify:  func(cfg *Config) { cfg.Count = 0 },
			wantErr: "count",
		},
		{
			name:    "negative interval",
			modify:  func(cfg *Config) { cfg.Interval = -time.Second },
			wantErr: "interval",
		},
		{
			name:    "bad log format",
			modify:  func(cfg *Config) { cfg.LogFormat = "xml" },
			wantErr: "log_format",
		},
		{
			name:   "text log format",
			modify: func(cfg *Config) { cfg.LogFormat = "text" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error mentioning %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Helper = ""
	cfg.Count = 0
	cfg.LogFormat = "yaml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() = nil, want joined errors")
	}
	for _, field := range []string{"helper", "count", "log_format"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("joined error missing %q: %v", field, err)
		}
	}
}

func TestApplyCheckMode(t *testing.T) {
	cfg := validConfig()
	cfg.Count = 100
	cfg.Interval = time.Second
	cfg.TUIEnabled = true

	ApplyCheckMode(cfg)

	if cfg.Count != 1 {
		t.Errorf("Count = %d, want 1", cfg.Count)
	}
	if cfg.Interval != 0 {
		t.Errorf("Interval = %v, want 0", cfg.Interval)
	}
	if !cfg.Verbose {
		t.Error("Verbose = false, want true")
	}
	if cfg.TUIEnabled {
		t.Error("TUIEnabled = true, want false")
	}
}
