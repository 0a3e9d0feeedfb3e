package config

import (
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.SocketFD != 3 {
		t.Errorf("SocketFD = %d, want 3", cfg.SocketFD)
	}
	if cfg.DefaultTimeout != 60 {
		t.Errorf("DefaultTimeout = %d, want 60", cfg.DefaultTimeout)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.MetricsAddr != "" {
		t.Errorf("MetricsAddr = %q, want empty", cfg.MetricsAddr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string // substring; empty = valid
	}{
		{
			name:   "defaults are valid",
			mutate: func(cfg *Config) {},
		},
		{
			name:   "connect path instead of fd",
			mutate: func(cfg *Config) { cfg.ConnectPath = "/run/execmaster.sock" },
		},
		{
			name: "connect and custom fd are exclusive",
			mutate: func(cfg *Config) {
				cfg.ConnectPath = "/run/execmaster.sock"
				cfg.SocketFD = 7
			},
			wantErr: "mutually exclusive",
		},
		{
			name:    "stdio descriptor rejected",
			mutate:  func(cfg *Config) { cfg.SocketFD = 1 },
			wantErr: "stdio",
		},
		{
			name:    "zero default timeout rejected",
			mutate:  func(cfg *Config) { cfg.DefaultTimeout = 0 },
			wantErr: "at least 1 second",
		},
		{
			name:   "metrics address accepted",
			mutate: func(cfg *Config) { cfg.MetricsAddr = "127.0.0.1:17092" },
		},
		{
			name:    "bad metrics address rejected",
			mutate:  func(cfg *Config) { cfg.MetricsAddr = "no-port" },
			wantErr: "host:port",
		},
		{
			name:    "unknown log format rejected",
			mutate:  func(cfg *Config) { cfg.LogFormat = "yaml" },
			wantErr: "log_format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultTimeout = 0
	cfg.LogFormat = "yaml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() = nil, want errors")
	}
	for _, want := range []string{"default_timeout", "log_format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}
