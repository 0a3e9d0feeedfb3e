// Package config provides configuration management for go-exec-worker.
package config

// Config holds all configuration options for the worker process.
type Config struct {
	// Master socket. Exactly one of SocketFD / ConnectPath selects how
	// the worker reaches its master: an inherited descriptor (the
	// normal socketpair launch) or a unix socket to connect to.
	SocketFD    int    `json:"socket_fd"`
	ConnectPath string `json:"connect_path"`

	// Jobs
	DefaultTimeout uint64 `json:"default_timeout"` // seconds, for requests without one

	// Observability
	MetricsAddr string `json:"metrics_addr"` // empty = no exporter
	Verbose     bool   `json:"verbose"`
	LogFormat   string `json:"log_format"` // json, text
}

// DefaultConfig returns a Config with sensible defaults. SocketFD 3 is
// the first descriptor after stdio, where a forking master
// conventionally plants its end of the socketpair.
func DefaultConfig() *Config {
	return &Config{
		SocketFD:       3,
		DefaultTimeout: 60,
		MetricsAddr:    "",
		Verbose:        false,
		LogFormat:      "json",
	}
}
