package config

import (
	"flag"
	"fmt"
	"os"
)

// ParseFlags parses command-line flags and returns a Config.
// Returns an error if arguments are invalid.
func ParseFlags() (*Config, error) {
	cfg := DefaultConfig()

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `go-exec-worker - command execution worker for a monitoring master

The worker speaks the key/value frame protocol on a socket its master
provides, runs each requested command as a child process in its own
process group, and streams structured results back.

Usage:
  go-exec-worker [flags]

Master Socket:
`)
		printFlagCategory([]string{"fd", "connect"})

		fmt.Fprintf(os.Stderr, "\nJobs:\n")
		printFlagCategory([]string{"default-timeout"})

		fmt.Fprintf(os.Stderr, "\nObservability:\n")
		printFlagCategory([]string{"metrics-addr", "verbose", "log-format"})

		fmt.Fprintf(os.Stderr, `
Examples:
  # Launched by a master with the socketpair on fd 3 (the default)
  go-exec-worker

  # Attach to a master listening on a unix socket
  go-exec-worker -connect /run/execmaster.sock

  # Export Prometheus metrics while running
  go-exec-worker -metrics-addr 127.0.0.1:17092

`)
	}

	// Master socket
	flag.IntVar(&cfg.SocketFD, "fd", cfg.SocketFD, "Inherited master socket descriptor")
	flag.StringVar(&cfg.ConnectPath, "connect", cfg.ConnectPath, "Unix socket path to connect to instead of -fd")

	// Jobs
	flag.Uint64Var(&cfg.DefaultTimeout, "default-timeout", cfg.DefaultTimeout, "Timeout in seconds for jobs that carry none")

	// Observability
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	flag.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Verbose logging")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)

	flag.Parse()

	if flag.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", flag.Args())
	}

	return cfg, nil
}

// printFlagCategory prints the named flags in definition order.
func printFlagCategory(names []string) {
	for _, name := range names {
		f := flag.Lookup(name)
		if f == nil {
			continue
		}
		fmt.Fprintf(os.Stderr, "  -%-18s %s", f.Name, f.Usage)
		if f.DefValue != "" && f.DefValue != "false" {
			fmt.Fprintf(os.Stderr, " (default %s)", f.DefValue)
		}
		fmt.Fprintln(os.Stderr)
	}
}
