// Package main provides the go-exec-worker CLI entry point.
//
// go-exec-worker is a monitoring worker subprocess: it accepts command
// execution requests from a master over a socketpair, runs each as a
// child process in its own process group, and reports structured
// results back on the same socket.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-exec-worker/internal/config"
	"github.com/randomizedcoder/go-exec-worker/internal/logging"
	"github.com/randomizedcoder/go-exec-worker/internal/metrics"
	"github.com/randomizedcoder/go-exec-worker/internal/stats"
	"github.com/randomizedcoder/go-exec-worker/internal/worker"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-exec-worker
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("go-exec-worker %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	logger := logging.NewLogger(cfg.LogFormat, "info", cfg.Verbose)
	logging.SetDefault(logger)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	masterFD := cfg.SocketFD
	if cfg.ConnectPath != "" {
		masterFD, err = dialUnix(cfg.ConnectPath)
		if err != nil {
			logger.Error("master_connect_failed", "path", cfg.ConnectPath, "err", err)
			return 1
		}
	}

	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, logger)
		srv.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
	}

	agg := stats.New()
	w, err := worker.New(masterFD, worker.Options{
		DefaultTimeout: cfg.DefaultTimeout,
		Logger:         logger,
		Stats:          agg,
	})
	if err != nil {
		logger.Error("worker_init_failed", "err", err)
		return 1
	}

	logger.Info("worker_entering_loop",
		"version", version,
		"fd", masterFD,
		"default_timeout_s", cfg.DefaultTimeout,
	)

	code := w.Run()

	s := agg.Snapshot()
	logger.Info("worker_exiting",
		"code", code,
		"jobs_completed", s.Completed,
		"jobs_timed_out", s.TimedOut,
		"elapsed", s.Elapsed.Round(time.Millisecond).String(),
	)
	return code
}

// dialUnix connects to the master's listening socket and returns the
// raw descriptor the event loop will own.
func dialUnix(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("connect %s: %w", path, err)
	}
	return fd, nil
}
