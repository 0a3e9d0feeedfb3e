// Package main provides the go-exec-worker-bench CLI entry point.
//
// The bench plays the master role: it launches a worker on a
// socketpair, submits a stream of job requests at a paced rate, and
// reports outcome counts and runtime percentiles, either live on a
// terminal dashboard or as a final summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-exec-worker/internal/bench"
	"github.com/randomizedcoder/go-exec-worker/internal/logging"
	"github.com/randomizedcoder/go-exec-worker/internal/preflight"
	"github.com/randomizedcoder/go-exec-worker/internal/stats"
	"github.com/randomizedcoder/go-exec-worker/internal/tui"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("go-exec-worker-bench %s\n", version)
			return 0
		}
	}

	cfg := bench.Config{}
	var (
		tuiEnabled    bool
		logFormat     string
		verbose       bool
		skipPreflight bool
	)

	flag.StringVar(&cfg.WorkerPath, "worker-path", "go-exec-worker", "Worker binary to launch")
	flag.IntVar(&cfg.Jobs, "jobs", 100, "Number of jobs to submit")
	flag.IntVar(&cfg.Rate, "rate", 50, "Jobs to submit per second (0 = unpaced)")
	flag.DurationVar(&cfg.Jitter, "jitter", 20*time.Millisecond, "Max per-job submission jitter")
	flag.StringVar(&cfg.Command, "command", "/bin/echo bench", "Command each job runs")
	flag.Uint64Var(&cfg.Timeout, "timeout", 10, "Per-job timeout in seconds (0 = worker default)")
	flag.DurationVar(&cfg.Duration, "duration", 2*time.Minute, "Overall run deadline (0 = until done)")
	flag.BoolVar(&tuiEnabled, "tui", true, "Live terminal dashboard (use -tui=false for plain output)")
	flag.StringVar(&logFormat, "log-format", "text", `Log format: "json" or "text"`)
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
	flag.BoolVar(&skipPreflight, "skip-preflight", false, "Skip preflight checks")
	flag.Parse()

	if cfg.Jobs < 1 {
		fmt.Fprintln(os.Stderr, "Configuration error: -jobs must be at least 1")
		return 1
	}

	// The dashboard owns the terminal; silence logs while it runs.
	logger := logging.NewLogger(logFormat, "info", verbose)
	if tuiEnabled {
		logger = logging.NewLoggerWithWriter(io.Discard, logFormat, "info")
	}
	logging.SetDefault(logger)

	if !skipPreflight {
		result := preflight.RunAll(cfg.Jobs, cfg.WorkerPath)
		for _, c := range result.Checks {
			fmt.Fprintln(os.Stderr, c)
		}
		if !result.Passed {
			fmt.Fprintln(os.Stderr, "Preflight failed (use -skip-preflight to override)")
			return 1
		}
	}

	agg := stats.New()
	master := bench.New(cfg, logger, agg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := master.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start worker: %v\n", err)
		return 1
	}

	runErr := make(chan error, 1)
	go func() { runErr <- master.Run(ctx) }()

	if tuiEnabled {
		model := tui.New(tui.Config{
			TargetJobs: cfg.Jobs,
			Command:    cfg.Command,
			WorkerPath: cfg.WorkerPath,
			Progress:   master,
			Stats:      agg,
			Done:       master.Done(),
		})
		if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Dashboard error: %v\n", err)
		}
		cancel()
	}

	if err := <-runErr; err != nil {
		logger.Warn("worker_wait", "err", err)
	}

	p := master.Progress()
	fmt.Println(tui.RenderSummary(p, agg.Snapshot()))

	if p.Responses < uint64(cfg.Jobs) {
		fmt.Fprintf(os.Stderr, "missing %d responses\n", uint64(cfg.Jobs)-p.Responses)
		return 1
	}
	return 0
}
