package bench

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-exec-worker/internal/kvmsg"
	"github.com/randomizedcoder/go-exec-worker/internal/stats"
)

// Config holds a bench run's parameters.
type Config struct {
	// WorkerPath is the worker binary to launch.
	WorkerPath string

	// Jobs is the total number of requests to submit.
	Jobs int

	// Rate paces submission in jobs/second; 0 drops the base interval,
	// leaving only the per-job jitter delay.
	Rate int

	// Jitter is the maximum per-job submission jitter.
	Jitter time.Duration

	// Command is the command line each job runs.
	Command string

	// Timeout is the per-job timeout in seconds; 0 lets the worker
	// apply its default.
	Timeout uint64

	// Duration bounds the whole run; 0 waits until every response is in.
	Duration time.Duration
}

// Progress is a point-in-time view of a run.
type Progress struct {
	Submitted uint64
	Responses uint64
	Succeeded uint64
	TimedOut  uint64
	Failed    uint64 // exited_ok=0 with a non-timeout code
	ErrorMsgs uint64 // error_msg frames (spawn/parse failures)
	LogLines  uint64
	WorkerPID int
}

// Outstanding returns the number of submitted jobs without a response.
func (p Progress) Outstanding() uint64 {
	return p.Submitted - p.Responses
}

// Master drives one worker process: it owns the master end of the
// socketpair, submits job frames, and collects response, log and error
// frames.
type Master struct {
	cfg    Config
	logger *slog.Logger
	agg    *stats.Aggregator

	conn *os.File
	cmd  *exec.Cmd

	mu       sync.Mutex
	progress Progress

	done     chan struct{}
	doneOnce sync.Once
}

// New creates a Master. The aggregator receives one observation per
// job response and may be shared with a dashboard.
func New(cfg Config, logger *slog.Logger, agg *stats.Aggregator) *Master {
	return &Master{
		cfg:    cfg,
		logger: logger,
		agg:    agg,
		done:   make(chan struct{}),
	}
}

// Start creates the socketpair and launches the worker with its end on
// descriptor 3, the worker's default.
func (m *Master) Start(ctx context.Context) error {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("socketpair: %w", err)
	}
	m.conn = os.NewFile(uintptr(fds[0]), "master-socket")
	workerEnd := os.NewFile(uintptr(fds[1]), "worker-socket")

	cmd := exec.CommandContext(ctx, m.cfg.WorkerPath)
	cmd.ExtraFiles = []*os.File{workerEnd} // becomes fd 3
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		workerEnd.Close()
		m.conn.Close()
		return fmt.Errorf("start worker: %w", err)
	}
	workerEnd.Close()
	m.cmd = cmd

	m.mu.Lock()
	m.progress.WorkerPID = cmd.Process.Pid
	m.mu.Unlock()

	m.logger.Info("worker_started", "pid", cmd.Process.Pid, "path", m.cfg.WorkerPath)
	return nil
}

// Run submits every job at the configured pace, waits for all
// responses (bounded by cfg.Duration when set), closes the socket so
// the worker shuts down, and reaps the worker process.
func (m *Master) Run(ctx context.Context) error {
	if m.cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Duration)
		defer cancel()
	}

	go m.collect()

	sub := NewSubmitter(m.cfg.Rate, m.cfg.Jitter)
	for i := 1; i <= m.cfg.Jobs; i++ {
		if err := sub.Wait(ctx, i); err != nil {
			break
		}
		if err := m.submit(uint64(i)); err != nil {
			m.logger.Error("submit_failed", "job_id", i, "err", err)
			break
		}
	}

	select {
	case <-m.done:
	case <-ctx.Done():
		m.logger.Warn("run_deadline_reached", "outstanding", m.Progress().Outstanding())
	}

	// Closing our end tells the worker to shut down; it kills any
	// children still running and exits 0.
	m.conn.Close()
	err := m.cmd.Wait()
	m.logger.Info("worker_exited", "err", err)
	return err
}

func (m *Master) submit(id uint64) error {
	var v kvmsg.KVVec
	v.Add("command", m.cfg.Command)
	v.Addf("job_id", "%d", id)
	if m.cfg.Timeout > 0 {
		v.Addf("timeout", "%d", m.cfg.Timeout)
	}

	if _, err := m.conn.Write(v.Encode()); err != nil {
		return err
	}

	m.mu.Lock()
	m.progress.Submitted++
	m.mu.Unlock()
	return nil
}

// collect decodes everything the worker sends until the socket closes.
// A closed socket means no further responses can arrive, so the run is
// marked done either way.
func (m *Master) collect() {
	defer m.doneOnce.Do(func() { close(m.done) })

	dec := kvmsg.NewDecoder(0)
	buf := make([]byte, 64*1024)

	for {
		n, err := m.conn.Read(buf)
		if n > 0 {
			if ferr := dec.Feed(buf[:n]); ferr != nil {
				m.logger.Error("decode_overflow", "err", ferr)
				return
			}
			for {
				vec, ok := dec.Next()
				if !ok {
					break
				}
				m.handleFrame(vec)
			}
		}
		if err != nil {
			return
		}
	}
}

// handleFrame sorts one inbound frame: a log line, an error frame, or
// a job response.
func (m *Master) handleFrame(v kvmsg.KVVec) {
	if line, ok := v.Get("log"); ok {
		m.mu.Lock()
		m.progress.LogLines++
		m.mu.Unlock()
		m.logger.Info("worker_log", "line", string(line))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if msg, ok := v.Get("error_msg"); ok {
		m.progress.ErrorMsgs++
		m.progress.Responses++
		m.logger.Warn("job_error",
			"job_id", v.GetString("job_id"),
			"error_msg", string(msg),
		)
		m.maybeDone()
		return
	}

	m.progress.Responses++

	reason := 0
	if v.GetString("exited_ok") != "1" {
		reason, _ = strconv.Atoi(v.GetString("error_code"))
	}
	runtime, _ := strconv.ParseFloat(v.GetString("runtime"), 64)

	switch {
	case reason == 0:
		m.progress.Succeeded++
	case reason == int(unix.ETIME):
		m.progress.TimedOut++
	default:
		m.progress.Failed++
	}

	if m.agg != nil {
		m.agg.Observe(runtime, reason)
	}
	m.maybeDone()
}

// maybeDone closes the completion channel once every submitted job is
// accounted for and submission has finished. Caller holds mu.
func (m *Master) maybeDone() {
	if m.progress.Responses >= uint64(m.cfg.Jobs) {
		m.doneOnce.Do(func() { close(m.done) })
	}
}

// Progress returns a snapshot of the run counters.
func (m *Master) Progress() Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

// Done is closed once every expected response has arrived, or when the
// worker's socket closes.
func (m *Master) Done() <-chan struct{} {
	return m.done
}
