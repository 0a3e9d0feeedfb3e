package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-exec-worker/internal/iobroker"
	"github.com/randomizedcoder/go-exec-worker/internal/kvmsg"
	"github.com/randomizedcoder/go-exec-worker/internal/logging"
	"github.com/randomizedcoder/go-exec-worker/internal/metrics"
	"github.com/randomizedcoder/go-exec-worker/internal/squeue"
	"github.com/randomizedcoder/go-exec-worker/internal/stats"
)

const (
	// DefaultJobTimeout applies when a request carries no timeout, or a
	// timeout of zero.
	DefaultJobTimeout = 60

	// sockBufSize is the send/receive buffer set on the master socket.
	// Whole response frames must fit here; there is no partial-write
	// handling on the response path.
	sockBufSize = 256 * 1024

	// pollSlackMs is added to every computed poll timeout so a job is
	// never killed before its deadline despite rounding.
	pollSlackMs = 5

	// schedulerSizeHint is the initial capacity of the timeout queue.
	schedulerSizeHint = 1024
)

// Options configures a Worker beyond its master socket.
type Options struct {
	// DefaultTimeout in seconds for jobs that do not carry one.
	// Zero selects DefaultJobTimeout.
	DefaultTimeout uint64

	// Logger receives local diagnostics on stderr. Warnings and errors
	// from the same call sites are also mirrored to the master as log=
	// frames. Nil uses slog.Default().
	Logger *slog.Logger

	// Stats, when set, accumulates per-job runtime observations.
	Stats *stats.Aggregator
}

// Dispatch tags: each registered descriptor carries one of these, and
// dispatch switches on the concrete type.
type (
	masterTag struct{}
	wakeTag   struct{}
	stdoutTag struct{ job *Job }
	stderrTag struct{ job *Job }
)

// Worker is the whole process state: master socket, multiplexer,
// timeout scheduler, job registry, read buffer and counters. One
// Worker exists per process; everything runs on the goroutine that
// calls Run.
type Worker struct {
	masterFD int
	opts     Options
	log      *slog.Logger

	iobs *iobroker.Broker
	sq   *squeue.Queue[*Job]
	jobs *registry
	dec  *kvmsg.Decoder

	scratch [4096]byte

	// SIGCHLD bridge: signals are forwarded as single bytes down a
	// non-blocking self-pipe registered with the multiplexer, and the
	// loop drains them into the reapable counter after poll returns.
	wakeR, wakeW int
	sigCh        chan os.Signal

	started  uint64
	running  uint64
	timeouts uint64
	stale    uint64
	reapable int

	exiting  bool
	exitCode int
}

// New prepares a worker on an already-connected master socket. It
// chdirs to the invoking user's home directory (falling back to /),
// makes the process a group leader, installs the SIGCHLD bridge, and
// registers the master socket with the multiplexer.
func New(masterFD int, opts Options) (*Worker, error) {
	if opts.DefaultTimeout == 0 {
		opts.DefaultTimeout = DefaultJobTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	w := &Worker{
		masterFD: masterFD,
		opts:     opts,
		sq:       squeue.New[*Job](schedulerSizeHint),
		jobs:     newRegistry(),
		dec:      kvmsg.NewDecoder(kvmsg.DefaultBufferSize),
	}

	// Tee the logger: records keep going to stderr, and warnings or
	// worse also reach the master as log= frames. Both sinks are fed
	// from the event-loop goroutine only.
	frames := logging.NewFrameHandler(w.sendLogFrame, slog.LevelWarn)
	w.log = slog.New(logging.Tee(log.Handler(), frames))

	if home, err := os.UserHomeDir(); err != nil || os.Chdir(home) != nil {
		if err := os.Chdir("/"); err != nil {
			return nil, fmt.Errorf("chdir /: %w", err)
		}
	}

	// Group leadership lets the shutdown broadcast reach any child that
	// did not move itself into its own group.
	if err := unix.Setpgid(0, 0); err != nil {
		w.log.Debug("setpgid_failed", "err", err)
	}

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("wake pipe: %w", err)
	}
	w.wakeR, w.wakeW = p[0], p[1]
	w.sigCh = make(chan os.Signal, 128)
	signal.Notify(w.sigCh, unix.SIGCHLD)
	go w.forwardSignals()

	unix.CloseOnExec(int(os.Stdout.Fd()))
	unix.CloseOnExec(int(os.Stderr.Fd()))
	setSockOpts(masterFD, sockBufSize, w.log)

	iobs, err := iobroker.New(w.dispatch)
	if err != nil {
		return nil, err
	}
	w.iobs = iobs

	if err := iobs.Register(masterFD, masterTag{}); err != nil {
		return nil, err
	}
	if err := iobs.Register(w.wakeR, wakeTag{}); err != nil {
		return nil, err
	}

	return w, nil
}

// Run executes the event loop until the master disconnects or every
// descriptor is gone, then returns the process exit code.
func (w *Worker) Run() int {
	for w.activeFDs() > 0 && !w.exiting {
		pollTime := -1

		// Walk due deadlines. The slack keeps rounding from firing a
		// job early.
		for w.running > 0 && !w.exiting {
			ev := w.sq.Peek()
			if ev == nil {
				break
			}
			delta := int(time.Until(ev.Deadline()).Milliseconds()) + pollSlackMs
			if delta > 0 {
				pollTime = delta
				break
			}
			j := ev.Payload
			if j.State == StateStale {
				w.killJob(j, unix.ESTALE)
			} else {
				w.killJob(j, unix.ETIME)
			}
		}
		if w.exiting {
			break
		}

		if _, err := w.iobs.Poll(pollTime); err != nil {
			w.log.Error("poll_failed", "err", err)
			w.requestExit(1)
		}

		if w.reapable > 0 {
			w.reapJobs()
		}
	}

	if w.exiting {
		w.emergencyShutdown()
	}
	w.teardown()
	return w.exitCode
}

// activeFDs excludes the wake pipe, which stays registered for the
// life of the process and must not keep the loop alive on its own.
func (w *Worker) activeFDs() int {
	return w.iobs.NumFDs() - 1
}

// Counters returns the worker's started, running and timeout job
// counts.
func (w *Worker) Counters() (started, running, timeouts uint64) {
	return w.started, w.running, w.timeouts
}

func (w *Worker) requestExit(code int) {
	if w.exiting {
		return
	}
	w.exiting = true
	w.exitCode = code
}

func (w *Worker) dispatch(fd int, tag any) {
	switch t := tag.(type) {
	case masterTag:
		w.receiveCommand()
	case wakeTag:
		w.drainWake()
	case stdoutTag:
		w.gatherOutput(t.job, &t.job.OutStd, false)
	case stderrTag:
		w.gatherOutput(t.job, &t.job.OutErr, false)
	}
}

// receiveCommand drains the master socket into the frame decoder and
// spawns a job per complete frame. A zero-length read means the master
// closed the connection; the worker shuts down cleanly.
func (w *Worker) receiveCommand() {
	n, err := w.dec.ReadFrom(w.masterFD)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		w.log.Debug("master_read_failed", "err", err)
		return
	}
	if n == 0 {
		w.iobs.Close(w.masterFD)
		w.requestExit(0)
		return
	}

	for {
		kvv, ok := w.dec.Next()
		if !ok {
			break
		}
		w.spawnJob(kvv)
	}
}

// spawnJob builds a job from a decoded request, schedules its timeout,
// and starts the child. Spawn failures are reported to the master and
// the job is discarded.
func (w *Worker) spawnJob(req kvmsg.KVVec) {
	j := newJob(req, w.opts.DefaultTimeout)
	if j.Cmd == "" {
		w.jobError(j, req, "Failed to parse commandline. Ignoring job %d", j.ID)
		return
	}

	j.Start = time.Now()
	j.Event = w.sq.Add(j.Start.Add(time.Duration(j.Timeout)*time.Second), j)
	w.started++
	w.running++
	metrics.JobStarted()
	metrics.SetJobsRunning(w.running)

	if err := w.startCmd(j); err != nil {
		w.jobError(j, req, "Failed to start child: %v", err)
		w.sq.Remove(j.Event)
		w.running--
		metrics.SpawnFailed()
		metrics.SetJobsRunning(w.running)
		return
	}

	w.log.Debug("job_started", "job_id", j.ID, "pid", j.PID, "timeout_s", j.Timeout)
}

// jobError reports a failed request back to the master: the request
// pairs are echoed, followed by job_id (when known) and error_msg.
func (w *Worker) jobError(j *Job, req kvmsg.KVVec, format string, args ...any) {
	resp := append(kvmsg.KVVec(nil), req...)
	if j != nil {
		resp.Addf("job_id", "%d", j.ID)
	}
	resp.Add("error_msg", fmt.Sprintf(format, args...))
	if err := kvmsg.SendKV(w.masterFD, resp); errors.Is(err, kvmsg.ErrBrokenPipe) {
		w.requestExit(1)
	}
}

// wlog sends a diagnostic line to the master as a log= frame. This is
// the worker's only log path the master can see; lifecycle code calls
// it directly for protocol-visible messages, and the tee'd slog
// handler funnels warnings through it too.
func (w *Worker) wlog(format string, args ...any) {
	w.sendLogFrame(fmt.Sprintf(format, args...))
}

// sendLogFrame is the raw log= frame writer behind wlog and the
// FrameHandler branch of the logger.
func (w *Worker) sendLogFrame(line string) {
	var v kvmsg.KVVec
	v.Add("log", line)
	if err := kvmsg.SendKV(w.masterFD, v); errors.Is(err, kvmsg.ErrBrokenPipe) {
		w.requestExit(1)
	}
}

// forwardSignals turns SIGCHLD deliveries into wake-pipe bytes. The
// write end is non-blocking: a full pipe still wakes the loop, and the
// reap loop drains every exited child regardless of the byte count.
func (w *Worker) forwardSignals() {
	b := []byte{1}
	for range w.sigCh {
		unix.Write(w.wakeW, b)
	}
}

// drainWake empties the wake pipe and credits the reapable counter.
func (w *Worker) drainWake() {
	var buf [256]byte
	for {
		n, err := unix.Read(w.wakeR, buf[:])
		if n > 0 {
			w.reapable += n
			continue
		}
		if err == unix.EINTR {
			continue
		}
		return
	}
}

func (w *Worker) teardown() {
	signal.Stop(w.sigCh)
	close(w.sigCh)
	unix.Close(w.wakeW)
	unix.Close(w.wakeR)
	w.iobs.Destroy()
}

// setSockOpts applies close-on-exec, non-blocking mode and generous
// send/receive buffers to the master socket. Failures are tolerated;
// the descriptor may be a plain pipe under test.
func setSockOpts(fd, bufsize int, log *slog.Logger) {
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		log.Debug("set_nonblock_failed", "fd", fd, "err", err)
	}
	if bufsize == 0 {
		return
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, bufsize); err != nil {
		log.Debug("set_sndbuf_failed", "fd", fd, "err", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bufsize); err != nil {
		log.Debug("set_rcvbuf_failed", "fd", fd, "err", err)
	}
}
