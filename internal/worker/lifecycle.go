package worker

import (
	"bytes"
	"errors"
	"fmt"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-exec-worker/internal/kvmsg"
	"github.com/randomizedcoder/go-exec-worker/internal/metrics"
)

const (
	// staleRetryDelay spaces out reap attempts for a child that keeps
	// ignoring SIGKILL.
	staleRetryDelay = 5 * time.Second

	// staleFirstRetry is the first reap retry after a kill that did not
	// land; the timeout response has already been sent by then.
	staleFirstRetry = 1 * time.Second
)

// gatherOutput reads everything currently available on one of the
// job's output descriptors into its buffer. On EOF or a hard read
// error the descriptor is closed and, unless this is the final drain
// before the response, completion is probed with a non-blocking wait.
func (w *Worker) gatherOutput(j *Job, io *ioBuf, final bool) {
	for {
		n, err := unix.Read(io.fd, w.scratch[:])
		if err != nil {
			if err == unix.EINTR {
				// signal caught before we read anything
				continue
			}
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			w.wlog("job %d (pid=%d): Failed to read(): %v", j.ID, j.PID, err)
			n = 0
		}
		if n > 0 {
			// Keep reading: an input event means all currently
			// available data, which can exceed the scratch buffer.
			io.buf = append(io.buf, w.scratch[:n]...)
			continue
		}

		w.iobs.Close(io.fd)
		io.fd = -1
		if !final {
			w.checkCompletion(j, unix.WNOHANG)
		}
		return
	}
}

// checkCompletion waits for the job's child with the given flags.
// Returns 0 when the job was finalized and destroyed (the child was
// reaped, or no longer exists), -1 when the child is still running,
// and a negative errno on any other wait failure.
func (w *Worker) checkCompletion(j *Job, flags int) int {
	if j == nil || j.PID == 0 {
		return 0
	}

	var ws unix.WaitStatus
	var ru unix.Rusage
	for {
		// EINTR must not interrupt us; it may well be the SIGCHLD of
		// this very child.
		pid, err := unix.Wait4(j.PID, &ws, flags, &ru)
		if err == unix.EINTR {
			continue
		}
		if pid == j.PID || err == unix.ECHILD {
			j.WaitStatus = ws
			j.Rusage = ru
			w.finishJob(j, 0)
			w.destroyJob(j)
			return 0
		}
		if pid == 0 && err == nil {
			return -1
		}
		if errno, ok := err.(unix.Errno); ok {
			return -int(errno)
		}
		return -1
	}
}

// killJob ends a job whose deadline fired. reason is ETIME for a
// first-time timeout and ESTALE for a retry on a child that already
// survived one SIGKILL.
//
// A job counts as reaped once the direct child is waited on (init
// inherits any grandchildren), and also when kill reports ESRCH or the
// wait reports ECHILD. A child stuck in uninterruptible sleep cannot
// be reaped now; the response goes out immediately and the reap is
// rescheduled.
func (w *Worker) killJob(j *Job, reason unix.Errno) {
	pid := j.PID

	// First attempt: the child may have exited just in time.
	if reason == unix.ETIME && w.checkCompletion(j, unix.WNOHANG) == 0 {
		w.timeouts++
		w.wlog("job %d with pid %d reaped at timeout. timeouts=%d; started=%d",
			j.ID, pid, w.timeouts, w.started)
		return
	}

	reaped := false
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		if err == unix.ESRCH {
			reaped = true
		} else {
			w.wlog("kill(-%d, SIGKILL) failed: %v", pid, err)
		}
	}

	// At least one wait is required even after ESRCH: a zombie still
	// needs reaping.
	var ws unix.WaitStatus
	waited := 0
	for {
		wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		if wpid == pid || err == unix.ECHILD {
			reaped = true
			waited = wpid
			break
		}
		waited = wpid
		break
	}

	if waited == 0 && !reaped {
		// Signal delivered but the process has not gone away, most
		// likely uninterruptible sleep. Reschedule a later attempt.
		var deadline time.Time
		if reason == unix.ESTALE {
			deadline = time.Now().Add(staleRetryDelay)
			w.wlog("Failed to reap child with pid %d. Next attempt @ %s",
				pid, formatTimestamp(deadline))
		} else {
			deadline = time.Now().Add(staleFirstRetry)
			j.State = StateStale
			w.stale++
			metrics.SetStaleJobs(w.stale)
			w.finishJob(j, int(reason))
		}
		w.sq.Remove(j.Event)
		j.Event = w.sq.Add(deadline, j)
		return
	}

	if j.State != StateStale {
		w.finishJob(j, int(reason))
	} else {
		w.wlog("job %d (pid=%d): Dormant child reaped", j.ID, pid)
	}
	w.destroyJob(j)
}

// reapJobs drains every currently reapable child. PIDs the registry
// does not know were grandchildren the worker never owned; they are
// skipped.
func (w *Worker) reapJobs() {
	for w.reapable > 0 {
		var ws unix.WaitStatus
		var ru unix.Rusage
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, &ru)
		switch {
		case pid > 0:
			j := w.jobs.lookup(pid)
			if j == nil {
				w.log.Debug("reaped_unknown_child", "pid", pid)
				continue
			}
			j.WaitStatus = ws
			j.Rusage = ru
			if j.State != StateStale {
				w.finishJob(j, 0)
			}
			w.destroyJob(j)
		case err == unix.EINTR:
			continue
		default:
			// No children ready (pid == 0) or none at all (ECHILD).
			w.reapable = 0
		}
	}
}

// finishJob composes and sends the response for a job: the request
// echo minus env pairs, timing, and either resource usage (reason 0)
// or the error code. A job is finalized exactly once; stale jobs were
// finalized when the timeout fired and only get destroyed at reap.
func (w *Worker) finishJob(j *Job, reason int) {
	if j.OutStd.fd != -1 {
		w.gatherOutput(j, &j.OutStd, true)
		if j.OutStd.fd != -1 {
			w.iobs.Close(j.OutStd.fd)
			j.OutStd.fd = -1
		}
	}
	if j.OutErr.fd != -1 {
		w.gatherOutput(j, &j.OutErr, true)
		if j.OutErr.fd != -1 {
			w.iobs.Close(j.OutErr.fd)
			j.OutErr.fd = -1
		}
	}

	// Network-supplied data must not carry embedded nul bytes.
	stripNulBytes(&j.OutStd)
	stripNulBytes(&j.OutErr)

	j.Stop = time.Now()

	if w.running != uint64(w.sq.Size()) {
		w.wlog("running_jobs(%d) != squeue_size(sq) (%d)", w.running, w.sq.Size())
		w.wlog("started: %d; running: %d; finished: %d",
			w.started, w.running, w.started-w.running)
	}

	runtime := j.Stop.Sub(j.Start).Seconds()

	resp := make(kvmsg.KVVec, 0, len(j.Request)+12)
	for _, kv := range j.Request {
		// environment entries are never echoed back
		if string(kv.Key) == "env" {
			continue
		}
		resp = append(resp, kv)
	}
	resp.Addf("wait_status", "%d", int32(j.WaitStatus))
	resp.Add("start", formatTimestamp(j.Start))
	resp.Add("stop", formatTimestamp(j.Stop))
	resp.Addf("runtime", "%f", runtime)
	if reason == 0 {
		// The child exited on its own; the master interprets the
		// status word.
		resp.Add("exited_ok", "1")
		resp.Add("ru_utime", formatTimeval(j.Rusage.Utime))
		resp.Add("ru_stime", formatTimeval(j.Rusage.Stime))
		resp.Addf("ru_minflt", "%d", j.Rusage.Minflt)
		resp.Addf("ru_majflt", "%d", j.Rusage.Majflt)
		resp.Addf("ru_inblock", "%d", j.Rusage.Inblock)
		resp.Addf("ru_oublock", "%d", j.Rusage.Oublock)
	} else {
		resp.Add("exited_ok", "0")
		resp.Addf("error_code", "%d", reason)
	}
	resp.AddBytes("outerr", j.OutErr.buf)
	resp.AddBytes("outstd", j.OutStd.buf)

	if err := kvmsg.SendKV(w.masterFD, resp); errors.Is(err, kvmsg.ErrBrokenPipe) {
		w.requestExit(1)
	}

	metrics.ResponseSent()
	metrics.ObserveJobRuntime(runtime)
	metrics.AddOutputBytes(len(j.OutStd.buf), len(j.OutErr.buf))
	if reason == int(unix.ETIME) {
		metrics.JobTimedOut()
	}
	if w.opts.Stats != nil {
		w.opts.Stats.Observe(runtime, reason)
	}
}

// destroyJob releases everything the job owns. The scheduler entry
// goes first: a dead handle must never fire against freed state.
func (w *Worker) destroyJob(j *Job) {
	w.sq.Remove(j.Event)
	j.Event = nil
	w.running--
	if j.State == StateStale {
		w.stale--
		metrics.SetStaleJobs(w.stale)
	}
	w.jobs.remove(j.PID)
	j.OutStd.buf = nil
	j.OutErr.buf = nil
	j.Request = nil

	metrics.JobReaped()
	metrics.SetJobsRunning(w.running)
}

// emergencyShutdown kills everything on the way out: SIGTERM to our
// own process group first, then SIGKILL to every scheduled job's
// group, reaping best-effort in between.
func (w *Worker) emergencyShutdown() {
	// The broadcast hits our own group too.
	signal.Ignore(unix.SIGTERM)
	unix.Kill(0, unix.SIGTERM)
	reapStragglers()
	time.Sleep(time.Second)

	for ev := w.sq.Pop(); ev != nil; ev = w.sq.Pop() {
		unix.Kill(-ev.Payload.PID, unix.SIGKILL)
	}
	time.Sleep(time.Second)
	reapStragglers()
}

func reapStragglers() {
	var ws unix.WaitStatus
	for {
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if pid > 0 {
			continue
		}
		if err == unix.EINTR {
			continue
		}
		return
	}
}

func stripNulBytes(io *ioBuf) {
	if i := bytes.IndexByte(io.buf, 0); i >= 0 {
		io.buf = io.buf[:i]
	}
}

// formatTimestamp renders a wall-clock time as <sec>.<usec> with
// six-digit microseconds, the timestamp format of the wire protocol.
func formatTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}

func formatTimeval(tv unix.Timeval) string {
	return fmt.Sprintf("%d.%06d", tv.Sec, tv.Usec)
}
