// Package worker implements the command-execution worker: a
// single-goroutine event loop that accepts job requests from a master
// over a socketpair, runs each as an external child process in its own
// process group, multiplexes child output, enforces timeouts, reaps
// exits, and writes structured result frames back to the master.
package worker

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-exec-worker/internal/kvmsg"
	"github.com/randomizedcoder/go-exec-worker/internal/squeue"
)

// State tracks whether a job is still live or has been reported dead
// while its child lingers unreaped.
type State int

const (
	// StateActive is the initial state: the child is running (or about
	// to) and no response has been sent.
	StateActive State = iota

	// StateStale means the job timed out and the response has already
	// been sent, but the child refused SIGKILL (uninterruptible sleep)
	// and is still awaiting reap.
	StateStale
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateStale:
		return "stale"
	default:
		return "unknown"
	}
}

// ioBuf is one captured output stream: the read end of the child's
// pipe plus everything gathered from it so far. FD is -1 once closed.
type ioBuf struct {
	fd  int
	buf []byte
}

// Job is one command execution request and its bookkeeping. The worker
// owns the job; the scheduler and the PID index hold non-owning
// references to it.
type Job struct {
	// ID is echoed back to the master; the worker does not interpret it.
	ID uint64

	// Cmd is the textual command line handed to the spawn adapter.
	Cmd string

	// Timeout is the per-job limit in whole seconds.
	Timeout uint64

	// Request is the full decoded request vector, retained so it can be
	// echoed in the response (minus env pairs).
	Request kvmsg.KVVec

	// PID of the spawned child; zero before spawn.
	PID int

	OutStd ioBuf
	OutErr ioBuf

	// WaitStatus is the raw status word captured at reap.
	WaitStatus unix.WaitStatus

	// Rusage is the child's resource usage snapshot at reap.
	Rusage unix.Rusage

	Start time.Time
	Stop  time.Time

	// Event is this job's entry in the timeout scheduler.
	Event *squeue.Event[*Job]

	State State
}

// newJob builds a job from a decoded request vector. The command may
// be empty; the caller rejects such jobs with an error frame.
func newJob(req kvmsg.KVVec, defaultTimeout uint64) *Job {
	j := &Job{
		Request: req,
		OutStd:  ioBuf{fd: -1},
		OutErr:  ioBuf{fd: -1},
	}
	for _, kv := range req {
		switch string(kv.Key) {
		case "command":
			j.Cmd = string(kv.Value)
		case "job_id":
			j.ID = parseUint(kv.Value)
		case "timeout":
			j.Timeout = parseUint(kv.Value)
		}
	}
	if j.Timeout == 0 {
		j.Timeout = defaultTimeout
	}
	return j
}

// parseUint parses the longest leading run of digits, permissively:
// garbage yields zero, exactly like strtoul on a non-numeric string.
func parseUint(b []byte) uint64 {
	var n uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + uint64(c-'0')
	}
	return n
}
