// Package stats accumulates per-job outcome and runtime statistics.
//
// The worker feeds one observation per finalized job; the bench
// harness reads snapshots for its dashboard and final summary. Runtime
// percentiles come from a T-Digest so memory stays bounded no matter
// how many jobs flow through.
package stats

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"
	"golang.org/x/sys/unix"
)

// Aggregator collects job observations.
//
// Thread-safe: the worker observes from its loop goroutine while the
// bench (or the TUI ticker) snapshots from another.
type Aggregator struct {
	mu        sync.Mutex
	startTime time.Time

	completed uint64
	succeeded uint64
	timedOut  uint64
	errored   uint64

	runtimeDigest *tdigest.TDigest
	runtimeSum    float64
	runtimeMin    float64 // -1 = unset
	runtimeMax    float64

	// For instantaneous completion rates.
	prevTime      time.Time
	prevCompleted uint64
}

// New creates an empty aggregator.
func New() *Aggregator {
	now := time.Now()
	return &Aggregator{
		startTime:     now,
		prevTime:      now,
		runtimeMin:    -1,
		runtimeDigest: tdigest.NewWithCompression(100), // ~100 centroids, ~10KB
	}
}

// Observe records one finalized job. reason is zero for a normal exit
// and an errno-valued error code otherwise, with ETIME marking a
// timeout.
func (a *Aggregator) Observe(runtime float64, reason int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.completed++
	switch reason {
	case 0:
		a.succeeded++
	case int(unix.ETIME):
		a.timedOut++
	default:
		a.errored++
	}

	a.runtimeDigest.Add(runtime, 1)
	a.runtimeSum += runtime
	if a.runtimeMin < 0 || runtime < a.runtimeMin {
		a.runtimeMin = runtime
	}
	if runtime > a.runtimeMax {
		a.runtimeMax = runtime
	}
}

// Snapshot computes a point-in-time summary. The instantaneous rate
// covers the window since the previous Snapshot call.
func (a *Aggregator) Snapshot() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	s := Summary{
		Timestamp: now,
		Elapsed:   now.Sub(a.startTime),
		Completed: a.completed,
		Succeeded: a.succeeded,
		TimedOut:  a.timedOut,
		Errored:   a.errored,
	}

	if a.completed > 0 {
		s.RuntimeMin = a.runtimeMin
		s.RuntimeMax = a.runtimeMax
		s.RuntimeAvg = a.runtimeSum / float64(a.completed)
		s.RuntimeP50 = a.runtimeDigest.Quantile(0.50)
		s.RuntimeP95 = a.runtimeDigest.Quantile(0.95)
		s.RuntimeP99 = a.runtimeDigest.Quantile(0.99)
	}

	if elapsed := s.Elapsed.Seconds(); elapsed > 0 {
		s.CompletionRate = float64(a.completed) / elapsed
	}
	if window := now.Sub(a.prevTime).Seconds(); window > 0 {
		s.InstantRate = float64(a.completed-a.prevCompleted) / window
	}
	a.prevTime = now
	a.prevCompleted = a.completed

	return s
}

// StartTime returns when the aggregator was created.
func (a *Aggregator) StartTime() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startTime
}
