// Package bench implements the master side of the control protocol:
// it launches a worker on a socketpair, submits jobs at a paced rate,
// and collects the worker's responses.
package bench

import (
	"context"
	"time"
)

// Submitter controls the rate at which jobs are sent to the worker so
// a bench run does not dump its whole load in one burst, with per-job
// jitter to avoid lockstep submission.
type Submitter struct {
	rate      int // jobs per second, 0 = unpaced
	maxJitter time.Duration
	jitter    *JitterSource
}

// NewSubmitter creates a submitter with the given rate and jitter.
func NewSubmitter(rate int, maxJitter time.Duration) *Submitter {
	return &Submitter{
		rate:      rate,
		maxJitter: maxJitter,
		jitter:    NewJitterSourceFromTime(),
	}
}

// NewSubmitterWithSeed creates a submitter with a fixed jitter seed
// for reproducible pacing.
func NewSubmitterWithSeed(rate int, maxJitter time.Duration, seed int64) *Submitter {
	return &Submitter{
		rate:      rate,
		maxJitter: maxJitter,
		jitter:    NewJitterSource(seed),
	}
}

// Wait blocks for the appropriate delay before submitting job number
// jobIdx. Returns the context error if cancelled first.
func (s *Submitter) Wait(ctx context.Context, jobIdx int) error {
	var baseDelay time.Duration
	if s.rate > 0 {
		baseDelay = time.Second / time.Duration(s.rate)
	}
	delay := baseDelay + s.jitter.JobJitter(jobIdx, s.maxJitter)
	if delay <= 0 {
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
