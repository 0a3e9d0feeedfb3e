package stats

import "time"

// Summary is one aggregator snapshot. Runtimes are in seconds.
type Summary struct {
	Timestamp time.Time
	Elapsed   time.Duration

	Completed uint64
	Succeeded uint64
	TimedOut  uint64
	Errored   uint64

	RuntimeMin float64
	RuntimeMax float64
	RuntimeAvg float64
	RuntimeP50 float64
	RuntimeP95 float64
	RuntimeP99 float64

	// CompletionRate is jobs/second since start; InstantRate covers the
	// window between the last two snapshots.
	CompletionRate float64
	InstantRate    float64
}

// SuccessRatio returns the fraction of completed jobs that exited on
// their own, or zero before any completion.
func (s Summary) SuccessRatio() float64 {
	if s.Completed == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Completed)
}
