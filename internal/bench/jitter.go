package bench

import (
	"math/rand"
	"time"
)

// JitterSource provides deterministic, per-job jitter values. A
// per-job seed keeps submission offsets stable between runs with the
// same config seed, which makes bench numbers comparable.
type JitterSource struct {
	configSeed int64
}

// NewJitterSource creates a jitter source with the given config seed.
func NewJitterSource(configSeed int64) *JitterSource {
	return &JitterSource{configSeed: configSeed}
}

// NewJitterSourceFromTime creates a jitter source seeded from the
// current time.
func NewJitterSourceFromTime() *JitterSource {
	return NewJitterSource(time.Now().UnixNano())
}

// ForJob returns a generator seeded for a specific job index. The same
// index always produces the same sequence.
func (j *JitterSource) ForJob(jobIdx int) *rand.Rand {
	return rand.New(rand.NewSource(int64(jobIdx) ^ j.configSeed))
}

// JobJitter returns a jitter duration for a job within [0, maxJitter).
func (j *JitterSource) JobJitter(jobIdx int, maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 {
		return 0
	}
	return time.Duration(j.ForJob(jobIdx).Int63n(int64(maxJitter)))
}
