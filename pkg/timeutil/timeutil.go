package timeutil

import (
	"math/rand"
	"time"
)

// DurationPtr is a helper function to create a pointer to a time.Duration
func DurationPtr(d time.Duration) *time.Duration {
	return &d
}

// MaxDuration returns the largest duration in durations, or 0 if empty.
// It does not mutate its input.
func MaxDuration(durations []time.Duration) time.Duration {
	var max time.Duration
	for i, d := range durations {
		if i == 0 || d > max {
			max = d
		}
	}
	return max
}

// ComputeJitter returns a uniformly distributed random duration in [0, max).
// A non-positive max always returns 0.
func ComputeJitter(max time.Duration, rng rand.Rand) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(int64(max)))
}

// ExponentialBackoffDelay computes the delay before the next retry attempt,
// given how many backoffs have already happened (backoffCount), a maximum
// jitter to add on top, a source of randomness, and backoff parameters
// (initial duration, multiplier, cap).
//
// backoffCount <= 1 returns the initial duration unmodified (plus jitter);
// each additional count multiplies the delay by the configured multiplier,
// capped at maxDuration.
func ExponentialBackoffDelay(backoffCount int, jitter time.Duration, rng rand.Rand, backoffParam BackoffParam) time.Duration {
	if backoffCount < 1 {
		backoffCount = 1
	}

	delay := backoffParam.InitialDuration()
	multiplier := backoffParam.Multiplier()
	for i := 1; i < backoffCount; i++ {
		delay = time.Duration(float64(delay) * multiplier)
	}

	if max := backoffParam.MaxDuration(); max > 0 && delay > max {
		delay = max
	}

	return delay + ComputeJitter(jitter, rng)
}
