package feed

import (
	"math/rand/v2"
	"time"
)

const (
	PollInterval   = 15 * time.Minute
	StaleAfter     = 10 * time.Minute
	pollBackoffMax = 12 * time.Hour
	pollJitterMin  = 0.10
	pollJitterMax  = 0.20
)

// NextPollAt returns when a feed checked at checkedAt should be polled again.
// Consecutive failures stretch the interval.
func NextPollAt(checkedAt time.Time, interval time.Duration, failures int) time.Time {
	next := ComputeBackoffInterval(interval, failures)
	next = ApplyJitter(next)
	if next > pollBackoffMax {
		next = pollBackoffMax
	}
	return checkedAt.Add(next)
}

// ComputeBackoffInterval doubles base once per failure, capped at 12h.
func ComputeBackoffInterval(base time.Duration, failures int) time.Duration {
	if base <= 0 {
		base = PollInterval
	}
	if failures < 0 {
		failures = 0
	}
	interval := base
	for i := 0; i < failures; i++ {
		interval *= 2
		if interval >= pollBackoffMax {
			return pollBackoffMax
		}
	}
	if interval > pollBackoffMax {
		return pollBackoffMax
	}
	return interval
}

// ApplyJitter shifts base by a random 10-20% in either direction.
func ApplyJitter(base time.Duration) time.Duration {
	if base <= 0 {
		return base
	}
	magnitude := pollJitterMin + rand.Float64()*(pollJitterMax-pollJitterMin)
	if rand.IntN(2) == 0 {
		magnitude = -magnitude
	}
	adjusted := float64(base) * (1 + magnitude)
	return time.Duration(adjusted)
}

// IsStale reports whether a feed last updated at lastUpdated should be
// marked stale at now.
func IsStale(lastUpdated, now time.Time) bool {
	if lastUpdated.IsZero() {
		return false
	}
	return now.Sub(lastUpdated) > StaleAfter
}
