// Package models houses the pure policy decisions shared by the store and the engine,
// kept as standalone functions so they can be unit-tested without a database or sleeping.
package models

import "time"

// StuckProcessing reports whether a processing record whose last attempt started at
// lastAttemptAt should be treated as abandoned at time now. Reclaiming a stuck record
// allows reprocessing after a worker crash at the cost of a possible double-execution
// window; business logic must tolerate at-least-once inside this edge case.
func StuckProcessing(now, lastAttemptAt time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultStuckTimeout
	}
	return !lastAttemptAt.After(now.Add(-timeout))
}

// RetryBackoff returns the delay before the given retry attempt of a failed
// operation. The engine holds a failed key's readmission until this much time has
// passed since the last attempt. Exponential: 30s, 60s, 120s, ... capped at one hour.
func RetryBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	const base = 30 * time.Second
	const maxBackoff = time.Hour
	backoff := base << uint(attempt)
	if backoff <= 0 || backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}
