package client

import "time"

// RetryPolicy computes reconnection delays with exponential backoff.
// It is a pure value type: Delay and ShouldRetry depend only on their
// arguments, so callers own all attempt bookkeeping.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// Delay returns the backoff delay before the given attempt number.
// Attempt numbering starts at 1 for the first retry. The delay doubles
// per attempt and is capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// ShouldRetry reports whether another reconnection may be scheduled
// after the given number of attempts have already been made.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt+1 < p.MaxAttempts
}
