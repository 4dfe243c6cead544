package jobs

import "time"

// RetryPolicy is the backoff schedule spec.md §4.6 mandates for transient
// failures: exponential with a base, a cap, and a max-attempts ceiling
// after which the step is treated as exhausted (the executor then moves
// the job to Error even though the underlying error was transient).
type RetryPolicy struct {
	Base        time.Duration
	Factor      float64
	Cap         time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy matches spec.md §4.6 exactly: base 30s, factor 2,
// cap 15min, max 6 attempts per step.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:        30 * time.Second,
		Factor:      2,
		Cap:         15 * time.Minute,
		MaxAttempts: 6,
	}
}

// DelayFor returns the backoff delay before attempt number n (1-indexed:
// the first retry after the original attempt is DelayFor(1)).
func (p RetryPolicy) DelayFor(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	d := float64(p.Base)
	for i := 1; i < n; i++ {
		d *= p.Factor
		if time.Duration(d) >= p.Cap {
			return p.Cap
		}
	}
	delay := time.Duration(d)
	if delay > p.Cap {
		return p.Cap
	}
	return delay
}

// Exhausted reports whether retriesCount has used up the policy's retry
// budget for a single step.
func (p RetryPolicy) Exhausted(retriesCount int) bool {
	return retriesCount >= p.MaxAttempts
}

// JobDeadlineExceeded implements the per-job wall-clock deadline from
// spec.md §5: even if individual steps remain transient, a job older than
// deadline is forced to Error.
func JobDeadlineExceeded(createdAt time.Time, now time.Time, deadline time.Duration) bool {
	return now.Sub(createdAt) >= deadline
}
