package aggregate

import (
	"math/rand"
	"time"
)

// RetryPolicy bounds the commit-with-retry loop in EvalCommand. spec.md §5
// describes an unbounded retry on Conflict; SPEC_FULL.md's Open Questions
// decision caps it instead, so a pathological contending writer degrades a
// caller to ErrConflictRetriesExhausted rather than hanging it forever.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy backs off exponentially with jitter, doubling from
// BaseDelay up to MaxDelay, and gives up after MaxAttempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 8, BaseDelay: 5 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
}

// delay returns the backoff to wait before the retry following attempt
// (0-based), with full jitter: a uniform random duration in [0, cap).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}
