package ratelimit

import (
	"context"
	"time"

	"github.com/jtbnz/razor-library-sub001/pkg/observability"
)

// Limiter checks and records attempts against configured policies.
//
// Storage failures fail CLOSED: when the attempt store cannot be read or
// written the check is denied, because allowing unmetered attempts during an
// outage would void the security property the limiter exists for.
type Limiter struct {
	store   AttemptStore
	metrics *observability.Metrics

	// now is replaceable in tests
	now func() time.Time
}

// NewLimiter creates a limiter backed by the given attempt store.
// metrics may be nil.
func NewLimiter(store AttemptStore, metrics *observability.Metrics) *Limiter {
	return &Limiter{
		store:   store,
		metrics: metrics,
		now:     time.Now,
	}
}

// CheckAndRecord counts in-window attempts for (policy.Action, identity) and,
// when under the limit, records the new attempt. Over-limit attempts are NOT
// recorded, so sustained abuse cannot grow the stored window.
func (l *Limiter) CheckAndRecord(ctx context.Context, identity string, policy Policy) (Decision, error) {
	now := l.now()
	cutoff := now.Add(-policy.Window)

	count, oldest, err := l.store.CountInWindow(ctx, policy.Action, identity, cutoff)
	if err != nil {
		l.observe(policy.Action, "store_error")
		if l.metrics != nil {
			l.metrics.RateLimitStoreErrors.WithLabelValues(policy.Action).Inc()
		}
		// Fail closed. The caller surfaces this like any other throttle.
		return Decision{Allowed: false, RetryAfter: policy.Window}, &ThrottledError{RetryAfter: policy.Window}
	}

	if count >= policy.Limit {
		retryAfter := oldest.Add(policy.Window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		l.observe(policy.Action, "denied")
		return Decision{Allowed: false, RetryAfter: retryAfter}, &ThrottledError{RetryAfter: retryAfter}
	}

	if err := l.store.Record(ctx, policy.Action, identity, now); err != nil {
		l.observe(policy.Action, "store_error")
		if l.metrics != nil {
			l.metrics.RateLimitStoreErrors.WithLabelValues(policy.Action).Inc()
		}
		return Decision{Allowed: false, RetryAfter: policy.Window}, &ThrottledError{RetryAfter: policy.Window}
	}

	l.observe(policy.Action, "allowed")
	return Decision{
		Allowed:   true,
		Remaining: policy.Limit - (count + 1),
	}, nil
}

func (l *Limiter) observe(action, outcome string) {
	if l.metrics != nil {
		l.metrics.RateLimitChecksTotal.WithLabelValues(action, outcome).Inc()
	}
}
