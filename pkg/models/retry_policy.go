package models

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy describes how failed job runs are rescheduled. Backoff grows
// exponentially with the attempt number, capped at MaxBackoff, with a
// symmetric jitter fraction applied to spread retry storms.
type RetryPolicy struct {
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64
}

// DefaultRetryPolicy matches the ledger defaults: 60s base, 15m cap, 10% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseBackoff:    60 * time.Second,
		MaxBackoff:     15 * time.Minute,
		JitterFraction: 0.10,
	}
}

// Backoff returns the delay before the retry that follows the given
// attempt. The result is always within [0, MaxBackoff].
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	base := float64(p.BaseBackoff) * math.Pow(2, float64(attempt))
	if base > float64(p.MaxBackoff) {
		base = float64(p.MaxBackoff)
	}

	jitter := 1.0
	if p.JitterFraction > 0 {
		jitter = 1 + p.JitterFraction*(2*rand.Float64()-1)
	}

	backoff := time.Duration(base * jitter)
	if backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}

	if backoff < 0 {
		backoff = 0
	}

	return backoff
}
