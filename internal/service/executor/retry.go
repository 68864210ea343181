package executor

import (
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/ashita-ai/rota/internal/tracker"
)

// RetryPolicy shapes the ticket-creation retry loop.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	Jitter      bool
}

// DefaultRetryPolicy is 3 attempts with exponential backoff from 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		Jitter:      true,
	}
}

// Delay returns the backoff before the given attempt (1-based; the first
// attempt has no delay). Jitter adds up to 10% so synchronized retries
// spread out.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-2))
	if p.Jitter {
		d += d * 0.1 * rand.Float64()
	}
	return time.Duration(d)
}

// Retryable classifies a ticket-creation error. Transport failures, 5xx, and
// 429 are retryable; any other tracker status is permanent.
func Retryable(err error) bool {
	var se *tracker.StatusError
	if errors.As(err, &se) {
		return se.Status >= http.StatusInternalServerError || se.Status == http.StatusTooManyRequests
	}
	return true
}
