package client

import (
	"math/rand/v2"
	"time"
)

// Backoff returns the wait before retry number attempt, counting from 0.
type Backoff func(attempt int) time.Duration

// DefaultBackoff waits 100ms, 200ms, 400ms and so on up to 2s, each ±20%.
var DefaultBackoff = ExponentialBackoff(100*time.Millisecond, 2*time.Second, 0.2)

// ConstantBackoff always waits d.
func ConstantBackoff(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// ExponentialBackoff doubles base on every attempt until it reaches
// ceiling, then spreads the wait by ±jitter (a fraction of it) so clients
// started together do not retry in lockstep.
func ExponentialBackoff(base, ceiling time.Duration, jitter float64) Backoff {
	return func(attempt int) time.Duration {
		d := base
		for i := 0; i < attempt && d < ceiling; i++ {
			d *= 2
		}
		d = min(d, ceiling)
		if jitter > 0 {
			d += time.Duration(float64(d) * jitter * (rand.Float64()*2 - 1))
		}
		return max(d, 0)
	}
}
