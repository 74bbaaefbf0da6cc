package connection

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// NewBackoff returns the reconnect schedule: base, 2*base, 4*base, ...
// capped at max, without jitter.
func NewBackoff(base, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = max
	b.Reset()
	return b
}

// Delays returns the first n delays of the reconnect schedule.
func Delays(base, max time.Duration, n int) []time.Duration {
	b := NewBackoff(base, max)
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = b.NextBackOff()
	}
	return out
}
