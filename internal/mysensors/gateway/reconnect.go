package gateway

import (
	"time"

	"github.com/cenkalti/backoff"
)

const (
	defaultReconnectInitial = time.Second
	defaultReconnectMax     = time.Minute

	// reconnectMultiplier grows the delay by half after each failure.
	reconnectMultiplier = 1.5
	reconnectJitter     = 0.1
)

// newBackoff returns the retry schedule for p. The returned BackOff yields
// backoff.Stop once MaxRetries consecutive delays have been handed out.
func newBackoff(p ReconnectPolicy) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = defaultReconnectInitial
	}
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = defaultReconnectMax
		if b.MaxInterval < b.InitialInterval {
			b.MaxInterval = b.InitialInterval
		}
	}
	b.Multiplier = reconnectMultiplier
	b.RandomizationFactor = reconnectJitter
	b.MaxElapsedTime = 0
	b.Reset()

	if p.MaxRetries > 0 {
		return backoff.WithMaxRetries(b, uint64(p.MaxRetries))
	}
	return b
}
