package utils

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// NewFetchBackoff returns the retry schedule for outbound API calls:
// 1s, 2s, 4s, ... doubling per attempt with no jitter.
func NewFetchBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 5 * time.Minute
	b.MaxElapsedTime = 0 // attempt count is bounded by the caller
	b.Multiplier = 2.0
	b.RandomizationFactor = 0
	return b
}

// NewReconnectBackoff creates the backoff configuration for the price feed
// reconnect loop.
func NewReconnectBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 5 * time.Minute
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.1
	return b
}
