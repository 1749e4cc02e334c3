package churn

import (
	"math"
	"math/rand"
	"time"
)

const (
	backoffInitial    = 500 * time.Millisecond
	backoffMultiplier = 2.0
)

// retryDelay returns how long to wait before reconnecting after the
// given number of consecutive feed failures. The first failure retries
// immediately; later ones grow exponentially up to max with +-15% jitter.
// A zero max disables backoff.
func retryDelay(failures int, max time.Duration, jitter func() float64) time.Duration {
	if failures <= 1 || max <= 0 {
		return 0
	}

	delay := float64(backoffInitial) * math.Pow(backoffMultiplier, float64(failures-2))
	if delay > float64(max) {
		delay = float64(max)
	}

	if jitter != nil {
		delay = delay + jitter()*0.3*delay - 0.15*delay
	}

	return time.Duration(delay)
}

func defaultJitter() float64 {
	return rand.Float64()
}
