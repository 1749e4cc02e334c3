package liveness

import "time"

// ActivitySource is what the watchdog observes and kicks.
//
// Implementations must be thread-safe as they are called from the
// watchdog goroutine.
type ActivitySource interface {
	// LastActivity returns when the source last showed signs of life.
	LastActivity() time.Time

	// Reconnect asks the source to rebuild its connection. It must not block.
	Reconnect()
}
