package relay

import "sync/atomic"

// Transport counters, exported through accessors so callers never touch
// the atomics directly.
var (
	droppedEventsTotal atomic.Int64
	invalidEventsTotal atomic.Int64
	relayErrorsTotal   atomic.Int64
)

// DroppedEvents returns the number of events discarded because a
// subscriber's channel was full.
func DroppedEvents() int64 { return droppedEventsTotal.Load() }

// InvalidEvents returns the number of events rejected by verification.
func InvalidEvents() int64 { return invalidEventsTotal.Load() }

// RelayErrors returns the number of failed relay subscribe attempts.
func RelayErrors() int64 { return relayErrorsTotal.Load() }
