package zapview

import (
	"sync/atomic"

	"zapview/internal/relay"
)

// Hit and miss counters for the shared caches. Cheap enough to always
// keep on; surfaced through Metrics for debugging and tests.
var (
	profileCacheHits      atomic.Int64
	profileCacheMisses    atomic.Int64
	referenceCacheHits    atomic.Int64
	referenceCacheMisses  atomic.Int64
	identifierCacheHits   atomic.Int64
	identifierCacheMisses atomic.Int64
)

// MetricsSnapshot is a point-in-time dump of the package counters.
type MetricsSnapshot struct {
	ProfileCacheHits      int64
	ProfileCacheMisses    int64
	ReferenceCacheHits    int64
	ReferenceCacheMisses  int64
	IdentifierCacheHits   int64
	IdentifierCacheMisses int64
	DroppedEvents         int64
	InvalidEvents         int64
	RelayErrors           int64
}

// Metrics reports the current counter values.
func Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		ProfileCacheHits:      profileCacheHits.Load(),
		ProfileCacheMisses:    profileCacheMisses.Load(),
		ReferenceCacheHits:    referenceCacheHits.Load(),
		ReferenceCacheMisses:  referenceCacheMisses.Load(),
		IdentifierCacheHits:   identifierCacheHits.Load(),
		IdentifierCacheMisses: identifierCacheMisses.Load(),
		DroppedEvents:         relay.DroppedEvents(),
		InvalidEvents:         relay.InvalidEvents(),
		RelayErrors:           relay.RelayErrors(),
	}
}
