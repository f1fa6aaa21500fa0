package zapview

import "time"

// Defaults for Options fields left zero.
const (
	DefaultInitialLoadCount    = 12
	DefaultAdditionalLoadCount = 24
	DefaultBatchSize           = 20
	DefaultBatchDelay          = 80 * time.Millisecond
	DefaultReferenceTimeout    = 20 * time.Second
	DefaultProfileTimeout      = 10 * time.Second
	DefaultPaginationTimeout   = 10 * time.Second
	DefaultLoadMoreDebounce    = 300 * time.Millisecond
	DefaultRealtimeSkew        = 5 * time.Second
	DefaultCacheCapacity       = 1000
	DefaultStatsTimeout        = 4 * time.Second
)

// Options configures a Manager. The zero value is usable: every field
// falls back to its default and the Manager owns its relay pool.
type Options struct {
	// Transport overrides the built-in websocket relay pool. Leave nil
	// to let the Manager dial relays itself.
	Transport Transport

	// VerifySignatures makes the built-in pool drop events whose id or
	// schnorr signature does not verify. Ignored when Transport is set.
	VerifySignatures bool

	// BatchSize and BatchDelay tune request coalescing for profile and
	// reference lookups.
	BatchSize  int
	BatchDelay time.Duration

	// ReferenceTimeout bounds how long one reference-resolution batch
	// may wait on the relay network.
	ReferenceTimeout time.Duration

	// ProfileTimeout bounds one profile-metadata batch. A relay that
	// never reports end of stored events must not wedge the pipeline.
	ProfileTimeout time.Duration

	// PaginationTimeout bounds one LoadMore round.
	PaginationTimeout time.Duration

	// LoadMoreDebounce collapses repeated LoadMore triggers into one
	// in-flight request.
	LoadMoreDebounce time.Duration

	// RealtimeSkew is the window around "now" within which an incoming
	// event counts as real-time rather than historical.
	RealtimeSkew time.Duration

	// CacheCapacity bounds each shared cache (profiles, references,
	// decoded identifiers).
	CacheCapacity int

	// StatsBaseURL points at the aggregate-statistics service. Empty
	// disables baseline fetching; stats are then derived purely from
	// cached events.
	StatsBaseURL string

	// StatsTimeout bounds one baseline request.
	StatsTimeout time.Duration
}

// withDefaults fills unset fields.
func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchDelay <= 0 {
		o.BatchDelay = DefaultBatchDelay
	}
	if o.ReferenceTimeout <= 0 {
		o.ReferenceTimeout = DefaultReferenceTimeout
	}
	if o.ProfileTimeout <= 0 {
		o.ProfileTimeout = DefaultProfileTimeout
	}
	if o.PaginationTimeout <= 0 {
		o.PaginationTimeout = DefaultPaginationTimeout
	}
	if o.LoadMoreDebounce <= 0 {
		o.LoadMoreDebounce = DefaultLoadMoreDebounce
	}
	if o.RealtimeSkew <= 0 {
		o.RealtimeSkew = DefaultRealtimeSkew
	}
	if o.CacheCapacity <= 0 {
		o.CacheCapacity = DefaultCacheCapacity
	}
	if o.StatsTimeout <= 0 {
		o.StatsTimeout = DefaultStatsTimeout
	}
	return o
}

// ViewConfig configures one view (one dialog instance).
type ViewConfig struct {
	// Identifier names what the view shows: an npub/nprofile (zaps
	// received by a profile) or a note/nevent/naddr (zaps on an event).
	Identifier string

	// RelayURLs is the relay set queried for this view. Relay hints
	// embedded in the identifier are merged in.
	RelayURLs []string

	// InitialLoadCount is the backfill target; pagination only arms
	// when the backfill reached it.
	InitialLoadCount int

	// AdditionalLoadCount is the page size for LoadMore rounds.
	AdditionalLoadCount int
}

func (c ViewConfig) withDefaults() ViewConfig {
	if c.InitialLoadCount <= 0 {
		c.InitialLoadCount = DefaultInitialLoadCount
	}
	if c.AdditionalLoadCount <= 0 {
		c.AdditionalLoadCount = DefaultAdditionalLoadCount
	}
	return c
}
