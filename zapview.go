// Package zapview maintains live, cached views of zap receipts (nostr
// kind 9735) for a profile or an event. A Manager owns the relay
// transport and the shared caches; each view runs its own subscription
// with backfill, real-time updates, pagination and aggregate stats.
package zapview

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"zapview/internal/cache"
	"zapview/internal/nip19"
	"zapview/internal/relay"
	"zapview/internal/types"
)

// Re-exported wire types so callers never import internal packages.
type (
	Event      = types.Event
	Filter     = types.Filter
	Profile    = types.Profile
	Reference  = types.Reference
	ZapReceipt = types.ZapReceipt
)

// Handlers receives subscription traffic from a Transport.
type Handlers struct {
	OnEvent func(Event)
	OnEOSE  func()
}

// Subscription is a live relay subscription. Close is idempotent.
type Subscription interface {
	Close()
}

// Transport is the relay access the Manager depends on. The built-in
// implementation is a websocket pool; tests substitute fakes.
type Transport interface {
	// SubscribeMany opens one logical subscription fanned out across
	// the given relays. OnEOSE fires once, after every relay reported
	// end of stored events.
	SubscribeMany(ctx context.Context, relayURLs []string, filters []Filter, h Handlers) Subscription

	// QuerySync fetches stored events matching filter and returns once
	// all relays reached EOSE or ctx expires. Results are deduplicated
	// and sorted newest first.
	QuerySync(ctx context.Context, relayURLs []string, filter Filter) []Event
}

// poolTransport adapts the internal relay pool to Transport.
type poolTransport struct {
	pool *relay.Pool
}

func (t poolTransport) SubscribeMany(ctx context.Context, relayURLs []string, filters []Filter, h Handlers) Subscription {
	return t.pool.SubscribeMany(ctx, relayURLs, filters, relay.Handlers{
		OnEvent: h.OnEvent,
		OnEOSE:  h.OnEOSE,
	})
}

func (t poolTransport) QuerySync(ctx context.Context, relayURLs []string, filter Filter) []Event {
	return t.pool.QuerySync(ctx, relayURLs, filter)
}

// Manager owns the transport, the shared caches and every open view.
type Manager struct {
	opts      Options
	transport Transport
	ownedPool *relay.Pool

	profiles    *profileStore
	resolver    *ReferenceResolver
	stats       *StatsClient
	identifiers *cache.LRU[decodedIdentifier]

	mu    sync.RWMutex
	views map[string]*viewState

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	log *slog.Logger

	// now is swapped out by tests.
	now func() time.Time
}

// New builds a Manager. Close releases it.
func New(opts Options) *Manager {
	opts = opts.withDefaults()

	m := &Manager{
		opts:  opts,
		views: make(map[string]*viewState),
		log:   slog.Default().With("component", "zapview"),
		now:   time.Now,
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	if opts.Transport != nil {
		m.transport = opts.Transport
	} else {
		m.ownedPool = relay.NewPool(relay.Config{VerifySignatures: opts.VerifySignatures})
		m.transport = poolTransport{pool: m.ownedPool}
	}

	m.profiles = newProfileStore(m.transport, opts)
	m.resolver = NewReferenceResolver(m.transport, opts)
	m.identifiers = cache.NewLRU[decodedIdentifier](opts.CacheCapacity)
	if opts.StatsBaseURL != "" {
		m.stats = NewStatsClient(opts.StatsBaseURL, opts.StatsTimeout, opts.CacheCapacity)
	}
	return m
}

// ErrClosed is returned by operations on a closed Manager.
var ErrClosed = errors.New("zapview: manager closed")

// ErrViewNotFound is returned when a view id names no open view.
var ErrViewNotFound = errors.New("zapview: view not found")

// Close tears down every view and, when the Manager owns the relay
// pool, disconnects from all relays. Idempotent.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.cancel()

		m.mu.Lock()
		views := make([]*viewState, 0, len(m.views))
		for _, v := range m.views {
			views = append(views, v)
		}
		m.views = make(map[string]*viewState)
		m.mu.Unlock()

		for _, v := range views {
			v.shutdown()
		}
		if m.ownedPool != nil {
			m.ownedPool.Close()
		}
	})
}

func (m *Manager) closed() bool {
	select {
	case <-m.ctx.Done():
		return true
	default:
		return false
	}
}

// GetProfile returns the cached profile for a pubkey, if any. Profiles
// are fetched in the background as their zaps arrive; a miss here just
// means the fetch has not landed yet.
func (m *Manager) GetProfile(pubkey string) (*Profile, bool) {
	return m.profiles.Cached(pubkey)
}

// ResolveProfile fetches a profile, batched with concurrent callers.
// Returns nil when no relay carries it.
func (m *Manager) ResolveProfile(ctx context.Context, relayURLs []string, pubkey string) *Profile {
	return m.profiles.Resolve(ctx, relayURLs, pubkey)
}

// decodedIdentifier is the cached result of parsing a view identifier.
type decodedIdentifier struct {
	decoded *nip19.Decoded
	filter  Filter
	// target is "profile" or "event", keyed off the identifier kind.
	// It selects the stats endpoint.
	target string
	// hint is the hex key the stats service is queried with.
	hint string
	// relayHints come from nprofile/nevent/naddr TLV entries.
	relayHints []string
}
