package zapview

import (
	"context"
	"sync"
	"time"

	"zapview/internal/batcher"
	"zapview/internal/cache"
	"zapview/internal/types"
)

// profileStore caches kind 0 profile metadata for zap senders and
// batches the fetches behind the scenes. The cache is global to the
// Manager so every view shares it.
type profileStore struct {
	transport Transport
	cache     *cache.LRU[*Profile]
	timeout   time.Duration
	batchCfg  batcher.Config

	mu       sync.Mutex
	batchers map[string]*batcher.Batcher[*Profile]
}

func newProfileStore(transport Transport, opts Options) *profileStore {
	return &profileStore{
		transport: transport,
		cache:     cache.NewLRU[*Profile](opts.CacheCapacity),
		timeout:   opts.ProfileTimeout,
		batchCfg: batcher.Config{
			BatchSize: opts.BatchSize,
			Delay:     opts.BatchDelay,
		},
		batchers: make(map[string]*batcher.Batcher[*Profile]),
	}
}

// Cached returns the profile for a pubkey without touching the network.
func (s *profileStore) Cached(pubkey string) (*Profile, bool) {
	return s.cache.Get(pubkey)
}

// Resolve returns the profile for a pubkey, fetching it batched with
// concurrent callers on a miss. Nil when no relay carries one.
func (s *profileStore) Resolve(ctx context.Context, relayURLs []string, pubkey string) *Profile {
	if pubkey == "" || len(relayURLs) == 0 {
		return nil
	}
	if p, ok := s.cache.Get(pubkey); ok {
		profileCacheHits.Add(1)
		return p
	}
	profileCacheMisses.Add(1)

	p, found := s.batcherFor(relayURLs).Request(ctx, pubkey)
	if !found {
		return nil
	}
	return p
}

func (s *profileStore) batcherFor(relayURLs []string) *batcher.Batcher[*Profile] {
	key := relaySetKey(relayURLs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.batchers[key]; ok {
		return b
	}
	urls := append([]string(nil), relayURLs...)
	b := batcher.New("profiles", s.batchCfg, func(ctx context.Context, keys []string) (map[string]*Profile, error) {
		return s.fetchBatch(ctx, urls, keys)
	})
	s.batchers[key] = b
	return b
}

// fetchBatch pulls kind 0 events for a batch of pubkeys in one query.
// The wait is bounded so a relay that never reaches EOSE cannot hold
// the batcher open and starve later batches. Relays may return several
// metadata events per author; the newest one wins.
func (s *profileStore) fetchBatch(ctx context.Context, relayURLs, pubkeys []string) (map[string]*Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	events := s.transport.QuerySync(ctx, relayURLs, Filter{
		Kinds:   []int{types.KindProfileMetadata},
		Authors: pubkeys,
		Limit:   len(pubkeys),
	})

	results := make(map[string]*Profile, len(pubkeys))
	for i := range events {
		p := types.ProfileFromEvent(events[i])
		if prev, ok := results[p.PubKey]; ok && prev.EventCreatedAt >= p.EventCreatedAt {
			continue
		}
		results[p.PubKey] = p
	}
	for pk, p := range results {
		s.put(pk, p)
	}
	return results, nil
}

// put stores a profile unless the cache already holds a newer one.
func (s *profileStore) put(pubkey string, p *Profile) {
	if prev, ok := s.cache.Get(pubkey); ok && prev.EventCreatedAt > p.EventCreatedAt {
		return
	}
	s.cache.Set(pubkey, p)
}
