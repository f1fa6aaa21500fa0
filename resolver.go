package zapview

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"zapview/internal/batcher"
	"zapview/internal/cache"
	"zapview/internal/nip19"
	"zapview/internal/types"
)

// referenceKinds is the allow-list of kinds a zap receipt may point at.
// Anything else tagged on a receipt is ignored rather than fetched.
var referenceKinds = []int{1, 6, 40, 41, 30009, 30023, 30030, 31990}

var eventIDPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ReferenceResolver fetches the events that zap receipts point at
// through their e and a tags. Lookups are coalesced into batches and
// results land in a shared bounded cache, so a feed full of zaps on the
// same note costs one relay round trip.
type ReferenceResolver struct {
	transport Transport
	cache     *cache.LRU[*Reference]
	timeout   time.Duration
	batchCfg  batcher.Config

	mu       sync.Mutex
	batchers map[string]*batcher.Batcher[*Reference]
}

// NewReferenceResolver builds a resolver sharing the Manager's tuning.
func NewReferenceResolver(transport Transport, opts Options) *ReferenceResolver {
	return &ReferenceResolver{
		transport: transport,
		cache:     cache.NewLRU[*Reference](opts.CacheCapacity),
		timeout:   opts.ReferenceTimeout,
		batchCfg: batcher.Config{
			BatchSize: opts.BatchSize,
			Delay:     opts.BatchDelay,
		},
		batchers: make(map[string]*batcher.Batcher[*Reference]),
	}
}

// referenceKey extracts the resolvable tag from a receipt: the first
// well-formed e tag, else the first well-formed a tag. Empty when the
// receipt points at nothing fetchable.
func referenceKey(evt *Event) string {
	if id := evt.TagValue("e"); eventIDPattern.MatchString(id) {
		return id
	}
	if coord := evt.TagValue("a"); coord != "" {
		if _, _, _, err := nip19.ParseCoordinate(coord); err == nil {
			return coord
		}
	}
	return ""
}

// Resolve returns the referenced event for a zap receipt, or nil when
// the receipt tags nothing resolvable, no relay carries the target, or
// the bounded wait elapses. Concurrent resolves for the same key share
// one fetch.
func (r *ReferenceResolver) Resolve(ctx context.Context, relayURLs []string, evt *Event) *Reference {
	if len(relayURLs) == 0 {
		return nil
	}
	key := referenceKey(evt)
	if key == "" {
		return nil
	}
	if ref, ok := r.cache.Get(key); ok {
		referenceCacheHits.Add(1)
		return ref
	}
	referenceCacheMisses.Add(1)

	ref, found := r.batcherFor(relayURLs).Request(ctx, key)
	if !found {
		return nil
	}
	return ref
}

// Cached returns the reference for a tag value without touching the
// network.
func (r *ReferenceResolver) Cached(key string) (*Reference, bool) {
	return r.cache.Get(key)
}

// batcherFor returns the batcher bound to a relay set. Batches only mix
// keys headed for the same relays; in practice one Manager talks to a
// handful of sets.
func (r *ReferenceResolver) batcherFor(relayURLs []string) *batcher.Batcher[*Reference] {
	key := relaySetKey(relayURLs)

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.batchers[key]; ok {
		return b
	}
	urls := append([]string(nil), relayURLs...)
	b := batcher.New("references", r.batchCfg, func(ctx context.Context, keys []string) (map[string]*Reference, error) {
		return r.fetchBatch(ctx, urls, keys)
	})
	r.batchers[key] = b
	return b
}

// fetchBatch opens one subscription for a batch of ids and coordinates
// and collects replies until every key is matched or the wait elapses.
func (r *ReferenceResolver) fetchBatch(ctx context.Context, relayURLs, keys []string) (map[string]*Reference, error) {
	var ids []string
	coords := make(map[string]string) // kind:pubkey:dtag -> key
	for _, key := range keys {
		if eventIDPattern.MatchString(key) {
			ids = append(ids, key)
		} else {
			coords[key] = key
		}
	}

	var filters []Filter
	if len(ids) > 0 {
		filters = append(filters, Filter{IDs: ids, Kinds: referenceKinds})
	}
	for coord := range coords {
		kind, pubkey, dTag, err := nip19.ParseCoordinate(coord)
		if err != nil {
			continue
		}
		filters = append(filters, Filter{
			Kinds:   []int{int(kind)},
			Authors: []string{pubkey},
			DTags:   []string{dTag},
			Limit:   1,
		})
	}
	results := make(map[string]*Reference, len(keys))
	if len(filters) == 0 {
		return results, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	remaining := len(keys)
	var mu sync.Mutex
	done := make(chan struct{})

	sub := r.transport.SubscribeMany(ctx, relayURLs, filters, Handlers{
		OnEvent: func(evt Event) {
			mu.Lock()
			defer mu.Unlock()
			for _, key := range matchKeys(&evt) {
				if _, taken := results[key]; taken {
					continue
				}
				if !keyRequested(key, ids, coords) {
					continue
				}
				results[key] = types.ReferenceFromEvent(evt)
				r.cache.Set(key, results[key])
				remaining--
			}
			if remaining == 0 {
				select {
				case <-done:
				default:
					close(done)
				}
			}
		},
	})
	defer sub.Close()

	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	out := make(map[string]*Reference, len(results))
	for k, v := range results {
		out[k] = v
	}
	return out, nil
}

// matchKeys lists the batch keys an arriving event can satisfy: its id,
// and its coordinate when the kind is addressable.
func matchKeys(evt *Event) []string {
	keys := []string{evt.ID}
	if evt.Kind >= 30000 && evt.Kind < 40000 {
		keys = append(keys, nip19.Coordinate(uint32(evt.Kind), evt.PubKey, evt.TagValue("d")))
	}
	return keys
}

func keyRequested(key string, ids []string, coords map[string]string) bool {
	if _, ok := coords[key]; ok {
		return true
	}
	for _, id := range ids {
		if id == key {
			return true
		}
	}
	return false
}

// relaySetKey canonicalises a relay list for grouping.
func relaySetKey(relayURLs []string) string {
	sorted := append([]string(nil), relayURLs...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
