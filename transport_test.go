package zapview

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"zapview/internal/nip19"
	"zapview/internal/types"
)

type fakeSub struct {
	closes atomic.Int32
}

func (s *fakeSub) Close() { s.closes.Add(1) }

// fakeTransport answers zap subscriptions with a scripted backfill,
// profile queries with canned kind-0 events, reference lookups with
// canned events, and pagination queries with successive pages.
type fakeTransport struct {
	mu        sync.Mutex
	backfill  []Event
	profiles  []Event
	refEvents []Event
	pages     [][]Event

	pageFilters []Filter
	zapSubs     []*fakeSub
	refSubs     []*fakeSub
	live        Handlers
}

func (t *fakeTransport) SubscribeMany(ctx context.Context, relayURLs []string, filters []Filter, h Handlers) Subscription {
	s := &fakeSub{}

	if isZapSubscription(filters) {
		t.mu.Lock()
		t.zapSubs = append(t.zapSubs, s)
		t.live = h
		backfill := append([]Event(nil), t.backfill...)
		t.mu.Unlock()

		for _, evt := range backfill {
			if h.OnEvent != nil {
				h.OnEvent(evt)
			}
		}
		if h.OnEOSE != nil {
			h.OnEOSE()
		}
		return s
	}

	t.mu.Lock()
	t.refSubs = append(t.refSubs, s)
	refs := append([]Event(nil), t.refEvents...)
	t.mu.Unlock()

	for _, evt := range refs {
		if h.OnEvent != nil {
			h.OnEvent(evt)
		}
	}
	return s
}

func (t *fakeTransport) QuerySync(ctx context.Context, relayURLs []string, filter Filter) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, kind := range filter.Kinds {
		if kind == types.KindProfileMetadata {
			return append([]Event(nil), t.profiles...)
		}
	}

	t.pageFilters = append(t.pageFilters, filter)
	if len(t.pages) == 0 {
		return nil
	}
	page := t.pages[0]
	t.pages = t.pages[1:]
	return append([]Event(nil), page...)
}

func (t *fakeTransport) pushLive(evt Event) {
	t.mu.Lock()
	h := t.live
	t.mu.Unlock()
	if h.OnEvent != nil {
		h.OnEvent(evt)
	}
}

func (t *fakeTransport) pageCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pageFilters)
}

func (t *fakeTransport) refSubCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.refSubs)
}

func isZapSubscription(filters []Filter) bool {
	for _, f := range filters {
		for _, kind := range f.Kinds {
			if kind == types.KindZapReceipt {
				return true
			}
		}
	}
	return false
}

const (
	testRecipient = "82341f882b6eabcd2ba7f1ef90aad961cf074af15b9ef44a09f9d2a8fbfbe6a2"
	testSender    = "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"
)

var testRelays = []string{"wss://relay.test"}

func testNPub() string {
	npub, err := nip19.EncodePubKey(testRecipient)
	if err != nil {
		panic(err)
	}
	return npub
}

// zapAt builds a zap receipt with a synthetic id derived from n.
func zapAt(n int, createdAt int64, sats int64) Event {
	id := fmt.Sprintf("%064x", n)
	return Event{
		ID:        id,
		PubKey:    testSender,
		CreatedAt: createdAt,
		Kind:      types.KindZapReceipt,
		Content:   fmt.Sprintf("zap %d", n),
		Tags: [][]string{
			{"p", testRecipient},
			{"bolt11", fmt.Sprintf("lnbc%dn1pjtest", sats*10)},
		},
	}
}

func hexID(n int) string {
	return fmt.Sprintf("%064x", n)
}

func testOptions(tr Transport) Options {
	return Options{
		Transport:         tr,
		BatchSize:         20,
		BatchDelay:        5 * time.Millisecond,
		ReferenceTimeout:  100 * time.Millisecond,
		PaginationTimeout: time.Second,
		LoadMoreDebounce:  300 * time.Millisecond,
		RealtimeSkew:      5 * time.Second,
		CacheCapacity:     100,
	}
}
