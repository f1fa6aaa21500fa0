package zapview

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapview/internal/types"
)

func profileEvent(pubkey string, createdAt int64, name string) Event {
	return Event{
		ID:        "meta-" + name,
		PubKey:    pubkey,
		CreatedAt: createdAt,
		Kind:      types.KindProfileMetadata,
		Content:   `{"name":"` + name + `"}`,
	}
}

func newTestProfiles(tr *fakeTransport) *profileStore {
	return newProfileStore(tr, testOptions(tr).withDefaults())
}

func TestProfileResolve(t *testing.T) {
	tr := &fakeTransport{profiles: []Event{profileEvent(testSender, 100, "alice")}}
	s := newTestProfiles(tr)

	p := s.Resolve(context.Background(), testRelays, testSender)
	require.NotNil(t, p)
	assert.Equal(t, "alice", p.Name)

	cached, ok := s.Cached(testSender)
	require.True(t, ok)
	assert.Same(t, p, cached)
}

func TestProfileResolveMiss(t *testing.T) {
	tr := &fakeTransport{}
	s := newTestProfiles(tr)

	assert.Nil(t, s.Resolve(context.Background(), testRelays, testSender))
	assert.Nil(t, s.Resolve(context.Background(), nil, testSender))
	assert.Nil(t, s.Resolve(context.Background(), testRelays, ""))
}

func TestProfileNewestMetadataWins(t *testing.T) {
	tr := &fakeTransport{profiles: []Event{
		profileEvent(testSender, 50, "stale"),
		profileEvent(testSender, 100, "current"),
	}}
	s := newTestProfiles(tr)

	p := s.Resolve(context.Background(), testRelays, testSender)
	require.NotNil(t, p)
	assert.Equal(t, "current", p.Name, "recency follows created_at, not arrival order")
}

// stalledTransport models a relay set that accepts queries but never
// reaches end of stored events: QuerySync only returns once its context
// expires.
type stalledTransport struct {
	started  atomic.Int32
	finished atomic.Int32
}

func (t *stalledTransport) SubscribeMany(ctx context.Context, relayURLs []string, filters []Filter, h Handlers) Subscription {
	return &fakeSub{}
}

func (t *stalledTransport) QuerySync(ctx context.Context, relayURLs []string, filter Filter) []Event {
	t.started.Add(1)
	<-ctx.Done()
	t.finished.Add(1)
	return nil
}

func TestProfileFetchBoundedByStalledRelay(t *testing.T) {
	tr := &stalledTransport{}
	opts := testOptions(tr)
	opts.ProfileTimeout = 50 * time.Millisecond
	s := newProfileStore(tr, opts.withDefaults())

	start := time.Now()
	p := s.Resolve(context.Background(), testRelays, testSender)
	assert.Nil(t, p)
	assert.Less(t, time.Since(start), time.Second, "a relay that never sends EOSE must not stall the fetch")
	assert.Equal(t, int32(1), tr.finished.Load(), "the hung query must be cancelled")

	// The batcher must not stay wedged behind the stalled batch: a
	// later fetch for a different pubkey still reaches the executor.
	p = s.Resolve(context.Background(), testRelays, testRecipient)
	assert.Nil(t, p)
	assert.Equal(t, int32(2), tr.started.Load())
}

func TestProfilePutKeepsNewer(t *testing.T) {
	tr := &fakeTransport{}
	s := newTestProfiles(tr)

	newer := &Profile{PubKey: testSender, Name: "current", EventCreatedAt: 100}
	older := &Profile{PubKey: testSender, Name: "stale", EventCreatedAt: 50}

	s.put(testSender, newer)
	s.put(testSender, older)

	p, ok := s.Cached(testSender)
	require.True(t, ok)
	assert.Equal(t, "current", p.Name, "an older metadata event must not clobber a newer one")

	refreshed := &Profile{PubKey: testSender, Name: "renamed", EventCreatedAt: 200}
	s.put(testSender, refreshed)
	p, _ = s.Cached(testSender)
	assert.Equal(t, "renamed", p.Name)
}
