package relay

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapview/internal/types"
)

// fakeRelay is an in-process relay speaking just enough of the protocol:
// it answers REQ with its stored events followed by EOSE, accepts CLOSE,
// and can push live events afterwards.
type fakeRelay struct {
	srv    *httptest.Server
	stored []types.Event

	mu     sync.Mutex
	conns  []*fakeConn
	reqs   int
	closes int
}

type fakeConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	subIDs  []string
}

func newFakeRelay(t *testing.T, stored []types.Event) *fakeRelay {
	t.Helper()
	f := &fakeRelay{stored: stored}
	upgrader := websocket.Upgrader{}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fc := &fakeConn{ws: ws}
		f.mu.Lock()
		f.conns = append(f.conns, fc)
		f.mu.Unlock()

		for {
			var msg []interface{}
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			if len(msg) < 2 {
				continue
			}
			switch msg[0] {
			case "REQ":
				subID, _ := msg[1].(string)
				f.mu.Lock()
				f.reqs++
				fc.subIDs = append(fc.subIDs, subID)
				f.mu.Unlock()

				fc.writeMu.Lock()
				for _, evt := range f.stored {
					ws.WriteJSON([]interface{}{"EVENT", subID, evt})
				}
				ws.WriteJSON([]interface{}{"EOSE", subID})
				fc.writeMu.Unlock()
			case "CLOSE":
				f.mu.Lock()
				f.closes++
				f.mu.Unlock()
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

// push sends a live event on every open subscription.
func (f *fakeRelay) push(evt types.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fc := range f.conns {
		fc.writeMu.Lock()
		for _, subID := range fc.subIDs {
			fc.ws.WriteJSON([]interface{}{"EVENT", subID, evt})
		}
		fc.writeMu.Unlock()
	}
}

func (f *fakeRelay) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func testEvent(id string, createdAt int64) types.Event {
	return types.Event{
		ID:        id,
		PubKey:    "aa",
		CreatedAt: createdAt,
		Kind:      types.KindZapReceipt,
		Tags:      [][]string{},
	}
}

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	p := NewPool(Config{})
	t.Cleanup(p.Close)
	return p
}

func TestQuerySyncSortsAndLimits(t *testing.T) {
	relay := newFakeRelay(t, []types.Event{
		testEvent("ev-old", 100),
		testEvent("ev-new", 300),
		testEvent("ev-mid", 200),
	})
	p := newTestPool(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := p.QuerySync(ctx, []string{relay.url()}, types.Filter{Limit: 2})
	require.Len(t, events, 2)
	assert.Equal(t, "ev-new", events[0].ID)
	assert.Equal(t, "ev-mid", events[1].ID)
	assert.Equal(t, []string{relay.url()}, events[0].RelaysSeen)
}

func TestQuerySyncDeduplicatesAcrossRelays(t *testing.T) {
	shared := testEvent("ev-shared", 100)
	relayA := newFakeRelay(t, []types.Event{shared})
	relayB := newFakeRelay(t, []types.Event{shared, testEvent("ev-b", 200)})
	p := newTestPool(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := p.QuerySync(ctx, []string{relayA.url(), relayB.url()}, types.Filter{})
	require.Len(t, events, 2)
	assert.Equal(t, "ev-b", events[0].ID)
	assert.Equal(t, "ev-shared", events[1].ID)
}

func TestSubscribeManyDeliversLiveEventsAfterEOSE(t *testing.T) {
	relay := newFakeRelay(t, []types.Event{testEvent("ev-stored", 100)})
	p := newTestPool(t)

	var events []string
	var mu sync.Mutex
	eose := make(chan struct{})

	sub := p.SubscribeMany(context.Background(), []string{relay.url()}, []types.Filter{{}}, Handlers{
		OnEvent: func(evt types.Event) {
			mu.Lock()
			events = append(events, evt.ID)
			mu.Unlock()
		},
		OnEOSE: func() { close(eose) },
	})
	defer sub.Close()

	select {
	case <-eose:
	case <-time.After(5 * time.Second):
		t.Fatal("EOSE never fired")
	}

	relay.push(testEvent("ev-live", 500))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ev-stored", "ev-live"}, events)
}

func TestSubscribeManyOnEOSEFiresOnce(t *testing.T) {
	relayA := newFakeRelay(t, nil)
	relayB := newFakeRelay(t, nil)
	p := newTestPool(t)

	var eoseCount atomic.Int32
	sub := p.SubscribeMany(context.Background(), []string{relayA.url(), relayB.url()}, []types.Filter{{}}, Handlers{
		OnEOSE: func() { eoseCount.Add(1) },
	})
	defer sub.Close()

	require.Eventually(t, func() bool { return eoseCount.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), eoseCount.Load())
}

func TestSubscribeManySkipsUnreachableRelay(t *testing.T) {
	relay := newFakeRelay(t, []types.Event{testEvent("ev-good", 100)})
	p := newTestPool(t)

	var gotEvent atomic.Bool
	eose := make(chan struct{})
	sub := p.SubscribeMany(context.Background(),
		[]string{"ws://127.0.0.1:1", relay.url()},
		[]types.Filter{{}},
		Handlers{
			OnEvent: func(types.Event) { gotEvent.Store(true) },
			OnEOSE:  func() { close(eose) },
		})
	defer sub.Close()

	select {
	case <-eose:
	case <-time.After(5 * time.Second):
		t.Fatal("a dead relay must not hold up EOSE")
	}
	assert.True(t, gotEvent.Load())
}

func TestMultiSubCloseIsIdempotent(t *testing.T) {
	relay := newFakeRelay(t, nil)
	p := newTestPool(t)

	eose := make(chan struct{})
	sub := p.SubscribeMany(context.Background(), []string{relay.url()}, []types.Filter{{}}, Handlers{
		OnEOSE: func() { close(eose) },
	})
	<-eose

	sub.Close()
	sub.Close()
	sub.Close()

	require.Eventually(t, func() bool { return relay.closeCount() >= 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, relay.closeCount(), "repeated Close must send CLOSE once")
}

func TestPoolCloseIsIdempotent(t *testing.T) {
	p := NewPool(Config{})
	p.Close()
	p.Close()
}

func TestEnsureRelayRejectsBadURL(t *testing.T) {
	p := newTestPool(t)
	assert.Error(t, p.EnsureRelay(context.Background(), "https://example.com"))
	assert.Error(t, p.EnsureRelay(context.Background(), "not a url at all \x00"))
}

func TestValidRelayURL(t *testing.T) {
	assert.True(t, validRelayURL("wss://relay.damus.io"))
	assert.True(t, validRelayURL("ws://localhost:7447"))
	assert.False(t, validRelayURL("https://relay.damus.io"))
	assert.False(t, validRelayURL("wss://"))
	assert.False(t, validRelayURL(""))
}

func TestSafeRelayURL(t *testing.T) {
	// Localhost stays open for development.
	assert.True(t, safeRelayURL("ws://localhost:7447"))
	assert.True(t, safeRelayURL("ws://127.0.0.1:7447"))
	assert.True(t, safeRelayURL("ws://[::1]:7447"))

	// IP literals resolve without DNS, so these are deterministic.
	assert.False(t, safeRelayURL("ws://10.0.0.1"))
	assert.False(t, safeRelayURL("ws://172.16.0.1"))
	assert.False(t, safeRelayURL("ws://192.168.1.1"))
	assert.False(t, safeRelayURL("ws://169.254.169.254"))
	assert.False(t, safeRelayURL("ws://0.0.0.0"))
	assert.False(t, safeRelayURL("ws://224.0.0.1"))

	// Internal-looking names are blocked even when they do not resolve.
	assert.False(t, safeRelayURL("wss://relay.example.invalid."))
	assert.False(t, safeRelayURL("wss://relay.local"))
	assert.False(t, safeRelayURL("wss://db.internal"))
}

func TestSafeRelayIP(t *testing.T) {
	assert.True(t, safeRelayIP(net.ParseIP("8.8.8.8")))
	assert.True(t, safeRelayIP(net.ParseIP("127.0.0.1")))
	assert.True(t, safeRelayIP(net.ParseIP("::1")))
	assert.False(t, safeRelayIP(net.ParseIP("10.1.2.3")))
	assert.False(t, safeRelayIP(net.ParseIP("172.31.255.255")))
	assert.False(t, safeRelayIP(net.ParseIP("192.168.0.42")))
	assert.False(t, safeRelayIP(net.ParseIP("169.254.169.254")))
	assert.False(t, safeRelayIP(net.ParseIP("169.254.1.1")))
	assert.False(t, safeRelayIP(net.ParseIP("0.0.0.0")))
	assert.False(t, safeRelayIP(net.ParseIP("224.0.0.1")))
	assert.False(t, safeRelayIP(net.ParseIP("fe80::1")))
	assert.False(t, safeRelayIP(nil))
}

func TestEnsureRelayBlocksUnsafeDestination(t *testing.T) {
	p := NewPool(Config{})
	defer p.Close()

	err := p.EnsureRelay(context.Background(), "ws://169.254.169.254/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsafe destination")
}

func TestParseEventPayload(t *testing.T) {
	evt, ok := parseEventPayload(map[string]interface{}{
		"id": "abc", "pubkey": "def", "created_at": float64(100), "kind": float64(9735),
	})
	require.True(t, ok)
	assert.Equal(t, "abc", evt.ID)
	assert.Equal(t, int64(100), evt.CreatedAt)

	_, ok = parseEventPayload(map[string]interface{}{"pubkey": "no-id"})
	assert.False(t, ok)

	_, ok = parseEventPayload("not an object")
	assert.False(t, ok)
}
