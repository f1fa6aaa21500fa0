// Package relay implements the websocket transport against a set of Nostr
// relays: a connection pool with one multiplexed socket per relay, fan-out
// subscriptions with cross-relay deduplication, and bounded synchronous
// queries.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"zapview/internal/types"
)

// idleTimeout is how long a connection with no subscriptions survives
// before the cleanup loop drops it.
const idleTimeout = 2 * time.Minute

// subscription represents an active subscription on one relay connection.
type subscription struct {
	id        string
	events    chan types.Event
	eose      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// close marks the subscription finished exactly once.
func (s *subscription) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// conn manages a single websocket connection with multiple subscriptions.
type conn struct {
	ws            *websocket.Conn
	relayURL      string
	verify        bool
	mu            sync.Mutex
	writeMu       sync.Mutex
	subscriptions map[string]*subscription
	closed        bool
	lastActivity  time.Time
}

// Config tunes pool behavior.
type Config struct {
	// VerifySignatures drops events whose id or schnorr signature does
	// not check out before they reach any subscriber.
	VerifySignatures bool
}

// Pool manages connections to multiple relays.
type Pool struct {
	mu          sync.RWMutex
	connections map[string]*conn
	cfg         Config
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewPool creates a connection pool and starts its idle-connection
// cleanup loop.
func NewPool(cfg Config) *Pool {
	p := &Pool{
		connections: make(map[string]*conn),
		cfg:         cfg,
		stopCh:      make(chan struct{}),
	}
	go p.cleanupLoop()
	return p
}

// Close tears down every connection. Idempotent.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.stopCh)
		p.mu.Lock()
		conns := p.connections
		p.connections = make(map[string]*conn)
		p.mu.Unlock()
		for _, rc := range conns {
			rc.markClosed()
		}
	})
}

// EnsureRelay dials the relay if no live connection exists yet.
func (p *Pool) EnsureRelay(ctx context.Context, relayURL string) error {
	_, err := p.getOrCreateConn(ctx, relayURL)
	return err
}

// getOrCreateConn gets an existing connection or creates a new one.
func (p *Pool) getOrCreateConn(ctx context.Context, relayURL string) (*conn, error) {
	if !validRelayURL(relayURL) {
		return nil, errors.New("relay URL rejected: not a ws/wss URL")
	}
	if !safeRelayURL(relayURL) {
		return nil, errors.New("relay URL rejected: unsafe destination")
	}

	p.mu.RLock()
	rc := p.connections[relayURL]
	p.mu.RUnlock()

	if rc != nil && !rc.isClosed() {
		return rc, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring the write lock.
	rc = p.connections[relayURL]
	if rc != nil && !rc.isClosed() {
		return rc, nil
	}

	slog.Debug("relay: dialing", "relay", relayURL)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return nil, err
	}

	rc = &conn{
		ws:            ws,
		relayURL:      relayURL,
		verify:        p.cfg.VerifySignatures,
		subscriptions: make(map[string]*subscription),
		lastActivity:  time.Now(),
	}
	p.connections[relayURL] = rc

	go rc.readLoop()

	return rc, nil
}

// subscribe opens one subscription on one relay.
func (p *Pool) subscribe(ctx context.Context, relayURL string, filter types.Filter) (*subscription, *conn, error) {
	rc, err := p.getOrCreateConn(ctx, relayURL)
	if err != nil {
		return nil, nil, err
	}

	sub := &subscription{
		id:     "zv-" + uuid.NewString()[:18],
		events: make(chan types.Event, 100),
		eose:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		return nil, nil, errors.New("connection closed")
	}
	rc.subscriptions[sub.id] = sub
	rc.lastActivity = time.Now()
	rc.mu.Unlock()

	req := []interface{}{"REQ", sub.id, filter.ToWire()}
	rc.writeMu.Lock()
	err = rc.ws.WriteJSON(req)
	rc.writeMu.Unlock()
	if err != nil {
		rc.mu.Lock()
		delete(rc.subscriptions, sub.id)
		rc.mu.Unlock()
		rc.markClosed()
		p.dropConn(relayURL, rc)
		return nil, nil, err
	}

	return sub, rc, nil
}

// unsubscribe sends CLOSE (best effort) and finishes the subscription.
func (p *Pool) unsubscribe(rc *conn, sub *subscription) {
	if rc == nil || sub == nil {
		return
	}

	rc.mu.Lock()
	_, exists := rc.subscriptions[sub.id]
	shouldSendClose := !rc.closed && exists
	if exists {
		delete(rc.subscriptions, sub.id)
	}
	rc.mu.Unlock()

	if shouldSendClose {
		closeMsg := []interface{}{"CLOSE", sub.id}
		rc.writeMu.Lock()
		rc.ws.WriteJSON(closeMsg)
		rc.writeMu.Unlock()
	}

	sub.close()
}

// dropConn removes a closed connection from the pool map.
func (p *Pool) dropConn(relayURL string, rc *conn) {
	p.mu.Lock()
	if p.connections[relayURL] == rc {
		delete(p.connections, relayURL)
	}
	p.mu.Unlock()
}

// readLoop continuously reads from the connection and routes messages.
func (rc *conn) readLoop() {
	defer rc.markClosed()

	for {
		var msg types.NostrMessage
		if err := rc.ws.ReadJSON(&msg); err != nil {
			if !rc.isClosed() {
				slog.Debug("relay: read error", "relay", rc.relayURL, "error", err)
			}
			return
		}

		rc.mu.Lock()
		rc.lastActivity = time.Now()
		rc.mu.Unlock()

		if len(msg) < 2 {
			continue
		}
		msgType, ok := msg[0].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "EVENT":
			if len(msg) < 3 {
				continue
			}
			subID, ok := msg[1].(string)
			if !ok {
				continue
			}
			evt, ok := parseEventPayload(msg[2])
			if !ok {
				continue
			}
			if rc.verify && !VerifyEvent(&evt) {
				invalidEventsTotal.Add(1)
				slog.Debug("relay: dropping unverifiable event", "relay", rc.relayURL, "id", evt.ID)
				continue
			}
			evt.RelaysSeen = []string{rc.relayURL}

			rc.mu.Lock()
			sub := rc.subscriptions[subID]
			rc.mu.Unlock()

			if sub != nil {
				select {
				case sub.events <- evt:
				case <-sub.done:
				default:
					droppedEventsTotal.Add(1)
				}
			}

		case "EOSE":
			subID, ok := msg[1].(string)
			if !ok {
				continue
			}
			rc.mu.Lock()
			sub := rc.subscriptions[subID]
			rc.mu.Unlock()
			if sub != nil {
				select {
				case sub.eose <- struct{}{}:
				default:
				}
			}

		case "CLOSED":
			subID, _ := msg[1].(string)
			rc.mu.Lock()
			sub := rc.subscriptions[subID]
			if sub != nil {
				delete(rc.subscriptions, subID)
			}
			rc.mu.Unlock()
			if sub != nil {
				sub.close()
			}

		case "NOTICE":
			notice, _ := msg[1].(string)
			slog.Debug("relay: NOTICE", "relay", rc.relayURL, "notice", notice)
		}
	}
}

func (rc *conn) isClosed() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.closed
}

// markClosed marks the connection as closed and finishes its subscriptions.
func (rc *conn) markClosed() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return
	}
	rc.closed = true
	rc.ws.Close()

	for _, sub := range rc.subscriptions {
		sub.close()
	}
	rc.subscriptions = make(map[string]*subscription)
}

// cleanupLoop periodically removes stale connections.
func (p *Pool) cleanupLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.cleanup()
		}
	}
}

// cleanup drops closed connections and ones idle past idleTimeout.
func (p *Pool) cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for relayURL, rc := range p.connections {
		rc.mu.Lock()
		idle := len(rc.subscriptions) == 0 && now.Sub(rc.lastActivity) > idleTimeout
		closed := rc.closed
		rc.mu.Unlock()

		if closed || idle {
			if !closed {
				slog.Debug("relay: closing idle connection", "relay", relayURL)
				rc.markClosed()
			}
			delete(p.connections, relayURL)
		}
	}
}

func validRelayURL(relayURL string) bool {
	parsed, err := url.Parse(relayURL)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "ws" || parsed.Scheme == "wss") && parsed.Host != ""
}

// safeRelayURL decides whether a relay host is safe to dial. Localhost
// is allowed for development; other private, link-local and metadata
// destinations are blocked so a hostile relay list cannot point the
// pool at internal services.
func safeRelayURL(relayURL string) bool {
	parsed, err := url.Parse(relayURL)
	if err != nil {
		return false
	}

	host := parsed.Hostname()
	if host == "" {
		return false
	}

	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		// Unresolvable hosts may still be valid externally, but
		// obvious internal names are blocked.
		if host[len(host)-1] == '.' ||
			strings.Contains(host, ".local") || strings.Contains(host, ".internal") {
			return false
		}
		return true
	}

	for _, ip := range ips {
		if !safeRelayIP(ip) {
			return false
		}
	}

	return true
}

// safeRelayIP allows loopback and public addresses only.
func safeRelayIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	if ip.IsPrivate() {
		return false
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return false
	}
	if ip.IsUnspecified() {
		return false
	}
	// Cloud metadata endpoint.
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return false
	}
	if ip.IsMulticast() {
		return false
	}
	return true
}
