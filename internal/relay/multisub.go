package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"zapview/internal/types"
)

// Handlers carries the callbacks a subscriber registers with
// SubscribeMany. OnEvent fires once per distinct event across all relays;
// OnEOSE fires once, after every reachable relay has reported
// end-of-stored-events (or failed).
type Handlers struct {
	OnEvent func(types.Event)
	OnEOSE  func()
}

// MultiSub is the handle for one SubscribeMany call. Close is idempotent.
type MultiSub struct {
	cancel    context.CancelFunc
	closeOnce sync.Once
	pool      *Pool

	mu    sync.Mutex
	parts []subPart
	seen  map[string]bool
}

type subPart struct {
	rc  *conn
	sub *subscription
}

// Close tears the subscription down on every relay exactly once.
func (m *MultiSub) Close() {
	m.closeOnce.Do(func() {
		m.cancel()
		m.mu.Lock()
		parts := m.parts
		m.parts = nil
		m.mu.Unlock()
		for _, part := range parts {
			m.pool.unsubscribe(part.rc, part.sub)
		}
	})
}

// SubscribeMany opens the given filters on every relay URL and streams
// deduplicated events into the handlers. Relays that cannot be reached
// contribute zero results and do not hold up the EOSE signal; if no relay
// is reachable at all, OnEOSE fires immediately and an empty handle is
// returned rather than an error.
func (p *Pool) SubscribeMany(ctx context.Context, relayURLs []string, filters []types.Filter, h Handlers) *MultiSub {
	subCtx, cancel := context.WithCancel(ctx)
	m := &MultiSub{
		cancel: cancel,
		pool:   p,
		seen:   make(map[string]bool),
	}

	var wg sync.WaitGroup
	for _, relayURL := range relayURLs {
		for _, filter := range filters {
			sub, rc, err := p.subscribe(subCtx, relayURL, filter)
			if err != nil {
				relayErrorsTotal.Add(1)
				slog.Debug("relay: subscribe failed", "relay", relayURL, "error", err)
				continue
			}

			m.mu.Lock()
			m.parts = append(m.parts, subPart{rc: rc, sub: sub})
			m.mu.Unlock()

			wg.Add(1)
			go func(sub *subscription) {
				defer wg.Done()
				m.pump(subCtx, sub, h)
			}(sub)
		}
	}

	// One EOSE for the whole set, after every per-relay pump has either
	// seen its relay's EOSE or given up.
	go func() {
		wg.Wait()
		if h.OnEOSE != nil {
			select {
			case <-subCtx.Done():
			default:
				h.OnEOSE()
			}
		}
	}()

	return m
}

// pump forwards one relay subscription into the handlers until EOSE.
// After EOSE it keeps streaming live events in the background so
// real-time arrivals still surface.
func (m *MultiSub) pump(ctx context.Context, sub *subscription, h Handlers) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case evt := <-sub.events:
			m.deliver(evt, h)
		case <-sub.eose:
			go m.pumpLive(ctx, sub, h)
			return
		}
	}
}

// pumpLive continues delivering post-EOSE events.
func (m *MultiSub) pumpLive(ctx context.Context, sub *subscription, h Handlers) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case evt := <-sub.events:
			m.deliver(evt, h)
		}
	}
}

// deliver dedups across relays before invoking the event handler.
func (m *MultiSub) deliver(evt types.Event, h Handlers) {
	m.mu.Lock()
	if m.seen[evt.ID] {
		m.mu.Unlock()
		return
	}
	m.seen[evt.ID] = true
	m.mu.Unlock()

	if h.OnEvent != nil {
		h.OnEvent(evt)
	}
}

// parseEventPayload converts the third element of an EVENT message into a
// typed event.
func parseEventPayload(payload interface{}) (types.Event, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return types.Event{}, false
	}
	var evt types.Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return types.Event{}, false
	}
	if evt.ID == "" {
		return types.Event{}, false
	}
	return evt, true
}
