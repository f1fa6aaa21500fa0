package zapview

import (
	"context"
	"fmt"
)

// InitializeView opens (or reopens) a view. A previous view under the
// same id is torn down first, so reinitialising never leaks a
// subscription. The call returns once the subscription is open; events
// stream in through the background pump.
func (m *Manager) InitializeView(ctx context.Context, viewID string, cfg ViewConfig) error {
	if m.closed() {
		return ErrClosed
	}
	if viewID == "" {
		return fmt.Errorf("zapview: empty view id")
	}
	cfg = cfg.withDefaults()
	if len(cfg.RelayURLs) == 0 {
		return fmt.Errorf("zapview: view %q has no relays", viewID)
	}

	dec, err := m.decodeIdentifier(cfg.Identifier)
	if err != nil {
		return fmt.Errorf("zapview: view %q: %w", viewID, err)
	}

	relayURLs := mergeRelays(cfg.RelayURLs, dec.relayHints)
	v := newViewState(viewID, cfg, dec, relayURLs)

	m.mu.Lock()
	prev := m.views[viewID]
	m.views[viewID] = v
	m.mu.Unlock()
	if prev != nil {
		prev.shutdown()
	}

	filter := dec.filter
	filter.Limit = cfg.InitialLoadCount

	v.mu.Lock()
	v.state = StateBackfillInFlight
	v.mu.Unlock()

	sub := m.transport.SubscribeMany(v.ctx, relayURLs, []Filter{filter}, Handlers{
		OnEvent: func(evt Event) { m.handleEvent(v, evt) },
		OnEOSE:  func() { m.handleEOSE(v) },
	})

	v.mu.Lock()
	if v.state == StateClosed {
		// Lost a race with CloseView or Close.
		v.mu.Unlock()
		sub.Close()
		return nil
	}
	v.sub = sub
	v.mu.Unlock()

	if m.stats != nil {
		go m.fetchBaseline(v)
	}

	m.log.Debug("view initialized",
		"view", viewID,
		"target", dec.target,
		"relays", len(relayURLs))
	return nil
}

// handleEvent classifies one incoming event as real-time or historical
// and folds it into the view.
func (m *Manager) handleEvent(v *viewState, evt Event) {
	realTime := evt.CreatedAt >= m.now().Add(-m.opts.RealtimeSkew).Unix()

	fe, added := v.ingest(evt, realTime)
	if !added {
		return
	}
	go m.enrich(v, fe)
}

// enrich resolves the reference and the sender profile for one event.
// Both lookups are batched with whatever else is in flight.
func (m *Manager) enrich(v *viewState, fe *FeedEvent) {
	pk := fe.PubKey
	if fe.Zap != nil && fe.Zap.SenderPubKey != "" {
		pk = fe.Zap.SenderPubKey
	}
	go m.profiles.Resolve(v.ctx, v.relayURLs, pk)

	if ref := m.resolver.Resolve(v.ctx, v.relayURLs, &fe.Event); ref != nil {
		v.setReference(fe.ID, ref)
	}
}

// handleEOSE marks the backfill complete and decides whether pagination
// arms. Fires once per subscription, after every relay drained.
func (m *Manager) handleEOSE(v *viewState) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != StateBackfillInFlight {
		return
	}
	v.state = StateBackfillComplete
	if len(v.events) == 0 {
		v.noResults = true
	}
	// A short first page means the relays are exhausted already, so
	// asking for older events would only come back empty.
	v.paginationArmed = len(v.events) >= v.cfg.InitialLoadCount
}

// fetchBaseline asks the stats service for the all-time aggregate.
// Failure leaves the view on cached-event folding.
func (m *Manager) fetchBaseline(v *viewState) {
	ctx, cancel := context.WithTimeout(v.ctx, m.opts.StatsTimeout)
	defer cancel()

	stats, ok := m.stats.Fetch(ctx, v.dec.target, v.dec.hint)
	if !ok {
		m.log.Debug("stats baseline unavailable", "view", v.id)
		return
	}
	v.setBaseline(stats)
}

// LoadMore fetches one more page of older events and returns the number
// of new events added. Calls inside the debounce window, while a page is
// already in flight, or on a view that never armed are swallowed and
// also return zero, so a zero result alone does not mean the history is
// exhausted. Check Status: CanLoadMore stays true after a swallowed
// call and goes false only once an empty page disarms pagination.
func (m *Manager) LoadMore(ctx context.Context, viewID string) (int, error) {
	if m.closed() {
		return 0, ErrClosed
	}
	v, ok := m.view(viewID)
	if !ok {
		return 0, ErrViewNotFound
	}

	now := m.now()

	v.mu.Lock()
	if v.state != StateBackfillComplete || !v.paginationArmed {
		v.mu.Unlock()
		return 0, nil
	}
	if !v.lastLoadMore.IsZero() && now.Sub(v.lastLoadMore) < m.opts.LoadMoreDebounce {
		v.mu.Unlock()
		return 0, nil
	}
	v.lastLoadMore = now
	v.state = StatePaginationInFlight
	until := v.oldestCreatedAt
	v.mu.Unlock()

	filter := v.dec.filter
	filter.Limit = v.cfg.AdditionalLoadCount
	if until > 0 {
		filter.Until = &until
	}

	qctx, cancel := context.WithTimeout(ctx, m.opts.PaginationTimeout)
	defer cancel()
	results := m.transport.QuerySync(qctx, v.relayURLs, filter)

	added := 0
	for _, evt := range results {
		fe, isNew := v.ingest(evt, false)
		if !isNew {
			continue
		}
		added++
		go m.enrich(v, fe)
	}

	v.mu.Lock()
	if v.state == StatePaginationInFlight {
		v.state = StateBackfillComplete
	}
	if added == 0 {
		v.paginationArmed = false
	}
	v.mu.Unlock()

	m.log.Debug("pagination round", "view", viewID, "added", added)
	return added, nil
}

// GetCachedEvents returns the view's events, newest first.
func (m *Manager) GetCachedEvents(viewID string) ([]*FeedEvent, error) {
	v, ok := m.view(viewID)
	if !ok {
		return nil, ErrViewNotFound
	}
	return v.snapshot(), nil
}

// GetAggregateStats returns the view's zap totals.
func (m *Manager) GetAggregateStats(viewID string) (AggregateStats, error) {
	v, ok := m.view(viewID)
	if !ok {
		return AggregateStats{}, ErrViewNotFound
	}
	return v.aggregate(), nil
}

// Status reports where the view sits in its lifecycle.
func (m *Manager) Status(viewID string) (ViewStatus, error) {
	v, ok := m.view(viewID)
	if !ok {
		return ViewStatus{}, ErrViewNotFound
	}
	return v.status(), nil
}

// CloseView tears down one view and drops its cached events. Closing a
// view that is already gone is a no-op.
func (m *Manager) CloseView(viewID string) {
	m.mu.Lock()
	v := m.views[viewID]
	delete(m.views, viewID)
	m.mu.Unlock()

	if v != nil {
		v.shutdown()
		m.log.Debug("view closed", "view", viewID)
	}
}

func (m *Manager) view(viewID string) (*viewState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.views[viewID]
	return v, ok
}
