package zapview

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"zapview/internal/types"
)

// ViewState names where a view sits in its lifecycle.
type ViewState int

const (
	StateIdle ViewState = iota
	StateBackfillInFlight
	StateBackfillComplete
	StatePaginationInFlight
	StateClosed
)

func (s ViewState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBackfillInFlight:
		return "backfill"
	case StateBackfillComplete:
		return "ready"
	case StatePaginationInFlight:
		return "paginating"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// FeedEvent is one zap receipt as the view holds it: the raw event plus
// the parsed receipt, the real-time flag, and the lazily resolved
// reference to the zapped note.
type FeedEvent struct {
	Event
	Zap      *ZapReceipt
	RealTime bool

	// Reference is resolved at most once per event, in the background.
	// Nil until resolution lands, and stays nil when nothing resolvable
	// is tagged or the lookup failed.
	Reference *Reference
}

// ViewStatus is a snapshot of a view for callers that render it.
type ViewStatus struct {
	State      ViewState
	EventCount int
	// NoResults is set once a backfill finished without a single event.
	NoResults bool
	// CanLoadMore reports whether pagination is armed.
	CanLoadMore bool
	// BaselineAvailable reports whether aggregate stats rest on the
	// stats service baseline rather than only on cached events.
	BaselineAvailable bool
}

// viewState is the per-view record. All mutable fields are guarded by
// mu; the subscription callback, pagination and the public getters all
// contend on it.
type viewState struct {
	id  string
	cfg ViewConfig

	// relayURLs is the configured set merged with identifier hints.
	relayURLs []string
	dec       decodedIdentifier

	ctx    context.Context
	cancel context.CancelFunc
	sub    Subscription

	mu           sync.Mutex
	state        ViewState
	events       []*FeedEvent
	byID         map[string]bool
	fingerprints map[string]bool
	noResults    bool

	// paginationArmed is set at EOSE when the backfill filled the
	// initial page, and cleared when a pagination round comes back
	// empty.
	paginationArmed bool
	lastLoadMore    time.Time

	// oldestCreatedAt is the pagination cursor.
	oldestCreatedAt int64

	// baseline comes from the stats service; realtime* accumulate only
	// events classified as real-time after the baseline was taken.
	baseline      *AggregateStats
	realtimeCount int64
	realtimeMsats int64
	realtimeMax   int64

	closeOnce sync.Once
}

func newViewState(id string, cfg ViewConfig, dec decodedIdentifier, relayURLs []string) *viewState {
	v := &viewState{
		id:           id,
		cfg:          cfg,
		dec:          dec,
		relayURLs:    relayURLs,
		state:        StateIdle,
		byID:         make(map[string]bool),
		fingerprints: make(map[string]bool),
	}
	v.ctx, v.cancel = context.WithCancel(context.Background())
	return v
}

// fingerprint is the secondary dedup key for events that arrive with
// differing ids from broken relays but identical payloads.
func fingerprint(evt *Event) string {
	return fmt.Sprintf("%d\x00%s\x00%d\x00%s", evt.Kind, evt.PubKey, evt.CreatedAt, evt.Content)
}

// ingest inserts an event into the ordered set. Returns the stored
// FeedEvent and whether it was new; duplicates by id or fingerprint are
// dropped and reported as not new.
func (v *viewState) ingest(evt Event, realTime bool) (*FeedEvent, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state == StateClosed {
		return nil, false
	}
	if v.byID[evt.ID] {
		return nil, false
	}
	fp := fingerprint(&evt)
	if v.fingerprints[fp] {
		return nil, false
	}

	fe := &FeedEvent{Event: evt, RealTime: realTime}
	if zap := types.ParseZapReceipt(&fe.Event); zap != nil {
		fe.Zap = zap
	}

	v.byID[evt.ID] = true
	v.fingerprints[fp] = true
	v.insertSorted(fe)

	if v.oldestCreatedAt == 0 || evt.CreatedAt < v.oldestCreatedAt {
		v.oldestCreatedAt = evt.CreatedAt
	}
	v.noResults = false

	if realTime {
		v.realtimeCount++
		if fe.Zap != nil && fe.Zap.AmountKnown {
			v.realtimeMsats += fe.Zap.AmountMsats
			if fe.Zap.AmountMsats > v.realtimeMax {
				v.realtimeMax = fe.Zap.AmountMsats
			}
		}
	}
	return fe, true
}

// insertSorted keeps events ordered newest first. Real-time events win
// ties so a fresh zap surfaces at the very front.
func (v *viewState) insertSorted(fe *FeedEvent) {
	var idx int
	if fe.RealTime {
		idx = sort.Search(len(v.events), func(i int) bool {
			return v.events[i].CreatedAt <= fe.CreatedAt
		})
	} else {
		idx = sort.Search(len(v.events), func(i int) bool {
			return v.events[i].CreatedAt < fe.CreatedAt
		})
	}
	v.events = append(v.events, nil)
	copy(v.events[idx+1:], v.events[idx:])
	v.events[idx] = fe
}

// setReference attaches a resolved reference to the cached event.
func (v *viewState) setReference(eventID string, ref *Reference) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, fe := range v.events {
		if fe.ID == eventID {
			if fe.Reference == nil {
				fe.Reference = ref
			}
			return
		}
	}
}

// snapshot copies the ordered event list.
func (v *viewState) snapshot() []*FeedEvent {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*FeedEvent, len(v.events))
	copy(out, v.events)
	return out
}

func (v *viewState) status() ViewStatus {
	v.mu.Lock()
	defer v.mu.Unlock()
	return ViewStatus{
		State:             v.state,
		EventCount:        len(v.events),
		NoResults:         v.noResults,
		CanLoadMore:       v.paginationArmed && v.state == StateBackfillComplete,
		BaselineAvailable: v.baseline != nil,
	}
}

// aggregate folds the current stats. With a baseline, only real-time
// deltas are added on top so paginated history never double-counts.
// Without one, everything cached is summed.
func (v *viewState) aggregate() AggregateStats {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.baseline != nil {
		out := AggregateStats{
			Count:      v.baseline.Count + v.realtimeCount,
			TotalMsats: v.baseline.TotalMsats + v.realtimeMsats,
			MaxMsats:   v.baseline.MaxMsats,
		}
		if v.realtimeMax > out.MaxMsats {
			out.MaxMsats = v.realtimeMax
		}
		return out
	}

	var out AggregateStats
	for _, fe := range v.events {
		out.Count++
		if fe.Zap != nil && fe.Zap.AmountKnown {
			out.TotalMsats += fe.Zap.AmountMsats
			if fe.Zap.AmountMsats > out.MaxMsats {
				out.MaxMsats = fe.Zap.AmountMsats
			}
		}
	}
	return out
}

func (v *viewState) setBaseline(s AggregateStats) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == StateClosed || v.baseline != nil {
		return
	}
	v.baseline = &s
}

// shutdown tears the view down. Safe to call more than once.
func (v *viewState) shutdown() {
	v.closeOnce.Do(func() {
		v.mu.Lock()
		v.state = StateClosed
		sub := v.sub
		v.sub = nil
		v.mu.Unlock()

		if sub != nil {
			sub.Close()
		}
		v.cancel()
	})
}

// senderPubkeys lists the distinct zap senders the view has seen.
func (v *viewState) senderPubkeys() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	seen := make(map[string]bool, len(v.events))
	var out []string
	for _, fe := range v.events {
		pk := fe.PubKey
		if fe.Zap != nil && fe.Zap.SenderPubKey != "" {
			pk = fe.Zap.SenderPubKey
		}
		if !seen[pk] {
			seen[pk] = true
			out = append(out, pk)
		}
	}
	return out
}
