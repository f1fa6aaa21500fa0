package relay

import (
	"context"
	"sort"

	"zapview/internal/types"
)

// QuerySync fetches events matching the filter from every relay, blocking
// until each reachable relay reports EOSE or ctx expires. Results are
// deduplicated by id and sorted by created_at descending (id as
// tie-break); the filter limit is applied after the merge.
func (p *Pool) QuerySync(ctx context.Context, relayURLs []string, filter types.Filter) []types.Event {
	if len(relayURLs) == 0 {
		return nil
	}

	collected := make(chan types.Event, 256)
	eoseDone := make(chan struct{})

	sub := p.SubscribeMany(ctx, relayURLs, []types.Filter{filter}, Handlers{
		OnEvent: func(evt types.Event) {
			select {
			case collected <- evt:
			case <-ctx.Done():
			}
		},
		OnEOSE: func() {
			close(eoseDone)
		},
	})
	defer sub.Close()

	var events []types.Event
	for {
		select {
		case evt := <-collected:
			events = append(events, evt)
		case <-eoseDone:
			// Drain whatever is already buffered, then stop.
			for {
				select {
				case evt := <-collected:
					events = append(events, evt)
				default:
					return finishQuery(events, filter.Limit)
				}
			}
		case <-ctx.Done():
			return finishQuery(events, filter.Limit)
		}
	}
}

func finishQuery(events []types.Event, limit int) []types.Event {
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt > events[j].CreatedAt
		}
		return events[i].ID > events[j].ID
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events
}
