// Package types provides shared type definitions used across internal packages.
package types

// Nostr event kinds the core cares about.
const (
	KindProfileMetadata = 0
	KindZapReceipt      = 9735
)

// Event represents a Nostr event (NIP-01)
type Event struct {
	ID         string     `json:"id"`
	PubKey     string     `json:"pubkey"`
	CreatedAt  int64      `json:"created_at"`
	Kind       int        `json:"kind"`
	Tags       [][]string `json:"tags"`
	Content    string     `json:"content"`
	Sig        string     `json:"sig"`
	RelaysSeen []string   `json:"-"`
}

// TagValue returns the value of the first tag with the given name,
// or "" if the event carries no such tag.
func (e *Event) TagValue(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// TagValues returns the values of every tag with the given name.
func (e *Event) TagValues(name string) []string {
	var values []string
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			values = append(values, tag[1])
		}
	}
	return values
}

// Filter represents a Nostr subscription filter (NIP-01)
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Limit   int
	Since   *int64
	Until   *int64
	PTags   []string // #p tag filter (zap recipient)
	ETags   []string // #e tag filter (zapped event)
	ATags   []string // #a tag filter (addressable events)
	DTags   []string // #d tag filter (d-tag for addressable events)
}

// ToWire converts the filter to the map shape sent inside a REQ message.
func (f Filter) ToWire() map[string]interface{} {
	wire := map[string]interface{}{}
	if len(f.IDs) > 0 {
		wire["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		wire["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		wire["kinds"] = f.Kinds
	}
	if f.Limit > 0 {
		wire["limit"] = f.Limit
	}
	if f.Since != nil {
		wire["since"] = *f.Since
	}
	if f.Until != nil {
		wire["until"] = *f.Until
	}
	if len(f.PTags) > 0 {
		wire["#p"] = f.PTags
	}
	if len(f.ETags) > 0 {
		wire["#e"] = f.ETags
	}
	if len(f.ATags) > 0 {
		wire["#a"] = f.ATags
	}
	if len(f.DTags) > 0 {
		wire["#d"] = f.DTags
	}
	return wire
}

// NostrMessage represents a raw Nostr protocol message
type NostrMessage []interface{}

// Reference is a resolved "quoted" event referenced by tag from a zap
// receipt, keyed by the quoting event's tag value (an event id or an
// addressable coordinate). Immutable once fetched.
type Reference struct {
	ID        string     `json:"id"`
	Kind      int        `json:"kind"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Content   string     `json:"content"`
	Tags      [][]string `json:"tags"`
}

// ReferenceFromEvent builds a Reference from a fetched event.
func ReferenceFromEvent(evt Event) *Reference {
	return &Reference{
		ID:        evt.ID,
		Kind:      evt.Kind,
		PubKey:    evt.PubKey,
		CreatedAt: evt.CreatedAt,
		Content:   evt.Content,
		Tags:      evt.Tags,
	}
}
