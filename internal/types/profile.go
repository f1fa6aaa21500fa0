package types

import "encoding/json"

// AnonymousName is the display fallback for senders whose profile is
// missing or unparseable.
const AnonymousName = "anonymous"

// Profile contains user profile metadata (kind 0)
type Profile struct {
	PubKey      string `json:"pubkey"`
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Nip05       string `json:"nip05,omitempty"`

	// EventCreatedAt is the created_at of the kind-0 event this profile
	// came from. Recency comparisons use this, never arrival order.
	EventCreatedAt int64 `json:"-"`
}

// Display returns the best available display string for the profile.
func (p *Profile) Display() string {
	if p == nil {
		return AnonymousName
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.Name != "" {
		return p.Name
	}
	return AnonymousName
}

// ProfileFromEvent parses a kind-0 event's content into a Profile.
// Bad JSON in the body yields a usable profile with fallback naming
// rather than an error.
func ProfileFromEvent(evt Event) *Profile {
	p := &Profile{
		PubKey:         evt.PubKey,
		EventCreatedAt: evt.CreatedAt,
	}

	var meta struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
		Picture     string `json:"picture"`
		Nip05       string `json:"nip05"`
	}
	if err := json.Unmarshal([]byte(evt.Content), &meta); err != nil {
		return p
	}

	p.Name = meta.Name
	p.DisplayName = meta.DisplayName
	p.Picture = meta.Picture
	p.Nip05 = meta.Nip05
	return p
}
