package zapview

import (
	"fmt"

	"zapview/internal/nip19"
	"zapview/internal/types"
)

const (
	targetProfile = "profile"
	targetEvent   = "event"
)

// decodeIdentifier parses a bech32 view identifier into the zap filter
// it implies. Results, including relay hints, are cached so repeated
// view initialisations skip the bech32 work.
func (m *Manager) decodeIdentifier(identifier string) (decodedIdentifier, error) {
	if d, ok := m.identifiers.Get(identifier); ok {
		identifierCacheHits.Add(1)
		return d, nil
	}
	identifierCacheMisses.Add(1)

	dec, err := nip19.Decode(identifier)
	if err != nil {
		return decodedIdentifier{}, fmt.Errorf("decode identifier: %w", err)
	}

	d := decodedIdentifier{decoded: dec}
	switch dec.Type {
	case nip19.TypeNPub:
		d.target = targetProfile
		d.hint = dec.PubKey
		d.filter = Filter{
			Kinds: []int{types.KindZapReceipt},
			PTags: []string{dec.PubKey},
		}
	case nip19.TypeNProfile:
		d.target = targetProfile
		d.hint = dec.NProfile.Pubkey
		d.relayHints = dec.NProfile.RelayHints
		d.filter = Filter{
			Kinds: []int{types.KindZapReceipt},
			PTags: []string{dec.NProfile.Pubkey},
		}
	case nip19.TypeNote:
		d.target = targetEvent
		d.hint = dec.EventID
		d.filter = Filter{
			Kinds: []int{types.KindZapReceipt},
			ETags: []string{dec.EventID},
		}
	case nip19.TypeNEvent:
		d.target = targetEvent
		d.hint = dec.NEvent.EventID
		d.relayHints = dec.NEvent.RelayHints
		d.filter = Filter{
			Kinds: []int{types.KindZapReceipt},
			ETags: []string{dec.NEvent.EventID},
		}
	case nip19.TypeNAddr:
		coord := nip19.Coordinate(dec.NAddr.Kind, dec.NAddr.Author, dec.NAddr.DTag)
		d.target = targetEvent
		d.hint = coord
		d.relayHints = dec.NAddr.RelayHints
		d.filter = Filter{
			Kinds: []int{types.KindZapReceipt},
			ATags: []string{coord},
		}
	default:
		return decodedIdentifier{}, fmt.Errorf("unsupported identifier type %q", dec.Type)
	}

	m.identifiers.Set(identifier, d)
	return d, nil
}

// mergeRelays appends hint relays not already in the configured set.
func mergeRelays(configured, hints []string) []string {
	if len(hints) == 0 {
		return configured
	}
	seen := make(map[string]bool, len(configured))
	out := make([]string, 0, len(configured)+len(hints))
	for _, u := range configured {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	for _, u := range hints {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}
