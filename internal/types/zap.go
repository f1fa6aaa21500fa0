package types

import (
	"encoding/json"

	"zapview/internal/bolt11"
)

// ZapReceipt is the parsed form of a kind-9735 event.
type ZapReceipt struct {
	// SenderPubKey is the pubkey of the zap request embedded in the
	// receipt's description tag, falling back to the receipt's own
	// pubkey (the LNURL server key) when the request is unparseable.
	SenderPubKey    string
	RecipientPubKey string
	AmountMsats     int64
	AmountKnown     bool
	Comment         string
	ZappedEventID   string
	ZappedAddress   string
}

// ParseZapReceipt extracts zap details from a kind-9735 event. Returns
// nil for events of any other kind. Malformed pieces (bad description
// JSON, undecodable bolt11) degrade to fallbacks, never to a nil result.
func ParseZapReceipt(evt *Event) *ZapReceipt {
	if evt.Kind != KindZapReceipt {
		return nil
	}

	z := &ZapReceipt{
		SenderPubKey:    evt.PubKey,
		RecipientPubKey: evt.TagValue("p"),
		ZappedEventID:   evt.TagValue("e"),
		ZappedAddress:   evt.TagValue("a"),
	}

	if invoice := evt.TagValue("bolt11"); invoice != "" {
		z.AmountMsats, z.AmountKnown = bolt11.DecodeAmount(invoice)
	}

	// The description tag holds the original zap request event as JSON;
	// its pubkey is the actual sender and its content the comment.
	if desc := evt.TagValue("description"); desc != "" {
		var request struct {
			PubKey  string `json:"pubkey"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(desc), &request); err == nil && request.PubKey != "" {
			z.SenderPubKey = request.PubKey
			z.Comment = request.Content
		}
	}

	return z
}
