package relay

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"zapview/internal/types"
)

// EventID recomputes the NIP-01 event id: the sha256 of the canonical
// serialization [0, pubkey, created_at, kind, tags, content].
func EventID(evt *types.Event) (string, error) {
	tags := evt.Tags
	if tags == nil {
		tags = [][]string{}
	}
	arr := []interface{}{0, evt.PubKey, evt.CreatedAt, evt.Kind, tags, evt.Content}

	// The canonical form does not HTML-escape content.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(arr); err != nil {
		return "", err
	}
	serialized := bytes.TrimRight(buf.Bytes(), "\n")

	hash := sha256.Sum256(serialized)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyEvent checks that the event's id matches its serialization and
// that the schnorr signature is valid for the event's pubkey.
func VerifyEvent(evt *types.Event) bool {
	id, err := EventID(evt)
	if err != nil || id != evt.ID {
		return false
	}

	pkBytes, err := hex.DecodeString(evt.PubKey)
	if err != nil || len(pkBytes) != 32 {
		return false
	}
	pubKey, err := schnorr.ParsePubKey(pkBytes)
	if err != nil {
		return false
	}

	sigBytes, err := hex.DecodeString(evt.Sig)
	if err != nil || len(sigBytes) != 64 {
		return false
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}

	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return false
	}
	return sig.Verify(idBytes, pubKey)
}
