// Package nip19 encodes and decodes the bech32 identifiers used to name
// profiles and events (npub, note, nprofile, nevent, naddr) and the
// kind:pubkey:identifier coordinate form for addressable events.
package nip19

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Identifier kinds returned by Decode.
const (
	TypeNPub     = "npub"
	TypeNote     = "note"
	TypeNProfile = "nprofile"
	TypeNEvent   = "nevent"
	TypeNAddr    = "naddr"
)

// Decoded is the tagged result of decoding any supported identifier.
// Exactly one of the pointer fields matching Type is set.
type Decoded struct {
	Type     string
	PubKey   string // npub
	EventID  string // note
	NProfile *NProfile
	NEvent   *NEvent
	NAddr    *NAddr
}

// NEvent represents a decoded nevent1... identifier
type NEvent struct {
	EventID    string   // 32-byte event ID as hex
	Author     string   // Optional 32-byte author pubkey as hex
	RelayHints []string // Optional relay URLs
}

// NAddr represents a decoded naddr1... identifier
type NAddr struct {
	Kind       uint32   // Event kind
	Author     string   // 32-byte author pubkey as hex
	DTag       string   // d-tag identifier
	RelayHints []string // Optional relay URLs
}

// NProfile represents a decoded nprofile1... identifier
type NProfile struct {
	Pubkey     string   // 32-byte pubkey as hex
	RelayHints []string // Optional relay URLs
}

// TLV type constants for NIP-19
const (
	tlvTypeSpecial = 0 // event_id for nevent, pubkey for nprofile, d-tag for naddr
	tlvTypeRelay   = 1 // relay URL
	tlvTypeAuthor  = 2 // author pubkey
	tlvTypeKind    = 3 // kind (for naddr)
)

// Decode parses any supported identifier. Unknown prefixes and malformed
// payloads return an error; callers at the core boundary convert that to
// a nil result.
func Decode(identifier string) (*Decoded, error) {
	identifier = strings.TrimSpace(identifier)
	identifier = strings.TrimPrefix(identifier, "nostr:")

	switch {
	case strings.HasPrefix(identifier, "npub1"):
		pk, err := decode32Byte(identifier, "npub")
		if err != nil {
			return nil, err
		}
		return &Decoded{Type: TypeNPub, PubKey: pk}, nil

	case strings.HasPrefix(identifier, "note1"):
		id, err := decode32Byte(identifier, "note")
		if err != nil {
			return nil, err
		}
		return &Decoded{Type: TypeNote, EventID: id}, nil

	case strings.HasPrefix(identifier, "nprofile1"):
		np, err := decodeNProfile(identifier)
		if err != nil {
			return nil, err
		}
		return &Decoded{Type: TypeNProfile, NProfile: np}, nil

	case strings.HasPrefix(identifier, "nevent1"):
		ne, err := decodeNEvent(identifier)
		if err != nil {
			return nil, err
		}
		return &Decoded{Type: TypeNEvent, NEvent: ne}, nil

	case strings.HasPrefix(identifier, "naddr1"):
		na, err := decodeNAddr(identifier)
		if err != nil {
			return nil, err
		}
		return &Decoded{Type: TypeNAddr, NAddr: na}, nil
	}

	return nil, errors.New("unknown identifier prefix")
}

// decode32Byte decodes identifiers whose payload is a bare 32-byte value.
func decode32Byte(bech, wantHRP string) (string, error) {
	hrp, data, err := bech32Decode(bech)
	if err != nil {
		return "", err
	}
	if hrp != wantHRP {
		return "", fmt.Errorf("invalid hrp for %s", wantHRP)
	}

	raw, err := bech32ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", err
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("invalid %s length", wantHRP)
	}

	return hex.EncodeToString(raw), nil
}

func decodeNEvent(nevent string) (*NEvent, error) {
	tlvBytes, err := decodeTLVPayload(nevent, "nevent")
	if err != nil {
		return nil, err
	}

	n := &NEvent{}
	forEachTLV(tlvBytes, func(tlvType byte, value []byte) {
		switch tlvType {
		case tlvTypeSpecial:
			if len(value) == 32 {
				n.EventID = hex.EncodeToString(value)
			}
		case tlvTypeRelay:
			n.RelayHints = append(n.RelayHints, string(value))
		case tlvTypeAuthor:
			if len(value) == 32 {
				n.Author = hex.EncodeToString(value)
			}
		}
	})

	if n.EventID == "" {
		return nil, errors.New("nevent missing event ID")
	}
	return n, nil
}

func decodeNProfile(nprofile string) (*NProfile, error) {
	tlvBytes, err := decodeTLVPayload(nprofile, "nprofile")
	if err != nil {
		return nil, err
	}

	n := &NProfile{}
	forEachTLV(tlvBytes, func(tlvType byte, value []byte) {
		switch tlvType {
		case tlvTypeSpecial:
			if len(value) == 32 {
				n.Pubkey = hex.EncodeToString(value)
			}
		case tlvTypeRelay:
			n.RelayHints = append(n.RelayHints, string(value))
		}
	})

	if n.Pubkey == "" {
		return nil, errors.New("nprofile missing pubkey")
	}
	return n, nil
}

func decodeNAddr(naddr string) (*NAddr, error) {
	tlvBytes, err := decodeTLVPayload(naddr, "naddr")
	if err != nil {
		return nil, err
	}

	n := &NAddr{}
	hasKind := false
	forEachTLV(tlvBytes, func(tlvType byte, value []byte) {
		switch tlvType {
		case tlvTypeSpecial:
			n.DTag = string(value)
		case tlvTypeRelay:
			n.RelayHints = append(n.RelayHints, string(value))
		case tlvTypeAuthor:
			if len(value) == 32 {
				n.Author = hex.EncodeToString(value)
			}
		case tlvTypeKind:
			if len(value) == 4 {
				n.Kind = binary.BigEndian.Uint32(value)
				hasKind = true
			}
		}
	})

	if !hasKind || n.Author == "" {
		return nil, errors.New("naddr missing required fields")
	}
	return n, nil
}

func decodeTLVPayload(bech, wantHRP string) ([]byte, error) {
	hrp, data, err := bech32Decode(bech)
	if err != nil {
		return nil, err
	}
	if hrp != wantHRP {
		return nil, fmt.Errorf("invalid hrp for %s", wantHRP)
	}
	return bech32ConvertBits(data, 5, 8, false)
}

// forEachTLV walks type-length-value records, skipping trailing garbage.
func forEachTLV(data []byte, fn func(tlvType byte, value []byte)) {
	for i := 0; i < len(data); {
		if i+2 > len(data) {
			return
		}
		tlvType := data[i]
		tlvLen := int(data[i+1])
		i += 2
		if i+tlvLen > len(data) {
			return
		}
		fn(tlvType, data[i:i+tlvLen])
		i += tlvLen
	}
}

// EncodePubKey encodes a hex pubkey as npub1...
func EncodePubKey(hexPubkey string) (string, error) {
	return encode32Byte(hexPubkey, "npub")
}

// EncodeEventID encodes a hex event ID as note1...
func EncodeEventID(hexEventID string) (string, error) {
	return encode32Byte(hexEventID, "note")
}

func encode32Byte(hexValue, hrp string) (string, error) {
	raw, err := hex.DecodeString(hexValue)
	if err != nil {
		return "", err
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("invalid %s payload length", hrp)
	}

	data, err := bech32ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32Encode(hrp, data)
}

// EncodeNProfile encodes a pubkey plus relay hints as nprofile1...
func EncodeNProfile(hexPubkey string, relayHints []string) (string, error) {
	pubkeyBytes, err := hex.DecodeString(hexPubkey)
	if err != nil {
		return "", err
	}
	if len(pubkeyBytes) != 32 {
		return "", errors.New("invalid pubkey length")
	}

	var tlv []byte
	tlv = appendTLV(tlv, tlvTypeSpecial, pubkeyBytes)
	for _, relay := range relayHints {
		tlv = appendTLV(tlv, tlvTypeRelay, []byte(relay))
	}

	return encodeTLV("nprofile", tlv)
}

// EncodeNEvent encodes an event ID plus optional author and relay hints
// as nevent1...
func EncodeNEvent(hexEventID, hexAuthor string, relayHints []string) (string, error) {
	idBytes, err := hex.DecodeString(hexEventID)
	if err != nil {
		return "", err
	}
	if len(idBytes) != 32 {
		return "", errors.New("invalid event ID length")
	}

	var tlv []byte
	tlv = appendTLV(tlv, tlvTypeSpecial, idBytes)
	for _, relay := range relayHints {
		tlv = appendTLV(tlv, tlvTypeRelay, []byte(relay))
	}
	if hexAuthor != "" {
		authorBytes, err := hex.DecodeString(hexAuthor)
		if err != nil || len(authorBytes) != 32 {
			return "", errors.New("invalid author pubkey")
		}
		tlv = appendTLV(tlv, tlvTypeAuthor, authorBytes)
	}

	return encodeTLV("nevent", tlv)
}

// EncodeNAddr encodes an naddr from kind, author pubkey (hex), and d-tag.
func EncodeNAddr(kind uint32, hexAuthor, dTag string) (string, error) {
	authorBytes, err := hex.DecodeString(hexAuthor)
	if err != nil {
		return "", err
	}
	if len(authorBytes) != 32 {
		return "", errors.New("invalid pubkey length")
	}

	var tlv []byte
	tlv = appendTLV(tlv, tlvTypeSpecial, []byte(dTag))
	tlv = appendTLV(tlv, tlvTypeAuthor, authorBytes)
	kindBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(kindBytes, kind)
	tlv = appendTLV(tlv, tlvTypeKind, kindBytes)

	return encodeTLV("naddr", tlv)
}

func appendTLV(tlv []byte, tlvType byte, value []byte) []byte {
	tlv = append(tlv, tlvType, byte(len(value)))
	return append(tlv, value...)
}

func encodeTLV(hrp string, tlv []byte) (string, error) {
	data, err := bech32ConvertBits(tlv, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32Encode(hrp, data)
}

// Coordinate builds the kind:pubkey:identifier form used by a-tags for
// addressable events.
func Coordinate(kind uint32, hexPubkey, dTag string) string {
	return strconv.FormatUint(uint64(kind), 10) + ":" + hexPubkey + ":" + dTag
}

// ParseCoordinate splits a kind:pubkey:identifier coordinate. The d-tag
// may legitimately be empty; the pubkey must be 64 hex characters.
func ParseCoordinate(coordinate string) (kind uint32, pubkey, dTag string, err error) {
	parts := strings.SplitN(coordinate, ":", 3)
	if len(parts) != 3 {
		return 0, "", "", errors.New("coordinate needs kind:pubkey:identifier")
	}

	k, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, "", "", fmt.Errorf("bad coordinate kind: %w", err)
	}
	if len(parts[1]) != 64 {
		return 0, "", "", errors.New("bad coordinate pubkey")
	}
	if _, err := hex.DecodeString(parts[1]); err != nil {
		return 0, "", "", errors.New("bad coordinate pubkey")
	}

	return uint32(k), parts[1], parts[2], nil
}
