package zapview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapview/internal/nip19"
	"zapview/internal/types"
)

func TestDecodeIdentifierNPub(t *testing.T) {
	m := newTestManager(t, &fakeTransport{})

	d, err := m.decodeIdentifier(testNPub())
	require.NoError(t, err)
	assert.Equal(t, targetProfile, d.target)
	assert.Equal(t, testRecipient, d.hint)
	assert.Equal(t, []int{types.KindZapReceipt}, d.filter.Kinds)
	assert.Equal(t, []string{testRecipient}, d.filter.PTags)
	assert.Empty(t, d.filter.ETags)
}

func TestDecodeIdentifierNote(t *testing.T) {
	m := newTestManager(t, &fakeTransport{})
	eventID := hexID(7)
	note, err := nip19.EncodeEventID(eventID)
	require.NoError(t, err)

	d, err := m.decodeIdentifier(note)
	require.NoError(t, err)
	assert.Equal(t, targetEvent, d.target)
	assert.Equal(t, eventID, d.hint)
	assert.Equal(t, []string{eventID}, d.filter.ETags)
	assert.Empty(t, d.filter.PTags)
}

func TestDecodeIdentifierNEventCarriesRelayHints(t *testing.T) {
	m := newTestManager(t, &fakeTransport{})
	eventID := hexID(7)
	nevent, err := nip19.EncodeNEvent(eventID, testSender, []string{"wss://hint.example"})
	require.NoError(t, err)

	d, err := m.decodeIdentifier(nevent)
	require.NoError(t, err)
	assert.Equal(t, []string{eventID}, d.filter.ETags)
	assert.Equal(t, []string{"wss://hint.example"}, d.relayHints)
}

func TestDecodeIdentifierNAddr(t *testing.T) {
	m := newTestManager(t, &fakeTransport{})
	naddr, err := nip19.EncodeNAddr(30023, testSender, "my-article")
	require.NoError(t, err)

	d, err := m.decodeIdentifier(naddr)
	require.NoError(t, err)
	coord := "30023:" + testSender + ":my-article"
	assert.Equal(t, targetEvent, d.target)
	assert.Equal(t, coord, d.hint)
	assert.Equal(t, []string{coord}, d.filter.ATags)
}

func TestDecodeIdentifierFailures(t *testing.T) {
	m := newTestManager(t, &fakeTransport{})

	for _, input := range []string{"", "garbage", "nsec1xyz", testRecipient} {
		_, err := m.decodeIdentifier(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestDecodeIdentifierCached(t *testing.T) {
	m := newTestManager(t, &fakeTransport{})

	first, err := m.decodeIdentifier(testNPub())
	require.NoError(t, err)
	second, err := m.decodeIdentifier(testNPub())
	require.NoError(t, err)
	assert.Same(t, first.decoded, second.decoded, "repeat decodes come from the cache")
}

func TestMergeRelays(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, mergeRelays([]string{"a", "b"}, nil))
	assert.Equal(t, []string{"a", "b", "c"}, mergeRelays([]string{"a", "b"}, []string{"b", "c"}))
	assert.Equal(t, []string{"a"}, mergeRelays(nil, []string{"a"}))
}
