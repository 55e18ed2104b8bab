package hub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeMessage(t *testing.T, raw string) Message {
	t.Helper()
	var m Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestMessageShortType(t *testing.T) {
	tests := []struct {
		name string
		typ  string
		want string
	}{
		{name: "vote confirm deposit", typ: "/axelar.evm.v1beta1.VoteConfirmDepositRequest", want: "VoteConfirmDeposit"},
		{name: "vote", typ: "/axelar.vote.v1beta1.VoteRequest", want: "Vote"},
		{name: "no request suffix", typ: "/cosmos.bank.v1beta1.MsgSend", want: "MsgSend"},
		{name: "empty", typ: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Message{"@type": tt.typ}
			assert.Equal(t, tt.want, m.ShortType())
		})
	}
}

func TestMessagePollID(t *testing.T) {
	assert.Equal(t, "evm_0xabc_1", Message{"poll_id": "evm_0xabc_1"}.PollID())
	assert.Equal(t, "evm_0xdef_2",
		Message{"poll_key": `{"id":"evm_0xdef_2","module":"evm"}`}.PollID())
	assert.Equal(t, "evm_0x123_3",
		Message{"poll_key": map[string]any{"id": "evm_0x123_3"}}.PollID())
	assert.Equal(t, "", Message{}.PollID())
	assert.Equal(t, "", Message{"poll_key": "not json"}.PollID())
}

func TestMessageVoteAccessors(t *testing.T) {
	m := decodeMessage(t, `{
		"@type": "/axelar.vote.v1beta1.VoteRequest",
		"sender": "axelar1voter",
		"vote": {
			"chain": "Ethereum",
			"events": [
				{
					"chain": "ethereum",
					"tx_id": "q80=",
					"status": "STATUS_COMPLETED",
					"transfer": {"to": "0xdeposit", "amount": "1000"}
				}
			]
		}
	}`)

	assert.Equal(t, "Ethereum", m.VoteChain())
	assert.True(t, m.HasVoteEvents())

	events, ok := m.VoteEvents()
	require.True(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, "STATUS_COMPLETED", events[0].Str("status"))
	assert.Equal(t, "transfer", events[0].EventName())
	assert.Equal(t, "0xdeposit", events[0].Map("transfer").Str("to"))
}

func TestMessageVoteEventsEmpty(t *testing.T) {
	// Explicitly empty events are a non-vote, not an absent payload.
	m := decodeMessage(t, `{"vote": {"events": []}}`)
	events, ok := m.VoteEvents()
	assert.True(t, ok)
	assert.Empty(t, events)
	assert.False(t, m.HasVoteEvents())

	// No payload at all.
	assert.False(t, Message{}.HasVoteEvents())
	_, ok = Message{}.VoteEvents()
	assert.False(t, ok)
}

func TestMessageVoteChainFromResults(t *testing.T) {
	m := decodeMessage(t, `{"vote": {"results": [{"chain": "avalanche"}]}}`)
	assert.Equal(t, "avalanche", m.VoteChain())

	m = decodeMessage(t, `{"vote": {"result": {"chain": "fantom", "events": []}}}`)
	assert.Equal(t, "fantom", m.VoteChain())

	assert.Equal(t, "", Message{}.VoteChain())
}

func TestMessageInner(t *testing.T) {
	m := decodeMessage(t, `{
		"@type": "/axelar.auxiliary.v1beta1.BatchRequest",
		"inner_message": {"@type": "/axelar.vote.v1beta1.VoteRequest", "sender": "axelar1abc"}
	}`)
	inner := m.Inner()
	require.NotNil(t, inner)
	assert.Equal(t, "Vote", inner.ShortType())
	assert.Equal(t, "axelar1abc", inner.Str("sender"))

	assert.Nil(t, Message{}.Inner())
}
