package hub

import (
	"sort"
	"strings"

	"github.com/hubscan/reconciler-go/normalize"
)

// Vote-relevant message types handled by the poll resolver.
const (
	MsgVoteConfirmDeposit = "VoteConfirmDeposit"
	MsgVote               = "Vote"
)

// Message is one decoded transaction message. The hub emits many message
// shapes across versions, so fields are accessed dynamically with typed
// accessors instead of a fixed struct.
type Message map[string]any

// Type returns the full protobuf type URL of the message.
func (m Message) Type() string {
	s, _ := m["@type"].(string)
	return s
}

// ShortType returns the last type-URL segment with the "Request" suffix
// stripped (e.g. ".../VoteConfirmDepositRequest" -> "VoteConfirmDeposit").
func (m Message) ShortType() string {
	parts := strings.Split(m.Type(), ".")
	return strings.TrimSuffix(parts[len(parts)-1], "Request")
}

// Inner returns the wrapped message for proxy-routed hub transactions,
// or nil when the message is not wrapped.
func (m Message) Inner() Message {
	return m.Map("inner_message")
}

// Str returns a string field, empty when absent or of another type.
func (m Message) Str(key string) string {
	s, _ := m[key].(string)
	return s
}

// Bool returns a bool field, false when absent.
func (m Message) Bool(key string) bool {
	b, _ := m[key].(bool)
	return b
}

// Map returns a nested object field as a Message, nil when absent.
func (m Message) Map(key string) Message {
	switch v := m[key].(type) {
	case map[string]any:
		return Message(v)
	case Message:
		return v
	default:
		return nil
	}
}

// Slice returns an array field with its object elements as Messages.
func (m Message) Slice(key string) ([]Message, bool) {
	raw, ok := m[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]Message, 0, len(raw))
	for _, e := range raw {
		if obj, ok := e.(map[string]any); ok {
			out = append(out, Message(obj))
		}
	}
	return out, true
}

// PollID resolves the poll identifier declared by the message itself:
// a plain poll_id field or a JSON-encoded poll_key carrying an id.
func (m Message) PollID() string {
	if id := m.Str("poll_id"); id != "" {
		return id
	}
	switch pk := m["poll_key"].(type) {
	case string:
		if obj := normalize.ToJSON(pk); obj != nil {
			if id, ok := obj["id"].(string); ok {
				return id
			}
		}
	case map[string]any:
		if id, ok := pk["id"].(string); ok {
			return id
		}
	}
	return ""
}

// VotePayload returns the vote sub-message of a Vote message, nil when
// absent.
func (m Message) VotePayload() Message {
	return m.Map("vote")
}

// VoteEvents returns the vote payload's event collection (events, results
// or result.events, whichever is present) and whether it was an array.
func (m Message) VoteEvents() ([]Message, bool) {
	vote := m.VotePayload()
	if vote == nil {
		return nil, false
	}
	for _, key := range []string{"events", "results"} {
		if events, ok := vote.Slice(key); ok {
			return events, true
		}
	}
	if result := vote.Map("result"); result != nil {
		if events, ok := result.Slice("events"); ok {
			return events, true
		}
	}
	return nil, false
}

// HasVoteEvents reports whether the vote payload carries a non-empty event
// collection; an explicitly empty collection is a non-vote.
func (m Message) HasVoteEvents() bool {
	if events, ok := m.VoteEvents(); ok {
		return len(events) > 0
	}
	// Some hub versions encode results as a keyed object.
	if vote := m.VotePayload(); vote != nil {
		if obj := vote.Map("results"); obj != nil {
			return len(obj) > 0
		}
	}
	return false
}

// VoteChain resolves the source chain declared by the vote payload.
func (m Message) VoteChain() string {
	vote := m.VotePayload()
	if vote == nil {
		return ""
	}
	if c := vote.Str("chain"); c != "" {
		return c
	}
	if results, ok := vote.Slice("results"); ok && len(results) > 0 {
		if c := results[0].Str("chain"); c != "" {
			return c
		}
	}
	if result := vote.Map("result"); result != nil {
		if c := result.Str("chain"); c != "" {
			return c
		}
	}
	return ""
}

// EventName returns the payload key of a vote event — the one field whose
// value is a nested object (e.g. "transfer", "token_sent", "contract_call").
func (m Message) EventName() string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := m[k].(map[string]any); ok {
			return k
		}
	}
	return ""
}
