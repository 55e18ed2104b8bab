// Package hub models the evidence produced by the hub chain — transaction
// results with their event logs, end-of-block events, and the LCD/RPC
// clients that fetch them.
package hub

import (
	"strings"
	"time"
)

// Attribute is one key/value pair attached to an event.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is a typed, attribute-keyed chain event.
type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// Attr returns the quote-stripped value of the first attribute with the
// given key, matching both camelCase and snake_case spellings handed in.
func (e Event) Attr(keys ...string) string {
	for _, a := range e.Attributes {
		for _, k := range keys {
			if a.Key == k {
				return strings.ReplaceAll(a.Value, `"`, "")
			}
		}
	}
	return ""
}

// AttrRaw returns the first matching attribute value verbatim, keeping
// quotes so JSON-encoded values stay parseable.
func (e Event) AttrRaw(keys ...string) string {
	for _, a := range e.Attributes {
		for _, k := range keys {
			if a.Key == k {
				return a.Value
			}
		}
	}
	return ""
}

// TypeContains reports whether the event type contains any of the given
// substrings, ignoring case.
func (e Event) TypeContains(substrings ...string) bool {
	lower := strings.ToLower(e.Type)
	for _, s := range substrings {
		if strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// ShortType returns the last dot-separated segment of the event type.
func (e Event) ShortType() string {
	parts := strings.Split(e.Type, ".")
	return parts[len(parts)-1]
}

// Log is the decoded log for one message index within a transaction.
type Log struct {
	MsgIndex int     `json:"msg_index"`
	Log      string  `json:"log"`
	Events   []Event `json:"events"`
}

// TxResponse mirrors the LCD `tx_response` object for one hub transaction.
type TxResponse struct {
	TxHash    string    `json:"txhash"`
	Code      int       `json:"code"`
	Height    int64     `json:"height,string"`
	Timestamp time.Time `json:"timestamp"`
	Logs      []Log     `json:"logs"`
}

// TxBody carries the decoded transaction messages.
type TxBody struct {
	Messages []Message `json:"messages"`
}

// Tx is the decoded transaction envelope.
type Tx struct {
	Body TxBody `json:"body"`
}

// TxResult is one complete LCD transaction lookup result, the unit the
// vote pipeline consumes.
type TxResult struct {
	Tx         Tx         `json:"tx"`
	TxResponse TxResponse `json:"tx_response"`
}

// LogForMessage returns the log entry for the given message index.
func (t *TxResult) LogForMessage(i int) *Log {
	for j := range t.TxResponse.Logs {
		if t.TxResponse.Logs[j].MsgIndex == i {
			return &t.TxResponse.Logs[j]
		}
	}
	// Older hub versions emit logs positionally without msg_index.
	if i < len(t.TxResponse.Logs) {
		return &t.TxResponse.Logs[i]
	}
	return nil
}

// FindEvent returns the first event whose type contains any of the given
// substrings, or nil.
func FindEvent(events []Event, substrings ...string) *Event {
	for i := range events {
		if events[i].TypeContains(substrings...) {
			return &events[i]
		}
	}
	return nil
}

// HasEvent reports whether any event type contains any of the substrings.
func HasEvent(events []Event, substrings ...string) bool {
	return FindEvent(events, substrings...) != nil
}

// AnyLogContains reports whether any log line contains the substring.
func AnyLogContains(logs []Log, substr string) bool {
	for _, l := range logs {
		if strings.Contains(l.Log, substr) {
			return true
		}
	}
	return false
}
