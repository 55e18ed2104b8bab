// Package docstore provides the document-store collaborator used by the
// reconciliation pipelines: get by id, query by structured boolean match,
// and merge-upserting partial documents.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Collections persisted by the engine.
const (
	CollectionPolls            = "evm_polls"
	CollectionVotes            = "evm_votes"
	CollectionTransfers        = "transfers"
	CollectionDepositAddresses = "deposit_addresses"
	CollectionBatches          = "batches"
	CollectionCommandEvents    = "command_events"
	CollectionTokenSentEvents  = "token_sent_events"
)

// Common errors
var (
	// ErrNotFound is returned when a document id does not exist
	ErrNotFound = errors.New("document not found")

	// ErrClosed is returned when operating on a closed store
	ErrClosed = errors.New("store closed")
)

// Document is a schemaless persisted document.
type Document = map[string]any

// Match is one field match clause. Dotted paths address nested fields
// (e.g. "source.id"). When Exists is set the clause matches any document
// carrying the field, regardless of value. Fold makes string comparison
// case-insensitive.
type Match struct {
	Field  string
	Value  any
	Exists bool
	Fold   bool
}

// Query is a structured boolean match expression: all Must clauses hold,
// no MustNot clause holds, and at least MinimumShouldMatch of the Should
// clauses hold (defaulting to 1 when Should is non-empty).
type Query struct {
	Must               []Match
	Should             []Match
	MustNot            []Match
	MinimumShouldMatch int
}

// SortField orders query results by one field.
type SortField struct {
	Field string
	Desc  bool
}

// Options bounds and orders a Read.
type Options struct {
	Size int
	Sort []SortField
}

// Store is the document-store collaborator. Write merge-upserts: fields
// absent from the partial document are preserved, and nested maps merge
// rather than replace, so per-voter ledgers grow monotonically.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Read(ctx context.Context, collection string, query Query, opts Options) ([]Document, error)
	Write(ctx context.Context, collection, id string, doc Document) error
}

// Marshal converts a typed record into a Document through a bson round
// trip, so writers can persist structs with their bson tags.
func Marshal(v any) (Document, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var doc Document
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}

// Unmarshal decodes a Document into a typed record.
func Unmarshal(doc Document, out any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := bson.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// Flatten expands nested maps into dotted set paths so a merge write
// updates leaves without replacing sibling fields. Arrays and scalar
// values are leaves.
func Flatten(doc Document) Document {
	out := make(Document, len(doc))
	flattenInto(out, "", doc)
	return out
}

func flattenInto(out Document, prefix string, v Document) {
	for k, val := range v {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch nested := val.(type) {
		case Document:
			if len(nested) == 0 {
				out[key] = nested
			} else {
				flattenInto(out, key, nested)
			}
		case bson.M:
			flattenInto(out, key, Document(nested))
		default:
			out[key] = val
		}
	}
}

// GetPath resolves a dotted path inside a document, returning false when
// any segment is missing.
func GetPath(doc Document, path string) (any, bool) {
	var cur any = doc
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		seg := path[start:i]
		start = i + 1
		m, ok := toDocument(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func toDocument(v any) (Document, bool) {
	switch m := v.(type) {
	case Document:
		return m, true
	case bson.M:
		return Document(m), true
	default:
		return nil, false
	}
}

// Now returns the current time in unix milliseconds, the timestamp unit
// used across all persisted documents.
func Now() int64 { return time.Now().UnixMilli() }
