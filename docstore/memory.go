package docstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store with the same merge and query
// semantics as the MongoDB implementation. Used by tests and as a
// fallback when no store is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]Document)}
}

// Get returns a deep copy of the document with the given id.
func (s *MemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return deepCopy(doc), nil
}

// Read evaluates the boolean query over all documents in the collection.
func (s *MemoryStore) Read(_ context.Context, collection string, query Query, opts Options) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.collections[collection]))
	for id := range s.collections[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Document
	for _, id := range ids {
		doc := s.collections[collection][id]
		if matches(doc, query) {
			out = append(out, deepCopy(doc))
		}
	}

	for _, sf := range opts.Sort {
		field, desc := sf.Field, sf.Desc
		sort.SliceStable(out, func(i, j int) bool {
			a, _ := GetPath(out[i], field)
			b, _ := GetPath(out[j], field)
			if desc {
				return lessValue(b, a)
			}
			return lessValue(a, b)
		})
	}

	if opts.Size > 0 && len(out) > opts.Size {
		out = out[:opts.Size]
	}
	return out, nil
}

// Write merge-upserts a partial document: nested maps merge recursively,
// scalars and arrays replace.
func (s *MemoryStore) Write(_ context.Context, collection, id string, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]Document)
		s.collections[collection] = coll
	}
	existing, ok := coll[id]
	if !ok {
		existing = Document{}
		coll[id] = existing
	}
	mergeInto(existing, deepCopy(doc))
	return nil
}

func mergeInto(dst, src Document) {
	for k, v := range src {
		if sv, ok := toDocument(v); ok {
			if dv, ok := toDocument(dst[k]); ok {
				mergeInto(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
}

func deepCopy(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		if m, ok := toDocument(v); ok {
			out[k] = deepCopy(m)
		} else {
			out[k] = v
		}
	}
	return out
}

func matches(doc Document, q Query) bool {
	for _, m := range q.Must {
		if !matchOne(doc, m) {
			return false
		}
	}
	for _, m := range q.MustNot {
		if matchOne(doc, m) {
			return false
		}
	}
	if len(q.Should) > 0 {
		min := q.MinimumShouldMatch
		if min <= 0 {
			min = 1
		}
		n := 0
		for _, m := range q.Should {
			if matchOne(doc, m) {
				n++
			}
		}
		if n < min {
			return false
		}
	}
	return true
}

func matchOne(doc Document, m Match) bool {
	v, ok := GetPath(doc, m.Field)
	if m.Exists {
		return ok && v != nil
	}
	if !ok {
		return false
	}
	// Equality against an array field matches any element, like MongoDB.
	if arr, isArr := v.([]any); isArr {
		for _, el := range arr {
			if equalValue(el, m.Value, m.Fold) {
				return true
			}
		}
		return false
	}
	return equalValue(v, m.Value, m.Fold)
}

func equalValue(a, b any, fold bool) bool {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			if fold {
				return strings.EqualFold(as, bs)
			}
			return as == bs
		}
		return false
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func lessValue(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af < bf
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as < bs
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
