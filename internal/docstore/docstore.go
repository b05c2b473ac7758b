// Package docstore defines the document storage interface shared by the
// local file store, the MongoDB store, and the resilience coordinator that
// sits in front of both.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

// ErrNotFound is returned when a document does not exist. It is a normal
// outcome, not a failure.
var ErrNotFound = errors.New("document not found")

// ErrInvalidID is returned for collection names or ids that cannot be used
// as file names.
var ErrInvalidID = errors.New("invalid document id")

// Reserved keys carry routing metadata and never reach callers.
const (
	keyID  = "_id"
	keySeq = "_seq"
)

// Document is a JSON-normalized field set: values are nil, bool, float64,
// string, []any or map[string]any. Documents returned by reads carry their
// id under "_id"; it is ignored on writes.
type Document map[string]any

// SortField orders List results by one top-level field.
type SortField struct {
	Field string
	Desc  bool
}

// Query selects documents by top-level field equality. With no Sort the
// results come back in insertion order.
type Query struct {
	Filter map[string]any
	Sort   []SortField
	Limit  int
	// KeepSeq leaves the insertion sequence on listed documents so listings
	// from several backends can be merged in order. See Seq and WithoutSeq.
	KeepSeq bool
}

// Backend is implemented by every document store.
type Backend interface {
	// Create stores doc under id, overwriting any existing document with the
	// same id. An empty id is replaced by a generated one, which is returned.
	Create(ctx context.Context, collection, id string, doc Document) (string, error)
	Get(ctx context.Context, collection, id string) (Document, error)
	List(ctx context.Context, collection string, q Query) ([]Document, error)
	// Update merges patch into the top-level fields of an existing document.
	Update(ctx context.Context, collection, id string, patch Document) error
}

// UnavailableError reports a transient infrastructure failure of one backend.
type UnavailableError struct {
	Backend string
	Op      string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s store unavailable during %s: %v", e.Backend, e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is (or wraps) an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]*$`)

// ValidateID checks that a collection name or document id is safe to use as
// a path component.
func ValidateID(id string) error {
	if len(id) > 200 || !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Encode converts v to a Document through its JSON representation.
func Encode(v any) (Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return doc, nil
}

// Decode fills v from doc through its JSON representation.
func Decode(doc Document, v any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	return nil
}

// ID returns the document id attached by the backend on reads.
func (d Document) ID() string { return d.String(keyID) }

// Clone returns a shallow copy of doc without reserved keys.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		if k == keyID || k == keySeq {
			continue
		}
		out[k] = v
	}
	return out
}

// String returns the field value as a string, or "" if absent or not a string.
func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Matches reports whether every filter field equals the document field.
// Filter values are compared in their JSON-normalized form.
func Matches(doc Document, filter map[string]any) bool {
	for k, want := range filter {
		if compareValues(doc[k], normalizeValue(want)) != 0 {
			return false
		}
	}
	return true
}

// SortDocuments orders docs by the query's sort fields, falling back to
// insertion order for ties. seqOf returns a document's insertion sequence.
func SortDocuments(docs []Document, fields []SortField, seqOf func(Document) float64) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range fields {
			c := compareValues(docs[i][f.Field], docs[j][f.Field])
			if c == 0 {
				continue
			}
			if f.Desc {
				return c > 0
			}
			return c < 0
		}
		if seqOf == nil {
			return false
		}
		return seqOf(docs[i]) < seqOf(docs[j])
	})
}

func normalizeValue(v any) any {
	switch v.(type) {
	case nil, bool, float64, string:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// compareValues orders nil < bool < number < string < anything else.
func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case nil:
		return 0
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		return strings.Compare(av, b.(string))
	}
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return strings.Compare(string(ab), string(bb))
}

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	}
	return 4
}

// public strips the insertion sequence but keeps _id for callers that need
// to correlate results across backends.
func public(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		if k == keySeq {
			continue
		}
		out[k] = v
	}
	return out
}

// Seq returns the insertion sequence of a document listed with
// Query.KeepSeq, or 0 when it carries none.
func Seq(doc Document) float64 { return seqValue(doc) }

// WithoutSeq returns doc without its insertion sequence.
func WithoutSeq(doc Document) Document { return public(doc) }

func withMeta(doc Document, id string, seq int64) Document {
	out := doc.Clone()
	out[keyID] = id
	out[keySeq] = seq
	return out
}

func seqValue(doc Document) float64 {
	switch v := doc[keySeq].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}
