package persistence

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNotFound is returned when no document matches the filter.
	ErrNotFound = errors.New("not found")

	// ErrCollectionNotFound is returned when the named collection has never
	// been written to.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrMalformedDocument is returned when a stored document cannot be
	// decoded.
	ErrMalformedDocument = errors.New("malformed document")
)

// Store is the document-oriented backend this core persists into. Collection
// naming is the caller's responsibility; the store only needs find, insert,
// replace and save primitives per named collection.
type Store interface {
	// Collection returns a handle for the named collection. The collection
	// itself materializes on first insert.
	Collection(name string) Collection

	// Health checks if the backend is reachable.
	Health(ctx context.Context) error

	// Close releases resources held by the backend.
	Close() error
}

// Collection exposes the per-collection primitives. Filters are exact-match
// on top-level document fields.
type Collection interface {
	// FindOne returns the first document matching the filter.
	// ErrCollectionNotFound when the collection does not exist, ErrNotFound
	// when it does but no document matches.
	FindOne(ctx context.Context, filter map[string]any) (json.RawMessage, error)

	// Find returns every document matching the filter (all documents when
	// the filter is empty), in insertion order.
	Find(ctx context.Context, filter map[string]any) ([]json.RawMessage, error)

	// InsertOne appends a document, creating the collection if needed.
	InsertOne(ctx context.Context, doc any) error

	// ReplaceOne overwrites the first document matching the filter.
	ReplaceOne(ctx context.Context, filter map[string]any, doc any) error

	// Save flushes pending writes, where the backend buffers at all.
	Save(ctx context.Context) error
}

// MatchesFilter reports whether every filter field equals the corresponding
// top-level field of the decoded document. Values are compared through their
// canonical JSON encoding so callers can filter with plain Go values.
func MatchesFilter(doc json.RawMessage, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return false
	}
	for key, want := range filter {
		got, ok := fields[key]
		if !ok {
			return false
		}
		wantJSON, err := json.Marshal(want)
		if err != nil {
			return false
		}
		if string(got) != string(wantJSON) {
			return false
		}
	}
	return true
}
