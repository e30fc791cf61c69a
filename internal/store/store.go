// Package store abstracts the remote document store the client syncs
// against: named collections of documents with queries, atomic batches, and
// change subscriptions. The Mongo implementation is the production backend;
// Memory backs tests and offline runs.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("store: document not found")
	// ErrBatchTooLarge is returned when a batch exceeds BatchLimit staged ops.
	ErrBatchTooLarge = errors.New("store: batch exceeds op limit")
)

// BatchLimit bounds the number of ops a single atomic batch may carry.
const BatchLimit = 500

// TimestampSentinel marks a field to be assigned the store's write time.
type TimestampSentinel struct{}

// ServerTimestamp is the sentinel value replaced with the write timestamp.
var ServerTimestamp = TimestampSentinel{}

// IncrementValue marks a numeric field to be incremented in place.
type IncrementValue struct {
	By int64
}

// Increment returns a sentinel that adds by to the current field value on an
// update. On a set the write replaces the document first, so the increment
// applies from an absent field and resolves to by itself.
func Increment(by int64) IncrementValue {
	return IncrementValue{By: by}
}

// Document is a single stored document.
type Document struct {
	ID   string
	Data map[string]any
}

// DataTo unmarshals the document data into v.
func (d Document) DataTo(v any) error {
	b, err := json.Marshal(d.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Encode converts a struct into the map form collections accept.
func Encode(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Collection is a named set of documents.
type Collection interface {
	// Get returns the document with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (Document, error)
	// Set creates or replaces the document.
	Set(ctx context.Context, id string, data map[string]any) error
	// Update applies the given field updates to an existing document.
	// Field names may use dotted paths into nested maps.
	Update(ctx context.Context, id string, fields map[string]any) error
	// Delete removes the document. Deleting an absent document is a no-op.
	Delete(ctx context.Context, id string) error
	// Find runs the query and returns matching documents.
	Find(ctx context.Context, q Query) ([]Document, error)
	// Watch subscribes to changes of a single document. The current state is
	// delivered as the first snapshot.
	Watch(ctx context.Context, id string) (*Subscription, error)
	// WatchFind subscribes to changes of a query's result set. The current
	// result is delivered as the first snapshot.
	WatchFind(ctx context.Context, q Query) (*Subscription, error)
}

// Batch stages mutations that commit atomically, all-or-nothing.
type Batch interface {
	Set(collection, id string, data map[string]any) Batch
	Update(collection, id string, fields map[string]any) Batch
	Delete(collection, id string) Batch
	// Len reports the number of staged ops.
	Len() int
	// Commit applies every staged op or none of them.
	Commit(ctx context.Context) error
}

// Store is the remote document store boundary.
type Store interface {
	Collection(name string) Collection
	Batch() Batch
	Close(ctx context.Context) error
}
