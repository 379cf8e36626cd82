package remote

import (
	"context"
	"time"

	"sharedcal/internal/metrics"
)

// Collection is the collection shared event documents are stored in.
const Collection = "shared_events"

// Document is a schemaless record as held by a remote store.
type Document map[string]any

// Store is a remote document store keyed by (collection, id).
type Store interface {
	// Upsert inserts the document or replaces the one stored under id.
	Upsert(ctx context.Context, collection, id string, doc Document) error
	// Delete removes the document stored under id. Deleting an absent id is
	// not an error.
	Delete(ctx context.Context, collection, id string) error
	// Query returns documents whose field equals value, most recently written
	// first. A limit of zero or less returns every match.
	Query(ctx context.Context, collection, field, value string, limit int) ([]Document, error)
}

// instrumentedStore records latency and outcome of every store call.
type instrumentedStore struct {
	inner Store
	name  string
}

// Instrument wraps a store so each call is reported to the metrics package
// under the given backend name.
func Instrument(name string, s Store) Store {
	return &instrumentedStore{inner: s, name: name}
}

func (s *instrumentedStore) Upsert(ctx context.Context, collection, id string, doc Document) error {
	start := time.Now()
	err := s.inner.Upsert(ctx, collection, id, doc)
	metrics.ObserveStoreCall(s.name, "upsert", start, err)
	return err
}

func (s *instrumentedStore) Delete(ctx context.Context, collection, id string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, collection, id)
	metrics.ObserveStoreCall(s.name, "delete", start, err)
	return err
}

func (s *instrumentedStore) Query(ctx context.Context, collection, field, value string, limit int) ([]Document, error) {
	start := time.Now()
	docs, err := s.inner.Query(ctx, collection, field, value, limit)
	metrics.ObserveStoreCall(s.name, "query", start, err)
	return docs, err
}
