package remote

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
)

type memoryEntry struct {
	doc Document
	seq uint64
}

// MemoryStore is a Store held entirely in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]memoryEntry
	seq         uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]memoryEntry)}
}

func (m *MemoryStore) Upsert(ctx context.Context, collection, id string, doc Document) error {
	if id == "" {
		return fmt.Errorf("memory store: empty document id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	docs, ok := m.collections[collection]
	if !ok {
		docs = make(map[string]memoryEntry)
		m.collections[collection] = docs
	}
	m.seq++
	docs[id] = memoryEntry{doc: maps.Clone(doc), seq: m.seq}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], id)
	return nil
}

func (m *MemoryStore) Query(ctx context.Context, collection, field, value string, limit int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	var matches []memoryEntry
	for _, e := range m.collections[collection] {
		if v, ok := e.doc[field].(string); ok && v == value {
			matches = append(matches, e)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].seq > matches[j].seq })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	docs := make([]Document, len(matches))
	for i, e := range matches {
		docs[i] = maps.Clone(e.doc)
	}
	return docs, nil
}

// Len returns the number of documents in a collection.
func (m *MemoryStore) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}
