package vectorindex

import (
	"context"
	"sync"

	"github.com/example/faceproof/internal/embedding"
)

type memoryEntry struct {
	vector embedding.Vector
	meta   Metadata
}

// MemoryIndex is a brute-force in-memory index for development and tests.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]memoryEntry)}
}

// Upsert stores or replaces the vector keyed by identity id.
func (m *MemoryIndex) Upsert(ctx context.Context, id string, vec embedding.Vector, meta Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = memoryEntry{vector: vec, meta: meta}
	return nil
}

// Delete removes the vector keyed by identity id.
func (m *MemoryIndex) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// QueryNearest scans all entries for the smallest cosine distance.
func (m *MemoryIndex) QueryNearest(ctx context.Context, vec embedding.Vector) (Neighbor, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return Neighbor{}, false, nil
	}

	best := Neighbor{Distance: 3} // above the cosine maximum of 2
	for id, entry := range m.entries {
		d := embedding.CosineDistance(vec, entry.vector)
		if d < best.Distance {
			best = Neighbor{ID: id, Distance: d, Meta: entry.meta}
		}
	}
	return best, true, nil
}

// Count reports the number of stored vectors.
func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// Close is a no-op for the in-memory index.
func (m *MemoryIndex) Close() error {
	return nil
}
