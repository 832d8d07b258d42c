package storage

import (
	"context"
	"math"
	"sync"

	"github.com/bull/docs-rag/internal/domain"
)

type memoryPoint struct {
	chunk  domain.Chunk
	values []float32
	norm   float64
	model  string
}

// MemoryStorage is an in-process VectorIndex using exact cosine similarity.
// It is the default backend for local runs and the index used in tests.
type MemoryStorage struct {
	mu     sync.RWMutex
	dim    int
	points map[string]memoryPoint
}

// NewMemoryStorage creates an empty index. A zero dim is fixed by the first upsert.
func NewMemoryStorage(dim int) *MemoryStorage {
	return &MemoryStorage{dim: dim, points: make(map[string]memoryPoint)}
}

// Dimension implements VectorIndex.
func (m *MemoryStorage) Dimension() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dim
}

// Upsert implements VectorIndex.
func (m *MemoryStorage) Upsert(_ context.Context, chunk domain.Chunk, vec domain.EmbeddingVector) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dim == 0 {
		m.dim = vec.Dimension()
	}
	if err := checkDimension("vector for "+chunk.ID, vec.Dimension(), m.dim); err != nil {
		return err
	}

	values := make([]float32, len(vec.Values))
	copy(values, vec.Values)
	m.points[chunk.ID] = memoryPoint{
		chunk:  chunk,
		values: values,
		norm:   norm(values),
		model:  vec.Model.String(),
	}
	return nil
}

// Search implements VectorIndex.
func (m *MemoryStorage) Search(_ context.Context, query domain.EmbeddingVector, k int, filters domain.Filters) ([]domain.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := validateSearch(query, k, m.dim); err != nil {
		return nil, err
	}

	docs := make(map[string]bool, len(filters.DocumentIDs))
	for _, id := range filters.DocumentIDs {
		docs[id] = true
	}
	model := query.Model.String()
	qnorm := norm(query.Values)

	var results []domain.SearchResult
	for id, p := range m.points {
		if p.model != model {
			continue
		}
		if len(docs) > 0 && !docs[p.chunk.DocumentID] {
			continue
		}
		if filters.Owner != "" && p.chunk.Owner != filters.Owner {
			continue
		}
		results = append(results, domain.SearchResult{
			ChunkID:    id,
			DocumentID: p.chunk.DocumentID,
			Score:      cosine(query.Values, p.values, qnorm, p.norm),
			Chunk:      p.chunk,
		})
	}
	return rank(results, k), nil
}

// Prune implements VectorIndex.
func (m *MemoryStorage) Prune(_ context.Context, documentID string, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.points {
		if p.chunk.DocumentID == documentID && p.chunk.Ordinal >= keep {
			delete(m.points, id)
		}
	}
	return nil
}

// Delete implements VectorIndex.
func (m *MemoryStorage) Delete(_ context.Context, chunkIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range chunkIDs {
		delete(m.points, id)
	}
	return nil
}

// Reset implements VectorIndex. The dimension stays fixed.
func (m *MemoryStorage) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.points)
	return nil
}

// Count implements VectorIndex.
func (m *MemoryStorage) Count(context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.points)), nil
}

// Health implements VectorIndex.
func (m *MemoryStorage) Health(context.Context) error {
	return nil
}

// Close implements VectorIndex.
func (m *MemoryStorage) Close() error {
	return nil
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func cosine(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}
