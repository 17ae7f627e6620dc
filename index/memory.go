package index

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/avidal-labs/docintel/embeddings"
)

// MemoryStore is an in-process VectorStore used in tests and for local
// development without a vector database. Dense scoring is cosine
// similarity, sparse scoring is the dot product of the term weights.
type MemoryStore struct {
	mu     sync.RWMutex
	points []Point
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

var _ VectorStore = (*MemoryStore)(nil)

func (s *MemoryStore) EnsureReady(context.Context) error { return nil }

func (s *MemoryStore) Upsert(_ context.Context, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, point := range points {
		replaced := false
		for i := range s.points {
			if s.points[i].ID == point.ID {
				s.points[i] = point
				replaced = true
				break
			}
		}
		if !replaced {
			s.points = append(s.points, point)
		}
	}
	return nil
}

func (s *MemoryStore) QueryDense(_ context.Context, vector []float32, filter Filter, limit int) ([]Scored, error) {
	return s.query(filter, limit, func(p Point) float64 {
		return cosineSimilarity(vector, p.Dense)
	}), nil
}

func (s *MemoryStore) QuerySparse(_ context.Context, vector embeddings.SparseVector, filter Filter, limit int) ([]Scored, error) {
	return s.query(filter, limit, func(p Point) float64 {
		return sparseDot(vector, p.Sparse)
	}), nil
}

func (s *MemoryStore) query(filter Filter, limit int, score func(Point) float64) []Scored {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []Scored
	for _, point := range s.points {
		if !matches(point.Payload, filter) {
			continue
		}
		value := score(point)
		if value <= 0 {
			continue
		}
		hits = append(hits, Scored{ID: point.ID, Score: value, Payload: point.Payload})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (s *MemoryStore) DeleteByDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.points[:0]
	for _, point := range s.points {
		if point.Payload.DocumentID != documentID {
			kept = append(kept, point)
		}
	}
	s.points = kept
	return nil
}

func (s *MemoryStore) Stats(context.Context) (StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := StoreStats{
		Points:           uint64(len(s.points)),
		Distance:         "Cosine",
		SparseConfigured: true,
	}
	if len(s.points) > 0 {
		stats.Dimension = uint64(len(s.points[0].Dense))
	}
	return stats, nil
}

func matches(payload Payload, filter Filter) bool {
	if filter.DocumentID != "" && payload.DocumentID != filter.DocumentID {
		return false
	}
	if len(filter.ContentTypes) > 0 {
		found := false
		for _, contentType := range filter.ContentTypes {
			if payload.ContentType == contentType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sparseDot(a, b embeddings.SparseVector) float64 {
	weights := make(map[uint32]float32, len(a.Indices))
	for i, idx := range a.Indices {
		weights[idx] = a.Values[i]
	}
	var dot float64
	for i, idx := range b.Indices {
		if w, ok := weights[idx]; ok {
			dot += float64(w) * float64(b.Values[i])
		}
	}
	return dot
}
