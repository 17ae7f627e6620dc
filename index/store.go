// Package index stores dual-vector chunk representations and serves
// fused dense+lexical search over them.
package index

import (
	"context"
	"time"

	"github.com/avidal-labs/docintel/embeddings"
)

// Payload carries the chunk fields persisted alongside its vectors:
// a fixed set of well-known fields plus an open extension map.
type Payload struct {
	ChunkID        string
	DocumentID     string
	Filename       string
	Content        string
	ContentType    string
	PageNumber     int
	ChunkIndex     int
	ChunkSize      int
	Language       string
	HeadingContext string
	IndexedAt      time.Time
	Extra          map[string]any
}

// Point pairs a chunk payload with its dense and sparse vectors. Points
// are inserted and deleted wholesale per document, never mutated.
type Point struct {
	ID      string
	Dense   []float32
	Sparse  embeddings.SparseVector
	Payload Payload
}

// Scored is a single-source candidate returned by a backend query.
type Scored struct {
	ID      string
	Score   float64
	Payload Payload
}

// Filter restricts a query to one document and/or a set of content types.
type Filter struct {
	DocumentID   string
	ContentTypes []string
}

type StoreStats struct {
	Points           uint64
	Dimension        uint64
	Distance         string
	SparseConfigured bool
}

// VectorStore is the narrow storage backend interface: named dense and
// sparse vectors per point, filtered top-k queries per source, filtered
// bulk delete by document, and collection statistics.
type VectorStore interface {
	EnsureReady(ctx context.Context) error
	Upsert(ctx context.Context, points []Point) error
	QueryDense(ctx context.Context, vector []float32, filter Filter, limit int) ([]Scored, error)
	QuerySparse(ctx context.Context, vector embeddings.SparseVector, filter Filter, limit int) ([]Scored, error)
	DeleteByDocument(ctx context.Context, documentID string) error
	Stats(ctx context.Context) (StoreStats, error)
}
