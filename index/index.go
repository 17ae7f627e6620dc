package index

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/avidal-labs/docintel/chunker"
	"github.com/avidal-labs/docintel/embeddings"
)

// rrfK is the rank-fusion constant: a candidate at 1-based rank r in one
// source contributes 1/(rrfK+r) to its fused score.
const rrfK = 60

const (
	SearchTypeHybrid    = "hybrid_rrf"
	SearchTypeDenseOnly = "dense_only"
)

type SearchMode int

const (
	ModeHybrid SearchMode = iota
	ModeDense
)

// SearchResult is a transient fused search hit.
type SearchResult struct {
	ChunkID     string
	Score       float64
	SearchType  string
	Content     string
	ContentType string
	DocumentID  string
	Filename    string
	PageNumber  int
	ChunkIndex  int
	Metadata    map[string]any
}

type SearchOptions struct {
	DocumentID     string
	ContentTypes   []string
	Limit          int
	ScoreThreshold float64
	Mode           SearchMode
}

// HybridIndex owns chunk persistence and fused search on top of a
// vector storage backend and the two embedding services.
type HybridIndex struct {
	store    VectorStore
	chunker  *chunker.Chunker
	embedder embeddings.Embedder
	sparse   embeddings.SparseEncoder
	logger   *log.Logger
}

func New(store VectorStore, splitter *chunker.Chunker, embedder embeddings.Embedder, sparse embeddings.SparseEncoder, logger *log.Logger) *HybridIndex {
	if logger == nil {
		logger = log.Default()
	}
	return &HybridIndex{
		store:    store,
		chunker:  splitter,
		embedder: embedder,
		sparse:   sparse,
		logger:   logger,
	}
}

// Index chunks doc and stores every surviving chunk with dense and sparse
// vectors. Chunks whose content is empty after processing are skipped
// rather than failing the call; the return value is the number of chunks
// actually indexed, 0 when none survive.
//
// Repeat calls for the same document accumulate duplicate points; callers
// that re-index must delete the prior set first.
func (h *HybridIndex) Index(ctx context.Context, documentID, filename string, doc chunker.Document) (int, error) {
	chunks := h.chunker.ChunkDocument(documentID, filename, doc)

	kept := chunks[:0]
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk.Content) == "" {
			continue
		}
		kept = append(kept, chunk)
	}
	if len(kept) == 0 {
		h.logger.Printf("no indexable chunks for document %s", documentID)
		return 0, nil
	}

	texts := make([]string, len(kept))
	for i, chunk := range kept {
		texts[i] = chunk.Content
	}

	dense, err := h.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, &IndexingError{DocumentID: documentID, Err: fmt.Errorf("embed chunks: %w", err)}
	}
	if len(dense) != len(kept) {
		return 0, &IndexingError{DocumentID: documentID, Err: fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(kept), len(dense))}
	}

	now := time.Now().UTC()
	points := make([]Point, len(kept))
	for i, chunk := range kept {
		points[i] = Point{
			ID:     chunk.ID,
			Dense:  dense[i],
			Sparse: h.sparse.Encode(chunk.Content),
			Payload: Payload{
				ChunkID:        chunk.ID,
				DocumentID:     chunk.DocumentID,
				Filename:       chunk.Filename,
				Content:        chunk.Content,
				ContentType:    string(chunk.ContentType),
				PageNumber:     chunk.PageNumber,
				ChunkIndex:     chunk.ChunkIndex,
				ChunkSize:      len(chunk.Content),
				Language:       chunk.Language,
				HeadingContext: chunk.HeadingContext,
				IndexedAt:      now,
				Extra:          chunk.Extra,
			},
		}
	}

	if err := h.store.Upsert(ctx, points); err != nil {
		return 0, &IndexingError{DocumentID: documentID, Err: fmt.Errorf("upsert points: %w", err)}
	}

	h.logger.Printf("indexed %d chunks for document %s", len(points), documentID)
	return len(points), nil
}

// Search runs hybrid (dense + lexical, RRF-fused) or dense-only search.
func (h *HybridIndex) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &SearchError{Query: query, Err: fmt.Errorf("query cannot be empty")}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	filter := Filter{DocumentID: opts.DocumentID, ContentTypes: opts.ContentTypes}

	vectors, err := h.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, &SearchError{Query: query, Err: fmt.Errorf("embed query: %w", err)}
	}
	if len(vectors) == 0 {
		return nil, &SearchError{Query: query, Err: fmt.Errorf("embedder returned no vectors")}
	}

	if opts.Mode == ModeDense {
		return h.denseSearch(ctx, query, vectors[0], filter, limit, opts.ScoreThreshold)
	}

	// Each source over-fetches so fusion has enough material.
	denseHits, err := h.store.QueryDense(ctx, vectors[0], filter, limit*2)
	if err != nil {
		return nil, &SearchError{Query: query, Err: fmt.Errorf("dense query: %w", err)}
	}
	sparseHits, err := h.store.QuerySparse(ctx, h.sparse.Encode(query), filter, limit*2)
	if err != nil {
		return nil, &SearchError{Query: query, Err: fmt.Errorf("sparse query: %w", err)}
	}

	fused := fuseRRF(denseHits, sparseHits)

	results := make([]SearchResult, 0, limit)
	for _, hit := range fused {
		if hit.Score < opts.ScoreThreshold {
			continue
		}
		results = append(results, toSearchResult(hit, SearchTypeHybrid))
		if len(results) == limit {
			break
		}
	}

	return results, nil
}

func (h *HybridIndex) denseSearch(ctx context.Context, query string, vector []float32, filter Filter, limit int, threshold float64) ([]SearchResult, error) {
	hits, err := h.store.QueryDense(ctx, vector, filter, limit)
	if err != nil {
		return nil, &SearchError{Query: query, Err: fmt.Errorf("dense query: %w", err)}
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < threshold {
			continue
		}
		results = append(results, toSearchResult(hit, SearchTypeDenseOnly))
	}
	return results, nil
}

// Delete removes every point tagged with documentID. Deleting an unknown
// document is still a success: zero-match deletion is not an error.
func (h *HybridIndex) Delete(ctx context.Context, documentID string) (bool, error) {
	if err := h.store.DeleteByDocument(ctx, documentID); err != nil {
		return false, fmt.Errorf("delete document %s: %w", documentID, err)
	}
	return true, nil
}

type Stats struct {
	TotalChunks      uint64
	VectorDimension  uint64
	DistanceMetric   string
	SparseConfigured bool
}

// TotalChunks reports the number of indexed units across all documents.
func (h *HybridIndex) TotalChunks(ctx context.Context) (uint64, error) {
	stats, err := h.Stats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.TotalChunks, nil
}

func (h *HybridIndex) Stats(ctx context.Context) (Stats, error) {
	stats, err := h.store.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("collection stats: %w", err)
	}
	return Stats{
		TotalChunks:      stats.Points,
		VectorDimension:  stats.Dimension,
		DistanceMetric:   stats.Distance,
		SparseConfigured: stats.SparseConfigured,
	}, nil
}

// fuseRRF combines two ranked candidate lists with reciprocal rank
// fusion: score(id) = sum over sources of 1/(rrfK+rank), rank 1-based.
// Ties keep the insertion order of the source lists.
func fuseRRF(sources ...[]Scored) []Scored {
	type fusedEntry struct {
		hit   Scored
		score float64
		order int
	}

	entries := make(map[string]*fusedEntry)
	order := 0
	for _, source := range sources {
		for rank, hit := range source {
			entry, ok := entries[hit.ID]
			if !ok {
				entry = &fusedEntry{hit: hit, order: order}
				entries[hit.ID] = entry
				order++
			}
			entry.score += 1 / float64(rrfK+rank+1)
		}
	}

	fused := make([]*fusedEntry, 0, len(entries))
	for _, entry := range entries {
		fused = append(fused, entry)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].order < fused[j].order
	})

	result := make([]Scored, len(fused))
	for i, entry := range fused {
		hit := entry.hit
		hit.Score = entry.score
		result[i] = hit
	}
	return result
}

func toSearchResult(hit Scored, searchType string) SearchResult {
	payload := hit.Payload
	metadata := map[string]any{
		"chunk_size":      payload.ChunkSize,
		"language":        payload.Language,
		"heading_context": payload.HeadingContext,
		"indexed_at":      payload.IndexedAt,
	}
	for k, v := range payload.Extra {
		metadata[k] = v
	}
	return SearchResult{
		ChunkID:     payload.ChunkID,
		Score:       hit.Score,
		SearchType:  searchType,
		Content:     payload.Content,
		ContentType: payload.ContentType,
		DocumentID:  payload.DocumentID,
		Filename:    payload.Filename,
		PageNumber:  payload.PageNumber,
		ChunkIndex:  payload.ChunkIndex,
		Metadata:    metadata,
	}
}
