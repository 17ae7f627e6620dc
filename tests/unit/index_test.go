package unit

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/avidal-labs/docintel/chunker"
	"github.com/avidal-labs/docintel/embeddings"
	"github.com/avidal-labs/docintel/index"
)

// fixedEmbedder returns the same vector for every input, letting a test
// pin the query vector independently of the query text.
type fixedEmbedder struct {
	vec []float32
}

func (f *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

var _ embeddings.Embedder = (*fixedEmbedder)(nil)

type fixedSparseEncoder struct {
	vec embeddings.SparseVector
}

func (f *fixedSparseEncoder) Encode(string) embeddings.SparseVector {
	return f.vec
}

var _ embeddings.SparseEncoder = (*fixedSparseEncoder)(nil)

func fixedVectorIndex(store *index.MemoryStore, dense []float32, sparse embeddings.SparseVector) *index.HybridIndex {
	return index.New(store, chunker.New(chunker.DefaultConfig()), &fixedEmbedder{vec: dense}, &fixedSparseEncoder{vec: sparse}, discardLogger())
}

func TestIndexAndHybridSearch(t *testing.T) {
	idx, _ := newMemoryIndex(t)
	ctx := context.Background()

	count, err := idx.Index(ctx, "doc-1", "turbine.md", singlePageDocument(longText("turbine maintenance", 20)))
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if count == 0 {
		t.Fatal("expected indexed chunks")
	}

	results, err := idx.Search(ctx, "turbine maintenance cycle", index.SearchOptions{Limit: 5})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected hybrid results")
	}
	for _, result := range results {
		if result.SearchType != index.SearchTypeHybrid {
			t.Errorf("search type = %q, want %q", result.SearchType, index.SearchTypeHybrid)
		}
		if result.DocumentID != "doc-1" {
			t.Errorf("unexpected document %q", result.DocumentID)
		}
		if result.Score <= 0 {
			t.Errorf("non-positive fused score %f", result.Score)
		}
		// A single candidate ranked first by both sources caps out at 2/61.
		if result.Score > 2.0/61.0+1e-9 {
			t.Errorf("fused score %f exceeds rank fusion maximum", result.Score)
		}
	}
}

func TestHybridFusionExactScores(t *testing.T) {
	store := index.NewMemoryStore()
	ctx := context.Background()

	// Dense cosine against query [1,0]: alpha 1.0, bravo 0.894, charlie
	// 0.707, so dense ranks are alpha=1, bravo=2, charlie=3. Only bravo
	// shares the sparse query term, so the sparse ranking is bravo=1.
	points := []index.Point{
		{ID: "alpha", Dense: []float32{1, 0}, Sparse: embeddings.SparseVector{Indices: []uint32{9}, Values: []float32{1}}, Payload: index.Payload{ChunkID: "alpha", DocumentID: "doc-1", Content: "alpha"}},
		{ID: "bravo", Dense: []float32{1, 0.5}, Sparse: embeddings.SparseVector{Indices: []uint32{7}, Values: []float32{2}}, Payload: index.Payload{ChunkID: "bravo", DocumentID: "doc-1", Content: "bravo"}},
		{ID: "charlie", Dense: []float32{1, 1}, Sparse: embeddings.SparseVector{Indices: []uint32{9}, Values: []float32{1}}, Payload: index.Payload{ChunkID: "charlie", DocumentID: "doc-1", Content: "charlie"}},
	}
	if err := store.Upsert(ctx, points); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	idx := fixedVectorIndex(store, []float32{1, 0}, embeddings.SparseVector{Indices: []uint32{7}, Values: []float32{1}})

	results, err := idx.Search(ctx, "anything", index.SearchOptions{Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(results))
	}

	// Fused score is 1/(60+rank) summed over sources; a missing source
	// contributes nothing.
	want := []struct {
		chunkID string
		score   float64
	}{
		{"bravo", 1.0/62 + 1.0/61},
		{"alpha", 1.0 / 61},
		{"charlie", 1.0 / 63},
	}
	for i, w := range want {
		if results[i].ChunkID != w.chunkID {
			t.Fatalf("result %d = %q, want %q", i, results[i].ChunkID, w.chunkID)
		}
		if math.Abs(results[i].Score-w.score) > 1e-12 {
			t.Errorf("result %d score = %.15f, want %.15f", i, results[i].Score, w.score)
		}
	}
}

func TestHybridFusionTieBreaksByInsertionOrder(t *testing.T) {
	store := index.NewMemoryStore()
	ctx := context.Background()

	// delta is orthogonal to the sparse query and echo is orthogonal to
	// the dense query, so each ranks first in exactly one source and both
	// fuse to 1/61. The dense source is consumed first, which makes delta
	// the earlier insertion.
	points := []index.Point{
		{ID: "delta", Dense: []float32{1, 0}, Sparse: embeddings.SparseVector{Indices: []uint32{9}, Values: []float32{1}}, Payload: index.Payload{ChunkID: "delta", DocumentID: "doc-1", Content: "delta"}},
		{ID: "echo", Dense: []float32{0, 1}, Sparse: embeddings.SparseVector{Indices: []uint32{7}, Values: []float32{1}}, Payload: index.Payload{ChunkID: "echo", DocumentID: "doc-1", Content: "echo"}},
	}
	if err := store.Upsert(ctx, points); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	idx := fixedVectorIndex(store, []float32{1, 0}, embeddings.SparseVector{Indices: []uint32{7}, Values: []float32{1}})

	results, err := idx.Search(ctx, "anything", index.SearchOptions{Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 fused results, got %d", len(results))
	}
	if results[0].ChunkID != "delta" || results[1].ChunkID != "echo" {
		t.Fatalf("tie order = [%q, %q], want [delta, echo]", results[0].ChunkID, results[1].ChunkID)
	}
	for i, result := range results {
		if math.Abs(result.Score-1.0/61) > 1e-12 {
			t.Errorf("result %d score = %.15f, want %.15f", i, result.Score, 1.0/61)
		}
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	idx, _ := newMemoryIndex(t)

	_, err := idx.Search(context.Background(), "   ", index.SearchOptions{})
	if err == nil {
		t.Fatal("expected error for empty query")
	}
	var searchErr *index.SearchError
	if !errors.As(err, &searchErr) {
		t.Fatalf("error type = %T, want *index.SearchError", err)
	}
}

func TestSearchThresholdAboveMaximumYieldsNothing(t *testing.T) {
	idx, _ := newMemoryIndex(t)
	ctx := context.Background()

	if _, err := idx.Index(ctx, "doc-1", "a.md", singlePageDocument(longText("inverter", 20))); err != nil {
		t.Fatalf("index: %v", err)
	}

	results, err := idx.Search(ctx, "inverter", index.SearchOptions{Limit: 5, ScoreThreshold: 1.1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results above threshold 1.1, got %d", len(results))
	}
}

func TestSearchDocumentFilter(t *testing.T) {
	idx, _ := newMemoryIndex(t)
	ctx := context.Background()

	if _, err := idx.Index(ctx, "doc-1", "a.md", singlePageDocument(longText("solar array", 20))); err != nil {
		t.Fatalf("index doc-1: %v", err)
	}
	if _, err := idx.Index(ctx, "doc-2", "b.md", singlePageDocument(longText("solar array", 20))); err != nil {
		t.Fatalf("index doc-2: %v", err)
	}

	results, err := idx.Search(ctx, "solar array", index.SearchOptions{Limit: 10, DocumentID: "doc-2"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected filtered results")
	}
	for _, result := range results {
		if result.DocumentID != "doc-2" {
			t.Errorf("filter leaked document %q", result.DocumentID)
		}
	}
}

func TestDeleteRemovesAllDocumentChunks(t *testing.T) {
	idx, _ := newMemoryIndex(t)
	ctx := context.Background()

	if _, err := idx.Index(ctx, "doc-1", "a.md", singlePageDocument(longText("battery", 20))); err != nil {
		t.Fatalf("index: %v", err)
	}
	if _, err := idx.Index(ctx, "doc-2", "b.md", singlePageDocument(longText("cabling", 20))); err != nil {
		t.Fatalf("index: %v", err)
	}

	if _, err := idx.Delete(ctx, "doc-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	results, err := idx.Search(ctx, "battery cabling", index.SearchOptions{Limit: 20})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, result := range results {
		if result.DocumentID == "doc-1" {
			t.Errorf("deleted document still searchable: %q", result.ChunkID)
		}
	}

	// Deleting an unknown document is still a success.
	if _, err := idx.Delete(ctx, "never-indexed"); err != nil {
		t.Fatalf("delete unknown document: %v", err)
	}
}

func TestIndexSkipsEmptyDocument(t *testing.T) {
	idx, _ := newMemoryIndex(t)

	count, err := idx.Index(context.Background(), "doc-1", "blank.md", singlePageDocument("   \n\n  "))
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected zero chunks, got %d", count)
	}
}

func TestIndexWrapsEmbedderFailure(t *testing.T) {
	store := index.NewMemoryStore()
	embedErr := errors.New("embedding service down")
	idx := index.New(store, chunker.New(chunker.DefaultConfig()), &stubEmbedder{err: embedErr}, embeddings.NewLexicalEncoder(), discardLogger())

	_, err := idx.Index(context.Background(), "doc-1", "a.md", singlePageDocument(longText("meter", 10)))
	if err == nil {
		t.Fatal("expected error")
	}
	var indexErr *index.IndexingError
	if !errors.As(err, &indexErr) {
		t.Fatalf("error type = %T, want *index.IndexingError", err)
	}
	if indexErr.DocumentID != "doc-1" {
		t.Errorf("document id = %q, want doc-1", indexErr.DocumentID)
	}
	if !errors.Is(err, embedErr) {
		t.Error("cause not preserved through wrap")
	}
}

func TestStatsCountChunks(t *testing.T) {
	idx, _ := newMemoryIndex(t)
	ctx := context.Background()

	count, err := idx.Index(ctx, "doc-1", "a.md", singlePageDocument(longText("relay", 20)))
	if err != nil {
		t.Fatalf("index: %v", err)
	}

	stats, err := idx.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalChunks != uint64(count) {
		t.Errorf("total chunks = %d, want %d", stats.TotalChunks, count)
	}
	if !stats.SparseConfigured {
		t.Error("sparse should be configured")
	}

	total, err := idx.TotalChunks(ctx)
	if err != nil {
		t.Fatalf("total chunks: %v", err)
	}
	if total != stats.TotalChunks {
		t.Errorf("TotalChunks = %d, Stats.TotalChunks = %d", total, stats.TotalChunks)
	}
}

func TestDenseOnlySearchMode(t *testing.T) {
	idx, _ := newMemoryIndex(t)
	ctx := context.Background()

	if _, err := idx.Index(ctx, "doc-1", "a.md", singlePageDocument(longText("transformer", 20))); err != nil {
		t.Fatalf("index: %v", err)
	}

	results, err := idx.Search(ctx, "transformer", index.SearchOptions{Limit: 5, Mode: index.ModeDense})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected dense results")
	}
	for _, result := range results {
		if result.SearchType != index.SearchTypeDenseOnly {
			t.Errorf("search type = %q, want %q", result.SearchType, index.SearchTypeDenseOnly)
		}
	}
}
