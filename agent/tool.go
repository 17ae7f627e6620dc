package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/avidal-labs/docintel/index"
	"github.com/avidal-labs/docintel/llm"
)

const retrievalToolName = "retrieve_documents"

// denseFallbackThreshold is the cosine floor applied when hybrid search
// degrades to dense-only scoring, where raw similarities replace the
// much smaller rank-fusion scores.
const denseFallbackThreshold = 0.7

// Evidence is one retrieved unit kept for source attribution. Evidence is
// returned alongside the tool result and threaded through the in-flight
// call, never held in state shared between sessions.
type Evidence struct {
	ChunkID     string
	DocumentID  string
	Filename    string
	ContentType string
	PageNumber  int
	ChunkIndex  int
	Content     string
	Score       float64
	SearchType  string
}

// RetrievalTool exposes hybrid search as a capability the model can
// invoke, with defaults tuned for recall.
type RetrievalTool struct {
	index     *index.HybridIndex
	limit     int
	threshold float64
	logger    *log.Logger
}

func NewRetrievalTool(idx *index.HybridIndex, limit int, threshold float64, logger *log.Logger) *RetrievalTool {
	if limit <= 0 {
		limit = 8
	}
	if logger == nil {
		logger = log.Default()
	}
	return &RetrievalTool{index: idx, limit: limit, threshold: threshold, logger: logger}
}

func (t *RetrievalTool) Definition() llm.Tool {
	return llm.Tool{
		Name:        retrievalToolName,
		Description: "Search and return information from uploaded documents using hybrid search (semantic + keyword matching).",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {
					"type": "string",
					"description": "The search query"
				}
			},
			"required": ["query"]
		}`),
	}
}

// Retrieve runs hybrid search and falls back to dense-only search when
// hybrid fails. Both modes failing degrades to empty evidence so the
// control loop can grade conservatively and rewrite.
func (t *RetrievalTool) Retrieve(ctx context.Context, query string) (string, []Evidence) {
	results, err := t.index.Search(ctx, query, index.SearchOptions{
		Limit:          t.limit,
		ScoreThreshold: t.threshold,
		Mode:           index.ModeHybrid,
	})
	if err != nil {
		t.logger.Printf("hybrid search failed, falling back to dense-only: %v", err)
		results, err = t.index.Search(ctx, query, index.SearchOptions{
			Limit:          t.limit,
			ScoreThreshold: denseFallbackThreshold,
			Mode:           index.ModeDense,
		})
		if err != nil {
			t.logger.Printf("dense-only search failed: %v", err)
			return "", nil
		}
	}

	evidence := make([]Evidence, 0, len(results))
	var sb strings.Builder
	for i, result := range results {
		evidence = append(evidence, Evidence{
			ChunkID:     result.ChunkID,
			DocumentID:  result.DocumentID,
			Filename:    result.Filename,
			ContentType: result.ContentType,
			PageNumber:  result.PageNumber,
			ChunkIndex:  result.ChunkIndex,
			Content:     result.Content,
			Score:       result.Score,
			SearchType:  result.SearchType,
		})
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Source: %s (Page %d)\n%s", result.Filename, result.PageNumber+1, result.Content)
	}

	return sb.String(), evidence
}
