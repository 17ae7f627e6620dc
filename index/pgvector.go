package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/avidal-labs/docintel/embeddings"
)

// ErrSparseUnsupported marks a backend that stores dense vectors only.
// The hybrid index should use ModeDense search against such a store.
var ErrSparseUnsupported = errors.New("sparse vectors not supported by this backend")

// PgVectorStore is a dense-only VectorStore on Postgres with pgvector,
// kept as the deliberate fallback backend when Qdrant is unavailable.
type PgVectorStore struct {
	pool      *pgxpool.Pool
	dimension int
}

func NewPgVectorStore(pool *pgxpool.Pool, dimension int) *PgVectorStore {
	return &PgVectorStore{pool: pool, dimension: dimension}
}

var _ VectorStore = (*PgVectorStore)(nil)

func (s *PgVectorStore) EnsureReady(ctx context.Context) error {
	if s.dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS docintel_chunks (
			id UUID PRIMARY KEY,
			document_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			content TEXT NOT NULL,
			content_type TEXT NOT NULL,
			page_number INT NOT NULL,
			chunk_index INT NOT NULL,
			chunk_size INT NOT NULL,
			language TEXT,
			heading_context TEXT,
			indexed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			extra JSONB,
			embedding VECTOR(%d) NOT NULL
		)`, s.dimension),
		"CREATE INDEX IF NOT EXISTS idx_docintel_chunks_document ON docintel_chunks(document_id)",
		"CREATE INDEX IF NOT EXISTS idx_docintel_chunks_content_type ON docintel_chunks(content_type)",
		"CREATE INDEX IF NOT EXISTS idx_docintel_chunks_embedding ON docintel_chunks USING ivfflat (embedding vector_cosine_ops)",
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *PgVectorStore) Upsert(ctx context.Context, points []Point) error {
	for _, point := range points {
		extra, err := json.Marshal(point.Payload.Extra)
		if err != nil {
			extra = []byte("{}")
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO docintel_chunks
				(id, document_id, filename, content, content_type, page_number,
				 chunk_index, chunk_size, language, heading_context, indexed_at, extra, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (id) DO UPDATE SET
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding,
				extra = EXCLUDED.extra,
				indexed_at = EXCLUDED.indexed_at
		`, point.ID, point.Payload.DocumentID, point.Payload.Filename, point.Payload.Content,
			point.Payload.ContentType, point.Payload.PageNumber, point.Payload.ChunkIndex,
			point.Payload.ChunkSize, point.Payload.Language, point.Payload.HeadingContext,
			point.Payload.IndexedAt, extra, pgvector.NewVector(point.Dense))
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", point.ID, err)
		}
	}
	return nil
}

func (s *PgVectorStore) QueryDense(ctx context.Context, vector []float32, filter Filter, limit int) ([]Scored, error) {
	query := `
		SELECT id, document_id, filename, content, content_type, page_number,
		       chunk_index, chunk_size, language, heading_context, indexed_at, extra,
		       1 - (embedding <=> $1::vector) AS score
		FROM docintel_chunks
	`
	args := []any{pgvector.NewVector(vector)}

	where := ""
	if filter.DocumentID != "" {
		args = append(args, filter.DocumentID)
		where = fmt.Sprintf("WHERE document_id = $%d", len(args))
	}
	if len(filter.ContentTypes) > 0 {
		args = append(args, filter.ContentTypes)
		clause := fmt.Sprintf("content_type = ANY($%d)", len(args))
		if where == "" {
			where = "WHERE " + clause
		} else {
			where += " AND " + clause
		}
	}

	args = append(args, limit)
	query += where + fmt.Sprintf(" ORDER BY embedding <=> $1::vector LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	var hits []Scored
	for rows.Next() {
		var (
			hit   Scored
			extra []byte
		)
		if err := rows.Scan(&hit.ID, &hit.Payload.DocumentID, &hit.Payload.Filename,
			&hit.Payload.Content, &hit.Payload.ContentType, &hit.Payload.PageNumber,
			&hit.Payload.ChunkIndex, &hit.Payload.ChunkSize, &hit.Payload.Language,
			&hit.Payload.HeadingContext, &hit.Payload.IndexedAt, &extra, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", err)
		}
		hit.Payload.ChunkID = hit.ID
		if len(extra) > 0 {
			_ = json.Unmarshal(extra, &hit.Payload.Extra)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (s *PgVectorStore) QuerySparse(context.Context, embeddings.SparseVector, Filter, int) ([]Scored, error) {
	return nil, ErrSparseUnsupported
}

func (s *PgVectorStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM docintel_chunks WHERE document_id = $1", documentID); err != nil {
		return fmt.Errorf("delete chunks for document %s: %w", documentID, err)
	}
	return nil
}

func (s *PgVectorStore) Stats(ctx context.Context) (StoreStats, error) {
	var count uint64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM docintel_chunks").Scan(&count); err != nil {
		return StoreStats{}, fmt.Errorf("count chunks: %w", err)
	}
	return StoreStats{
		Points:           count,
		Dimension:        uint64(s.dimension),
		Distance:         "Cosine",
		SparseConfigured: false,
	}, nil
}
