package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

type Document struct {
	ID           string
	Filename     string
	SourcePath   string
	Status       string
	PageCount    int
	ChunkCount   int
	Language     string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DocumentStore tracks per-document processing state in Postgres.
type DocumentStore struct {
	pool *pgxpool.Pool
}

func NewDocumentStore(pool *pgxpool.Pool) *DocumentStore {
	return &DocumentStore{pool: pool}
}

func (s *DocumentStore) Create(ctx context.Context, id, filename, sourcePath string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, filename, source_path, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (source_path) DO UPDATE SET
			status = $4,
			error_message = NULL,
			updated_at = NOW()
	`, id, filename, sourcePath, StatusPending)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *DocumentStore) SetStatus(ctx context.Context, id, status string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE documents SET status = $2, updated_at = NOW() WHERE id = $1", id, status)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return nil
}

func (s *DocumentStore) MarkCompleted(ctx context.Context, id string, pageCount, chunkCount int, language string, elapsed time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET status = $2,
		    page_count = $3,
		    chunk_count = $4,
		    language = $5,
		    processing_time_ms = $6,
		    updated_at = NOW()
		WHERE id = $1
	`, id, StatusCompleted, pageCount, chunkCount, language, elapsed.Milliseconds())
	if err != nil {
		return fmt.Errorf("mark document completed: %w", err)
	}
	return nil
}

func (s *DocumentStore) MarkFailed(ctx context.Context, id, message string, elapsed time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET status = $2,
		    error_message = $3,
		    processing_time_ms = $4,
		    updated_at = NOW()
		WHERE id = $1
	`, id, StatusFailed, message, elapsed.Milliseconds())
	if err != nil {
		return fmt.Errorf("mark document failed: %w", err)
	}
	return nil
}

func (s *DocumentStore) Get(ctx context.Context, id string) (*Document, error) {
	doc, err := scanDocument(s.pool.QueryRow(ctx, `
		SELECT id, filename, source_path, status, page_count, chunk_count,
		       COALESCE(language, ''), COALESCE(error_message, ''), created_at, updated_at
		FROM documents WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query document: %w", err)
	}
	return doc, nil
}

func (s *DocumentStore) FindByPath(ctx context.Context, sourcePath string) (*Document, error) {
	doc, err := scanDocument(s.pool.QueryRow(ctx, `
		SELECT id, filename, source_path, status, page_count, chunk_count,
		       COALESCE(language, ''), COALESCE(error_message, ''), created_at, updated_at
		FROM documents WHERE source_path = $1
	`, sourcePath))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query document by path: %w", err)
	}
	return doc, nil
}

func (s *DocumentStore) List(ctx context.Context) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, filename, source_path, status, page_count, chunk_count,
		       COALESCE(language, ''), COALESCE(error_message, ''), created_at, updated_at
		FROM documents ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM documents WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func scanDocument(row pgx.Row) (*Document, error) {
	var doc Document
	if err := row.Scan(&doc.ID, &doc.Filename, &doc.SourcePath, &doc.Status,
		&doc.PageCount, &doc.ChunkCount, &doc.Language, &doc.ErrorMessage,
		&doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	return &doc, nil
}
