package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the relational document-metadata tables when
// absent. Vector data lives in the vector backend, not here.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY,
			filename TEXT NOT NULL,
			source_path TEXT UNIQUE NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			page_count INT NOT NULL DEFAULT 0,
			chunk_count INT NOT NULL DEFAULT 0,
			language TEXT,
			processing_time_ms BIGINT,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		"CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status)",
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}
