package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/avidal-labs/docintel/database"
	"github.com/avidal-labs/docintel/index"
)

// Result reports the outcome of ingesting one file.
type Result struct {
	DocumentID string
	Filename   string
	Pages      int
	Chunks     int
	Elapsed    time.Duration
	Err        error
}

// Service runs extraction, chunking and indexing for source files and keeps
// the document metadata table in step with the vector store.
type Service struct {
	index      *index.HybridIndex
	docs       *database.DocumentStore
	extractors []PageExtractor
	logger     *log.Logger
}

func NewService(idx *index.HybridIndex, docs *database.DocumentStore, extractors []PageExtractor, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{index: idx, docs: docs, extractors: extractors, logger: logger}
}

func (s *Service) extractorFor(path string) PageExtractor {
	for _, e := range s.extractors {
		if e.Supports(path) {
			return e
		}
	}
	return nil
}

// IngestFile processes a single file end to end. Re-ingesting a path reuses
// its document id and replaces the previously indexed chunks.
func (s *Service) IngestFile(ctx context.Context, path string) (Result, error) {
	started := time.Now()
	filename := filepath.Base(path)
	res := Result{Filename: filename}

	extractor := s.extractorFor(path)
	if extractor == nil {
		return res, fmt.Errorf("unsupported file type: %s", path)
	}

	documentID := uuid.NewString()
	if s.docs != nil {
		if existing, err := s.docs.FindByPath(ctx, path); err != nil {
			return res, err
		} else if existing != nil {
			documentID = existing.ID
		}
		if err := s.docs.Create(ctx, documentID, filename, path); err != nil {
			return res, err
		}
		if err := s.docs.SetStatus(ctx, documentID, database.StatusProcessing); err != nil {
			return res, err
		}
	}
	res.DocumentID = documentID

	doc, err := extractor.ExtractPages(ctx, path)
	if err != nil {
		return res, s.fail(ctx, &res, started, err)
	}
	res.Pages = len(doc.Pages)

	// Stale points from an earlier run of the same document go first.
	if _, err := s.index.Delete(ctx, documentID); err != nil {
		return res, s.fail(ctx, &res, started, err)
	}

	chunks, err := s.index.Index(ctx, documentID, filename, doc)
	if err != nil {
		return res, s.fail(ctx, &res, started, err)
	}
	res.Chunks = chunks
	res.Elapsed = time.Since(started)

	if s.docs != nil {
		language := ""
		for _, p := range doc.Pages {
			if p.Language != "" {
				language = p.Language
				break
			}
		}
		if err := s.docs.MarkCompleted(ctx, documentID, res.Pages, chunks, language, res.Elapsed); err != nil {
			return res, err
		}
	}

	s.logger.Printf("ingestion: %s indexed (%d pages, %d chunks, %s)", filename, res.Pages, chunks, res.Elapsed.Round(time.Millisecond))
	return res, nil
}

func (s *Service) fail(ctx context.Context, res *Result, started time.Time, cause error) error {
	res.Elapsed = time.Since(started)
	res.Err = cause
	if s.docs != nil && res.DocumentID != "" {
		if err := s.docs.MarkFailed(ctx, res.DocumentID, cause.Error(), res.Elapsed); err != nil {
			s.logger.Printf("ingestion: recording failure for %s: %v", res.Filename, err)
		}
	}
	return fmt.Errorf("ingest %s: %w", res.Filename, cause)
}

// IngestDirectory walks root and ingests every supported file. A failing
// document does not stop the rest of the batch.
func (s *Service) IngestDirectory(ctx context.Context, root string) ([]Result, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if s.extractorFor(path) != nil {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	results := make([]Result, 0, len(paths))
	for _, path := range paths {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res, err := s.IngestFile(ctx, path)
		if err != nil {
			s.logger.Printf("ingestion: %v", err)
			res.Err = err
		}
		results = append(results, res)
	}
	return results, nil
}

// DeleteDocument removes the indexed chunks and the metadata row.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := s.index.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("delete document %s from index: %w", documentID, err)
	}
	if s.docs != nil {
		if err := s.docs.Delete(ctx, documentID); err != nil {
			return err
		}
	}
	return nil
}
