package index

import "fmt"

// IndexingError reports an embedding or storage failure while indexing
// one document.
type IndexingError struct {
	DocumentID string
	Err        error
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("index document %s: %v", e.DocumentID, e.Err)
}

func (e *IndexingError) Unwrap() error { return e.Err }

// SearchError reports an embedding or storage failure while serving one
// query. Callers are expected to fall back to dense-only search before
// surfacing it.
type SearchError struct {
	Query string
	Err   error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search %q: %v", e.Query, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }
