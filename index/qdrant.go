package index

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/avidal-labs/docintel/embeddings"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// QdrantStore backs the hybrid index with a Qdrant collection holding a
// named dense vector and a named sparse vector per point, with payload
// indexes on document_id and content_type for efficient filtering.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  uint64
	logger     *log.Logger
}

type QdrantOptions struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

func NewQdrantStore(opts QdrantOptions, logger *log.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = log.Default()
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	return &QdrantStore{
		client:     client,
		collection: opts.Collection,
		dimension:  uint64(opts.Dimension),
		logger:     logger,
	}, nil
}

var _ VectorStore = (*QdrantStore)(nil)

// EnsureReady creates the collection and payload indexes when absent.
func (s *QdrantStore) EnsureReady(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}

	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
				denseVectorName: {
					Size:     s.dimension,
					Distance: qdrant.Distance_Cosine,
				},
			}),
			SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
				sparseVectorName: {},
			}),
		})
		if err != nil {
			return fmt.Errorf("create collection %s: %w", s.collection, err)
		}
		s.logger.Printf("created hybrid collection %s", s.collection)
	}

	for _, field := range []string{"document_id", "content_type"} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			// The index may already exist; filtering still works either way.
			s.logger.Printf("create payload index %s: %v", field, err)
		}
	}

	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	upserts := make([]*qdrant.PointStruct, len(points))
	for i, point := range points {
		upserts[i] = &qdrant.PointStruct{
			Id: qdrant.NewID(point.ID),
			Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
				denseVectorName:  qdrant.NewVectorDense(point.Dense),
				sparseVectorName: qdrant.NewVectorSparse(point.Sparse.Indices, point.Sparse.Values),
			}),
			Payload: payloadToQdrant(point.Payload),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         upserts,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

func (s *QdrantStore) QueryDense(ctx context.Context, vector []float32, filter Filter, limit int) ([]Scored, error) {
	return s.query(ctx, qdrant.NewQueryDense(vector), denseVectorName, filter, limit)
}

func (s *QdrantStore) QuerySparse(ctx context.Context, vector embeddings.SparseVector, filter Filter, limit int) ([]Scored, error) {
	return s.query(ctx, qdrant.NewQuerySparse(vector.Indices, vector.Values), sparseVectorName, filter, limit)
}

func (s *QdrantStore) query(ctx context.Context, query *qdrant.Query, using string, filter Filter, limit int) ([]Scored, error) {
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          query,
		Using:          qdrant.PtrOf(using),
		Filter:         toQdrantFilter(filter),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query %s vectors: %w", using, err)
	}

	hits := make([]Scored, 0, len(points))
	for _, point := range points {
		hits = append(hits, Scored{
			ID:      point.GetId().GetUuid(),
			Score:   float64(point.GetScore()),
			Payload: payloadFromQdrant(point.GetPayload()),
		})
	}
	return hits, nil
}

func (s *QdrantStore) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)},
		}),
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("delete points for document %s: %w", documentID, err)
	}
	return nil
}

func (s *QdrantStore) Stats(ctx context.Context) (StoreStats, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return StoreStats{}, fmt.Errorf("collection info: %w", err)
	}

	stats := StoreStats{Points: info.GetPointsCount()}
	params := info.GetConfig().GetParams()
	if dense, ok := params.GetVectorsConfig().GetParamsMap().GetMap()[denseVectorName]; ok {
		stats.Dimension = dense.GetSize()
		stats.Distance = dense.GetDistance().String()
	}
	stats.SparseConfigured = len(params.GetSparseVectorsConfig().GetMap()) > 0
	return stats, nil
}

func toQdrantFilter(filter Filter) *qdrant.Filter {
	var conditions []*qdrant.Condition
	if filter.DocumentID != "" {
		conditions = append(conditions, qdrant.NewMatch("document_id", filter.DocumentID))
	}
	if len(filter.ContentTypes) > 0 {
		conditions = append(conditions, qdrant.NewMatchKeywords("content_type", filter.ContentTypes...))
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

func payloadToQdrant(p Payload) map[string]*qdrant.Value {
	fields := map[string]any{
		"chunk_id":        p.ChunkID,
		"document_id":     p.DocumentID,
		"filename":        p.Filename,
		"content":         p.Content,
		"content_type":    p.ContentType,
		"page_number":     p.PageNumber,
		"chunk_index":     p.ChunkIndex,
		"chunk_size":      p.ChunkSize,
		"language":        p.Language,
		"heading_context": p.HeadingContext,
		"indexed_at":      p.IndexedAt.Format(time.RFC3339),
	}
	for k, v := range p.Extra {
		if _, reserved := fields[k]; !reserved {
			fields[k] = v
		}
	}
	value, err := qdrant.TryValueMap(fields)
	if err != nil {
		// Extension values that cannot be represented are dropped rather
		// than failing the upsert.
		base := map[string]any{}
		for k := range fields {
			if _, ok := p.Extra[k]; !ok {
				base[k] = fields[k]
			}
		}
		return qdrant.NewValueMap(base)
	}
	return value
}

func payloadFromQdrant(values map[string]*qdrant.Value) Payload {
	payload := Payload{
		ChunkID:        values["chunk_id"].GetStringValue(),
		DocumentID:     values["document_id"].GetStringValue(),
		Filename:       values["filename"].GetStringValue(),
		Content:        values["content"].GetStringValue(),
		ContentType:    values["content_type"].GetStringValue(),
		PageNumber:     int(values["page_number"].GetIntegerValue()),
		ChunkIndex:     int(values["chunk_index"].GetIntegerValue()),
		ChunkSize:      int(values["chunk_size"].GetIntegerValue()),
		Language:       values["language"].GetStringValue(),
		HeadingContext: values["heading_context"].GetStringValue(),
	}
	if ts, err := time.Parse(time.RFC3339, values["indexed_at"].GetStringValue()); err == nil {
		payload.IndexedAt = ts
	}

	known := map[string]bool{
		"chunk_id": true, "document_id": true, "filename": true,
		"content": true, "content_type": true, "page_number": true,
		"chunk_index": true, "chunk_size": true, "language": true,
		"heading_context": true, "indexed_at": true,
	}
	for key, value := range values {
		if known[key] {
			continue
		}
		if payload.Extra == nil {
			payload.Extra = map[string]any{}
		}
		payload.Extra[key] = valueToAny(value)
	}
	return payload
}

func valueToAny(value *qdrant.Value) any {
	switch kind := value.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return value.String()
	}
}
