package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog"

	"github.com/bull/docs-rag/internal/domain"
)

// vectorName is the named vector holding chunk embeddings.
const vectorName = "content"

// upsertBatchSize bounds the points sent in one Upsert request.
const upsertBatchSize = 100

// pointNamespace derives stable point UUIDs from chunk ids.
var pointNamespace = uuid.MustParse("6f1c1c52-5a0e-4f4a-9c39-2d0b7f0e8a11")

// QdrantConfig locates the Qdrant collection.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

// QdrantStorage wraps the Qdrant client with connection management and health checks.
type QdrantStorage struct {
	client     *qdrant.Client
	collection string
	dim        int
	logger     zerolog.Logger
}

// NewQdrantStorage creates a new Qdrant client with health validation.
// It performs health check with retry on startup and fails fast if Qdrant is unreachable.
func NewQdrantStorage(ctx context.Context, cfg QdrantConfig, logger zerolog.Logger) (*QdrantStorage, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: qdrant collection dimension must be positive", domain.ErrInvalidInput)
	}

	// Create Qdrant client using gRPC
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, unavailable("create qdrant client", err)
	}

	storage := &QdrantStorage{
		client:     client,
		collection: cfg.Collection,
		dim:        cfg.Dimension,
		logger:     logger,
	}

	if err := storage.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, unavailable("qdrant health check", err)
	}

	return storage, nil
}

// healthCheckWithRetry performs health check with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *QdrantStorage) healthCheckWithRetry(ctx context.Context) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		return s.Health(ctx)
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn().Err(err).Dur("wait", wait).Msg("qdrant not ready, retrying")
	}

	return backoff.RetryNotify(operation, backoff.WithContext(exponentialBackoff, ctx), notify)
}

// Health performs a single health check against Qdrant.
func (s *QdrantStorage) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return unavailable("health check", err)
	}
	if result == nil || result.Title == "" {
		return unavailable("health check", fmt.Errorf("invalid response"))
	}
	return nil
}

// Dimension implements VectorIndex.
func (s *QdrantStorage) Dimension() int {
	return s.dim
}

// EnsureCollection creates the collection with cosine distance and payload indexes
// if it does not exist yet. Idempotent.
func (s *QdrantStorage) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return unavailable("check collection", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     uint64(s.dim),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return unavailable("create collection", err)
	}

	return s.createPayloadIndexes(ctx)
}

// createPayloadIndexes indexes every field used in search filters.
// Without these, filtered queries degrade to full scans.
func (s *QdrantStorage) createPayloadIndexes(ctx context.Context) error {
	keywords := []string{"document_id", "owner", "model", "chunk_id"}
	for _, field := range keywords {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return unavailable("create index for "+field, err)
		}
	}

	_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      "ordinal",
		FieldType:      qdrant.FieldType_FieldTypeInteger.Enum(),
	})
	if err != nil {
		return unavailable("create index for ordinal", err)
	}
	return nil
}

// Reset implements VectorIndex by deleting the collection and recreating it empty.
func (s *QdrantStorage) Reset(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return unavailable("delete collection", err)
	}
	return s.EnsureCollection(ctx)
}

// Close closes the Qdrant client connection.
func (s *QdrantStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Upsert implements VectorIndex.
func (s *QdrantStorage) Upsert(ctx context.Context, chunk domain.Chunk, vec domain.EmbeddingVector) error {
	if err := checkDimension("vector for "+chunk.ID, vec.Dimension(), s.dim); err != nil {
		return err
	}
	return s.UpsertBatch(ctx, []Item{{Chunk: chunk, Vector: vec}})
}

// UpsertBatch implements BatchUpserter. Points are written in groups of 100.
func (s *QdrantStorage) UpsertBatch(ctx context.Context, items []Item) error {
	for i := 0; i < len(items); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(items))

		points := make([]*qdrant.PointStruct, 0, end-i)
		for _, it := range items[i:end] {
			points = append(points, toPoint(it))
		}

		if err := s.upsertWithRetry(ctx, points); err != nil {
			return unavailable(fmt.Sprintf("upsert batch %d-%d", i, end), err)
		}
	}
	return nil
}

// upsertWithRetry performs upsert operation with exponential backoff retry.
func (s *QdrantStorage) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	wait := true
	operation := func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Wait:           &wait,
			Points:         points,
		})
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(exponentialBackoff, ctx))
}

// Search implements VectorIndex.
func (s *QdrantStorage) Search(ctx context.Context, query domain.EmbeddingVector, k int, filters domain.Filters) ([]domain.SearchResult, error) {
	if err := validateSearch(query, k, s.dim); err != nil {
		return nil, err
	}

	using := vectorName
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(query.Values...),
		Using:          &using,
		Filter:         searchFilter(query.Model, filters),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, unavailable("search", err)
	}

	out := make([]domain.SearchResult, 0, len(results))
	for _, r := range results {
		chunk := fromPayload(r.Payload)
		out = append(out, domain.SearchResult{
			ChunkID:    chunk.ID,
			DocumentID: chunk.DocumentID,
			Score:      float64(r.Score),
			Chunk:      chunk,
		})
	}
	return rank(out, k), nil
}

// Prune implements VectorIndex.
func (s *QdrantStorage) Prune(ctx context.Context, documentID string, keep int) error {
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("document_id", documentID),
				qdrant.NewRange("ordinal", &qdrant.Range{Gte: qdrant.PtrOf(float64(keep))}),
			},
		}),
	})
	if err != nil {
		return unavailable("prune "+documentID, err)
	}
	return nil
}

// Delete implements VectorIndex.
func (s *QdrantStorage) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchKeywords("chunk_id", chunkIDs...),
			},
		}),
	})
	if err != nil {
		return unavailable("delete chunks", err)
	}
	return nil
}

// Count implements VectorIndex.
func (s *QdrantStorage) Count(ctx context.Context) (uint64, error) {
	collection, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return 0, unavailable("get collection", err)
	}
	return collection.GetPointsCount(), nil
}

// searchFilter restricts a query to the model's points and the caller's filters.
func searchFilter(model domain.ModelID, filters domain.Filters) *qdrant.Filter {
	must := []*qdrant.Condition{
		qdrant.NewMatch("model", model.String()),
	}
	if filters.Owner != "" {
		must = append(must, qdrant.NewMatch("owner", filters.Owner))
	}
	if len(filters.DocumentIDs) > 0 {
		must = append(must, qdrant.NewMatchKeywords("document_id", filters.DocumentIDs...))
	}
	return &qdrant.Filter{Must: must}
}

// pointID maps a chunk id to its UUIDv5 point id.
func pointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func toPoint(it Item) *qdrant.PointStruct {
	c := it.Chunk
	return &qdrant.PointStruct{
		Id: qdrant.NewIDUUID(pointID(c.ID)),
		Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
			vectorName: qdrant.NewVector(it.Vector.Values...),
		}),
		Payload: qdrant.NewValueMap(map[string]any{
			"chunk_id":    c.ID,
			"document_id": c.DocumentID,
			"title":       c.Title,
			"owner":       c.Owner,
			"ordinal":     c.Ordinal,
			"start":       c.Start,
			"end":         c.End,
			"text":        c.Text,
			"tokens":      c.Tokens,
			"hash":        c.Hash,
			"oversized":   c.Oversized,
			"model":       it.Vector.Model.String(),
		}),
	}
}

func fromPayload(p map[string]*qdrant.Value) domain.Chunk {
	return domain.Chunk{
		ID:         p["chunk_id"].GetStringValue(),
		DocumentID: p["document_id"].GetStringValue(),
		Title:      p["title"].GetStringValue(),
		Owner:      p["owner"].GetStringValue(),
		Ordinal:    int(p["ordinal"].GetIntegerValue()),
		Start:      int(p["start"].GetIntegerValue()),
		End:        int(p["end"].GetIntegerValue()),
		Text:       p["text"].GetStringValue(),
		Tokens:     int(p["tokens"].GetIntegerValue()),
		Hash:       p["hash"].GetStringValue(),
		Oversized:  p["oversized"].GetBoolValue(),
	}
}
