package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/bull/docs-rag/internal/domain"
)

// PgVectorStorage is a VectorIndex backed by PostgreSQL with the pgvector extension.
type PgVectorStorage struct {
	pool  *pgxpool.Pool
	table string
	dim   int
}

// NewPgVectorStorage connects to url and verifies the connection.
func NewPgVectorStorage(ctx context.Context, url, table string, dim int) (*PgVectorStorage, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: pgvector dimension must be positive", domain.ErrInvalidInput)
	}
	if table == "" {
		table = "chunk_vectors"
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("%w: parse database url: %w", domain.ErrInvalidInput, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, unavailable("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable("ping", err)
	}

	return &PgVectorStorage{pool: pool, table: pgx.Identifier{table}.Sanitize(), dim: dim}, nil
}

// Migrate creates the extension, table and indexes. Idempotent.
func (s *PgVectorStorage) Migrate(ctx context.Context) error {
	q := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
  chunk_id     TEXT PRIMARY KEY,
  document_id  TEXT NOT NULL,
  title        TEXT NOT NULL DEFAULT '',
  owner        TEXT NOT NULL DEFAULT '',
  ordinal      INT NOT NULL,
  start_offset INT NOT NULL,
  end_offset   INT NOT NULL,
  content      TEXT NOT NULL,
  tokens       INT NOT NULL,
  content_hash TEXT NOT NULL,
  oversized    BOOLEAN NOT NULL DEFAULT FALSE,
  model        TEXT NOT NULL,
  embedding    vector(%[2]d) NOT NULL,
  updated_at   TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s (document_id);
CREATE INDEX IF NOT EXISTS %[4]s ON %[1]s (model, owner);
`, s.table, s.dim,
		pgx.Identifier{unquote(s.table) + "_document_idx"}.Sanitize(),
		pgx.Identifier{unquote(s.table) + "_model_owner_idx"}.Sanitize())

	if _, err := s.pool.Exec(ctx, q); err != nil {
		return unavailable("migrate", err)
	}
	return nil
}

// Dimension implements VectorIndex.
func (s *PgVectorStorage) Dimension() int {
	return s.dim
}

// Upsert implements VectorIndex.
func (s *PgVectorStorage) Upsert(ctx context.Context, chunk domain.Chunk, vec domain.EmbeddingVector) error {
	if err := checkDimension("vector for "+chunk.ID, vec.Dimension(), s.dim); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, s.upsertSQL(), upsertArgs(chunk, vec)...); err != nil {
		return unavailable("upsert "+chunk.ID, err)
	}
	return nil
}

// UpsertBatch implements BatchUpserter in a single transaction.
func (s *PgVectorStorage) UpsertBatch(ctx context.Context, items []Item) error {
	batch := &pgx.Batch{}
	q := s.upsertSQL()
	for _, it := range items {
		batch.Queue(q, upsertArgs(it.Chunk, it.Vector)...)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return unavailable("upsert batch", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

func (s *PgVectorStorage) upsertSQL() string {
	return fmt.Sprintf(`
INSERT INTO %s (
  chunk_id, document_id, title, owner, ordinal, start_offset, end_offset,
  content, tokens, content_hash, oversized, model, embedding, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13, now())
ON CONFLICT (chunk_id) DO UPDATE SET
  document_id  = EXCLUDED.document_id,
  title        = EXCLUDED.title,
  owner        = EXCLUDED.owner,
  ordinal      = EXCLUDED.ordinal,
  start_offset = EXCLUDED.start_offset,
  end_offset   = EXCLUDED.end_offset,
  content      = EXCLUDED.content,
  tokens       = EXCLUDED.tokens,
  content_hash = EXCLUDED.content_hash,
  oversized    = EXCLUDED.oversized,
  model        = EXCLUDED.model,
  embedding    = EXCLUDED.embedding,
  updated_at   = now();`, s.table)
}

func upsertArgs(c domain.Chunk, vec domain.EmbeddingVector) []any {
	return []any{
		c.ID, c.DocumentID, c.Title, c.Owner, c.Ordinal, c.Start, c.End,
		c.Text, c.Tokens, c.Hash, c.Oversized, vec.Model.String(), pgvector.NewVector(vec.Values),
	}
}

// Search implements VectorIndex. Scores are cosine similarity (1 - cosine distance).
func (s *PgVectorStorage) Search(ctx context.Context, query domain.EmbeddingVector, k int, filters domain.Filters) ([]domain.SearchResult, error) {
	if err := validateSearch(query, k, s.dim); err != nil {
		return nil, err
	}

	args := []any{pgvector.NewVector(query.Values), query.Model.String()}
	where := "model = $2"
	if filters.Owner != "" {
		args = append(args, filters.Owner)
		where += fmt.Sprintf(" AND owner = $%d", len(args))
	}
	if len(filters.DocumentIDs) > 0 {
		args = append(args, filters.DocumentIDs)
		where += fmt.Sprintf(" AND document_id = ANY($%d)", len(args))
	}
	args = append(args, k)

	q := fmt.Sprintf(`
SELECT chunk_id, document_id, title, owner, ordinal, start_offset, end_offset,
       content, tokens, content_hash, oversized, 1 - (embedding <=> $1) AS score
FROM %s
WHERE %s
ORDER BY embedding <=> $1, chunk_id
LIMIT $%d`, s.table, where, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, unavailable("search", err)
	}
	defer rows.Close()

	var out []domain.SearchResult
	for rows.Next() {
		var c domain.Chunk
		var score float64
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Title, &c.Owner, &c.Ordinal, &c.Start, &c.End,
			&c.Text, &c.Tokens, &c.Hash, &c.Oversized, &score); err != nil {
			return nil, unavailable("scan", err)
		}
		out = append(out, domain.SearchResult{ChunkID: c.ID, DocumentID: c.DocumentID, Score: score, Chunk: c})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("search rows", err)
	}
	return rank(out, k), nil
}

// Prune implements VectorIndex.
func (s *PgVectorStorage) Prune(ctx context.Context, documentID string, keep int) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE document_id = $1 AND ordinal >= $2", s.table)
	if _, err := s.pool.Exec(ctx, q, documentID, keep); err != nil {
		return unavailable("prune "+documentID, err)
	}
	return nil
}

// Delete implements VectorIndex.
func (s *PgVectorStorage) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE chunk_id = ANY($1)", s.table)
	if _, err := s.pool.Exec(ctx, q, chunkIDs); err != nil {
		return unavailable("delete chunks", err)
	}
	return nil
}

// Reset implements VectorIndex.
func (s *PgVectorStorage) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s", s.table)); err != nil {
		return unavailable("truncate", err)
	}
	return nil
}

// Count implements VectorIndex.
func (s *PgVectorStorage) Count(ctx context.Context) (uint64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", s.table)).Scan(&n); err != nil {
		return 0, unavailable("count", err)
	}
	return uint64(n), nil
}

// Health implements VectorIndex.
func (s *PgVectorStorage) Health(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close implements VectorIndex.
func (s *PgVectorStorage) Close() error {
	s.pool.Close()
	return nil
}

func unquote(ident string) string {
	if len(ident) >= 2 && ident[0] == '"' && ident[len(ident)-1] == '"' {
		return ident[1 : len(ident)-1]
	}
	return ident
}
