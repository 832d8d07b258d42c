package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bull/docs-rag/internal/domain"
)

// State is the lifecycle position of an ingestion job.
type State string

const (
	StatePending   State = "pending"
	StateChunking  State = "chunking"
	StateEmbedding State = "embedding"
	StateIndexing  State = "indexing"
	StateComplete  State = "complete"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// ChunkFailure names a chunk that could not be indexed.
type ChunkFailure struct {
	ChunkID string `json:"chunk_id"`
	Reason  string `json:"reason"`
}

// Job tracks the ingestion of one document.
type Job struct {
	ID            uuid.UUID      `json:"id"`
	DocumentID    string         `json:"document_id"`
	State         State          `json:"state"`
	Reason        string         `json:"reason,omitempty"` // Set when Failed
	TotalChunks   int            `json:"total_chunks"`
	IndexedChunks int            `json:"indexed_chunks"`
	FailedChunks  []ChunkFailure `json:"failed_chunks,omitempty"`
	Partial       bool           `json:"partial"` // Complete with some chunks failed
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func newJob(documentID string) Job {
	now := time.Now()
	return Job{
		ID:         uuid.New(),
		DocumentID: documentID,
		State:      StatePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// JobStore persists job snapshots.
type JobStore interface {
	Put(ctx context.Context, job Job) error
	Get(ctx context.Context, id uuid.UUID) (Job, error)
	CountByState(ctx context.Context) (map[State]int, error)
}

// DefaultJobRetention bounds how many jobs the in-memory store remembers.
const DefaultJobRetention = 10000

// MemoryJobStore keeps the most recently updated jobs in memory.
type MemoryJobStore struct {
	jobs *lru.Cache[uuid.UUID, Job]
}

// NewMemoryJobStore creates a store remembering up to size jobs.
func NewMemoryJobStore(size int) (*MemoryJobStore, error) {
	if size <= 0 {
		size = DefaultJobRetention
	}
	jobs, err := lru.New[uuid.UUID, Job](size)
	if err != nil {
		return nil, fmt.Errorf("create job store: %w", err)
	}
	return &MemoryJobStore{jobs: jobs}, nil
}

// Put implements JobStore.
func (s *MemoryJobStore) Put(_ context.Context, job Job) error {
	job.FailedChunks = append([]ChunkFailure(nil), job.FailedChunks...)
	s.jobs.Add(job.ID, job)
	return nil
}

// Get implements JobStore.
func (s *MemoryJobStore) Get(_ context.Context, id uuid.UUID) (Job, error) {
	job, ok := s.jobs.Get(id)
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	return job, nil
}

// CountByState implements JobStore.
func (s *MemoryJobStore) CountByState(context.Context) (map[State]int, error) {
	counts := make(map[State]int)
	for _, job := range s.jobs.Values() {
		counts[job.State]++
	}
	return counts, nil
}
