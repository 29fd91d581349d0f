package domain

import (
	"context"
	"time"
)

// Embedder converts free text into a numeric vector representation.
// Dimension may be zero until the first successful Embed for remote models.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces free text from a prompt.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Chunker splits a normalized trial into section-scoped chunks.
type Chunker interface {
	Chunk(record TrialRecord) []Chunk
}

// VectorStore persists chunk vectors and supports filtered similarity search.
type VectorStore interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, points []IndexedChunk) error
	Search(ctx context.Context, vector []float32, topK int, filter SearchFilter) ([]SearchHit, error)
	Clear(ctx context.Context) error
}

// TrialRepository keeps normalized trial records for lookup by id.
type TrialRepository interface {
	Save(ctx context.Context, records ...TrialRecord) error
	Get(ctx context.Context, nctID string) (TrialRecord, error)
	Count(ctx context.Context) (int, error)
	LastUpdated(ctx context.Context) (time.Time, error)
}

// SearchFilter narrows a vector search. Empty fields match everything.
type SearchFilter struct {
	TrialID string
}
