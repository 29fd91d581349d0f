package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"trialwhisperer/internal/domain"
	"trialwhisperer/internal/vectorstore"
)

// Storage is an in-memory vector store using brute-force cosine similarity.
// Upserts replace points with the same chunk key atomically.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	ids       map[string]int
	points    []domain.IndexedChunk
}

func NewStorage() *Storage { return &Storage{ids: make(map[string]int)} }

// Init sets the vector dimension. Re-initializing with the same dimension
// keeps existing points; a different dimension drops them.
func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != dimension {
		s.points = nil
		s.ids = make(map[string]int)
	}
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(_ context.Context, points []domain.IndexedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == 0 {
		return errors.New("storage not initialized")
	}
	for _, p := range points {
		if len(p.Vector) != s.dimension {
			return fmt.Errorf("vector dimension mismatch: got %d, want %d", len(p.Vector), s.dimension)
		}
	}
	for _, p := range points {
		id := vectorstore.PointID(p.Chunk)
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		p.Vector = vec
		if i, ok := s.ids[id]; ok {
			s.points[i] = p
			continue
		}
		s.ids[id] = len(s.points)
		s.points = append(s.points, p)
	}
	return nil
}

func (s *Storage) Search(_ context.Context, vector []float32, topK int, filter domain.SearchFilter) ([]domain.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 {
		topK = 5
	}
	hits := make([]domain.SearchHit, 0, len(s.points))
	for _, p := range s.points {
		if filter.TrialID != "" && p.Chunk.TrialID != filter.TrialID {
			continue
		}
		hits = append(hits, domain.SearchHit{Chunk: p.Chunk, Score: cosine(p.Vector, vector)})
	}
	vectorstore.SortHits(hits)
	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *Storage) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = nil
	s.ids = make(map[string]int)
	return nil
}

// Len reports how many points are stored.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
