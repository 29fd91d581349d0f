// Package retriever turns a question into the top-k most similar chunks.
package retriever

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"trialwhisperer/internal/domain"
	"trialwhisperer/internal/metrics"
	"trialwhisperer/internal/retry"
	"trialwhisperer/internal/vectorstore"
)

// Config sets retrieval defaults.
type Config struct {
	DefaultK  int
	MaxK      int
	Overfetch int
	Retry     retry.Policy
}

func DefaultConfig() Config {
	return Config{DefaultK: 8, MaxK: 50, Overfetch: 2, Retry: retry.DefaultPolicy()}
}

// Retriever must share its embedder with the indexer that built the store.
type Retriever struct {
	embedder domain.Embedder
	store    domain.VectorStore
	cfg      Config
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func New(embedder domain.Embedder, store domain.VectorStore, cfg Config, log *zap.Logger, m *metrics.Metrics) *Retriever {
	def := DefaultConfig()
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = def.DefaultK
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = def.MaxK
	}
	if cfg.Overfetch <= 0 {
		cfg.Overfetch = def.Overfetch
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = def.Retry
	}
	cfg.Retry = cfg.Retry.Online()
	if log == nil {
		log = zap.NewNop()
	}
	return &Retriever{embedder: embedder, store: store, cfg: cfg, log: log, metrics: m}
}

// Retrieve returns at most k hits ordered by score, then sequence index.
// An empty result is not an error. A non-empty nctID must be well formed and
// restricts hits to that trial.
func (r *Retriever) Retrieve(ctx context.Context, query, nctID string, k int) ([]domain.SearchHit, error) {
	start := time.Now()
	defer func() { r.metrics.ObserveRetrieval(time.Since(start)) }()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", domain.ErrInvalidInput)
	}
	var filter domain.SearchFilter
	if strings.TrimSpace(nctID) != "" {
		id, ok := domain.CanonicalNCTID(nctID)
		if !ok {
			return nil, fmt.Errorf("%w: %w: %q", domain.ErrInvalidInput, domain.ErrInvalidNCTID, nctID)
		}
		filter.TrialID = id
	}
	if k <= 0 {
		k = r.cfg.DefaultK
	}
	if k > r.cfg.MaxK {
		k = r.cfg.MaxK
	}

	var vec []float32
	err := r.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		v, err := r.embedder.Embed(ctx, query)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var hits []domain.SearchHit
	err = r.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		h, err := r.store.Search(ctx, vec, k*r.cfg.Overfetch, filter)
		if err != nil {
			return err
		}
		hits = h
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	if filter.TrialID != "" {
		hits = keepTrial(hits, filter.TrialID)
	}
	vectorstore.SortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	r.log.Debug("retrieved",
		zap.String("nct_id", filter.TrialID),
		zap.Int("k", k),
		zap.Int("hits", len(hits)))
	if hits == nil {
		hits = []domain.SearchHit{}
	}
	return hits, nil
}

// keepTrial guards against stores that ignore the filter.
func keepTrial(hits []domain.SearchHit, id string) []domain.SearchHit {
	out := hits[:0]
	for _, h := range hits {
		if h.Chunk.TrialID == id {
			out = append(out, h)
		}
	}
	return out
}
