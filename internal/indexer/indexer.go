// Package indexer embeds chunks and upserts them into the vector store.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"trialwhisperer/internal/domain"
	"trialwhisperer/internal/metrics"
	"trialwhisperer/internal/retry"
)

const (
	StageEmbed  = "embed"
	StageUpsert = "upsert"
)

// Config tunes concurrency and pacing.
type Config struct {
	Workers       int
	RatePerSecond float64
	Burst         int
	Retry         retry.Policy
}

// ChunkFailure records a chunk that could not be indexed.
type ChunkFailure struct {
	Chunk domain.Chunk `json:"chunk"`
	Stage string       `json:"stage"`
	Error string       `json:"error"`

	order int
}

// Report summarizes an indexing run.
type Report struct {
	Indexed int            `json:"indexed"`
	Failed  []ChunkFailure `json:"failed"`
}

// Indexer is safe for concurrent use.
type Indexer struct {
	embedder domain.Embedder
	store    domain.VectorStore
	cfg      Config
	limiter  *rate.Limiter
	log      *zap.Logger
	metrics  *metrics.Metrics

	initMu    sync.Mutex
	initDim   int
	initiated bool
}

// Option customizes an Indexer.
type Option func(*Indexer)

func WithLogger(l *zap.Logger) Option { return func(ix *Indexer) { ix.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(ix *Indexer) { ix.metrics = m } }

func New(embedder domain.Embedder, store domain.VectorStore, cfg Config, opts ...Option) *Indexer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.Workers
	}
	ix := &Indexer{
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, burst),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Index embeds and upserts every chunk. Per-chunk failures are collected in
// the report and do not abort the run; cancellation of ctx does.
func (ix *Indexer) Index(ctx context.Context, chunks []domain.Chunk) (Report, error) {
	var (
		mu     sync.Mutex
		report Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.Workers)
	for i := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			stage, err := ix.indexOne(gctx, chunks[i])
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				report.Indexed++
				ix.metrics.IncIndexed()
				return nil
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}
			ix.metrics.IncChunkFailure(stage)
			ix.log.Warn("chunk indexing failed",
				zap.String("chunk", chunks[i].Key()),
				zap.String("stage", stage),
				zap.Error(err))
			report.Failed = append(report.Failed, ChunkFailure{Chunk: chunks[i], Stage: stage, Error: err.Error(), order: i})
			return nil
		})
	}
	err := g.Wait()
	sort.Slice(report.Failed, func(a, b int) bool { return report.Failed[a].order < report.Failed[b].order })
	if err != nil {
		return report, fmt.Errorf("index aborted: %w", err)
	}
	ix.log.Info("indexing finished", zap.Int("indexed", report.Indexed), zap.Int("failed", len(report.Failed)))
	return report, nil
}

func (ix *Indexer) indexOne(ctx context.Context, ch domain.Chunk) (string, error) {
	var vec []float32
	err := ix.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		if err := ix.limiter.Wait(ctx); err != nil {
			return err
		}
		v, err := ix.embedder.Embed(ctx, ch.Text)
		if err != nil {
			return err
		}
		if len(v) == 0 {
			return errors.New("empty embedding")
		}
		vec = v
		return nil
	})
	if err != nil {
		return StageEmbed, err
	}
	err = ix.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		if err := ix.ensureInit(ctx, len(vec)); err != nil {
			return err
		}
		return ix.store.Upsert(ctx, []domain.IndexedChunk{{Chunk: ch, Vector: vec}})
	})
	if err != nil {
		return StageUpsert, err
	}
	return "", nil
}

// ensureInit creates the collection once, using the first embedding's dimension.
func (ix *Indexer) ensureInit(ctx context.Context, dim int) error {
	ix.initMu.Lock()
	defer ix.initMu.Unlock()
	if ix.initiated {
		if dim != ix.initDim {
			return fmt.Errorf("embedding dimension changed from %d to %d", ix.initDim, dim)
		}
		return nil
	}
	if err := ix.store.Init(ctx, dim); err != nil {
		return err
	}
	ix.initiated = true
	ix.initDim = dim
	return nil
}

// FailedChunks returns the chunks of a report's failures, for a resumed run.
func FailedChunks(failures []ChunkFailure) []domain.Chunk {
	out := make([]domain.Chunk, len(failures))
	for i, f := range failures {
		out[i] = f.Chunk
	}
	return out
}
