// Package pipeline runs the offline half of ingestion: normalize raw
// registry records, chunk them, persist the trials and write the chunk file
// the indexer consumes.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trialwhisperer/internal/chunkstore"
	"trialwhisperer/internal/domain"
	"trialwhisperer/internal/metrics"
	"trialwhisperer/internal/normalizer"
)

type Config struct {
	Workers int
	// ChunksPath, when set, receives the chunk JSONL after a successful run.
	ChunksPath string
}

// RecordFailure is a raw record that could not be normalized.
type RecordFailure struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// Report summarizes one ingestion run.
type Report struct {
	Read       int             `json:"read"`
	Normalized int             `json:"normalized"`
	Superseded int             `json:"superseded"`
	Chunks     int             `json:"chunks"`
	Failed     []RecordFailure `json:"failed"`
}

// Result carries everything the run produced, in input order.
type Result struct {
	Trials []domain.TrialRecord
	Chunks []domain.Chunk
	Report Report
}

type Pipeline struct {
	chunker domain.Chunker
	trials  domain.TrialRepository
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics
}

// New builds a pipeline. trials may be nil when no trial store is configured.
func New(chunker domain.Chunker, trials domain.TrialRepository, cfg Config, log *zap.Logger, m *metrics.Metrics) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{chunker: chunker, trials: trials, cfg: cfg, log: log, metrics: m}
}

type outcome struct {
	record domain.TrialRecord
	chunks []domain.Chunk
	err    error
}

// Run normalizes and chunks raws concurrently. Output order follows input
// order no matter how work is scheduled. When the same trial appears more
// than once, the later record supersedes the earlier one.
func (p *Pipeline) Run(ctx context.Context, raws []normalizer.RawRecord) (Result, error) {
	results := make([]outcome, len(raws))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i := range raws {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := normalizer.Normalize(raws[i])
			if err != nil {
				results[i] = outcome{err: err}
				return nil
			}
			results[i] = outcome{record: rec, chunks: p.chunker.Chunk(rec)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("ingest aborted: %w", err)
	}

	res := Result{Report: Report{Read: len(raws)}}
	latest := map[string]int{}
	for i, o := range results {
		p.metrics.IncNormalized(o.err == nil)
		if o.err != nil {
			p.log.Warn("skipping record", zap.String("source", raws[i].Source), zap.Error(o.err))
			res.Report.Failed = append(res.Report.Failed, RecordFailure{Source: raws[i].Source, Error: o.err.Error()})
			continue
		}
		res.Report.Normalized++
		latest[o.record.NCTID] = i
	}
	for i, o := range results {
		if o.err != nil {
			continue
		}
		if latest[o.record.NCTID] != i {
			res.Report.Superseded++
			continue
		}
		res.Trials = append(res.Trials, o.record)
		res.Chunks = append(res.Chunks, o.chunks...)
	}
	res.Report.Chunks = len(res.Chunks)

	if p.trials != nil {
		if err := p.trials.Save(ctx, res.Trials...); err != nil {
			return res, fmt.Errorf("saving trials: %w", err)
		}
	}
	if p.cfg.ChunksPath != "" {
		if err := chunkstore.WriteFile(p.cfg.ChunksPath, res.Chunks); err != nil {
			return res, fmt.Errorf("writing chunks: %w", err)
		}
	}
	p.log.Info("ingestion finished",
		zap.Int("read", res.Report.Read),
		zap.Int("trials", len(res.Trials)),
		zap.Int("chunks", res.Report.Chunks),
		zap.Int("failed", len(res.Report.Failed)))
	return res, nil
}
