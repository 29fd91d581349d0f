package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"trialwhisperer/internal/answer"
	"trialwhisperer/internal/chunker"
	"trialwhisperer/internal/chunkstore"
	"trialwhisperer/internal/config"
	"trialwhisperer/internal/ctgov"
	"trialwhisperer/internal/domain"
	"trialwhisperer/internal/eligibility"
	"trialwhisperer/internal/embedding/hashing"
	"trialwhisperer/internal/embedding/openai"
	"trialwhisperer/internal/gemini"
	"trialwhisperer/internal/indexer"
	"trialwhisperer/internal/llm"
	"trialwhisperer/internal/llm/extractive"
	llmopenai "trialwhisperer/internal/llm/openai"
	"trialwhisperer/internal/retriever"
	"trialwhisperer/internal/service"
	"trialwhisperer/internal/trialstore"
	"trialwhisperer/internal/vectorstore/memory"
	"trialwhisperer/internal/vectorstore/qdrant"
)

// closers releases resources in reverse order of acquisition.
type closers []io.Closer

func (c *closers) add(cl io.Closer) { *c = append(*c, cl) }

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		errs = append(errs, c[i].Close())
	}
	return errors.Join(errs...)
}

func (a *app) newChunker() (domain.Chunker, error) {
	switch a.cfg.Chunker.Type {
	case "sentence", "":
		return chunker.NewSentenceChunker(chunker.Config{
			MinTokens:    a.cfg.Chunker.MinTokens,
			TargetTokens: a.cfg.Chunker.TargetTokens,
			MaxTokens:    a.cfg.Chunker.MaxTokens,
		}), nil
	default:
		return nil, fmt.Errorf("unknown chunker: %s", a.cfg.Chunker.Type)
	}
}

func (a *app) newEmbedder(ctx context.Context, cl *closers) (domain.Embedder, error) {
	ec := a.cfg.Embedder
	switch ec.Type {
	case "hashing", "":
		return hashing.NewEmbedder(ec.Dimension), nil
	case "openai":
		if ec.OpenAI == nil {
			return nil, errors.New("openai embedder config missing")
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:   ec.OpenAI.BaseURL,
			APIKeyEnv: ec.OpenAI.APIKeyEnv,
			Model:     ec.OpenAI.Model,
			Timeout:   ec.OpenAI.Timeout(),
			Dimension: ec.Dimension,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return client, nil
	case "gemini":
		if ec.Gemini == nil {
			return nil, errors.New("gemini embedder config missing")
		}
		client, err := gemini.NewClient(ctx, geminiConfig(ec.Gemini))
		if err != nil {
			return nil, fmt.Errorf("gemini embedder init failed: %w", err)
		}
		cl.add(client)
		return client.Embedder(), nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", ec.Type)
	}
}

func (a *app) newGenerator(ctx context.Context, cl *closers) (domain.Generator, error) {
	gc := a.cfg.Generator
	var gen domain.Generator
	switch gc.Type {
	case "extractive", "":
		// Local and deterministic; no breaker needed.
		return extractive.New(gc.MaxSentences), nil
	case "openai":
		if gc.OpenAI == nil {
			return nil, errors.New("openai generator config missing")
		}
		client, err := llmopenai.NewClient(llmopenai.Config{
			BaseURL:           gc.OpenAI.BaseURL,
			APIKeyEnv:         gc.OpenAI.APIKeyEnv,
			Model:             gc.OpenAI.Model,
			Timeout:           gc.OpenAI.Timeout(),
			SystemInstruction: answer.SystemInstruction,
			JSONMode:          true,
		})
		if err != nil {
			return nil, fmt.Errorf("openai generator init failed: %w", err)
		}
		gen = client
	case "gemini":
		if gc.Gemini == nil {
			return nil, errors.New("gemini generator config missing")
		}
		client, err := gemini.NewClient(ctx, geminiConfig(gc.Gemini))
		if err != nil {
			return nil, fmt.Errorf("gemini generator init failed: %w", err)
		}
		cl.add(client)
		gen = client.Generator(answer.SystemInstruction)
	default:
		return nil, fmt.Errorf("unknown generator: %s", gc.Type)
	}
	if gc.Breaker.Disabled {
		return gen, nil
	}
	return llm.NewBreaker(gen, llm.BreakerConfig{
		Failures:    gc.Breaker.Failures,
		MaxRequests: gc.Breaker.MaxRequests,
		Interval:    time.Duration(gc.Breaker.IntervalSecs) * time.Second,
		Timeout:     time.Duration(gc.Breaker.TimeoutSecs) * time.Second,
	}, a.log), nil
}

func geminiConfig(c *config.GeminiConfig) gemini.Config {
	return gemini.Config{
		APIKey:         os.Getenv(c.APIKeyEnv),
		ChatModel:      c.ChatModel,
		EmbeddingModel: c.EmbeddingModel,
		Temperature:    c.Temperature,
		MaxTokens:      c.MaxTokens,
	}
}

func (a *app) newVectorStore() (domain.VectorStore, error) {
	vc := a.cfg.VectorStore
	switch vc.Type {
	case "memory", "":
		return memory.NewStorage(), nil
	case "qdrant":
		if vc.Qdrant == nil {
			return nil, errors.New("qdrant config missing")
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:        vc.Qdrant.URL,
			APIKey:     vc.Qdrant.APIKey,
			Collection: vc.Qdrant.Collection,
			Timeout:    vc.Qdrant.Timeout(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown vector store: %s", vc.Type)
	}
}

func (a *app) isEphemeralStore() bool {
	return a.cfg.VectorStore.Type == "memory" || a.cfg.VectorStore.Type == ""
}

func (a *app) newIndexer(emb domain.Embedder, store domain.VectorStore) *indexer.Indexer {
	return indexer.New(emb, store, indexer.Config{
		Workers:       a.cfg.Indexer.Workers,
		RatePerSecond: a.cfg.Indexer.RatePerSecond,
		Burst:         a.cfg.Indexer.Burst,
		Retry:         a.cfg.Retry.Policy(),
	}, indexer.WithLogger(a.log), indexer.WithMetrics(a.metrics))
}

func (a *app) newCTGovClient() *ctgov.Client {
	return ctgov.NewClient(ctgov.Config{
		BaseURL:       a.cfg.CTGov.BaseURL,
		UserAgent:     a.cfg.CTGov.UserAgent,
		Timeout:       a.cfg.CTGov.Timeout(),
		RatePerSecond: a.cfg.CTGov.RatePerSecond,
		Retry:         a.cfg.Retry.Policy(),
	}, a.log)
}

func (a *app) openTrials() (*trialstore.Store, error) {
	return trialstore.Open(a.cfg.Data.Path(a.cfg.Data.TrialsDB))
}

func (a *app) readChunks() ([]domain.Chunk, error) {
	path := a.cfg.Data.Path(a.cfg.Data.ChunksFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no chunks at %s; run `trialwhisperer ingest` first", path)
	}
	return chunkstore.ReadFile(path)
}

// newService assembles the online path. With the in-memory vector store the
// chunk artifact is indexed at startup.
func (a *app) newService(ctx context.Context) (*service.RAGService, io.Closer, error) {
	var cl closers
	fail := func(err error) (*service.RAGService, io.Closer, error) {
		_ = cl.Close()
		return nil, nil, err
	}

	emb, err := a.newEmbedder(ctx, &cl)
	if err != nil {
		return fail(err)
	}
	store, err := a.newVectorStore()
	if err != nil {
		return fail(err)
	}
	gen, err := a.newGenerator(ctx, &cl)
	if err != nil {
		return fail(err)
	}
	trials, err := a.openTrials()
	if err != nil {
		return fail(err)
	}
	cl.add(trials)

	var chunks []domain.Chunk
	if a.isEphemeralStore() || a.cfg.Retrieval.LexicalFallback {
		if chunks, err = a.readChunks(); err != nil {
			return fail(err)
		}
	}
	if a.isEphemeralStore() {
		rep, err := a.newIndexer(emb, store).Index(ctx, chunks)
		if err != nil {
			return fail(fmt.Errorf("index chunks: %w", err))
		}
		a.log.Info("indexed chunks in memory", zap.Int("indexed", rep.Indexed), zap.Int("failed", len(rep.Failed)))
	}

	policy := a.cfg.Retry.Policy()
	r := retriever.New(emb, store, retriever.Config{
		DefaultK:  a.cfg.Retrieval.DefaultK,
		MaxK:      a.cfg.Retrieval.MaxK,
		Overfetch: a.cfg.Retrieval.Overfetch,
		Retry:     policy,
	}, a.log, a.metrics)
	ans := answer.New(gen, answer.Config{Retry: policy, SnippetRunes: a.cfg.Generator.SnippetRunes}, a.log, a.metrics)

	opts := []service.Option{
		service.WithLogger(a.log),
		service.WithCatalog(service.Catalog{Params: a.cfg.CTGov.Params, MaxStudies: a.cfg.CTGov.MaxStudies}),
	}
	if a.cfg.Retrieval.LexicalFallback {
		opts = append(opts, service.WithLexicalFallback(chunks))
	}
	return service.NewRAGService(r, ans, eligibility.New(a.metrics), trials, opts...), cl, nil
}

// offlineService serves trial lookups and eligibility checks, which need only
// the trial store.
func (a *app) offlineService(trials *trialstore.Store) *service.RAGService {
	return service.NewRAGService(nil, nil, eligibility.New(a.metrics), trials, service.WithLogger(a.log))
}
