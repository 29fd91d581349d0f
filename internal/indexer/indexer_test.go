package indexer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"trialwhisperer/internal/domain"
	"trialwhisperer/internal/embedding/hashing"
	"trialwhisperer/internal/retry"
	"trialwhisperer/internal/vectorstore/memory"
)

type flakyEmbedder struct {
	inner    domain.Embedder
	mu       sync.Mutex
	failures map[string]int
	broken   map[string]bool
}

func (f *flakyEmbedder) Name() string   { return "flaky" }
func (f *flakyEmbedder) Dimension() int { return f.inner.Dimension() }
func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken[text] {
		return nil, errors.New("content rejected")
	}
	if f.failures[text] > 0 {
		f.failures[text]--
		return nil, &domain.ProviderError{Provider: "flaky", Op: "embed", Temporary: true, Err: errors.New("rate limited")}
	}
	return f.inner.Embed(ctx, text)
}

type failingStore struct {
	*memory.Storage
	reject string
}

func (s *failingStore) Upsert(ctx context.Context, pts []domain.IndexedChunk) error {
	for _, p := range pts {
		if p.Chunk.Text == s.reject {
			return errors.New("payload too large")
		}
	}
	return s.Storage.Upsert(ctx, pts)
}

func testChunks(texts ...string) []domain.Chunk {
	out := make([]domain.Chunk, len(texts))
	for i, t := range texts {
		out[i] = domain.Chunk{TrialID: "NCT01234567", Section: domain.SectionSummary, Text: t, SequenceIndex: i}
	}
	return out
}

func testConfig() Config {
	return Config{Workers: 3, Retry: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}}
}

func TestIndexRetriesAndCollectsFailures(t *testing.T) {
	emb := &flakyEmbedder{
		inner:    hashing.NewEmbedder(32),
		failures: map[string]int{"retry me": 2},
		broken:   map[string]bool{"bad": true},
	}
	store := &failingStore{Storage: memory.NewStorage(), reject: "huge"}
	ix := New(emb, store, testConfig(), WithLogger(zaptest.NewLogger(t)))

	report, err := ix.Index(context.Background(), testChunks("first", "retry me", "bad", "huge", "last"))
	require.NoError(t, err)

	assert.Equal(t, 3, report.Indexed)
	require.Len(t, report.Failed, 2)
	assert.Equal(t, "bad", report.Failed[0].Chunk.Text)
	assert.Equal(t, StageEmbed, report.Failed[0].Stage)
	assert.Equal(t, "huge", report.Failed[1].Chunk.Text)
	assert.Equal(t, StageUpsert, report.Failed[1].Stage)
	assert.Equal(t, 3, store.Len())
}

func TestReindexIsIdempotent(t *testing.T) {
	store := memory.NewStorage()
	ix := New(hashing.NewEmbedder(16), store, testConfig())
	chunks := testChunks("a b c", "d e f")
	for i := 0; i < 2; i++ {
		report, err := ix.Index(context.Background(), chunks)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Indexed)
	}
	assert.Equal(t, 2, store.Len())
}

func TestIndexCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(hashing.NewEmbedder(8), memory.NewStorage(), testConfig()).Index(ctx, testChunks("x", "y"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestFailuresFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failed.jsonl")
	failures := []ChunkFailure{{Chunk: testChunks("bad")[0], Stage: StageEmbed, Error: "content rejected"}}
	require.NoError(t, WriteFailures(path, failures))

	got, err := ReadFailures(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, failures[0].Chunk, FailedChunks(got)[0])

	require.NoError(t, WriteFailures(path, nil))
	assert.NoFileExists(t, path)
}
