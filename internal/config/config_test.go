package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "hashing", cfg.Embedder.Type)
	assert.Equal(t, 384, cfg.Embedder.Dimension)
	assert.Equal(t, "extractive", cfg.Generator.Type)
	assert.Equal(t, "memory", cfg.VectorStore.Type)
	assert.Equal(t, 500, cfg.Chunker.TargetTokens)
	assert.Equal(t, "https://clinicaltrials.gov/api/v2", cfg.CTGov.BaseURL)
	assert.Equal(t, 100, cfg.CTGov.PageSize)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, filepath.Join(".data", "chunks.jsonl"), cfg.Data.Path(cfg.Data.ChunksFile))
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
log:
  level: debug
embedder:
  type: openai
generator:
  type: gemini
  breaker:
    failures: 2
vector_store:
  type: qdrant
  qdrant:
    collection: glioma
ctgov:
  max_studies: 50
  params:
    query.term: glioblastoma
    filter.overallStatus: [RECRUITING, ACTIVE_NOT_RECRUITING]
retry:
  max_attempts: 3
  base_delay_ms: 50
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.NotNil(t, cfg.Embedder.OpenAI)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, 30*time.Second, cfg.Embedder.OpenAI.Timeout())
	require.NotNil(t, cfg.Generator.Gemini)
	assert.Equal(t, "GEMINI_API_KEY", cfg.Generator.Gemini.APIKeyEnv)
	assert.Equal(t, uint32(2), cfg.Generator.Breaker.Failures)
	assert.Equal(t, uint32(1), cfg.Generator.Breaker.MaxRequests)
	require.NotNil(t, cfg.VectorStore.Qdrant)
	assert.Equal(t, "glioma", cfg.VectorStore.Qdrant.Collection)
	assert.Equal(t, "http://localhost:6333", cfg.VectorStore.Qdrant.URL)
	assert.Equal(t, 50, cfg.CTGov.MaxStudies)
	assert.Equal(t, "glioblastoma", cfg.CTGov.Params["query.term"])
	assert.Len(t, cfg.CTGov.Params["filter.overallStatus"], 2)

	p := cfg.Retry.Policy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, p.BaseDelay)
	assert.Equal(t, 5*time.Second, p.MaxDelay)
	assert.Equal(t, time.Minute, p.MaxRetryAfter)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appsettings.toml")
	data := `
[data]
dir = "/srv/trials"

[ctgov]
page_size = 25
max_studies = 10

[ctgov.params]
"query.term" = "glioblastoma"

[retrieval]
default_k = 4
lexical_fallback = true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/trials/trials.db", cfg.Data.Path(cfg.Data.TrialsDB))
	assert.Equal(t, "/abs/x.jsonl", cfg.Data.Path("/abs/x.jsonl"))
	assert.Equal(t, 25, cfg.CTGov.PageSize)
	assert.Equal(t, "glioblastoma", cfg.CTGov.Params["query.term"])
	assert.Equal(t, 4, cfg.Retrieval.DefaultK)
	assert.True(t, cfg.Retrieval.LexicalFallback)
	assert.Equal(t, "hashing", cfg.Embedder.Type)
}

func TestLoadRejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [unterminated"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "parse")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRIALWHISPERER_LOG_LEVEL", "warn")
	t.Setenv("TRIALWHISPERER_DATA_DIR", "/tmp/tw")
	t.Setenv("QDRANT_URL", "http://qdrant:6333")
	t.Setenv("QDRANT_API_KEY", "secret")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vector_store:\n  type: qdrant\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "/tmp/tw", cfg.Data.Dir)
	assert.Equal(t, "http://qdrant:6333", cfg.VectorStore.Qdrant.URL)
	assert.Equal(t, "secret", cfg.VectorStore.Qdrant.APIKey)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c.yaml", "c.toml"} {
		path := filepath.Join(dir, "nested", name)
		cfg := defaultConfig()
		cfg.CTGov.MaxStudies = 7
		require.NoError(t, Save(path, cfg))
		back, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 7, back.CTGov.MaxStudies, name)
		assert.Equal(t, cfg.Retry, back.Retry, name)
	}
}
