package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"trialwhisperer/internal/retry"
)

// LogConfig selects the zap level and encoder.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DataConfig locates on-disk artifacts. Relative paths resolve against Dir.
type DataConfig struct {
	Dir          string `yaml:"dir" toml:"dir"`
	RawDir       string `yaml:"raw_dir" toml:"raw_dir"`
	ChunksFile   string `yaml:"chunks_file" toml:"chunks_file"`
	TrialsDB     string `yaml:"trials_db" toml:"trials_db"`
	FailuresFile string `yaml:"failures_file" toml:"failures_file"`
}

// CTGovConfig configures registry downloads. Params are passed through as
// query parameters; list values are comma-joined.
type CTGovConfig struct {
	BaseURL       string         `yaml:"base_url" toml:"base_url"`
	UserAgent     string         `yaml:"user_agent" toml:"user_agent"`
	Params        map[string]any `yaml:"params" toml:"params"`
	PageSize      int            `yaml:"page_size" toml:"page_size"`
	MaxStudies    int            `yaml:"max_studies" toml:"max_studies"`
	TimeoutSecs   int            `yaml:"timeout_secs" toml:"timeout_secs"`
	RatePerSecond float64        `yaml:"rate_per_second" toml:"rate_per_second"`
}

// IngestConfig sizes the normalize and chunk worker pool.
type IngestConfig struct {
	Workers int `yaml:"workers" toml:"workers"`
}

// ChunkerConfig configures how sections are split into chunks.
type ChunkerConfig struct {
	Type         string `yaml:"type" toml:"type"`
	MinTokens    int    `yaml:"min_tokens" toml:"min_tokens"`
	TargetTokens int    `yaml:"target_tokens" toml:"target_tokens"`
	MaxTokens    int    `yaml:"max_tokens" toml:"max_tokens"`
}

// OpenAIConfig holds an OpenAI-compatible endpoint, shared by the embedder
// and the generator.
type OpenAIConfig struct {
	BaseURL     string `yaml:"base_url" toml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env" toml:"api_key_env"`
	Model       string `yaml:"model" toml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" toml:"timeout_secs"`
}

// GeminiConfig holds Google Generative AI settings.
type GeminiConfig struct {
	APIKeyEnv      string  `yaml:"api_key_env" toml:"api_key_env"`
	ChatModel      string  `yaml:"chat_model" toml:"chat_model"`
	EmbeddingModel string  `yaml:"embedding_model" toml:"embedding_model"`
	Temperature    float32 `yaml:"temperature" toml:"temperature"`
	MaxTokens      int32   `yaml:"max_tokens" toml:"max_tokens"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string        `yaml:"type" toml:"type"`
	Dimension int           `yaml:"dimension" toml:"dimension"`
	OpenAI    *OpenAIConfig `yaml:"openai,omitempty" toml:"openai,omitempty"`
	Gemini    *GeminiConfig `yaml:"gemini,omitempty" toml:"gemini,omitempty"`
}

// BreakerConfig trips the generator circuit after consecutive transient failures.
type BreakerConfig struct {
	Disabled     bool   `yaml:"disabled" toml:"disabled"`
	Failures     uint32 `yaml:"failures" toml:"failures"`
	MaxRequests  uint32 `yaml:"max_requests" toml:"max_requests"`
	IntervalSecs int    `yaml:"interval_secs" toml:"interval_secs"`
	TimeoutSecs  int    `yaml:"timeout_secs" toml:"timeout_secs"`
}

// GeneratorConfig selects the answer generator.
type GeneratorConfig struct {
	Type         string        `yaml:"type" toml:"type"`
	MaxSentences int           `yaml:"max_sentences" toml:"max_sentences"`
	SnippetRunes int           `yaml:"snippet_runes" toml:"snippet_runes"`
	OpenAI       *OpenAIConfig `yaml:"openai,omitempty" toml:"openai,omitempty"`
	Gemini       *GeminiConfig `yaml:"gemini,omitempty" toml:"gemini,omitempty"`
	Breaker      BreakerConfig `yaml:"breaker" toml:"breaker"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type" toml:"type"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty" toml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url" toml:"url"`
	APIKey      string `yaml:"api_key" toml:"api_key"`
	Collection  string `yaml:"collection" toml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs" toml:"timeout_secs"`
}

type RetrievalConfig struct {
	DefaultK  int `yaml:"default_k" toml:"default_k"`
	MaxK      int `yaml:"max_k" toml:"max_k"`
	Overfetch int `yaml:"overfetch" toml:"overfetch"`
	// LexicalFallback ranks chunks by token overlap when vector scores are all zero.
	LexicalFallback bool `yaml:"lexical_fallback" toml:"lexical_fallback"`
}

type IndexerConfig struct {
	Workers       int     `yaml:"workers" toml:"workers"`
	RatePerSecond float64 `yaml:"rate_per_second" toml:"rate_per_second"`
	Burst         int     `yaml:"burst" toml:"burst"`
}

// RetryConfig is the single backoff policy for embedding, search and generation.
type RetryConfig struct {
	MaxAttempts        int `yaml:"max_attempts" toml:"max_attempts"`
	BaseDelayMillis    int `yaml:"base_delay_ms" toml:"base_delay_ms"`
	MaxDelayMillis     int `yaml:"max_delay_ms" toml:"max_delay_ms"`
	AttemptTimeoutSecs int `yaml:"attempt_timeout_secs" toml:"attempt_timeout_secs"`
	MaxRetryAfterSecs  int `yaml:"max_retry_after_secs" toml:"max_retry_after_secs"`
}

type ServerConfig struct {
	Addr               string `yaml:"addr" toml:"addr"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs" toml:"request_timeout_secs"`
	ShutdownSecs       int    `yaml:"shutdown_secs" toml:"shutdown_secs"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Log         LogConfig         `yaml:"log" toml:"log"`
	Data        DataConfig        `yaml:"data" toml:"data"`
	CTGov       CTGovConfig       `yaml:"ctgov" toml:"ctgov"`
	Ingest      IngestConfig      `yaml:"ingest" toml:"ingest"`
	Chunker     ChunkerConfig     `yaml:"chunker" toml:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder" toml:"embedder"`
	Generator   GeneratorConfig   `yaml:"generator" toml:"generator"`
	VectorStore VectorStoreConfig `yaml:"vector_store" toml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval" toml:"retrieval"`
	Indexer     IndexerConfig     `yaml:"indexer" toml:"indexer"`
	Retry       RetryConfig       `yaml:"retry" toml:"retry"`
	Server      ServerConfig      `yaml:"server" toml:"server"`
}

// Load reads a config from path, as TOML when the extension is .toml and YAML
// otherwise. A missing file yields defaults. Environment overrides apply last.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}
	var cfg AppConfig
	if isTOML(path) {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml, then ./config.toml, then
// ~/.config/trialwhisperer/config.yaml. If none exists, it writes defaults to
// the user path and returns them.
func LoadDefault() (*AppConfig, string, error) {
	for _, p := range []string{"config.yaml", "config.toml"} {
		if _, err := os.Stat(p); err == nil {
			cfg, err := Load(p)
			return cfg, p, err
		}
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	applyEnvOverrides(cfg)
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var (
		data []byte
		err  error
	)
	if isTOML(path) {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Path resolves p against the data directory.
func (d DataConfig) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(d.Dir, p)
}

// Policy converts the config into a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    r.MaxAttempts,
		BaseDelay:      time.Duration(r.BaseDelayMillis) * time.Millisecond,
		MaxDelay:       time.Duration(r.MaxDelayMillis) * time.Millisecond,
		AttemptTimeout: time.Duration(r.AttemptTimeoutSecs) * time.Second,
		MaxRetryAfter:  time.Duration(r.MaxRetryAfterSecs) * time.Second,
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (c OpenAIConfig) Timeout() time.Duration  { return seconds(c.TimeoutSecs) }
func (c QdrantConfig) Timeout() time.Duration  { return seconds(c.TimeoutSecs) }
func (c CTGovConfig) Timeout() time.Duration   { return seconds(c.TimeoutSecs) }
func (c ServerConfig) Timeout() time.Duration  { return seconds(c.RequestTimeoutSecs) }
func (c ServerConfig) Shutdown() time.Duration { return seconds(c.ShutdownSecs) }

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "trialwhisperer", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Embedder:    EmbedderConfig{Type: "hashing"},
		Generator:   GeneratorConfig{Type: "extractive"},
		VectorStore: VectorStoreConfig{Type: "memory"},
		Chunker:     ChunkerConfig{Type: "sentence"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}

	d := &cfg.Data
	if d.Dir == "" {
		d.Dir = ".data"
	}
	if d.RawDir == "" {
		d.RawDir = "raw"
	}
	if d.ChunksFile == "" {
		d.ChunksFile = "chunks.jsonl"
	}
	if d.TrialsDB == "" {
		d.TrialsDB = "trials.db"
	}
	if d.FailuresFile == "" {
		d.FailuresFile = "index_failures.jsonl"
	}

	g := &cfg.CTGov
	if g.BaseURL == "" {
		g.BaseURL = "https://clinicaltrials.gov/api/v2"
	}
	if g.PageSize == 0 {
		g.PageSize = 100
	}
	if g.TimeoutSecs == 0 {
		g.TimeoutSecs = 30
	}
	if g.RatePerSecond == 0 {
		g.RatePerSecond = 5
	}

	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}

	if cfg.Chunker.Type == "" {
		cfg.Chunker.Type = "sentence"
	}
	if cfg.Chunker.TargetTokens == 0 {
		cfg.Chunker.MinTokens, cfg.Chunker.TargetTokens, cfg.Chunker.MaxTokens = 300, 500, 700
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.Type == "hashing" && cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = 384
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIConfig{}
		}
		openAIDefaults(cfg.Embedder.OpenAI, "text-embedding-3-small")
	}
	if cfg.Embedder.Type == "gemini" {
		if cfg.Embedder.Gemini == nil {
			cfg.Embedder.Gemini = &GeminiConfig{}
		}
		geminiDefaults(cfg.Embedder.Gemini)
	}

	gen := &cfg.Generator
	if gen.Type == "" {
		gen.Type = "extractive"
	}
	if gen.MaxSentences == 0 {
		gen.MaxSentences = 3
	}
	if gen.SnippetRunes == 0 {
		gen.SnippetRunes = 240
	}
	if gen.Type == "openai" {
		if gen.OpenAI == nil {
			gen.OpenAI = &OpenAIConfig{}
		}
		openAIDefaults(gen.OpenAI, "gpt-4o-mini")
	}
	if gen.Type == "gemini" {
		if gen.Gemini == nil {
			gen.Gemini = &GeminiConfig{}
		}
		geminiDefaults(gen.Gemini)
	}
	b := &gen.Breaker
	if b.Failures == 0 {
		b.Failures = 5
	}
	if b.MaxRequests == 0 {
		b.MaxRequests = 1
	}
	if b.IntervalSecs == 0 {
		b.IntervalSecs = 60
	}
	if b.TimeoutSecs == 0 {
		b.TimeoutSecs = 30
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	if cfg.VectorStore.Type == "qdrant" {
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		q := cfg.VectorStore.Qdrant
		if q.URL == "" {
			q.URL = "http://localhost:6333"
		}
		if q.Collection == "" {
			q.Collection = "trials"
		}
		if q.TimeoutSecs == 0 {
			q.TimeoutSecs = 10
		}
	}

	r := &cfg.Retrieval
	if r.DefaultK == 0 {
		r.DefaultK = 8
	}
	if r.MaxK == 0 {
		r.MaxK = 50
	}
	if r.Overfetch == 0 {
		r.Overfetch = 2
	}

	if cfg.Indexer.Workers == 0 {
		cfg.Indexer.Workers = 4
	}
	if cfg.Indexer.Burst == 0 {
		cfg.Indexer.Burst = 1
	}

	rt := &cfg.Retry
	if rt.MaxAttempts == 0 {
		rt.MaxAttempts = 5
	}
	if rt.BaseDelayMillis == 0 {
		rt.BaseDelayMillis = 200
	}
	if rt.MaxDelayMillis == 0 {
		rt.MaxDelayMillis = 5000
	}
	if rt.AttemptTimeoutSecs == 0 {
		rt.AttemptTimeoutSecs = 30
	}
	if rt.MaxRetryAfterSecs == 0 {
		rt.MaxRetryAfterSecs = 60
	}

	s := &cfg.Server
	if s.Addr == "" {
		s.Addr = ":8080"
	}
	if s.RequestTimeoutSecs == 0 {
		s.RequestTimeoutSecs = 60
	}
	if s.ShutdownSecs == 0 {
		s.ShutdownSecs = 10
	}
}

func openAIDefaults(c *OpenAIConfig, model string) {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.TimeoutSecs == 0 {
		c.TimeoutSecs = 30
	}
}

func geminiDefaults(c *GeminiConfig) {
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "GEMINI_API_KEY"
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := os.Getenv("TRIALWHISPERER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TRIALWHISPERER_DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if q := cfg.VectorStore.Qdrant; q != nil {
		if v := os.Getenv("QDRANT_URL"); v != "" {
			q.URL = v
		}
		if v := os.Getenv("QDRANT_API_KEY"); v != "" {
			q.APIKey = v
		}
	}
}
