package chunker

import (
	"trialwhisperer/internal/domain"
)

// Config bounds chunk sizes in whitespace-separated tokens.
type Config struct {
	MinTokens    int `yaml:"min_tokens" toml:"min_tokens"`
	TargetTokens int `yaml:"target_tokens" toml:"target_tokens"`
	MaxTokens    int `yaml:"max_tokens" toml:"max_tokens"`
}

// DefaultConfig returns the 300/500/700 token window.
func DefaultConfig() Config {
	return Config{MinTokens: 300, TargetTokens: 500, MaxTokens: 700}
}

// SentenceChunker packs whole sentences of one section into token-bounded windows.
// It never splits a sentence and never crosses a section boundary.
type SentenceChunker struct {
	cfg Config
}

func NewSentenceChunker(cfg Config) *SentenceChunker {
	def := DefaultConfig()
	if cfg.TargetTokens <= 0 {
		cfg.TargetTokens = def.TargetTokens
	}
	if cfg.MaxTokens < cfg.TargetTokens {
		cfg.MaxTokens = cfg.TargetTokens + (def.MaxTokens - def.TargetTokens)
	}
	if cfg.MinTokens <= 0 || cfg.MinTokens > cfg.TargetTokens {
		cfg.MinTokens = cfg.TargetTokens * def.MinTokens / def.TargetTokens
	}
	return &SentenceChunker{cfg: cfg}
}

// Config returns the effective bounds.
func (c *SentenceChunker) Config() Config { return c.cfg }

// Chunk splits every non-empty section of record, in canonical section order.
func (c *SentenceChunker) Chunk(record domain.TrialRecord) []domain.Chunk {
	var chunks []domain.Chunk
	for _, section := range domain.Sections {
		chunks = append(chunks, c.ChunkSection(record.NCTID, section, record.SectionText(section))...)
	}
	return chunks
}

// ChunkSection splits a single section. Chunk text is the verbatim slice of
// text between the chunk's source offsets.
func (c *SentenceChunker) ChunkSection(trialID string, section domain.Section, text string) []domain.Chunk {
	windows := c.pack(splitSentences(text))
	chunks := make([]domain.Chunk, 0, len(windows))
	for i, w := range windows {
		start, end := w[0].start, w[len(w)-1].end
		chunks = append(chunks, domain.Chunk{
			TrialID:       trialID,
			Section:       section,
			Text:          text[start:end],
			SequenceIndex: i,
			SourceOffsets: &domain.Offsets{Start: start, End: end},
		})
	}
	return chunks
}

// pack greedily fills windows up to the target. A window closes early when
// the next sentence would push it past the max, or when it already holds
// the minimum and the next sentence opens a paragraph.
func (c *SentenceChunker) pack(sentences []sentence) [][]sentence {
	var windows [][]sentence
	var current []sentence
	tokens := 0
	for _, s := range sentences {
		if len(current) > 0 {
			full := tokens >= c.cfg.TargetTokens ||
				tokens+s.tokens > c.cfg.MaxTokens ||
				(s.paragraph && tokens >= c.cfg.MinTokens)
			if full {
				windows = append(windows, current)
				current, tokens = nil, 0
			}
		}
		current = append(current, s)
		tokens += s.tokens
	}
	if len(current) > 0 {
		windows = append(windows, current)
	}
	return windows
}

// CountTokens counts whitespace-separated tokens.
func CountTokens(text string) int {
	return len(fields(text))
}
