package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trialwhisperer/internal/domain"
)

func words(n int, last string) string {
	parts := make([]string, 0, n)
	for i := 0; i < n-1; i++ {
		parts = append(parts, "word")
	}
	return strings.Join(append(parts, last), " ")
}

func smallChunker() *SentenceChunker {
	return NewSentenceChunker(Config{MinTokens: 3, TargetTokens: 5, MaxTokens: 7})
}

func TestSplitSentences(t *testing.T) {
	text := "Dr. Smith leads the trial. Dose is 2.5 mg daily! Why?\nNew line here"
	got := splitSentences(text)
	require.Len(t, got, 4)
	var texts []string
	for _, s := range got {
		texts = append(texts, text[s.start:s.end])
	}
	assert.Equal(t, []string{
		"Dr. Smith leads the trial.",
		"Dose is 2.5 mg daily!",
		"Why?",
		"New line here",
	}, texts)
}

func TestChunkRespectsTokenCeiling(t *testing.T) {
	text := strings.Repeat("alpha beta gamma. ", 9)
	chunks := smallChunker().ChunkSection("NCT00000001", domain.SectionSummary, text)
	require.NotEmpty(t, chunks)
	for i, ch := range chunks {
		assert.LessOrEqual(t, CountTokens(ch.Text), 7)
		assert.Equal(t, i, ch.SequenceIndex)
		assert.Equal(t, ch.Text, text[ch.SourceOffsets.Start:ch.SourceOffsets.End])
	}
	assert.Len(t, chunks, 5)
}

func TestOversizedSentenceIsEmittedAlone(t *testing.T) {
	long := words(10, "end.")
	text := "a b c. " + long + " x y z."
	chunks := smallChunker().ChunkSection("NCT00000001", domain.SectionInclusion, text)
	require.Len(t, chunks, 3)
	assert.Equal(t, "a b c.", chunks[0].Text)
	assert.Equal(t, long, chunks[1].Text)
	assert.Equal(t, "x y z.", chunks[2].Text)
}

func TestParagraphBreakClosesWindowAboveMinimum(t *testing.T) {
	c := smallChunker()
	split := c.ChunkSection("NCT00000001", domain.SectionSummary, "one two three four.\n\nfive six.")
	assert.Len(t, split, 2)

	joined := c.ChunkSection("NCT00000001", domain.SectionSummary, "one two three four. five six.")
	assert.Len(t, joined, 1)
}

func TestEmptySectionYieldsNoChunks(t *testing.T) {
	assert.Empty(t, smallChunker().ChunkSection("NCT00000001", domain.SectionOutcomes, "  \n\n "))
}

func TestChunkIsDeterministicAndOrdered(t *testing.T) {
	rec := domain.TrialRecord{
		NCTID:         "NCT01234567",
		Title:         "A trial",
		Summary:       "First sentence here. Second sentence here.",
		Conditions:    []string{"Asthma"},
		Interventions: []string{"Drug: X"},
		Eligibility:   domain.Eligibility{Inclusion: "Age 18-75", Exclusion: "Pregnancy"},
		Outcomes:      []string{"FEV1"},
	}
	c := NewSentenceChunker(DefaultConfig())
	first := c.Chunk(rec)
	second := c.Chunk(rec)
	require.Equal(t, first, second)

	var sections []domain.Section
	for _, ch := range first {
		sections = append(sections, ch.Section)
		assert.Equal(t, "NCT01234567", ch.TrialID)
	}
	assert.Equal(t, domain.Sections, sections)
}

func TestNewSentenceChunkerDefaults(t *testing.T) {
	assert.Equal(t, DefaultConfig(), NewSentenceChunker(Config{}).Config())
}
