package chunkstore

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trialwhisperer/internal/domain"
)

func TestWriteProducesStableLines(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, []domain.Chunk{{
		TrialID:       "NCT01234567",
		Section:       domain.SectionInclusion,
		Text:          "Age <18 & >75",
		SequenceIndex: 0,
		SourceOffsets: &domain.Offsets{Start: 0, End: 13},
	}})
	require.NoError(t, err)
	assert.Equal(t,
		`{"trial_id":"NCT01234567","section":"inclusion","text":"Age <18 & >75","sequence_index":0,"source_offsets":{"start":0,"end":13}}`+"\n",
		buf.String())
}

func TestFileRoundTripKeepsOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chunks.jsonl")
	in := []domain.Chunk{
		{TrialID: "NCT00000002", Section: domain.SectionTitle, Text: "B"},
		{TrialID: "NCT00000001", Section: domain.SectionSummary, Text: "A", SequenceIndex: 1},
	}
	require.NoError(t, WriteFile(path, in))
	out, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestReadRejectsMalformedLines(t *testing.T) {
	_, err := Read(strings.NewReader("\n{\"trial_id\":\"NCT00000001\",\"section\":\"title\",\"text\":\"x\"}\n{oops\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")

	_, err = Read(strings.NewReader(`{"trial_id":"NCT00000001","section":"appendix","text":"x"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestReadFileMissingIsEmpty(t *testing.T) {
	chunks, err := ReadFile(filepath.Join(t.TempDir(), "absent.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
