package extractive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trialwhisperer/internal/answer"
	"trialwhisperer/internal/domain"
)

var hits = []domain.SearchHit{
	{Chunk: domain.Chunk{TrialID: "NCT01234567", Section: domain.SectionInclusion, Text: "Age 18-75\nECOG performance status 0-1"}},
	{Chunk: domain.Chunk{TrialID: "NCT01234567", Section: domain.SectionExclusion, Text: "Pregnant women excluded"}},
}

func TestExtractiveAnswersAreGrounded(t *testing.T) {
	gen := New(2)
	a := answer.New(gen, answer.Config{}, nil, nil)
	ans, err := a.Answer(context.Background(), "Are pregnant women excluded?", hits)
	require.NoError(t, err)

	assert.Equal(t, domain.AnswerStatusAnswered, ans.Status)
	assert.Contains(t, ans.Text, "Pregnant women excluded")
	require.Len(t, ans.Citations, 1)
	assert.Equal(t, domain.SectionExclusion, ans.Citations[0].Section)
	assert.Equal(t, "Pregnant women excluded", ans.Citations[0].TextSnippet)
}

func TestExtractiveWithoutOverlap(t *testing.T) {
	out, err := New(2).Generate(context.Background(), answer.BuildPrompt("kidney function?", hits))
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer": "The protocol text provided does not state this.", "citations": []}`, out)
}

func TestExtractiveHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(1).Generate(ctx, "x")
	require.ErrorIs(t, err, context.Canceled)
}
