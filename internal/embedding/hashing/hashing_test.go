package hashing

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dot(a, b []float32) float64 {
	s := 0.0
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestEmbedIsNormalizedAndDeterministic(t *testing.T) {
	e := NewEmbedder(128)
	ctx := context.Background()
	a, err := e.Embed(ctx, "Patients aged 18 to 75 with ECOG 0-1")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "Patients aged 18 to 75 with ECOG 0-1")
	require.NoError(t, err)

	require.Len(t, a, 128)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, math.Sqrt(dot(a, a)), 1e-5)
}

func TestSimilarTextScoresHigher(t *testing.T) {
	e := NewEmbedder(0)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "minimum age for inclusion")
	near, _ := e.Embed(ctx, "Inclusion: minimum age 18 years")
	far, _ := e.Embed(ctx, "Primary outcome is overall survival")
	assert.Greater(t, dot(q, near), dot(q, far))
	assert.Equal(t, DefaultDimension, e.Dimension())
}

func TestEmbedStopwordsOnlyIsZero(t *testing.T) {
	v, err := NewEmbedder(16).Embed(context.Background(), "the and of")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 16), v)
}
