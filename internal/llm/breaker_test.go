package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"trialwhisperer/internal/domain"
)

type countingGenerator struct {
	calls int
	err   error
}

func (g *countingGenerator) Name() string { return "counting" }

func (g *countingGenerator) Generate(context.Context, string) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return "ok", nil
}

func TestBreakerOpensOnTransientFailures(t *testing.T) {
	gen := &countingGenerator{err: &domain.ProviderError{Provider: "x", Op: "generate", Temporary: true, Err: errors.New("503")}}
	b := NewBreaker(gen, BreakerConfig{Failures: 2, Timeout: time.Hour}, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		_, err := b.Generate(context.Background(), "p")
		require.ErrorIs(t, err, domain.ErrTransient)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Generate(context.Background(), "p")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, gen.calls, "open circuit short-circuits the backend")
}

func TestBreakerIgnoresPermanentErrors(t *testing.T) {
	gen := &countingGenerator{err: errors.New("bad request")}
	b := NewBreaker(gen, BreakerConfig{Failures: 1}, nil)
	for i := 0; i < 3; i++ {
		_, err := b.Generate(context.Background(), "p")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, 3, gen.calls)
}

func TestBreakerPassesThrough(t *testing.T) {
	b := NewBreaker(&countingGenerator{}, BreakerConfig{}, nil)
	out, err := b.Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "counting", b.Name())
}
