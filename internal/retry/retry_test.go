package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trialwhisperer/internal/domain"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &domain.ProviderError{Provider: "test", Op: "embed", Temporary: true, Err: errors.New("busy")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	perm := errors.New("bad request")
	err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return perm
	})
	require.ErrorIs(t, err, perm)
	assert.Equal(t, 1, calls)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return domain.NewHTTPProviderError("test", "embed", 503, 0, nil)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, 3, calls)
}

func TestAttemptTimeoutIsRetried(t *testing.T) {
	p := fastPolicy()
	p.AttemptTimeout = 5 * time.Millisecond
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
	calls := 0
	err := p.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return &domain.ProviderError{Temporary: true, Err: errors.New("busy")}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDelayIsCapped(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 200*time.Millisecond, p.Delay(0))
	assert.Equal(t, 400*time.Millisecond, p.Delay(1))
	assert.Equal(t, 5*time.Second, p.Delay(10))
	assert.Equal(t, 5*time.Second, p.Delay(100))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, ParseRetryAfter("3"))
	assert.Zero(t, ParseRetryAfter(""))
	assert.Zero(t, ParseRetryAfter("soon"))
	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	d := ParseRetryAfter(future)
	assert.Greater(t, d, 50*time.Second)
}

func TestRetryAfterIsCapped(t *testing.T) {
	p := fastPolicy()
	p.MaxAttempts = 2
	p.MaxRetryAfter = 5 * time.Millisecond
	calls := 0
	start := time.Now()
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return domain.NewHTTPProviderError("test", "embed", http.StatusTooManyRequests, 24*time.Hour, nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, 5*time.Millisecond, p.retryAfterCap())
	p.MaxRetryAfter = 0
	assert.Equal(t, 2*time.Millisecond, p.retryAfterCap(), "falls back to MaxDelay")
}

func TestOnlinePolicyDoesNotRetryTimeouts(t *testing.T) {
	p := fastPolicy().Online()
	p.AttemptTimeout = 5 * time.Millisecond
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)

	calls = 0
	err = p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return domain.NewHTTPProviderError("test", "generate", http.StatusServiceUnavailable, 0, nil)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls, "server errors are still retried")
}

func TestIsRetryableOnline(t *testing.T) {
	assert.False(t, IsRetryableOnline(nil))
	assert.False(t, IsRetryableOnline(context.DeadlineExceeded))
	assert.False(t, IsRetryableOnline(&domain.ProviderError{Temporary: true, Err: context.DeadlineExceeded}))
	assert.True(t, IsRetryableOnline(&domain.ProviderError{Temporary: true, Err: errors.New("busy")}))
	assert.False(t, IsRetryableOnline(errors.New("bad request")))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
}
