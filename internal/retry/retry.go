package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"trialwhisperer/internal/domain"
)

// Policy is a bounded exponential backoff shared by every external call.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	// MaxRetryAfter caps a server-supplied Retry-After. Zero means MaxDelay.
	MaxRetryAfter time.Duration
	// Retryable overrides IsRetryable when set.
	Retryable func(error) bool
}

// DefaultPolicy mirrors the historical embedding client: 200ms doubling, capped at 5s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    5,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or attempts run out.
// Each attempt gets its own timeout derived from ctx.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = p.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return errors.Join(ctx.Err(), err)
		}
		if !retryable(err) || attempt == attempts-1 {
			break
		}
		wait := p.Delay(attempt)
		var pe *domain.ProviderError
		if errors.As(err, &pe) && pe.RetryAfter > 0 {
			wait = min(pe.RetryAfter, p.retryAfterCap())
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(ctx.Err(), err)
		case <-t.C:
		}
	}
	return err
}

func (p Policy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return fn(actx)
}

// Delay returns the backoff before retry number attempt+1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := p.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	maxDelay := p.maxDelay()
	if attempt > 30 {
		return maxDelay
	}
	d := base << attempt
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	return d
}

func (p Policy) retryAfterCap() time.Duration {
	if p.MaxRetryAfter > 0 {
		return p.MaxRetryAfter
	}
	return p.maxDelay()
}

func (p Policy) maxDelay() time.Duration {
	if p.MaxDelay <= 0 {
		return 5 * time.Second
	}
	return p.MaxDelay
}

// Online returns a copy of p for request paths, where a timeout is reported
// to the caller instead of retried.
func (p Policy) Online() Policy {
	if p.Retryable == nil {
		p.Retryable = IsRetryableOnline
	}
	return p
}

// IsRetryable treats transient provider errors, per-attempt timeouts and
// network timeouts as worth another try.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// IsRetryableOnline retries rate limits and server errors but not timeouts.
func IsRetryableOnline(err error) bool {
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return false
	}
	return errors.Is(err, domain.ErrTransient)
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
