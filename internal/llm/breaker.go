// Package llm holds generator decorators shared by every backend.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"trialwhisperer/internal/domain"
	"trialwhisperer/internal/retry"
)

// BreakerConfig configures the circuit breaker around a generator.
type BreakerConfig struct {
	// Failures is the number of consecutive failures that opens the circuit.
	Failures    uint32        `yaml:"failures" toml:"failures"`
	MaxRequests uint32        `yaml:"max_requests" toml:"max_requests"`
	Interval    time.Duration `yaml:"interval" toml:"interval"`
	Timeout     time.Duration `yaml:"timeout" toml:"timeout"`
}

// DefaultBreakerConfig opens after five straight failures and probes again after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Failures: 5, MaxRequests: 1, Interval: time.Minute, Timeout: 30 * time.Second}
}

// Breaker is a domain.Generator that stops calling a failing backend.
type Breaker struct {
	next domain.Generator
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next. Only retryable errors count as failures, so a bad
// prompt cannot open the circuit for everyone else.
func NewBreaker(next domain.Generator, cfg BreakerConfig, log *zap.Logger) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.Failures == 0 {
		cfg.Failures = def.Failures
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Interval == 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !retry.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("generator circuit changed state",
				zap.String("generator", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *Breaker) Name() string { return b.next.Name() }

// State reports the current circuit state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Generate(ctx, prompt)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return "", fmt.Errorf("%s: %w", b.next.Name(), err)
		}
		return "", err
	}
	return out.(string), nil
}
