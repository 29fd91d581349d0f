package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrInvalidNCTID     = errors.New("invalid nct id")
	ErrUnknownSchema    = errors.New("unknown record schema")
	ErrGenerationFailed = errors.New("generation failed")
	ErrTransient        = errors.New("transient provider error")
)

// NormalizationError reports a raw record that could not be normalized.
type NormalizationError struct {
	Source string
	Err    error
}

func (e *NormalizationError) Error() string {
	if e.Source == "" {
		return "normalize: " + e.Err.Error()
	}
	return fmt.Sprintf("normalize %s: %v", e.Source, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// ProviderError wraps a failure from an external model or store.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	RetryAfter time.Duration
	Temporary  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTransient) match temporary provider errors.
func (e *ProviderError) Is(target error) bool {
	return target == ErrTransient && e.Temporary
}

// NewHTTPProviderError classifies an HTTP status into a ProviderError.
// 429 and 5xx are temporary.
func NewHTTPProviderError(provider, op string, status int, retryAfter time.Duration, err error) *ProviderError {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}
	return &ProviderError{
		Provider:   provider,
		Op:         op,
		StatusCode: status,
		RetryAfter: retryAfter,
		Temporary:  status == http.StatusTooManyRequests || status >= 500,
		Err:        err,
	}
}
